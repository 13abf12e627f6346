package access

import (
	"context"
	"encoding/json"
	"errors"

	"aidgate.org/internal/audit"
	"aidgate.org/internal/auth"
	"aidgate.org/internal/guard"
	"aidgate.org/internal/obs"
	"aidgate.org/internal/vault"
)

// Engine grants full or redacted views of case records. It never
// returns a permission error for single-record reads: anything the
// caller may not see looks exactly like a record that does not exist.
type Engine struct {
	records  Store
	orgs     auth.OrganizationStore
	vault    vault.Vault
	abuse    *guard.Guard
	recorder *audit.Recorder
}

// NewEngine wires the decision engine to its collaborators.
func NewEngine(records Store, orgs auth.OrganizationStore, v vault.Vault, abuse *guard.Guard, recorder *audit.Recorder) *Engine {
	return &Engine{
		records:  records,
		orgs:     orgs,
		vault:    v,
		abuse:    abuse,
		recorder: recorder,
	}
}

// Get returns the view of one record the identity is entitled to.
// Missing records, permission denials and tripped view limits all
// surface as ErrNotFound.
func (e *Engine) Get(ctx context.Context, identity *auth.Identity, recordID string, origin auth.Origin) (*View, error) {
	if identity == nil {
		return nil, ErrNotFound
	}

	// Admins are exempt from the view counter; everyone else spends
	// one view per lookup, whether or not the record exists.
	if identity.Role != auth.RoleAdmin {
		if res := e.abuse.ResourceViews.Hit(identity.ID); !res.Allowed {
			return nil, ErrNotFound
		}
	}

	rec, err := e.records.Find(ctx, recordID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	level := e.levelFor(ctx, identity, rec)
	view := e.project(ctx, identity, rec, level, origin)

	action := audit.ActionReadRedacted
	if level == LevelFull {
		action = audit.ActionReadFull
	}
	e.recorder.Record(ctx, audit.Entry{
		ActorID:    identity.ID,
		Action:     action,
		TargetType: "record",
		TargetID:   rec.ID,
		Outcome:    string(level),
		Origin:     origin.String(),
	})
	obs.ObserveDecision(string(level))
	return view, nil
}

// List returns the redacted projection of every record. Listing is
// always redacted regardless of role; a full view requires fetching
// the record individually.
func (e *Engine) List(ctx context.Context, identity *auth.Identity, origin auth.Origin) ([]*View, error) {
	if identity == nil {
		return nil, ErrNotFound
	}
	if identity.Role != auth.RoleAdmin {
		if res := e.abuse.ResourceViews.Hit(identity.ID); !res.Allowed {
			return nil, guard.ErrRateLimited
		}
	}

	recs, err := e.records.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*View, 0, len(recs))
	for _, rec := range recs {
		views = append(views, redactedView(rec))
	}

	e.recorder.Record(ctx, audit.Entry{
		ActorID:    identity.ID,
		Action:     audit.ActionListRedacted,
		TargetType: "record",
		Outcome:    string(LevelRedacted),
		Origin:     origin.String(),
	})
	obs.ObserveDecision(string(LevelRedacted))
	return views, nil
}

// levelFor applies the grant ladder: admin, then owner, then staff of
// the verified organization the case is assigned to. Everything else
// is redacted.
func (e *Engine) levelFor(ctx context.Context, identity *auth.Identity, rec *Record) Level {
	switch {
	case identity.Role == auth.RoleAdmin:
		return LevelFull
	case identity.ID == rec.OwnerID:
		return LevelFull
	case identity.Role == auth.RoleOrgStaff &&
		identity.OrganizationID != "" &&
		identity.OrganizationID == rec.AssignedOrgID:
		org, err := e.orgs.Find(ctx, identity.OrganizationID)
		if err == nil && org.Status == auth.OrgVerified {
			return LevelFull
		}
	}
	return LevelRedacted
}

func (e *Engine) project(ctx context.Context, identity *auth.Identity, rec *Record, level Level, origin auth.Origin) *View {
	if level != LevelFull {
		return redactedView(rec)
	}
	view := &View{
		Level:     LevelFull,
		ID:        rec.ID,
		Category:  rec.Category,
		Status:    rec.Status,
		Urgency:   rec.Urgency,
		Country:   rec.Country,
		Region:    rec.Region,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Payload == "" {
		return view
	}
	plaintext, err := e.vault.Decrypt(rec.Payload)
	if err != nil {
		// A full view with undecryptable data degrades to the same
		// shape minus the confidential block rather than failing the
		// whole read.
		obs.LogError("record payload decrypt failed", map[string]any{
			"record_id": rec.ID,
		})
		e.recorder.Record(ctx, audit.Entry{
			ActorID:    identity.ID,
			Action:     audit.ActionDecryptFailed,
			TargetType: "record",
			TargetID:   rec.ID,
			Outcome:    "degraded",
			Origin:     origin.String(),
		})
		return view
	}
	var conf Confidential
	if err := json.Unmarshal([]byte(plaintext), &conf); err != nil {
		obs.LogError("record payload malformed after decrypt", map[string]any{
			"record_id": rec.ID,
		})
		return view
	}
	view.Confidential = &conf
	return view
}

func redactedView(rec *Record) *View {
	return &View{
		Level:     LevelRedacted,
		ID:        rec.ID,
		Category:  rec.Category,
		Status:    rec.Status,
		Urgency:   rec.Urgency,
		Country:   rec.Country,
		Region:    generalizeRegion(rec.Region),
		CreatedAt: coarse(rec.CreatedAt),
	}
}
