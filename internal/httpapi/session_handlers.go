package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"aidgate.org/internal/auth"
)

type sessionView struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Current      bool      `json:"current"`
}

func (a *API) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listSessions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleSessionResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	switch rest {
	case "revoke-all":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.revokeAll(w, r)
		return
	case "revoke-others":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.revokeOthers(w, r)
		return
	}

	if rest == "" || strings.Contains(rest, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodDelete:
		a.revokeSession(w, r, rest)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}

	sessions, err := a.sessions.List(r.Context(), identity.ID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "session listing failed")
		return
	}

	// The caller's own session is flagged by fingerprint comparison;
	// the fingerprint itself never leaves the server.
	currentFP := ""
	if token, ok := auth.TokenFromContext(r.Context()); ok {
		currentFP = auth.Fingerprint(token)
	}

	items := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionView{
			ID:           s.ID,
			CreatedAt:    s.CreatedAt,
			ExpiresAt:    s.ExpiresAt,
			LastActivity: s.LastActivity,
			IP:           s.Origin.IP,
			UserAgent:    s.Origin.UserAgent,
			Current:      s.Fingerprint == currentFP,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) revokeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	if err := a.sessions.Revoke(r.Context(), identity.ID, sessionID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeAll(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	if _, err := a.sessions.RevokeAll(r.Context(), identity.ID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokeOthers(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "invalid token")
		return
	}
	token, _ := auth.TokenFromContext(r.Context())
	if _, err := a.sessions.RevokeAllExcept(r.Context(), identity.ID, token); err != nil {
		writeError(w, r, http.StatusInternalServerError, "revocation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
