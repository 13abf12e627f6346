package access

import (
	"context"
	"database/sql"

	"aidgate.org/internal/auth"
	"aidgate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements the record store on PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const recordColumns = `id, owner_id, assigned_org_id, category, region, country,
	urgency, status, payload, created_at, updated_at`

// Create inserts a record. Used by seeding, not the decision engine.
func (s *PGStore) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into records(id, owner_id, assigned_org_id, category, region, country, urgency, status, payload)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		rec.ID, rec.OwnerID, nullableString(rec.AssignedOrgID), rec.Category,
		rec.Region, rec.Country, rec.Urgency, rec.Status, nullableString(rec.Payload),
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+recordColumns+` from records where id=$1`, id)
	return scanRecord(row.Scan)
}

func (s *PGStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+recordColumns+` from records order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var (
		rec     Record
		orgID   sql.NullString
		payload sql.NullString
	)
	err := scan(&rec.ID, &rec.OwnerID, &orgID, &rec.Category, &rec.Region,
		&rec.Country, &rec.Urgency, &rec.Status, &payload,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	rec.AssignedOrgID = orgID.String
	rec.Payload = payload.String
	return &rec, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
