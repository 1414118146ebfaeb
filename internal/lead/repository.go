package lead

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists leads in Postgres via database/sql (pgx stdlib).
//
// NOTE: This repository assumes the following table exists:
//
//	leads (
//	  id TEXT PRIMARY KEY,
//	  name TEXT NOT NULL,
//	  email TEXT NOT NULL DEFAULT '',
//	  phone TEXT NOT NULL DEFAULT '',
//	  campaign_id TEXT NOT NULL,
//	  status TEXT NOT NULL,
//	  qualification_score INT NOT NULL DEFAULT 0,
//	  flagged_for_review BOOL NOT NULL DEFAULT FALSE,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
//
// Status moves are conditional UPDATEs, and SetScore keeps the maximum via
// GREATEST, so concurrent writers resolve at the database.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const leadColumns = `id, name, email, phone, campaign_id, status, qualification_score, flagged_for_review, created_at, updated_at`

func scanLead(row *sql.Row) (Lead, error) {
	var l Lead
	err := row.Scan(
		&l.ID,
		&l.Name,
		&l.Email,
		&l.Phone,
		&l.CampaignID,
		&l.Status,
		&l.QualificationScore,
		&l.FlaggedForReview,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (r *PostgresRepo) Create(ctx context.Context, l Lead) error {
	if l.ID == "" {
		return ErrInvalidArgument
	}
	if l.Status == "" {
		l.Status = StatusNew
	}
	now := r.clock().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	const q = `
INSERT INTO leads (` + leadColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		l.ID, l.Name, l.Email, l.Phone, l.CampaignID,
		l.Status, l.QualificationScore, l.FlaggedForReview, l.CreatedAt, now,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidArgument
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Lead, error) {
	const q = `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return scanLead(r.db.QueryRowContext(ctx, q, id))
}

// UpdateStatus is a compare-and-swap: the UPDATE only lands when the stored
// status still equals `from`.
func (r *PostgresRepo) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	if !CanTransition(from, to) {
		return ErrInvalidTransition
	}
	const q = `
UPDATE leads
SET status = $1, updated_at = $2
WHERE id = $3 AND status = $4
`
	res, err := r.db.ExecContext(ctx, q, to, r.clock().UTC(), id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

// SetScore keeps the maximum of the stored and proposed score, clamped to 0-100.
func (r *PostgresRepo) SetScore(ctx context.Context, id string, score int) error {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	const q = `
UPDATE leads
SET qualification_score = GREATEST(qualification_score, $1), updated_at = $2
WHERE id = $3
`
	res, err := r.db.ExecContext(ctx, q, score, r.clock().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) FlagForReview(ctx context.Context, id string) error {
	const q = `
UPDATE leads
SET flagged_for_review = TRUE, updated_at = $1
WHERE id = $2
`
	res, err := r.db.ExecContext(ctx, q, r.clock().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
