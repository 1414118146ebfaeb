package messaging

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepo persists the communication trail in Postgres via
// database/sql (pgx stdlib).
//
// NOTE: This repository assumes the following table exists:
//
//	communications (
//	  id UUID PRIMARY KEY,
//	  lead_id TEXT NOT NULL,
//	  channel TEXT NOT NULL,
//	  direction TEXT NOT NULL,
//	  content TEXT NOT NULL,
//	  external_id TEXT NOT NULL DEFAULT '',
//	  status TEXT NOT NULL,
//	  superseded BOOL NOT NULL DEFAULT FALSE,
//	  created_at TIMESTAMPTZ NOT NULL
//	)
//
// plus indexes on (lead_id, created_at) and (external_id).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const communicationColumns = `id, lead_id, channel, direction, content, external_id, status, superseded, created_at`

func (r *PostgresRepo) Append(ctx context.Context, c Communication) error {
	const q = `
INSERT INTO communications (` + communicationColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID, c.LeadID, c.Channel, c.Direction, c.Content,
		c.ExternalID, c.Status, c.Superseded, c.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) UpdateStatusByExternalID(ctx context.Context, externalID string, status DeliveryStatus) error {
	if externalID == "" {
		return ErrNotFound
	}
	const q = `UPDATE communications SET status = $1 WHERE external_id = $2`
	res, err := r.db.ExecContext(ctx, q, status, externalID)
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

func (r *PostgresRepo) ListByLead(ctx context.Context, leadID string) ([]Communication, error) {
	const q = `
SELECT ` + communicationColumns + `
FROM communications
WHERE lead_id = $1
ORDER BY created_at
`
	return r.list(ctx, q, leadID)
}

func (r *PostgresRepo) ListWindow(ctx context.Context, from, to time.Time) ([]Communication, error) {
	const q = `
SELECT ` + communicationColumns + `
FROM communications
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at
`
	return r.list(ctx, q, from, to)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Communication, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Communication
	for rows.Next() {
		var c Communication
		if err := rows.Scan(
			&c.ID, &c.LeadID, &c.Channel, &c.Direction, &c.Content,
			&c.ExternalID, &c.Status, &c.Superseded, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
