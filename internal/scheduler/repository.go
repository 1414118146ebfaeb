package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists executions in Postgres via database/sql (pgx stdlib).
//
// NOTE: This repository assumes the following table exists:
//
//	executions (
//	  id UUID PRIMARY KEY,
//	  campaign_id TEXT NOT NULL,
//	  lead_id TEXT NOT NULL,
//	  template_id TEXT NOT NULL,
//	  scheduled_for TIMESTAMPTZ NOT NULL,
//	  status TEXT NOT NULL,
//	  attempts INT NOT NULL DEFAULT 0,
//	  last_error TEXT NOT NULL DEFAULT '',
//	  superseded BOOL NOT NULL DEFAULT FALSE,
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
//
// plus a partial unique index enforcing the live idempotency tuple:
//
//	CREATE UNIQUE INDEX executions_live_key
//	ON executions (campaign_id, lead_id, template_id, scheduled_for)
//	WHERE status IN ('scheduled', 'executing');
//
// Status changes are conditional UPDATEs (optimistic status check), so two
// workers racing on one execution resolve at the database, not in memory.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

const executionColumns = `id, campaign_id, lead_id, template_id, scheduled_for, status, attempts, last_error, superseded, created_at, updated_at`

func scanExecution(row *sql.Row) (Execution, error) {
	var e Execution
	err := row.Scan(
		&e.ID,
		&e.CampaignID,
		&e.LeadID,
		&e.TemplateID,
		&e.ScheduledFor,
		&e.Status,
		&e.Attempts,
		&e.LastError,
		&e.Superseded,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, ErrNotFound
	}
	return e, err
}

func (r *PostgresRepo) Create(ctx context.Context, e Execution) error {
	if e.ID == "" || e.CampaignID == "" || e.LeadID == "" || e.TemplateID == "" {
		return ErrInvalidArgument
	}
	now := r.clock().UTC()
	if e.Status == "" {
		e.Status = StatusScheduled
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	const q = `
INSERT INTO executions (` + executionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.CampaignID, e.LeadID, e.TemplateID, e.ScheduledFor,
		e.Status, e.Attempts, e.LastError, e.Superseded, e.CreatedAt, now,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Execution, error) {
	const q = `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`
	return scanExecution(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) FindLive(ctx context.Context, campaignID, leadID, templateID string, scheduledFor time.Time) (Execution, bool, error) {
	const q = `
SELECT ` + executionColumns + `
FROM executions
WHERE campaign_id = $1 AND lead_id = $2 AND template_id = $3 AND scheduled_for = $4
  AND status IN ('scheduled', 'executing')
LIMIT 1
`
	e, err := scanExecution(r.db.QueryRowContext(ctx, q, campaignID, leadID, templateID, scheduledFor))
	if errors.Is(err, ErrNotFound) {
		return Execution{}, false, nil
	}
	if err != nil {
		return Execution{}, false, err
	}
	return e, true, nil
}

func (r *PostgresRepo) Transition(ctx context.Context, id string, from, to Status) (bool, error) {
	const q = `
UPDATE executions
SET status = $1, updated_at = $2
WHERE id = $3 AND status = $4
`
	res, err := r.db.ExecContext(ctx, q, to, r.clock().UTC(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepo) Reschedule(ctx context.Context, id string, from Status, at time.Time) (bool, error) {
	const q = `
UPDATE executions
SET status = 'scheduled', scheduled_for = $1, updated_at = $2
WHERE id = $3 AND status = $4
`
	res, err := r.db.ExecContext(ctx, q, at.UTC(), r.clock().UTC(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepo) RecordAttempt(ctx context.Context, id string, attempts int, lastError string) error {
	const q = `
UPDATE executions
SET attempts = $1, last_error = $2, updated_at = $3
WHERE id = $4
`
	res, err := r.db.ExecContext(ctx, q, attempts, lastError, r.clock().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) MarkSuperseded(ctx context.Context, id string) error {
	const q = `
UPDATE executions
SET superseded = TRUE, updated_at = $1
WHERE id = $2
`
	res, err := r.db.ExecContext(ctx, q, r.clock().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListScheduledByLead(ctx context.Context, leadID string) ([]Execution, error) {
	const q = `
SELECT ` + executionColumns + `
FROM executions
WHERE lead_id = $1 AND status = 'scheduled'
ORDER BY scheduled_for
`
	rows, err := r.db.QueryContext(ctx, q, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.LeadID, &e.TemplateID, &e.ScheduledFor,
			&e.Status, &e.Attempts, &e.LastError, &e.Superseded, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListByWindow(ctx context.Context, campaignID string, from, to time.Time) ([]Execution, error) {
	q := `
SELECT ` + executionColumns + `
FROM executions
WHERE created_at >= $1 AND created_at < $2
`
	args := []any{from, to}
	if campaignID != "" {
		q += ` AND campaign_id = $3`
		args = append(args, campaignID)
	}
	q += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.LeadID, &e.TemplateID, &e.ScheduledFor,
			&e.Status, &e.Attempts, &e.LastError, &e.Superseded, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
