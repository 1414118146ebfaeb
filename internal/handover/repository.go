package handover

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"leadflow-platform/internal/campaign"
)

// PostgresRepo persists handover records in Postgres via database/sql
// (pgx stdlib).
//
// NOTE: This repository assumes the following table exists:
//
//	handovers (
//	  id UUID PRIMARY KEY,
//	  conversation_id TEXT NOT NULL UNIQUE,
//	  lead_id TEXT NOT NULL,
//	  campaign_id TEXT NOT NULL,
//	  recipient JSONB NOT NULL,
//	  dossier_summary TEXT NOT NULL DEFAULT '',
//	  created_at TIMESTAMPTZ NOT NULL
//	)
//
// The UNIQUE constraint on conversation_id is the database half of the
// at-most-once handover guarantee.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const handoverColumns = `id, conversation_id, lead_id, campaign_id, recipient, dossier_summary, created_at`

func (r *PostgresRepo) Create(ctx context.Context, rec Record) error {
	recipient, err := json.Marshal(rec.Recipient)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO handovers (` + handoverColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (conversation_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.ConversationID, rec.LeadID, rec.CampaignID,
		recipient, rec.DossierSummary, rec.CreatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *PostgresRepo) GetByConversation(ctx context.Context, conversationID string) (Record, error) {
	const q = `SELECT ` + handoverColumns + ` FROM handovers WHERE conversation_id = $1`
	var rec Record
	var recipient []byte
	err := r.db.QueryRowContext(ctx, q, conversationID).Scan(
		&rec.ID, &rec.ConversationID, &rec.LeadID, &rec.CampaignID,
		&recipient, &rec.DossierSummary, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(recipient, &rec.Recipient); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *PostgresRepo) ListWindow(ctx context.Context, campaignID string, from, to time.Time) ([]Record, error) {
	q := `
SELECT ` + handoverColumns + `
FROM handovers
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

	var out []Record
	for rows.Next() {
		var rec Record
		var recipient []byte
		if err := rows.Scan(
			&rec.ID, &rec.ConversationID, &rec.LeadID, &rec.CampaignID,
			&recipient, &rec.DossierSummary, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		var rcp campaign.Recipient
		if err := json.Unmarshal(recipient, &rcp); err != nil {
			return nil, err
		}
		rec.Recipient = rcp
		out = append(out, rec)
	}
	return out, rows.Err()
}
