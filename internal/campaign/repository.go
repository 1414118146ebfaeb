package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresRepo stores campaign definitions as validated JSON documents.
//
// NOTE: This repository assumes the following table exists:
//
//	campaigns (
//	  id TEXT PRIMARY KEY,
//	  name TEXT NOT NULL,
//	  doc JSONB NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
//
// The engine only ever reads whole definitions, so a document column keeps
// the nested touch sequence, agent assignments and handover criteria in a
// single read instead of a join fan-out.
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Put(ctx context.Context, c Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO campaigns (id, name, doc, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
`
	_, err = r.db.ExecContext(ctx, q, c.ID, c.Name, doc, r.clock().UTC())
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Campaign, error) {
	const q = `SELECT doc FROM campaigns WHERE id = $1`
	var doc []byte
	err := r.db.QueryRowContext(ctx, q, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Campaign{}, ErrNotFound
	}
	if err != nil {
		return Campaign{}, err
	}
	var c Campaign
	if err := json.Unmarshal(doc, &c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}
