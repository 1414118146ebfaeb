package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"leadflow-platform/internal/messaging"
)

// PostgresStore persists conversations in Postgres via database/sql
// (pgx stdlib).
//
// NOTE: This store assumes the following table exists:
//
//	conversations (
//	  id UUID PRIMARY KEY,
//	  lead_id TEXT NOT NULL,
//	  channel TEXT NOT NULL,
//	  status TEXT NOT NULL,
//	  messages JSONB NOT NULL DEFAULT '[]',
//	  qualification_score INT NOT NULL DEFAULT 0,
//	  goal_progress JSONB NOT NULL DEFAULT '{}',
//	  created_at TIMESTAMPTZ NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL,
//	  UNIQUE (lead_id, channel)
//	)
//
// Messages live in a JSONB array on the row: the engine always reads a
// conversation whole, and appends are a single guarded UPDATE, so the
// terminal-status check and the write are one statement. Status moves are
// conditional UPDATEs, same as the execution and lead repositories.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const conversationColumns = `id, lead_id, channel, status, messages, qualification_score, goal_progress, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var messages, goals []byte
	err := row.Scan(
		&c.ID,
		&c.LeadID,
		&c.Channel,
		&c.Status,
		&messages,
		&c.QualificationScore,
		&goals,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	if err := json.Unmarshal(messages, &c.Messages); err != nil {
		return Conversation{}, err
	}
	if err := json.Unmarshal(goals, &c.GoalProgress); err != nil {
		return Conversation{}, err
	}
	if c.GoalProgress == nil {
		c.GoalProgress = make(map[string]bool)
	}
	return c, nil
}

func (s *PostgresStore) Ensure(ctx context.Context, leadID string, ch messaging.Channel) (Conversation, error) {
	if leadID == "" || !ch.Valid() {
		return Conversation{}, ErrInvalidArgument
	}
	now := s.clock().UTC()
	// The unique (lead_id, channel) key makes the racing insert a no-op;
	// both callers read back the same row.
	const ins = `
INSERT INTO conversations (id, lead_id, channel, status, messages, qualification_score, goal_progress, created_at, updated_at)
VALUES ($1, $2, $3, $4, '[]', 0, '{}', $5, $5)
ON CONFLICT (lead_id, channel) DO NOTHING
`
	if _, err := s.db.ExecContext(ctx, ins, uuid.NewString(), leadID, ch, StatusActive, now); err != nil {
		return Conversation{}, err
	}
	return s.GetByLeadChannel(ctx, leadID, ch)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	const q = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	return scanConversation(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) GetByLeadChannel(ctx context.Context, leadID string, ch messaging.Channel) (Conversation, error) {
	const q = `SELECT ` + conversationColumns + ` FROM conversations WHERE lead_id = $1 AND channel = $2`
	return scanConversation(s.db.QueryRowContext(ctx, q, leadID, ch))
}

func (s *PostgresStore) ListByLead(ctx context.Context, leadID string) ([]Conversation, error) {
	const q = `SELECT ` + conversationColumns + ` FROM conversations WHERE lead_id = $1 ORDER BY channel`
	rows, err := s.db.QueryContext(ctx, q, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Append(ctx context.Context, id string, m Message) error {
	if m.Role != RoleAgent && m.Role != RoleLead {
		return ErrInvalidArgument
	}
	now := s.clock().UTC()
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	const q = `
UPDATE conversations
SET messages = messages || $1::jsonb, updated_at = $2
WHERE id = $3 AND status NOT IN ('completed', 'handed_over')
`
	res, err := s.db.ExecContext(ctx, q, doc, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the row is missing or it is terminal; one more read tells
		// the caller which.
		c, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Status.Terminal() {
			return ErrTerminal
		}
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetScore(ctx context.Context, id string, score int) error {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	const q = `
UPDATE conversations
SET qualification_score = GREATEST(qualification_score, $1), updated_at = $2
WHERE id = $3
`
	res, err := s.db.ExecContext(ctx, q, score, s.clock().UTC(), id)
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

func (s *PostgresStore) MarkGoal(ctx context.Context, id, goal string) error {
	if goal == "" {
		return ErrInvalidArgument
	}
	const q = `
UPDATE conversations
SET goal_progress = goal_progress || jsonb_build_object($1::text, TRUE), updated_at = $2
WHERE id = $3
`
	res, err := s.db.ExecContext(ctx, q, goal, s.clock().UTC(), id)
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

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	const q = `
UPDATE conversations
SET status = $1, updated_at = $2
WHERE id = $3 AND status = $4 AND status NOT IN ('completed', 'handed_over')
`
	res, err := s.db.ExecContext(ctx, q, to, s.clock().UTC(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) CrossChannelContext(ctx context.Context, leadID string) (CrossChannelContext, error) {
	convs, err := s.ListByLead(ctx, leadID)
	if err != nil {
		return CrossChannelContext{}, err
	}
	return aggregateContext(leadID, convs), nil
}

// LastTouchAt backs the coordinator's message-gap check.
func (s *PostgresStore) LastTouchAt(ctx context.Context, leadID string) (time.Time, bool, error) {
	cc, err := s.CrossChannelContext(ctx, leadID)
	if err != nil {
		return time.Time{}, false, err
	}
	if cc.LastOutboundAt.IsZero() {
		return time.Time{}, false, nil
	}
	return cc.LastOutboundAt, true, nil
}
