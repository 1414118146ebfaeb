package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadflow-platform/internal/messaging"
)

var (
	ErrNotFound        = errors.New("conversation: not found")
	ErrTerminal        = errors.New("conversation: terminal status")
	ErrInvalidArgument = errors.New("conversation: invalid argument")
)

// Store is the conversation persistence contract. All engine components
// read and write dialogue state through it.
type Store interface {
	// Ensure returns the conversation for (leadID, channel), creating an
	// active one on first touch.
	Ensure(ctx context.Context, leadID string, ch messaging.Channel) (Conversation, error)

	Get(ctx context.Context, id string) (Conversation, error)
	GetByLeadChannel(ctx context.Context, leadID string, ch messaging.Channel) (Conversation, error)
	ListByLead(ctx context.Context, leadID string) ([]Conversation, error)

	// Append adds a message; terminal conversations reject appends.
	Append(ctx context.Context, id string, m Message) error

	// SetScore keeps max(stored, score) clamped to 0-100. It never regresses
	// a lower score over an existing higher one.
	SetScore(ctx context.Context, id string, score int) error

	MarkGoal(ctx context.Context, id, goal string) error

	// TransitionStatus is a compare-and-swap on status. It reports whether
	// the swap happened; a false return means another writer got there first
	// or the conversation is already terminal.
	TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error)

	CrossChannelContext(ctx context.Context, leadID string) (CrossChannelContext, error)
}

// MemoryStore is the in-memory Store. Mutations for one lead are serialized
// by a per-lead mutex, matching the single-writer-per-lead model the workers
// rely on.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*Conversation
	byKey map[string]string // leadID+'|'+channel -> id
	locks map[string]*sync.Mutex
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Conversation),
		byKey: make(map[string]string),
		locks: make(map[string]*sync.Mutex),
		clock: time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func key(leadID string, ch messaging.Channel) string { return leadID + "|" + string(ch) }

func (s *MemoryStore) leadLock(leadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[leadID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[leadID] = l
	}
	return l
}

func (s *MemoryStore) Ensure(ctx context.Context, leadID string, ch messaging.Channel) (Conversation, error) {
	if leadID == "" || !ch.Valid() {
		return Conversation{}, ErrInvalidArgument
	}
	lock := s.leadLock(leadID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byKey[key(leadID, ch)]; ok {
		return s.byID[id].clone(), nil
	}
	now := s.clock().UTC()
	c := &Conversation{
		ID:           uuid.NewString(),
		LeadID:       leadID,
		Channel:      ch,
		Status:       StatusActive,
		GoalProgress: make(map[string]bool),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[c.ID] = c
	s.byKey[key(leadID, ch)] = c.ID
	return c.clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c.clone(), nil
}

func (s *MemoryStore) GetByLeadChannel(ctx context.Context, leadID string, ch messaging.Channel) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key(leadID, ch)]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return s.byID[id].clone(), nil
}

func (s *MemoryStore) ListByLead(ctx context.Context, leadID string) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Conversation
	for _, ch := range []messaging.Channel{messaging.ChannelEmail, messaging.ChannelSMS, messaging.ChannelChat} {
		if id, ok := s.byKey[key(leadID, ch)]; ok {
			out = append(out, s.byID[id].clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Append(ctx context.Context, id string, m Message) error {
	if m.Role != RoleAgent && m.Role != RoleLead {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status.Terminal() {
		return ErrTerminal
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.clock().UTC()
	}
	c.Messages = append(c.Messages, m)
	c.UpdatedAt = s.clock().UTC()
	return nil
}

func (s *MemoryStore) SetScore(ctx context.Context, id string, score int) error {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if score > c.QualificationScore {
		c.QualificationScore = score
		c.UpdatedAt = s.clock().UTC()
	}
	return nil
}

func (s *MemoryStore) MarkGoal(ctx context.Context, id, goal string) error {
	if goal == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if c.GoalProgress == nil {
		c.GoalProgress = make(map[string]bool)
	}
	c.GoalProgress[goal] = true
	c.UpdatedAt = s.clock().UTC()
	return nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if c.Status != from || c.Status.Terminal() {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = s.clock().UTC()
	return true, nil
}

func (s *MemoryStore) CrossChannelContext(ctx context.Context, leadID string) (CrossChannelContext, error) {
	convs, err := s.ListByLead(ctx, leadID)
	if err != nil {
		return CrossChannelContext{}, err
	}
	return aggregateContext(leadID, convs), nil
}

// aggregateContext folds a lead's sibling conversations into one snapshot.
func aggregateContext(leadID string, convs []Conversation) CrossChannelContext {
	out := CrossChannelContext{
		LeadID:        leadID,
		Conversations: make(map[messaging.Channel]Conversation, len(convs)),
		Goals:         make(map[string]bool),
	}
	for _, c := range convs {
		out.Conversations[c.Channel] = c
		out.TotalMessages += len(c.Messages)
		if c.QualificationScore > out.HighestScore {
			out.HighestScore = c.QualificationScore
		}
		for g := range c.GoalProgress {
			out.Goals[g] = true
		}
		for _, m := range c.Messages {
			if m.Role == RoleAgent && m.Timestamp.After(out.LastOutboundAt) {
				out.LastOutboundAt = m.Timestamp
			}
		}
	}
	return out
}

// LastTouchAt returns the latest outbound touch time for the lead; ok is
// false when the lead has never been touched. It backs the coordinator's
// message-gap check.
func (s *MemoryStore) LastTouchAt(ctx context.Context, leadID string) (time.Time, bool, error) {
	cc, err := s.CrossChannelContext(ctx, leadID)
	if err != nil {
		return time.Time{}, false, err
	}
	if cc.LastOutboundAt.IsZero() {
		return time.Time{}, false, nil
	}
	return cc.LastOutboundAt, true, nil
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.GoalProgress = make(map[string]bool, len(c.GoalProgress))
	for k, v := range c.GoalProgress {
		out.GoalProgress[k] = v
	}
	return out
}
