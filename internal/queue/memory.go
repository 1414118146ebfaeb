package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is the in-process Queue used by tests and local runs. Same
// visibility semantics as the Redis implementation.
type MemoryQueue struct {
	mu         sync.Mutex
	pending    map[string]Job
	processing map[string]claimed
	paused     map[JobType]bool
}

type claimed struct {
	job       Job
	claimedAt time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending:    make(map[string]Job),
		processing: make(map[string]claimed),
		paused:     make(map[JobType]bool),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, j Job) error {
	if j.ID == "" || !j.Type.Valid() {
		return ErrInvalidJob
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processing[j.ID]; ok {
		return nil
	}
	if _, ok := q.pending[j.ID]; ok {
		return nil
	}
	q.pending[j.ID] = j
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, now time.Time) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Job
	for _, j := range q.pending {
		if q.paused[j.Type] || j.RunAt.After(now) {
			continue
		}
		due = append(due, j)
	}
	if len(due) == 0 {
		return Job{}, false, nil
	}
	// Oldest due first; ID as tiebreaker keeps order deterministic.
	sort.Slice(due, func(i, k int) bool {
		if !due[i].RunAt.Equal(due[k].RunAt) {
			return due[i].RunAt.Before(due[k].RunAt)
		}
		return due[i].ID < due[k].ID
	})

	j := due[0]
	delete(q.pending, j.ID)
	q.processing[j.ID] = claimed{job: j, claimedAt: now}
	return j, true, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processing[id]; !ok {
		return ErrNotFound
	}
	delete(q.processing, id)
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, id string, retryAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.processing[id]
	if !ok {
		return ErrNotFound
	}
	delete(q.processing, id)
	j := c.job
	j.Attempts++
	j.RunAt = retryAt
	q.pending[j.ID] = j
	return nil
}

func (q *MemoryQueue) Pause(ctx context.Context, t JobType) error {
	if !t.Valid() {
		return ErrInvalidJob
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused[t] = true
	return nil
}

func (q *MemoryQueue) Resume(ctx context.Context, t JobType) error {
	if !t.Valid() {
		return ErrInvalidJob
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.paused, t)
	return nil
}

func (q *MemoryQueue) Paused(ctx context.Context) ([]JobType, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []JobType
	for t := range q.paused {
		out = append(out, t)
	}
	sort.Slice(out, func(i, k int) bool { return out[i] < out[k] })
	return out, nil
}

func (q *MemoryQueue) RequeueStuck(ctx context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, c := range q.processing {
		if c.claimedAt.Before(olderThan) {
			delete(q.processing, id)
			q.pending[id] = c.job
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Purge(ctx context.Context, t JobType) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, j := range q.pending {
		if j.Type == t {
			delete(q.pending, id)
			n++
		}
	}
	return n, nil
}

// Len reports pending job count; convenient in tests.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
