package queue

import (
	"context"
	"errors"
	"time"
)

// JobType partitions jobs into classes that can be paused and resumed
// independently.
type JobType string

const (
	TypeLeadProcessing JobType = "lead_processing"
	TypeCampaignTouch  JobType = "campaign_touch"
	TypeHandover       JobType = "handover"
	TypeEmailSend      JobType = "email_send"
	TypeSMSSend        JobType = "sms_send"
)

func (t JobType) Valid() bool {
	switch t {
	case TypeLeadProcessing, TypeCampaignTouch, TypeHandover, TypeEmailSend, TypeSMSSend:
		return true
	}
	return false
}

// Job is a unit of deferred work. Delivery is at least once: handlers must
// be idempotent.
type Job struct {
	ID   string  `json:"id"`
	Type JobType `json:"type"`

	// Key groups jobs that must not run concurrently (the lead ID).
	Key string `json:"key"`

	Payload  []byte    `json:"payload"`
	RunAt    time.Time `json:"run_at"`
	Attempts int       `json:"attempts"`
}

var (
	ErrInvalidJob = errors.New("queue: invalid job")
	ErrNotFound   = errors.New("queue: job not found")
)

// Queue is the durable job transport between the API and workers.
//
// Dequeue returns only jobs due at or before now whose type is not paused,
// moving them to a processing set; a job stays invisible until Ack, Fail,
// or RequeueStuck returns it. Pausing a type keeps its jobs queued.
type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	Dequeue(ctx context.Context, now time.Time) (Job, bool, error)
	Ack(ctx context.Context, id string) error

	// Fail returns the job to the pending set, delayed until retryAt,
	// with its attempt count incremented.
	Fail(ctx context.Context, id string, retryAt time.Time) error

	Pause(ctx context.Context, t JobType) error
	Resume(ctx context.Context, t JobType) error
	Paused(ctx context.Context) ([]JobType, error)

	// RequeueStuck returns jobs claimed before the cutoff to the pending
	// set. Covers worker crashes between Dequeue and Ack.
	RequeueStuck(ctx context.Context, olderThan time.Time) (int, error)

	// Purge drops all pending jobs of a type.
	Purge(ctx context.Context, t JobType) (int, error)
}
