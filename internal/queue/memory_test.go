package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueDueOrdering(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	jobs := []Job{
		{ID: "j-later", Type: TypeCampaignTouch, RunAt: now.Add(-1 * time.Minute)},
		{ID: "j-early", Type: TypeCampaignTouch, RunAt: now.Add(-10 * time.Minute)},
		{ID: "j-future", Type: TypeCampaignTouch, RunAt: now.Add(5 * time.Minute)},
	}
	for _, j := range jobs {
		if err := q.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue %s: %v", j.ID, err)
		}
	}

	first, ok, err := q.Dequeue(ctx, now)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if first.ID != "j-early" {
		t.Fatalf("first = %s, want j-early", first.ID)
	}

	second, ok, _ := q.Dequeue(ctx, now)
	if !ok || second.ID != "j-later" {
		t.Fatalf("second = %+v ok=%v", second, ok)
	}

	if _, ok, _ := q.Dequeue(ctx, now); ok {
		t.Fatalf("future job must not be due")
	}
	if _, ok, _ := q.Dequeue(ctx, now.Add(6*time.Minute)); !ok {
		t.Fatalf("future job should be due after its run time")
	}
}

func TestMemoryQueuePauseHoldsType(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	if err := q.Enqueue(ctx, Job{ID: "touch-1", Type: TypeCampaignTouch, RunAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, Job{ID: "email-1", Type: TypeEmailSend, RunAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Pause(ctx, TypeCampaignTouch); err != nil {
		t.Fatalf("pause: %v", err)
	}

	j, ok, _ := q.Dequeue(ctx, now)
	if !ok || j.Type != TypeEmailSend {
		t.Fatalf("dequeue while paused = %+v ok=%v", j, ok)
	}
	if _, ok, _ := q.Dequeue(ctx, now); ok {
		t.Fatalf("paused type must stay queued")
	}

	if err := q.Resume(ctx, TypeCampaignTouch); err != nil {
		t.Fatalf("resume: %v", err)
	}
	j, ok, _ = q.Dequeue(ctx, now)
	if !ok || j.ID != "touch-1" {
		t.Fatalf("after resume = %+v ok=%v", j, ok)
	}
}

func TestMemoryQueueAckAndFail(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	if err := q.Enqueue(ctx, Job{ID: "j1", Type: TypeHandover, RunAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	j, ok, _ := q.Dequeue(ctx, now)
	if !ok {
		t.Fatalf("dequeue failed")
	}

	// In-flight job is invisible.
	if _, ok, _ := q.Dequeue(ctx, now); ok {
		t.Fatalf("claimed job dequeued twice")
	}

	retryAt := now.Add(time.Minute)
	if err := q.Fail(ctx, j.ID, retryAt); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if _, ok, _ := q.Dequeue(ctx, now); ok {
		t.Fatalf("failed job must wait for its retry time")
	}
	j, ok, _ = q.Dequeue(ctx, retryAt)
	if !ok || j.Attempts != 1 {
		t.Fatalf("retry = %+v ok=%v", j, ok)
	}

	if err := q.Ack(ctx, j.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := q.Ack(ctx, j.ID); err != ErrNotFound {
		t.Fatalf("double ack err = %v, want ErrNotFound", err)
	}
}

func TestMemoryQueueRequeueStuck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if err := q.Enqueue(ctx, Job{ID: "j1", Type: TypeSMSSend, RunAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok, _ := q.Dequeue(ctx, now); !ok {
		t.Fatalf("dequeue failed")
	}

	// Too recent to be stuck.
	if n, _ := q.RequeueStuck(ctx, now.Add(-time.Minute)); n != 0 {
		t.Fatalf("requeued %d, want 0", n)
	}
	n, err := q.RequeueStuck(ctx, now.Add(10*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("requeue = %d err=%v", n, err)
	}
	if _, ok, _ := q.Dequeue(ctx, now.Add(10*time.Minute)); !ok {
		t.Fatalf("requeued job should be dequeueable")
	}
}

func TestMemoryQueueEnqueueIdempotent(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	j := Job{ID: "j1", Type: TypeLeadProcessing, RunAt: now.Add(-time.Second)}
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, j); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
}

func TestMemoryQueuePurge(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	now := time.Now()

	_ = q.Enqueue(ctx, Job{ID: "t1", Type: TypeCampaignTouch, RunAt: now})
	_ = q.Enqueue(ctx, Job{ID: "t2", Type: TypeCampaignTouch, RunAt: now})
	_ = q.Enqueue(ctx, Job{ID: "e1", Type: TypeEmailSend, RunAt: now})

	n, err := q.Purge(ctx, TypeCampaignTouch)
	if err != nil || n != 2 {
		t.Fatalf("purge = %d err=%v", n, err)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d, want 1", q.Len())
	}
}
