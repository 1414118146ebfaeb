package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"leadflow-platform/internal/queue"
)

// TouchEnqueuer bridges the scheduler's enqueue hook to the job queue: every
// scheduled execution gets a campaign_touch job keyed by lead.
func TouchEnqueuer(q queue.Queue) func(ctx context.Context, executionID, leadID string, runAt time.Time) error {
	return func(ctx context.Context, executionID, leadID string, runAt time.Time) error {
		payload, err := json.Marshal(TouchPayload{ExecutionID: executionID})
		if err != nil {
			return err
		}
		return q.Enqueue(ctx, queue.Job{
			ID:      uuid.NewString(),
			Type:    queue.TypeCampaignTouch,
			Key:     leadID,
			Payload: payload,
			RunAt:   runAt,
		})
	}
}
