// Package progress implements the job-progress publisher used by C10.
// Grounded on the teacher's VideoProcessor.sendProgress (a Redis pub/sub
// publish on every state transition), generalized from a fixed waypoint
// list to the richer models.ProgressUpdate shape this pipeline's state
// machine emits.
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// Channel is the Redis pub/sub channel progress updates are published to,
// one message per (userId, audioId) pair.
func Channel(userID, audioID string) string {
	return fmt.Sprintf("transcribe:progress:%s:%s", userID, audioID)
}

// Publisher publishes progress updates over Redis pub/sub. Publish failures
// are logged by the caller, never propagated as job failures (§4.10,
// "progress-store failures are logged, not re-raised").
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps an existing Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends one progress update. Callers that want the
// logged-not-re-raised semantics should log the returned error themselves
// and continue.
func (p *Publisher) Publish(ctx context.Context, update models.ProgressUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshaling progress update: %w", err)
	}
	return p.client.Publish(ctx, Channel(update.UserID, update.AudioID), data).Err()
}
