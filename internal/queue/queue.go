// Package queue implements the asynq-backed job consumer, grounded on the
// teacher's queue.redis_consumer.go: an asynq.Server with a priority queue
// map, a quadratic RetryDelayFunc (n^2 seconds, capped at 5 minutes), and a
// ServeMux routing one task type
// to one handler. The task type and queue names are renamed from the video
// pipeline's videoagent:* namespace to this pipeline's transcribe:* one.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// TaskTypeTranscribe is the asynq task type name for an audio job.
const TaskTypeTranscribe = "transcribe:process"

// Payload is the asynq task payload: enough to look the job up and rebuild
// its JobConfig without re-parsing raw JSON on every retry.
type Payload struct {
	JobID   string           `json:"job_id"`
	UserID  string           `json:"user_id"`
	AudioID string           `json:"audio_id"`
	Config  models.JobConfig `json:"config"`
}

// NewTask builds an asynq.Task for one audio job.
func NewTask(p Payload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeTranscribe, data), nil
}

// Handler processes one audio job end to end.
type Handler func(ctx context.Context, p Payload) error

// Consumer wraps an asynq.Server configured with the three priority queues
// and backoff policy this pipeline uses (§5, "Job orchestration").
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewConsumer builds a Consumer connected to redisURL with concurrency
// worker slots split across critical/default/low priority queues.
func NewConsumer(redisURL string, concurrency int, handler Handler) (*Consumer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"transcribe:critical": 6,
			"transcribe:default":  3,
			"transcribe:low":      1,
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			delay := time.Duration(n*n) * time.Second
			if delay > 5*time.Minute {
				delay = 5 * time.Minute
			}
			return delay
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("task %s failed: %v", task.Type(), err)
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeTranscribe, func(ctx context.Context, t *asynq.Task) error {
		var p Payload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshaling task payload: %w", err)
		}
		return handler(ctx, p)
	})

	return &Consumer{server: server, mux: mux}, nil
}

// Start runs the consumer loop; it blocks until Stop is called or the
// server encounters a fatal error.
func (c *Consumer) Start() error {
	return c.server.Run(c.mux)
}

// Stop gracefully drains in-flight tasks before shutting down.
func (c *Consumer) Stop() {
	c.server.Shutdown()
}
