// Command transcribeworker runs the audio transcription pipeline, either as
// a standalone asynq queue consumer or as a one-shot subprocess reading a
// job from stdin and writing its result to stdout. Grounded on the
// teacher's cmd/worker/main.go dual-mode entrypoint (WORKER_MODE env switch
// between runSubprocessMode and runStandaloneMode, identical component
// wiring order, identical graceful-shutdown signal handling).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/meridianvoice/transcribe-worker/internal/blob"
	"github.com/meridianvoice/transcribe-worker/internal/chunker"
	"github.com/meridianvoice/transcribe-worker/internal/config"
	"github.com/meridianvoice/transcribe-worker/internal/dispatch"
	"github.com/meridianvoice/transcribe-worker/internal/diarize"
	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/fingerprint"
	"github.com/meridianvoice/transcribe-worker/internal/models"
	"github.com/meridianvoice/transcribe-worker/internal/orchestrator"
	"github.com/meridianvoice/transcribe-worker/internal/preprocess"
	"github.com/meridianvoice/transcribe-worker/internal/progress"
	"github.com/meridianvoice/transcribe-worker/internal/providers"
	"github.com/meridianvoice/transcribe-worker/internal/queue"
	"github.com/meridianvoice/transcribe-worker/internal/storage"
	"github.com/meridianvoice/transcribe-worker/internal/sweep"
	"github.com/meridianvoice/transcribe-worker/internal/unify"
)

func main() {
	mode := os.Getenv("WORKER_MODE")
	if mode == "" {
		mode = "standalone"
	}

	if mode == "subprocess" {
		runSubprocessMode()
	} else {
		runStandaloneMode()
	}
}

// subprocessInput is the job payload read from stdin in subprocess mode
// (§6, "subprocess one-shot mode").
type subprocessInput struct {
	JobID   string                 `json:"jobId"`
	UserID  string                 `json:"userId"`
	AudioID string                 `json:"audioId"`
	Config  map[string]interface{} `json:"config"`
}

// runSubprocessMode reads one job from stdin, runs it to completion without
// consuming from the queue, and writes the result (or error) to stdout as
// JSON. Job status and results are still written to Postgres through the
// storage layer. Exit codes follow §6: 0 success, 1 configuration/input
// error, 2 external dependency (storage) or pipeline failure.
func runSubprocessMode() {
	log.SetOutput(os.Stderr)
	log.SetFlags(0)

	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		writeError(fmt.Sprintf("reading stdin: %v", err))
		os.Exit(1)
	}

	var job subprocessInput
	if err := json.Unmarshal(input, &job); err != nil {
		writeError(fmt.Sprintf("parsing job payload: %v", err))
		os.Exit(1)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		writeError(fmt.Sprintf("invalid configuration: %v", err))
		os.Exit(1)
	}

	jobConfig, err := config.ParseJobConfig(job.Config)
	if err != nil {
		writeError(fmt.Sprintf("invalid job config: %v", err))
		os.Exit(1)
	}

	store, err := storage.New(cfg.PostgresURL)
	if err != nil {
		writeError(fmt.Sprintf("initializing storage: %v", err))
		os.Exit(2)
	}
	defer store.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		writeError(fmt.Sprintf("parsing redis URL: %v", err))
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	orch, err := buildOrchestrator(cfg, store, redisClient)
	if err != nil {
		writeError(fmt.Sprintf("initializing pipeline: %v", err))
		os.Exit(1)
	}

	audioJob := models.AudioJob{UserID: job.UserID, AudioID: job.AudioID, Config: jobConfig, Status: models.StatusQueued}

	result, err := orch.Run(context.Background(), job.JobID, audioJob)
	if err != nil {
		writeError(fmt.Sprintf("pipeline failed: %v", err))
		os.Exit(2)
	}

	resultJSON, err := json.Marshal(map[string]interface{}{
		"success": true,
		"jobId":   job.JobID,
		"result":  result,
	})
	if err != nil {
		writeError(fmt.Sprintf("marshaling result: %v", err))
		os.Exit(2)
	}

	fmt.Println(string(resultJSON))
	os.Exit(0)
}

// runStandaloneMode runs the asynq queue consumer, blocking until a
// shutdown signal arrives.
func runStandaloneMode() {
	log.Println("transcribe-worker starting...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()

	store, err := storage.New(cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Println("storage initialized")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to parse redis URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	log.Println("redis connection established")

	orch, err := buildOrchestrator(cfg, store, redisClient)
	if err != nil {
		log.Fatalf("failed to initialize pipeline: %v", err)
	}
	log.Println("pipeline initialized")

	consumer, err := queue.NewConsumer(cfg.RedisURL, cfg.WorkerConcurrency, func(ctx context.Context, p queue.Payload) error {
		audioJob := models.AudioJob{UserID: p.UserID, AudioID: p.AudioID, Config: p.Config, Status: models.StatusQueued}
		_, err := orch.Run(ctx, p.JobID, audioJob)
		return err
	})
	if err != nil {
		log.Fatalf("failed to initialize queue consumer: %v", err)
	}
	log.Println("queue consumer initialized")

	scratchSweeper := sweep.New(cfg.TempDir, 6*time.Hour)
	if err := scratchSweeper.Start("0 * * * *"); err != nil {
		log.Fatalf("failed to start scratch sweeper: %v", err)
	}
	defer scratchSweeper.Stop()
	log.Println("scratch sweeper scheduled (hourly, 6h max age)")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := consumer.Start(); err != nil {
			errChan <- err
		}
	}()

	log.Println("transcribe-worker ready - waiting for jobs...")
	log.Printf("  - concurrency: %d workers", cfg.WorkerConcurrency)
	log.Printf("  - temp directory: %s", cfg.TempDir)

	select {
	case <-sigChan:
		log.Println("shutdown signal received, stopping gracefully...")
		consumer.Stop()
	case err := <-errChan:
		log.Fatalf("worker error: %v", err)
	}

	log.Println("transcribe-worker stopped")
}

// buildOrchestrator wires every pipeline collaborator together the way
// VideoProcessor's constructor chain did in the teacher, extended with the
// speech-provider pool this system needs (§4.8).
func buildOrchestrator(cfg config.Config, store *storage.Manager, redisClient *redis.Client) (*orchestrator.Orchestrator, error) {
	preproc, err := preprocess.NewAdapter()
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.New()
	if err != nil {
		return nil, err
	}

	diarizer := diarize.New(cfg.DiarizationURL, cfg.HuggingFaceToken, preproc.Duration)

	var provs []providers.Provider
	if cfg.OpenAIAPIKey != "" {
		provs = append(provs, providers.NewOpenAI(cfg.OpenAIAPIKey, ""))
	}
	if cfg.AzureAPIKey != "" && cfg.AzureRegion != "" {
		provs = append(provs, providers.NewAzure(cfg.AzureAPIKey, cfg.AzureRegion, ""))
	}
	if cfg.GoogleAPIKey != "" {
		provs = append(provs, providers.NewGoogle(cfg.GoogleAPIKey, ""))
	}
	if cfg.AssemblyAIAPIKey != "" {
		provs = append(provs, providers.NewAssemblyAI(cfg.AssemblyAIAPIKey))
	}
	if cfg.DeepgramAPIKey != "" {
		provs = append(provs, providers.NewDeepgram(cfg.DeepgramAPIKey, ""))
	}
	if len(provs) == 0 {
		return nil, errs.New("buildOrchestrator", errs.Fatal, fmt.Errorf("no speech provider API keys configured"))
	}

	// One process-wide limiter shared by every concurrent job's provider
	// calls, sized off ProviderPoolSize so the worker never exceeds the
	// quota its configured API keys were provisioned for (§4.7).
	limiter := rate.NewLimiter(rate.Limit(cfg.ProviderPoolSize), cfg.ProviderPoolSize)

	return orchestrator.New(
		store,
		progress.NewPublisher(redisClient),
		blob.NewFetcher(blob.NewHTTPClient(cfg.BlobBaseURL), cfg.TempDir),
		preproc,
		chunks,
		diarizer,
		unify.New(0.4),
		dispatch.New(limiter, provs...),
		fingerprint.New(store),
	), nil
}

func writeError(message string) {
	data, _ := json.Marshal(map[string]interface{}{"success": false, "error": message})
	fmt.Println(string(data))
}
