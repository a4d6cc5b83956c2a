// Package blob implements C1, the blob fetcher: retrieving a source
// recording identified by (user_id, audio_id) down to a local scratch path.
// The actual blob store is an external collaborator (§1, "Deliberately out
// of scope") reached through the narrow Client interface below; this
// package only adds the retry/backoff policy and scratch-file bookkeeping
// the teacher's utils.HTTPDownloader applied to video downloads.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
)

// Client is the opaque blob-storage collaborator: fetch(key) -> bytes.
// NotFound must be surfaced as errs.NotFound; any network/server failure as
// errs.Transient so Fetcher knows which ones to retry (§4.1).
type Client interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Fetcher retrieves blobs into a job's scratch directory, retrying
// Transient failures with exponential backoff capped at 3 attempts (§4.1).
type Fetcher struct {
	client     Client
	scratchDir string
	maxRetries int
	baseDelay  time.Duration
}

// NewFetcher builds a Fetcher rooted at scratchDir (created on demand).
func NewFetcher(client Client, scratchDir string) *Fetcher {
	return &Fetcher{
		client:     client,
		scratchDir: scratchDir,
		maxRetries: 2,
		baseDelay:  500 * time.Millisecond,
	}
}

// Key builds the blob layout key for a user's audio (§6, "Blob layout").
func Key(userID, audioID string) string {
	return fmt.Sprintf("users/%s/audios/%s", userID, audioID)
}

// Fetch retrieves (user_id, audio_id) to a file under the job's scratch
// directory and returns its local path. NotFound is never retried;
// Transient is retried up to maxRetries times with base*2^n backoff (§7).
func (f *Fetcher) Fetch(ctx context.Context, jobID, userID, audioID string) (string, error) {
	key := Key(userID, audioID)

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(f.baseDelay * (1 << uint(attempt-1))):
			}
		}

		data, err := f.client.Fetch(ctx, key)
		if err == nil {
			return f.writeScratchFile(jobID, audioID, data)
		}

		lastErr = err
		if errs.KindOf(err) == errs.NotFound {
			return "", err
		}
		if !errs.IsRetryable(err) {
			return "", err
		}
	}

	return "", errs.New("blob.Fetch", errs.Transient,
		fmt.Errorf("exhausted %d attempts fetching %s: %w", f.maxRetries+1, key, lastErr))
}

func (f *Fetcher) writeScratchFile(jobID, audioID string, data []byte) (string, error) {
	dir := filepath.Join(f.scratchDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.New("blob.writeScratchFile", errs.Fatal, fmt.Errorf("creating scratch dir: %w", err))
	}

	path := filepath.Join(dir, fmt.Sprintf("source-%s.bin", audioID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errs.New("blob.writeScratchFile", errs.Fatal, fmt.Errorf("writing scratch file: %w", err))
	}

	return path, nil
}
