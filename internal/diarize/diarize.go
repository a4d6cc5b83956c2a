// Package diarize implements C4: turning a preconditioned audio file into a
// sequence of local speaker segments with embeddings. Grounded on the
// teacher's clients.MageAgentClient (makeRequest/doRequest/isRetryable —
// exponential backoff over an HTTP call to an external model service) and on
// original_source's speaker_separation.py, whose SpeakerSeparationService
// wraps a pyannote.audio.Pipeline and falls back to _mock_speaker_analysis
// when the model endpoint is unavailable.
package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// Diarizer turns one audio file into local speaker segments (§4.4).
type Diarizer interface {
	Diarize(ctx context.Context, path string, maxSpeakers int) ([]models.SpeakerSegment, error)
}

// HTTPDiarizer calls an external pyannote-backed diarization service. When
// endpoint is empty, Diarize falls back to a single-speaker mock segment
// spanning the whole file instead of failing the job outright, matching
// original_source's model-unavailable fallback path.
type HTTPDiarizer struct {
	endpoint   string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	durationFn func(path string) (float64, error)
}

// New builds an HTTPDiarizer. durationFn lets callers plug in the
// preprocess.Adapter.Duration method without diarize importing preprocess.
func New(endpoint, token string, durationFn func(path string) (float64, error)) *HTTPDiarizer {
	return &HTTPDiarizer{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		maxRetries: 3,
		baseDelay:  time.Second,
		durationFn: durationFn,
	}
}

type diarizeRequest struct {
	MaxSpeakers int `json:"max_speakers"`
}

type diarizeResponse struct {
	Segments []struct {
		Start      float64   `json:"start"`
		End        float64   `json:"end"`
		Speaker    string    `json:"speaker"`
		Confidence float64   `json:"confidence"`
		Embedding  []float64 `json:"embedding"`
	} `json:"segments"`
}

// Diarize submits path to the diarization service and returns local speaker
// segments. A configuration-free Diarizer (empty endpoint) always takes the
// mock path; this is the supported "no model available" mode, not an error.
func (d *HTTPDiarizer) Diarize(ctx context.Context, path string, maxSpeakers int) ([]models.SpeakerSegment, error) {
	if d.endpoint == "" {
		return d.mock(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, errs.New("diarize.Diarize", errs.NotFound, fmt.Errorf("opening audio file: %w", err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errs.New("diarize.Diarize", errs.Fatal, fmt.Errorf("reading audio file: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.baseDelay * time.Duration(attempt*attempt)):
			}
		}

		segments, err := d.doRequest(ctx, data, maxSpeakers)
		if err == nil {
			return segments, nil
		}
		lastErr = err
		if !d.isRetryable(err) {
			return nil, err
		}
	}

	return nil, errs.New("diarize.Diarize", errs.Transient,
		fmt.Errorf("exhausted %d attempts calling diarization service: %w", d.maxRetries+1, lastErr))
}

func (d *HTTPDiarizer) doRequest(ctx context.Context, audio []byte, maxSpeakers int) ([]models.SpeakerSegment, error) {
	meta, err := json.Marshal(diarizeRequest{MaxSpeakers: maxSpeakers})
	if err != nil {
		return nil, errs.New("diarize.doRequest", errs.Fatal, err)
	}

	var body bytes.Buffer
	body.Write(meta)
	body.WriteByte('\n')
	body.Write(audio)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, &body)
	if err != nil {
		return nil, errs.New("diarize.doRequest", errs.Fatal, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, errs.New("diarize.doRequest", errs.Transient, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errs.New("diarize.doRequest", errs.Transient, fmt.Errorf("diarization service returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New("diarize.doRequest", errs.Fatal, fmt.Errorf("diarization service returned %d", resp.StatusCode))
	}

	var parsed diarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errs.New("diarize.doRequest", errs.Fatal, fmt.Errorf("decoding response: %w", err))
	}

	segments := make([]models.SpeakerSegment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segments = append(segments, models.SpeakerSegment{
			StartSec:          s.Start,
			EndSec:            s.End,
			LocalSpeakerLabel: s.Speaker,
			Confidence:        s.Confidence,
			Embedding:         s.Embedding,
		})
	}
	return segments, nil
}

func (d *HTTPDiarizer) isRetryable(err error) bool {
	if errs.IsRetryable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection refused")
}

// mock produces a single speaker segment spanning the entire file, used when
// no diarization model endpoint is configured (§4.4, degraded path).
func (d *HTTPDiarizer) mock(path string) ([]models.SpeakerSegment, error) {
	duration, err := d.durationFn(path)
	if err != nil {
		return nil, err
	}
	return []models.SpeakerSegment{
		{
			StartSec:          0,
			EndSec:            duration,
			LocalSpeakerLabel: "SPEAKER_00",
			Confidence:        0.5,
			Embedding:         nil,
		},
	}, nil
}
