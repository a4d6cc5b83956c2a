// Package providers implements C8: the five pluggable speech-to-text
// backends behind one common interface. Grounded on
// other_examples/57905a6b_alantangok-Scriberr (OpenAIAdapter embedding a
// BaseAdapter with declarative ModelCapabilities, multipart-upload
// transcription) and on the teacher's clients.MageAgentClient for the
// shared HTTP request/retry shape reused across adapters.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// Provider is the common shape every speech-to-text backend implements
// (§4.8). Transcribe runs on a whole file; the dispatcher (C7) also calls it
// per-chunk, since a chunk is just a shorter audio file.
type Provider interface {
	Name() models.SpeechProvider
	Transcribe(ctx context.Context, path string, language string) (models.ProviderResult, error)
}

// baseHTTPProvider factors out the multipart upload + retry shape every
// hosted adapter below shares, mirroring BaseAdapter in the Scriberr
// reference and MageAgentClient's makeRequest in the teacher.
type baseHTTPProvider struct {
	name       models.SpeechProvider
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
}

func newBase(name models.SpeechProvider, endpoint, apiKey, model string) baseHTTPProvider {
	return baseHTTPProvider{
		name:       name,
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 3 * time.Minute},
		maxRetries: 2,
		baseDelay:  time.Second,
	}
}

func (b baseHTTPProvider) Name() models.SpeechProvider { return b.name }

// uploadAndDecode posts the audio file as multipart/form-data and decodes a
// JSON response into out, retrying transient failures with the same
// attempt^2 backoff as MageAgentClient.
func (b baseHTTPProvider) uploadAndDecode(ctx context.Context, path, fieldName string, extraFields map[string]string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.baseDelay * time.Duration(attempt*attempt)):
			}
		}

		err := b.attempt(ctx, path, fieldName, extraFields, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !errs.IsRetryable(err) {
			return err
		}
	}
	return errs.New("providers.uploadAndDecode", errs.Transient,
		fmt.Errorf("%s: exhausted %d attempts: %w", b.name, b.maxRetries+1, lastErr))
}

func (b baseHTTPProvider) attempt(ctx context.Context, path, fieldName string, extraFields map[string]string, out interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return errs.New("providers.attempt", errs.NotFound, fmt.Errorf("opening audio file: %w", err))
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(fieldName, filepath.Base(path))
	if err != nil {
		return errs.New("providers.attempt", errs.Fatal, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return errs.New("providers.attempt", errs.Fatal, fmt.Errorf("copying audio into request: %w", err))
	}
	for k, v := range extraFields {
		if err := writer.WriteField(k, v); err != nil {
			return errs.New("providers.attempt", errs.Fatal, err)
		}
	}
	if err := writer.Close(); err != nil {
		return errs.New("providers.attempt", errs.Fatal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, &body)
	if err != nil {
		return errs.New("providers.attempt", errs.Fatal, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errs.New("providers.attempt", errs.Transient, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errs.New("providers.attempt", errs.Transient, fmt.Errorf("%s returned %d", b.name, resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return errs.New("providers.attempt", errs.Fatal, fmt.Errorf("%s returned %d", b.name, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.New("providers.attempt", errs.Fatal, fmt.Errorf("decoding %s response: %w", b.name, err))
	}
	return nil
}

// -- OpenAI (Whisper-compatible) --------------------------------------------

type OpenAIProvider struct{ baseHTTPProvider }

func NewOpenAI(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIProvider{newBase(models.ProviderOpenAI, "https://api.openai.com/v1/audio/transcriptions", apiKey, model)}
}

type openAIResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start            float64 `json:"start"`
		End              float64 `json:"end"`
		Text             string  `json:"text"`
		AvgLogprob       float64 `json:"avg_logprob"`
		NoSpeechProb     float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, path string, language string) (models.ProviderResult, error) {
	start := time.Now()
	var resp openAIResponse
	fields := map[string]string{"model": p.model, "response_format": "verbose_json"}
	if language != "" {
		fields["language"] = language
	}
	if err := p.uploadAndDecode(ctx, path, "file", fields, &resp); err != nil {
		return models.ProviderResult{}, err
	}

	segments := make([]models.ProviderSegment, 0, len(resp.Segments))
	var confSum float64
	for _, s := range resp.Segments {
		conf := confidenceFromLogprob(s.AvgLogprob)
		confSum += conf
		segments = append(segments, models.ProviderSegment{Start: s.Start, End: s.End, Text: s.Text, Confidence: conf})
	}

	return models.ProviderResult{
		Text:              resp.Text,
		Confidence:        averageOr(confSum, len(segments), 0.8),
		Segments:          segments,
		Language:          orDefault(resp.Language, language),
		ProcessingTimeSec: time.Since(start).Seconds(),
		Provider:          models.ProviderOpenAI,
		Model:             p.model,
	}, nil
}

func confidenceFromLogprob(avgLogprob float64) float64 {
	// Whisper's avg_logprob runs roughly [-1, 0]; map to a 0..1 confidence.
	conf := 1 + avgLogprob
	return clamp01(conf)
}

// -- Azure Cognitive Services Speech -----------------------------------------

type AzureProvider struct{ baseHTTPProvider }

func NewAzure(apiKey, region, model string) *AzureProvider {
	endpoint := fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1", region)
	return &AzureProvider{newBase(models.ProviderAzure, endpoint, apiKey, model)}
}

type azureResponse struct {
	DisplayText string  `json:"DisplayText"`
	Confidence  float64 `json:"Confidence"`
}

func (p *AzureProvider) Transcribe(ctx context.Context, path string, language string) (models.ProviderResult, error) {
	start := time.Now()
	var resp azureResponse
	if err := p.uploadAndDecode(ctx, path, "audio", map[string]string{"language": language}, &resp); err != nil {
		return models.ProviderResult{}, err
	}
	return models.ProviderResult{
		Text:              resp.DisplayText,
		Confidence:        orDefaultFloat(resp.Confidence, 0.8),
		Language:          language,
		ProcessingTimeSec: time.Since(start).Seconds(),
		Provider:          models.ProviderAzure,
		Model:             p.model,
	}, nil
}

// -- Google Cloud Speech-to-Text ---------------------------------------------

type GoogleProvider struct{ baseHTTPProvider }

func NewGoogle(apiKey, model string) *GoogleProvider {
	return &GoogleProvider{newBase(models.ProviderGoogle, "https://speech.googleapis.com/v1/speech:recognize", apiKey, model)}
}

type googleResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

func (p *GoogleProvider) Transcribe(ctx context.Context, path string, language string) (models.ProviderResult, error) {
	start := time.Now()
	var resp googleResponse
	if err := p.uploadAndDecode(ctx, path, "audio", map[string]string{"languageCode": language}, &resp); err != nil {
		return models.ProviderResult{}, err
	}

	var text string
	var confSum float64
	var n int
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		text += r.Alternatives[0].Transcript
		confSum += r.Alternatives[0].Confidence
		n++
	}

	return models.ProviderResult{
		Text:              text,
		Confidence:        averageOr(confSum, n, 0.8),
		Language:          language,
		ProcessingTimeSec: time.Since(start).Seconds(),
		Provider:          models.ProviderGoogle,
		Model:             p.model,
	}, nil
}

// -- AssemblyAI ---------------------------------------------------------------

type AssemblyAIProvider struct{ baseHTTPProvider }

func NewAssemblyAI(apiKey string) *AssemblyAIProvider {
	return &AssemblyAIProvider{newBase(models.ProviderAssemblyAI, "https://api.assemblyai.com/v2/transcript", apiKey, "")}
}

type assemblyAIResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

func (p *AssemblyAIProvider) Transcribe(ctx context.Context, path string, language string) (models.ProviderResult, error) {
	start := time.Now()
	var resp assemblyAIResponse
	if err := p.uploadAndDecode(ctx, path, "audio", map[string]string{"language_code": language}, &resp); err != nil {
		return models.ProviderResult{}, err
	}

	words := make([]models.WordTimestamp, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, models.WordTimestamp{Word: w.Text, Start: w.Start / 1000, End: w.End / 1000, Confidence: w.Confidence})
	}

	return models.ProviderResult{
		Text:              resp.Text,
		Confidence:        orDefaultFloat(resp.Confidence, 0.8),
		Language:          language,
		ProcessingTimeSec: time.Since(start).Seconds(),
		Provider:          models.ProviderAssemblyAI,
		WordTimestamps:    words,
	}, nil
}

// -- Deepgram -----------------------------------------------------------------

type DeepgramProvider struct{ baseHTTPProvider }

func NewDeepgram(apiKey, model string) *DeepgramProvider {
	if model == "" {
		model = "nova-2"
	}
	return &DeepgramProvider{newBase(models.ProviderDeepgram, "https://api.deepgram.com/v1/listen", apiKey, model)}
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (p *DeepgramProvider) Transcribe(ctx context.Context, path string, language string) (models.ProviderResult, error) {
	start := time.Now()
	var resp deepgramResponse
	if err := p.uploadAndDecode(ctx, path, "audio", map[string]string{"model": p.model, "language": language}, &resp); err != nil {
		return models.ProviderResult{}, err
	}

	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return models.ProviderResult{}, errs.New("providers.Deepgram.Transcribe", errs.Fatal, fmt.Errorf("empty response"))
	}
	alt := resp.Results.Channels[0].Alternatives[0]

	return models.ProviderResult{
		Text:              alt.Transcript,
		Confidence:        orDefaultFloat(alt.Confidence, 0.8),
		Language:          language,
		ProcessingTimeSec: time.Since(start).Seconds(),
		Provider:          models.ProviderDeepgram,
		Model:             p.model,
	}, nil
}

// -- shared helpers -----------------------------------------------------------

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func averageOr(sum float64, n int, fallback float64) float64 {
	if n == 0 {
		return fallback
	}
	return sum / float64(n)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDefaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
