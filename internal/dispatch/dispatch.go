// Package dispatch implements C7: routing a (possibly chunked) recording
// through one or more providers.Provider instances. Grounded on the
// teacher's extractor.AudioExtractor (ExtractAndTranscribe's size-threshold
// chunking and its goroutine-per-chunk pool writing into an index-ordered
// results slice) and extractor.frame_extractor's analyzeFramesParallel
// semaphore pattern, generalized from a byte-size threshold to the
// duration-based one SPEC_FULL.md's chunker uses.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
	"github.com/meridianvoice/transcribe-worker/internal/providers"
)

// BatchSize bounds how many chunks are in flight to any one provider at a
// time (§4.7).
const BatchSize = 5

// Context carries the signals the "auto" provider-choice heuristic keys on
// (§4.7, "Provider choice heuristic"): the recording's total duration, an
// estimated noise level in [0,1] (from audioquality.NoiseLevel), and the
// number of global speakers found by unify.
type Context struct {
	DurationSec  float64
	NoiseLevel   float64
	SpeakerCount int
}

// Dispatcher routes transcription work to a pool of registered providers,
// behind a process-wide rate limiter that protects every provider's API
// quota regardless of how many jobs are dispatching concurrently (§5,
// "per-process semaphore").
type Dispatcher struct {
	byName  map[models.SpeechProvider]providers.Provider
	order   []models.SpeechProvider // fallback order for "auto" and retries
	limiter *rate.Limiter
}

// New registers providers in priority order; after the preferred provider
// (or, for models.ProviderAuto, the picked one) fails, the others are tried
// in registration order.
// limiter bounds the total rate of outbound provider calls across every
// concurrent job this process is running.
func New(limiter *rate.Limiter, provs ...providers.Provider) *Dispatcher {
	d := &Dispatcher{byName: make(map[models.SpeechProvider]providers.Provider, len(provs)), limiter: limiter}
	for _, p := range provs {
		d.byName[p.Name()] = p
		d.order = append(d.order, p.Name())
	}
	return d
}

// ChunkResult pairs a chunk's transcription with its source descriptor, or
// an error when every provider failed for that chunk.
type ChunkResult struct {
	Chunk  models.ChunkDescriptor
	Result models.ProviderResult
	Err    error
}

// TranscribeWhole transcribes a single (unchunked) audio file, trying
// preferred first and falling back through the registered provider order on
// failure (§4.7, "transcribe_whole"). pctx feeds the "auto" provider-choice
// heuristic; it is ignored when preferred names a concrete provider.
func (d *Dispatcher) TranscribeWhole(ctx context.Context, path string, preferred models.SpeechProvider, language string, pctx Context) (models.ProviderResult, error) {
	candidates := d.candidateOrder(preferred, pctx)
	if len(candidates) == 0 {
		return models.ProviderResult{}, errs.New("dispatch.TranscribeWhole", errs.InvalidInput, fmt.Errorf("no providers registered"))
	}

	var lastErr error
	for _, name := range candidates {
		p, ok := d.byName[name]
		if !ok {
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return models.ProviderResult{}, errs.New("dispatch.TranscribeWhole", errs.Transient, fmt.Errorf("waiting for rate limiter: %w", err))
		}
		result, err := p.Transcribe(ctx, path, language)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errs.KindOf(err) == errs.InvalidInput {
			break // bad input won't fix itself by switching providers
		}
	}

	return models.ProviderResult{}, errs.New("dispatch.TranscribeWhole", errs.Transient,
		fmt.Errorf("all providers failed, last error: %w", lastErr))
}

// TranscribeSegments transcribes every chunk concurrently, bounded by
// BatchSize in-flight calls, preserving chunk order in the returned slice
// regardless of completion order (§4.7, "transcribe_segments"). A chunk
// whose every provider attempt fails gets a sentinel ChunkResult carrying
// Err instead of aborting the whole batch — later stages (merge) decide
// whether a partial transcript is still usable.
func (d *Dispatcher) TranscribeSegments(ctx context.Context, chunks []models.ChunkDescriptor, preferred models.SpeechProvider, language string, pctx Context) []ChunkResult {
	results := make([]ChunkResult, len(chunks))
	sem := make(chan struct{}, BatchSize)
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		wg.Add(1)
		go func(index int, c models.ChunkDescriptor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := d.TranscribeWhole(ctx, c.Path, preferred, language, pctx)
			results[index] = ChunkResult{Chunk: c, Result: result, Err: err}
		}(i, chunk)
	}

	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Chunk.Index < results[j].Chunk.Index })
	return results
}

// candidateOrder builds the provider try-order for one call. An explicit,
// non-auto preference is tried first, with every other registered provider
// following in registration order as fallbacks. models.ProviderAuto resolves through the documented decision table (§4.7,
// "Provider choice heuristic"), evaluated top to bottom, first match wins:
//
//	duration>60min & noise>0.7  -> assemblyai
//	duration>60min              -> deepgram
//	speaker_count>3             -> assemblyai
//	noise>0.6                   -> openai
//	otherwise                   -> deepgram
//
// The picked provider is tried first; any other registered providers follow
// in registration order as fallbacks.
func (d *Dispatcher) candidateOrder(preferred models.SpeechProvider, pctx Context) []models.SpeechProvider {
	if preferred != models.ProviderAuto && preferred != "" {
		return d.prioritized(preferred)
	}
	return d.prioritized(pickProvider(pctx))
}

func pickProvider(pctx Context) models.SpeechProvider {
	const hourSec = 3600
	switch {
	case pctx.DurationSec > hourSec && pctx.NoiseLevel > 0.7:
		return models.ProviderAssemblyAI
	case pctx.DurationSec > hourSec:
		return models.ProviderDeepgram
	case pctx.SpeakerCount > 3:
		return models.ProviderAssemblyAI
	case pctx.NoiseLevel > 0.6:
		return models.ProviderOpenAI
	default:
		return models.ProviderDeepgram
	}
}

// prioritized puts first ahead of the registered order (if registered),
// followed by every other registered provider as a fallback.
func (d *Dispatcher) prioritized(first models.SpeechProvider) []models.SpeechProvider {
	ordered := make([]models.SpeechProvider, 0, len(d.order))
	if _, ok := d.byName[first]; ok {
		ordered = append(ordered, first)
	}
	for _, name := range d.order {
		if name != first {
			ordered = append(ordered, name)
		}
	}
	return ordered
}
