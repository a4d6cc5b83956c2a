package dispatch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

func unlimited() *rate.Limiter {
	return rate.NewLimiter(rate.Inf, 0)
}

type fakeProvider struct {
	name   models.SpeechProvider
	fail   bool
	failOp errs.Kind
}

func (f fakeProvider) Name() models.SpeechProvider { return f.name }

func (f fakeProvider) Transcribe(_ context.Context, path string, _ string) (models.ProviderResult, error) {
	if f.fail {
		return models.ProviderResult{}, errs.New("fake", f.failOp, fmt.Errorf("provider %s failed", f.name))
	}
	return models.ProviderResult{Text: "ok from " + string(f.name), Provider: f.name, Confidence: 0.9}, nil
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTranscribeWholeFallsBackOnFailure(t *testing.T) {
	d := New(unlimited(),
		fakeProvider{name: models.ProviderOpenAI, fail: true, failOp: errs.Transient},
		fakeProvider{name: models.ProviderAzure, fail: false},
	)

	result, err := d.TranscribeWhole(context.Background(), "in.wav", models.ProviderAuto, "en", Context{})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAzure, result.Provider)
}

func TestTranscribeWholeStopsOnInvalidInput(t *testing.T) {
	d := New(unlimited(),
		fakeProvider{name: models.ProviderOpenAI, fail: true, failOp: errs.InvalidInput},
		fakeProvider{name: models.ProviderAzure, fail: false},
	)

	_, err := d.TranscribeWhole(context.Background(), "in.wav", models.ProviderAuto, "en", Context{})
	assert.Error(t, err)
}

func TestTranscribeSegmentsPreservesOrder(t *testing.T) {
	d := New(unlimited(), fakeProvider{name: models.ProviderOpenAI})

	chunks := make([]models.ChunkDescriptor, 20)
	for i := range chunks {
		chunks[i] = models.ChunkDescriptor{Index: i, OffsetSec: float64(i) * 30}
	}

	results := d.TranscribeSegments(context.Background(), chunks, models.ProviderOpenAI, "en", Context{})
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, i, r.Chunk.Index)
		assert.NoError(t, r.Err)
	}
}

func TestTranscribeSegmentsCarriesPerChunkError(t *testing.T) {
	d := New(unlimited(), fakeProvider{name: models.ProviderOpenAI, fail: true, failOp: errs.InvalidInput})

	chunks := []models.ChunkDescriptor{{Index: 0}}
	results := d.TranscribeSegments(context.Background(), chunks, models.ProviderOpenAI, "en", Context{})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestPickProviderFollowsDecisionTable(t *testing.T) {
	cases := []struct {
		name string
		pctx Context
		want models.SpeechProvider
	}{
		{"long noisy recording", Context{DurationSec: 4000, NoiseLevel: 0.8}, models.ProviderAssemblyAI},
		{"long quiet recording", Context{DurationSec: 4000, NoiseLevel: 0.2}, models.ProviderDeepgram},
		{"many speakers", Context{DurationSec: 100, SpeakerCount: 4}, models.ProviderAssemblyAI},
		{"noisy short recording", Context{DurationSec: 100, NoiseLevel: 0.7, SpeakerCount: 1}, models.ProviderOpenAI},
		{"otherwise", Context{DurationSec: 100, NoiseLevel: 0.1, SpeakerCount: 1}, models.ProviderDeepgram},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, pickProvider(tc.pctx))
		})
	}
}

func TestCandidateOrderPutsPickedProviderFirst(t *testing.T) {
	d := New(unlimited(),
		fakeProvider{name: models.ProviderOpenAI},
		fakeProvider{name: models.ProviderAssemblyAI},
		fakeProvider{name: models.ProviderDeepgram},
	)

	candidates := d.candidateOrder(models.ProviderAuto, Context{SpeakerCount: 5})
	require.NotEmpty(t, candidates)
	assert.Equal(t, models.ProviderAssemblyAI, candidates[0])
}

func TestCandidateOrderHonorsExplicitPreference(t *testing.T) {
	d := New(unlimited(), fakeProvider{name: models.ProviderOpenAI}, fakeProvider{name: models.ProviderAzure})
	assert.Equal(t, []models.SpeechProvider{models.ProviderAzure, models.ProviderOpenAI}, d.candidateOrder(models.ProviderAzure, Context{}))
}
