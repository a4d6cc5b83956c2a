package fingerprint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

type memStore struct {
	data map[string]models.Fingerprint
}

func newMemStore() *memStore { return &memStore{data: make(map[string]models.Fingerprint)} }

func (m *memStore) Get(_ context.Context, userID string) (models.Fingerprint, bool, error) {
	fp, ok := m.data[userID]
	return fp, ok, nil
}

func (m *memStore) Put(_ context.Context, userID string, fp models.Fingerprint) error {
	m.data[userID] = fp
	return nil
}

func TestUpdateRejectsLowQualityWithNoExisting(t *testing.T) {
	m := New(newMemStore())
	_, err := m.Update(context.Background(), "u1", []float64{1, 0}, 0.1)
	assert.Error(t, err)
}

func TestUpdateRejectsLowQualityEvenWithExisting(t *testing.T) {
	m := New(newMemStore())
	ctx := context.Background()

	fp1, err := m.Update(ctx, "u1", []float64{1, 0}, 0.9)
	require.NoError(t, err)

	fp2, err := m.Update(ctx, "u1", []float64{0, 1}, 0.1)
	assert.Error(t, err, "a rejected candidate must surface an error even when a fingerprint already exists")
	assert.Equal(t, fp1.Embedding, fp2.Embedding, "the rejected call must leave the stored fingerprint unchanged")
}

func TestUpdateFirstEnrollment(t *testing.T) {
	m := New(newMemStore())
	fp, err := m.Update(context.Background(), "u1", []float64{1, 0}, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 1, fp.AudioCount)
	assert.Equal(t, 0.9, fp.QualityScore)
}

func TestUpdateWeightedAverageFavorsHigherQualityHistory(t *testing.T) {
	store := newMemStore()
	m := New(store)
	ctx := context.Background()

	fp1, err := m.Update(ctx, "u1", []float64{1, 0}, 0.9)
	require.NoError(t, err)
	require.Equal(t, 1, fp1.AudioCount)

	fp2, err := m.Update(ctx, "u1", []float64{0, 1}, 0.65)
	require.NoError(t, err)
	assert.Equal(t, 2, fp2.AudioCount)

	// The established high-quality history should dominate the blend.
	assert.Greater(t, fp2.Embedding[0], fp2.Embedding[1])
}

func TestUpdateBlendIsUnitNorm(t *testing.T) {
	store := newMemStore()
	m := New(store)
	ctx := context.Background()

	_, err := m.Update(ctx, "u1", []float64{3, 4}, 0.9)
	require.NoError(t, err)

	fp2, err := m.Update(ctx, "u1", []float64{0, 5}, 0.8)
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range fp2.Embedding {
		sumSquares += v * v
	}
	assert.InDelta(t, 1.0, sumSquares, 1e-9)
}

func TestQualityScoreIsClamped(t *testing.T) {
	score := QualityScore(1000, 2.0)
	assert.LessOrEqual(t, score, 1.0)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestQualityScoreLowSNRClampsToZeroFloor(t *testing.T) {
	assert.Equal(t, 0.0, QualityScore(-1000, 0))
}

func TestQualityScoreFormula(t *testing.T) {
	// snr_db=20 -> snrScore = clip01((20+10)/30) = 1.0; voice_ratio=0.5
	// quality = 0.6*1.0 + 0.4*0.5 = 0.8
	assert.InDelta(t, 0.8, QualityScore(20, 0.5), 1e-9)
}

func TestStatsNotFound(t *testing.T) {
	m := New(newMemStore())
	_, err := m.Stats(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestMaxTrainingDurationIsTenMinutes(t *testing.T) {
	assert.Equal(t, 10*time.Minute, MaxTrainingDuration)
}

func TestUpdateSerializesConcurrentCallsForSameUser(t *testing.T) {
	store := newMemStore()
	m := New(store)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, "u1", []float64{1, 0}, 0.9)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	fp, ok, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, n, fp.AudioCount, "every concurrent update for the same user must be applied, none lost to a race")
}
