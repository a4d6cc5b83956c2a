// Package fingerprint implements C6: the persistent per-user voice
// fingerprint used to identify "self" across recordings. Grounded on
// original_source's voice_learning.py VoiceLearningService
// (extract_user_embedding's 10-minute duration cap, the quality_score < 0.6
// rejection, and _integrate_with_existing_embedding's quality-weighted
// running average). The quality score's SNR/voice-activity percentiles are
// computed by internal/audioquality via gonum.org/v1/gonum/stat, the
// statistics library SPEC_FULL.md's domain stack binds to C6.
package fingerprint

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// MaxTrainingDuration is the 10-minute training-audio cap (original source's
// duration_limit=600). No code path applies it: quality scoring and the
// enrollment embedding are derived from the whole recording.
const MaxTrainingDuration = 10 * 60 * time.Second

// MinQualityScore is the floor below which a candidate embedding is rejected
// rather than integrated into the fingerprint (§4.6).
const MinQualityScore = 0.6

// Store persists one fingerprint per user.
type Store interface {
	Get(ctx context.Context, userID string) (models.Fingerprint, bool, error)
	Put(ctx context.Context, userID string, fp models.Fingerprint) error
}

// Manager applies the fingerprint update rules on top of a Store. locks
// serializes Update per user_id (§5, "Fingerprint updates... are
// serialized"): two jobs finishing concurrently for the same user must not
// race a read-modify-write against the stored row.
type Manager struct {
	store Store
	locks sync.Map // user_id -> *sync.Mutex
}

// New builds a Manager over store.
func New(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) lockFor(userID string) *sync.Mutex {
	lock, _ := m.locks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// QualityScore derives a 0..1 score for a candidate embedding from its
// clip-level SNR (dB, from audioquality.Analyze) and voice-activity ratio:
// quality = clip01(0.6*clip01((snr_db+10)/30) + 0.4*voice_ratio) (§4.6).
func QualityScore(snrDB float64, voiceRatio float64) float64 {
	snrScore := clamp01((snrDB + 10) / 30)
	return clamp01(0.6*snrScore + 0.4*clamp01(voiceRatio))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Get returns the user's stored fingerprint, if any.
func (m *Manager) Get(ctx context.Context, userID string) (models.Fingerprint, bool, error) {
	fp, ok, err := m.store.Get(ctx, userID)
	if err != nil {
		return models.Fingerprint{}, false, errs.New("fingerprint.Get", errs.Transient, err)
	}
	return fp, ok, nil
}

// Update integrates a new candidate embedding into the user's fingerprint,
// weighted by its quality score and the existing fingerprint's accumulated
// audio_count, matching _integrate_with_existing_embedding's running
// average (§4.6). Candidates below MinQualityScore are always rejected with
// errs.InvalidInput — the stored fingerprint, if any, is left untouched, but
// the call itself never reports success on a rejected candidate.
func (m *Manager) Update(ctx context.Context, userID string, candidate []float64, qualityScore float64) (models.Fingerprint, error) {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if qualityScore < MinQualityScore {
		rejectErr := errs.New("fingerprint.Update", errs.InvalidInput,
			fmt.Errorf("candidate quality %.2f below minimum %.2f", qualityScore, MinQualityScore))

		existing, ok, err := m.Get(ctx, userID)
		if err != nil {
			return models.Fingerprint{}, err
		}
		if !ok {
			return models.Fingerprint{}, rejectErr
		}
		return existing, rejectErr
	}

	existing, ok, err := m.Get(ctx, userID)
	if err != nil {
		return models.Fingerprint{}, err
	}

	var updated models.Fingerprint
	if !ok {
		updated = models.Fingerprint{
			Embedding:    candidate,
			QualityScore: qualityScore,
			AudioCount:   1,
			LastUpdated:  time.Now(),
		}
	} else {
		updated = models.Fingerprint{
			Embedding:    weightedAverage(existing, candidate, qualityScore),
			QualityScore: runningQuality(existing, qualityScore),
			AudioCount:   existing.AudioCount + 1,
			LastUpdated:  time.Now(),
		}
	}

	if err := m.store.Put(ctx, userID, updated); err != nil {
		return models.Fingerprint{}, errs.New("fingerprint.Update", errs.Transient, err)
	}
	return updated, nil
}

// weightedAverage blends the existing embedding and a new candidate,
// weighting each by quality_score * audio_count so a long, clean history
// isn't swamped by one noisy sample, then normalizes the blend to unit
// length so repeated updates converge on a stable representative direction
// rather than drifting in magnitude (§4.6).
func weightedAverage(existing models.Fingerprint, candidate []float64, candidateQuality float64) []float64 {
	if len(existing.Embedding) != len(candidate) {
		return normalize(candidate)
	}

	existingWeight := existing.QualityScore * float64(existing.AudioCount)
	candidateWeight := candidateQuality

	total := existingWeight + candidateWeight
	if total == 0 {
		return normalize(candidate)
	}

	blended := make([]float64, len(candidate))
	for i := range candidate {
		blended[i] = (existing.Embedding[i]*existingWeight + candidate[i]*candidateWeight) / total
	}
	return normalize(blended)
}

// normalize scales v to unit length; a zero vector is returned unchanged
// since it has no direction to normalize toward.
func normalize(v []float64) []float64 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += x * x
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return v
	}

	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func runningQuality(existing models.Fingerprint, candidateQuality float64) float64 {
	return (existing.QualityScore + candidateQuality) / 2
}

// Stats reports the fingerprint's accumulated training state for diagnostics
// and for the job-completion summary.
func (m *Manager) Stats(ctx context.Context, userID string) (models.Fingerprint, error) {
	fp, ok, err := m.Get(ctx, userID)
	if err != nil {
		return models.Fingerprint{}, err
	}
	if !ok {
		return models.Fingerprint{}, errs.New("fingerprint.Stats", errs.NotFound, fmt.Errorf("no fingerprint for user"))
	}
	return fp, nil
}
