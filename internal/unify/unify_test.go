package unify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

func TestUnifyCollapsesToSingleSpeakerBelowTwoEmbeddings(t *testing.T) {
	segments := []models.SpeakerSegment{
		{StartSec: 0, EndSec: 5, LocalSpeakerLabel: "SPEAKER_00", Confidence: 0.9},
		{StartSec: 5, EndSec: 10, LocalSpeakerLabel: "SPEAKER_01", Confidence: 0.9},
	}

	u := New(0.4)
	speakers, assignment, err := u.Unify(segments, 5)
	require.NoError(t, err)

	assert.Len(t, speakers, 1)
	assert.Equal(t, speakers[0].GlobalID, assignment[0])
	assert.Equal(t, speakers[0].GlobalID, assignment[1])
}

func TestUnifyClustersByEmbeddingSimilarity(t *testing.T) {
	a1 := []float64{1, 0, 0}
	a2 := []float64{0.98, 0.01, 0.01}
	b1 := []float64{0, 1, 0}

	segments := []models.SpeakerSegment{
		{StartSec: 0, EndSec: 5, Confidence: 0.9, Embedding: a1},
		{StartSec: 5, EndSec: 10, Confidence: 0.9, Embedding: b1},
		{StartSec: 10, EndSec: 15, Confidence: 0.9, Embedding: a2},
	}

	u := New(0.2)
	speakers, assignment, err := u.Unify(segments, 5)
	require.NoError(t, err)

	require.Len(t, speakers, 2)
	assert.Equal(t, assignment[0], assignment[2], "near-identical embeddings should cluster together")
	assert.NotEqual(t, assignment[0], assignment[1])
}

func TestUnifyEnforcesMaxSpeakersCapEvenBeyondThreshold(t *testing.T) {
	// Three well-separated embeddings would normally yield 3 singleton
	// clusters under a tight threshold; max_speakers=2 must still force a
	// merge down to the target cluster count.
	segments := []models.SpeakerSegment{
		{StartSec: 0, EndSec: 5, Confidence: 0.9, Embedding: []float64{1, 0, 0}},
		{StartSec: 5, EndSec: 10, Confidence: 0.9, Embedding: []float64{0, 1, 0}},
		{StartSec: 10, EndSec: 15, Confidence: 0.9, Embedding: []float64{0, 0, 1}},
	}

	u := New(0.01)
	speakers, _, err := u.Unify(segments, 2)
	require.NoError(t, err)
	assert.Len(t, speakers, 2)
}

func TestUnifyUnboundedMaxSpeakersUsesThresholdOnly(t *testing.T) {
	segments := []models.SpeakerSegment{
		{StartSec: 0, EndSec: 5, Confidence: 0.9, Embedding: []float64{1, 0, 0}},
		{StartSec: 5, EndSec: 10, Confidence: 0.9, Embedding: []float64{0, 1, 0}},
		{StartSec: 10, EndSec: 15, Confidence: 0.9, Embedding: []float64{0, 0, 1}},
	}

	u := New(0.01)
	speakers, _, err := u.Unify(segments, 0)
	require.NoError(t, err)
	assert.Len(t, speakers, 3)
}

func TestMatchSelfRespectsThreshold(t *testing.T) {
	speakers := []models.GlobalSpeaker{
		{GlobalID: "speaker_00", RepresentativeEmbedding: []float64{1, 0, 0}},
		{GlobalID: "speaker_01", RepresentativeEmbedding: []float64{0, 1, 0}},
	}

	id, ok := MatchSelf(speakers, []float64{1, 0, 0}, 0.8)
	require.True(t, ok)
	assert.Equal(t, "speaker_00", id)

	_, ok = MatchSelf(speakers, []float64{0.5, 0.5, 0.5}, 0.95)
	assert.False(t, ok)
}

func TestMatchSelfEmptyFingerprint(t *testing.T) {
	speakers := []models.GlobalSpeaker{{GlobalID: "speaker_00", RepresentativeEmbedding: []float64{1, 0, 0}}}
	_, ok := MatchSelf(speakers, nil, 0.5)
	assert.False(t, ok)
}
