package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

func chunkTranscription(offset float64, segs []models.ProviderSegment, speaker string) ChunkTranscription {
	return ChunkTranscription{
		Chunk:        models.ChunkDescriptor{OffsetSec: offset},
		Result:       models.ProviderResult{Segments: segs, Provider: models.ProviderOpenAI},
		SpeakerLabel: speaker,
	}
}

func TestMergeTimeShiftsSegments(t *testing.T) {
	chunks := []ChunkTranscription{
		chunkTranscription(0, []models.ProviderSegment{{Start: 0, End: 5, Text: "hello", Confidence: 0.9}}, "speaker_00"),
		chunkTranscription(1500, []models.ProviderSegment{{Start: 0, End: 5, Text: "world", Confidence: 0.9}}, "speaker_00"),
	}

	result := Merge(chunks, 0.8, 0.5)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, 0.0, result.Segments[0].StartSec)
	assert.Equal(t, 1500.0, result.Segments[1].StartSec)
}

func TestMergeDedupesOverlapKeepingHigherConfidence(t *testing.T) {
	chunks := []ChunkTranscription{
		chunkTranscription(0, []models.ProviderSegment{{Start: 0, End: 10, Text: "low conf", Confidence: 0.5}}, "speaker_00"),
		// Second chunk's segment, once shifted, overlaps the first almost entirely with higher confidence.
		chunkTranscription(1, []models.ProviderSegment{{Start: 0, End: 9, Text: "high conf", Confidence: 0.95}}, "speaker_00"),
	}

	result := Merge(chunks, 0.5, 0.5)
	require.Len(t, result.Segments, 1)
	assert.Equal(t, "high conf", result.Segments[0].Text)
}

func TestMergeKeepsNonOverlappingSegments(t *testing.T) {
	chunks := []ChunkTranscription{
		chunkTranscription(0, []models.ProviderSegment{{Start: 0, End: 5, Text: "a", Confidence: 0.9}}, "speaker_00"),
		chunkTranscription(0, []models.ProviderSegment{{Start: 10, End: 15, Text: "b", Confidence: 0.9}}, "speaker_01"),
	}

	result := Merge(chunks, 0.8, 0.5)
	assert.Len(t, result.Segments, 2)
	assert.Len(t, result.SpeakerStatistics, 2)
}

func TestMergeStampsEachSegmentWithItsOwnSpeakerNotChunkDominant(t *testing.T) {
	chunks := []ChunkTranscription{
		{
			Chunk: models.ChunkDescriptor{OffsetSec: 0},
			Result: models.ProviderResult{
				Provider: models.ProviderOpenAI,
				Segments: []models.ProviderSegment{
					{Start: 0, End: 5, Text: "hi", Confidence: 0.9},
					{Start: 5, End: 10, Text: "there", Confidence: 0.9},
				},
			},
			SpeakerLabel:    "speaker_00", // a stale whole-chunk dominant that must NOT win for segment 1
			SegmentSpeakers: []string{"speaker_00", "speaker_01"},
		},
	}

	result := Merge(chunks, 0.8, 0.5)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, "speaker_00", result.Segments[0].GlobalSpeakerID)
	assert.Equal(t, "speaker_01", result.Segments[1].GlobalSpeakerID)
}

func TestQualityStatisticsDiarizationConsistency(t *testing.T) {
	chunks := []ChunkTranscription{
		chunkTranscription(0, []models.ProviderSegment{{Start: 0, End: 5, Text: "a", Confidence: 0.9}}, "speaker_00"),
		chunkTranscription(0, []models.ProviderSegment{{Start: 10, End: 15, Text: "b", Confidence: 0.9}}, "speaker_00"),
		chunkTranscription(0, []models.ProviderSegment{{Start: 20, End: 25, Text: "c", Confidence: 0.2}}, "speaker_01"),
	}

	result := Merge(chunks, 0.8, 0.5)
	require.Len(t, result.Segments, 3)
	assert.Equal(t, 1, result.QualityStatistics.BelowThresholdCount)
	assert.InDelta(t, 0.5, result.QualityStatistics.DiarizationConsistency, 1e-9)
}
