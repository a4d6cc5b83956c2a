package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

func TestOverlapSpeakerPicksHighestOverlapDuration(t *testing.T) {
	localSegments := []models.SpeakerSegment{
		{StartSec: 0, EndSec: 5},   // speaker_00, 5s inside chunk
		{StartSec: 5, EndSec: 7},   // speaker_01, 2s inside chunk
		{StartSec: 20, EndSec: 25}, // speaker_01, outside chunk entirely
	}
	assignment := []string{"speaker_00", "speaker_01", "speaker_01"}

	got := overlapSpeaker(localSegments, assignment, 0, 10)
	assert.Equal(t, "speaker_00", got)
}

func TestOverlapSpeakerNoOverlapReturnsEmpty(t *testing.T) {
	localSegments := []models.SpeakerSegment{{StartSec: 100, EndSec: 110}}
	assignment := []string{"speaker_00"}

	assert.Equal(t, "", overlapSpeaker(localSegments, assignment, 0, 10))
}

func TestMapSegmentSpeakersResolvesPerSegmentNotPerChunk(t *testing.T) {
	localSegments := []models.SpeakerSegment{
		{StartSec: 0, EndSec: 5},  // speaker_00
		{StartSec: 5, EndSec: 10}, // speaker_01
	}
	assignment := []string{"speaker_00", "speaker_01"}
	providerSegments := []models.ProviderSegment{
		{Start: 0, End: 5},
		{Start: 5, End: 10},
	}

	got := mapSegmentSpeakers(localSegments, assignment, 0, providerSegments)
	assert.Equal(t, []string{"speaker_00", "speaker_01"}, got)
}

func TestLongestSpeakingPicksMaxSegmentCount(t *testing.T) {
	speakers := []models.GlobalSpeaker{
		{GlobalID: "speaker_00", SegmentCount: 3},
		{GlobalID: "speaker_01", SegmentCount: 9},
		{GlobalID: "speaker_02", SegmentCount: 5},
	}
	assert.Equal(t, "speaker_01", longestSpeaking(speakers))
}

func TestLongestSpeakingEmptyReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", longestSpeaking(nil))
}
