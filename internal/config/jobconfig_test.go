package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

func TestParseJobConfigDefaults(t *testing.T) {
	cfg, err := ParseJobConfig(map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultJobConfig(), cfg)
}

func TestParseJobConfigCoercesLooseTypes(t *testing.T) {
	cfg, err := ParseJobConfig(map[string]interface{}{
		"max_speakers":     "5",
		"chunk_window_sec": 1200,
		"overlap_sec":      "200",
		"speech_provider":  "deepgram",
	})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxSpeakers)
	assert.Equal(t, 1200.0, cfg.ChunkWindowSec)
	assert.Equal(t, 200.0, cfg.OverlapSec)
	assert.Equal(t, models.ProviderDeepgram, cfg.SpeechProvider)
}

func TestParseJobConfigRejectsUnknownKey(t *testing.T) {
	_, err := ParseJobConfig(map[string]interface{}{"bogus_key": "x"})
	assert.Error(t, err)
}

func TestParseJobConfigRejectsUnknownProvider(t *testing.T) {
	_, err := ParseJobConfig(map[string]interface{}{"speech_provider": "not-a-provider"})
	assert.Error(t, err)
}

func TestParseJobConfigRejectsInvalidWindowOverlap(t *testing.T) {
	_, err := ParseJobConfig(map[string]interface{}{"chunk_window_sec": 100, "overlap_sec": 100})
	assert.Error(t, err)
}

func TestParseJobConfigRejectsNonPositiveMaxSpeakers(t *testing.T) {
	_, err := ParseJobConfig(map[string]interface{}{"max_speakers": 0})
	assert.Error(t, err)
}
