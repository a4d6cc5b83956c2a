package config

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// recognizedJobConfigKeys mirrors the "Job config" table in SPEC_FULL.md §3.
var recognizedJobConfigKeys = map[string]bool{
	"chunk_threshold_sec":      true,
	"chunk_window_sec":         true,
	"overlap_sec":              true,
	"max_speakers":             true,
	"language":                 true,
	"speech_provider":          true,
	"speech_model":             true,
	"user_match_threshold":     true,
	"overlap_dedupe_threshold": true,
}

// ParseJobConfig builds a models.JobConfig from a raw, user-supplied map,
// applying SPEC_FULL.md §3 defaults for omitted keys and rejecting any key
// the pipeline doesn't recognize. spf13/cast (pulled in transitively by
// asynq, per SPEC_FULL.md §1.2) absorbs the loose typing of values arriving
// over JSON (a caller-supplied "max_speakers": "5" is as valid as 5).
func ParseJobConfig(raw map[string]interface{}) (models.JobConfig, error) {
	cfg := models.DefaultJobConfig()

	for key := range raw {
		if !recognizedJobConfigKeys[key] {
			return models.JobConfig{}, errs.New("config.ParseJobConfig", errs.InvalidInput,
				fmt.Errorf("unrecognized config key %q", key))
		}
	}

	if v, ok := raw["chunk_threshold_sec"]; ok {
		cfg.ChunkThresholdSec = cast.ToFloat64(v)
	}
	if v, ok := raw["chunk_window_sec"]; ok {
		cfg.ChunkWindowSec = cast.ToFloat64(v)
	}
	if v, ok := raw["overlap_sec"]; ok {
		cfg.OverlapSec = cast.ToFloat64(v)
	}
	if v, ok := raw["max_speakers"]; ok {
		cfg.MaxSpeakers = cast.ToInt(v)
	}
	if v, ok := raw["language"]; ok {
		cfg.Language = cast.ToString(v)
	}
	if v, ok := raw["speech_provider"]; ok {
		provider := models.SpeechProvider(cast.ToString(v))
		if !validProvider(provider) {
			return models.JobConfig{}, errs.New("config.ParseJobConfig", errs.InvalidInput,
				fmt.Errorf("unrecognized speech_provider %q", provider))
		}
		cfg.SpeechProvider = provider
	}
	if v, ok := raw["speech_model"]; ok {
		cfg.SpeechModel = cast.ToString(v)
	}
	if v, ok := raw["user_match_threshold"]; ok {
		cfg.UserMatchThreshold = cast.ToFloat64(v)
	}
	if v, ok := raw["overlap_dedupe_threshold"]; ok {
		cfg.OverlapDedupeThreshold = cast.ToFloat64(v)
	}

	if cfg.ChunkWindowSec <= cfg.OverlapSec || cfg.OverlapSec <= 0 {
		return models.JobConfig{}, errs.New("config.ParseJobConfig", errs.InvalidInput,
			fmt.Errorf("chunk_window_sec (%.0f) must be greater than overlap_sec (%.0f), and overlap_sec must be positive",
				cfg.ChunkWindowSec, cfg.OverlapSec))
	}
	if cfg.MaxSpeakers <= 0 {
		return models.JobConfig{}, errs.New("config.ParseJobConfig", errs.InvalidInput,
			fmt.Errorf("max_speakers must be positive, got %d", cfg.MaxSpeakers))
	}

	return cfg, nil
}

func validProvider(p models.SpeechProvider) bool {
	switch p {
	case models.ProviderOpenAI, models.ProviderAzure, models.ProviderGoogle,
		models.ProviderAssemblyAI, models.ProviderDeepgram, models.ProviderAuto:
		return true
	default:
		return false
	}
}
