// Package models holds the data shapes shared across the audio pipeline:
// jobs, speaker segments, global speakers, transcripts and fingerprints.
package models

import "time"

// JobStatus is the audio job's position in the phase graph (§4.10).
type JobStatus string

const (
	StatusQueued          JobStatus = "queued"
	StatusPreprocessing   JobStatus = "preprocessing"
	StatusSpeakerAnalysis JobStatus = "speaker_analysis"
	StatusChunkProcessing JobStatus = "chunk_processing"
	StatusTranscribing    JobStatus = "transcribing"
	StatusIntegrating     JobStatus = "integrating"
	StatusCompleted       JobStatus = "completed"
	StatusCancelled       JobStatus = "cancelled"
	StatusError           JobStatus = "error"
)

// SpeechProvider names a pluggable STT backend (C8).
type SpeechProvider string

const (
	ProviderOpenAI     SpeechProvider = "openai"
	ProviderAzure      SpeechProvider = "azure"
	ProviderGoogle     SpeechProvider = "google"
	ProviderAssemblyAI SpeechProvider = "assemblyai"
	ProviderDeepgram   SpeechProvider = "deepgram"
	ProviderAuto       SpeechProvider = "auto"
)

// JobConfig holds the recognized job options (§3, "Job config"). Unknown
// keys are rejected by config.ParseJobConfig.
type JobConfig struct {
	ChunkThresholdSec      float64        `json:"chunk_threshold_sec"`
	ChunkWindowSec         float64        `json:"chunk_window_sec"`
	OverlapSec             float64        `json:"overlap_sec"`
	MaxSpeakers            int            `json:"max_speakers"`
	Language               string         `json:"language"`
	SpeechProvider         SpeechProvider `json:"speech_provider"`
	SpeechModel            string         `json:"speech_model"`
	UserMatchThreshold     float64        `json:"user_match_threshold"`
	OverlapDedupeThreshold float64        `json:"overlap_dedupe_threshold"`
}

// DefaultJobConfig returns the documented defaults from §3.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		ChunkThresholdSec:      1800,
		ChunkWindowSec:         1800,
		OverlapSec:             300,
		MaxSpeakers:            5,
		Language:               "ja-JP",
		SpeechProvider:         ProviderOpenAI,
		UserMatchThreshold:     0.80,
		OverlapDedupeThreshold: 0.80,
	}
}

// AudioJob is the single-writer-per-job status document (§3, "Audio job").
type AudioJob struct {
	UserID          string    `json:"userId"`
	AudioID         string    `json:"audioId"`
	Config          JobConfig `json:"config"`
	Status          JobStatus `json:"status"`
	Progress        float64   `json:"progress"`
	StatusMessage   string    `json:"statusMessage"`
	ProcessedChunks int       `json:"processedChunks"`
	TotalChunks     int       `json:"totalChunks"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SpeakerSegment is a local (per-diarization-call) speaker turn (§3).
type SpeakerSegment struct {
	StartSec          float64   `json:"start_sec"`
	EndSec             float64   `json:"end_sec"`
	LocalSpeakerLabel string    `json:"local_speaker_label"`
	Confidence        float64   `json:"confidence"`
	Embedding         []float64 `json:"embedding,omitempty"`
}

// Duration returns end - start.
func (s SpeakerSegment) Duration() float64 { return s.EndSec - s.StartSec }

// GlobalSpeaker is a recording-wide speaker identity (§3).
type GlobalSpeaker struct {
	GlobalID                string    `json:"global_id"`
	DisplayName             string    `json:"display_name"`
	RepresentativeEmbedding []float64 `json:"representative_embedding"`
	Confidence              float64   `json:"confidence"`
	SegmentCount            int       `json:"segment_count"`
}

// SelfDisplayName is the reserved display name for the speaker matched
// against the user's voice fingerprint (§3).
const SelfDisplayName = "self"

// WordTimestamp is a single word's timing within a transcribed segment.
type WordTimestamp struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscribedSegment is a merged, globally-speaker-labeled output segment
// (§3). The final transcript is a slice of these, sorted by StartSec.
type TranscribedSegment struct {
	StartSec        float64         `json:"start_sec"`
	EndSec          float64         `json:"end_sec"`
	Text            string          `json:"text"`
	Confidence      float64         `json:"confidence"`
	GlobalSpeakerID string          `json:"global_speaker_id"`
	Provider        SpeechProvider  `json:"provider"`
	WordTimestamps  []WordTimestamp `json:"word_timestamps,omitempty"`
}

// Duration returns end - start.
func (s TranscribedSegment) Duration() float64 { return s.EndSec - s.StartSec }

// Fingerprint is the user's cumulative voice embedding (§3).
type Fingerprint struct {
	Embedding    []float64 `json:"embedding"`
	QualityScore float64   `json:"quality_score"`
	AudioCount   int       `json:"audio_count"`
	LastUpdated  time.Time `json:"last_updated"`
}

// ChunkDescriptor describes one overlapping slice of a long recording (§3).
type ChunkDescriptor struct {
	Index       int     `json:"index"`
	OffsetSec   float64 `json:"offset_sec"`
	Path        string  `json:"path"`
	DurationSec float64 `json:"duration_sec"`
}

// ProviderResult is what a speech-recognition adapter returns for one
// transcription call (§4.8).
type ProviderResult struct {
	Text              string           `json:"text"`
	Confidence        float64          `json:"confidence"`
	Segments          []ProviderSegment `json:"segments"`
	Language          string           `json:"language"`
	ProcessingTimeSec float64          `json:"processing_time_sec"`
	Provider          SpeechProvider   `json:"provider"`
	Model             string           `json:"model"`
	WordTimestamps    []WordTimestamp  `json:"word_timestamps,omitempty"`
}

// ProviderSegment is one time-bounded piece of a ProviderResult.
type ProviderSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SpeakerStatistics summarizes one global speaker's share of the transcript
// (§4.9 step 5).
type SpeakerStatistics struct {
	GlobalSpeakerID string  `json:"global_speaker_id"`
	TotalDuration   float64 `json:"total_duration"`
	SegmentCount    int     `json:"segment_count"`
	AvgConfidence   float64 `json:"avg_confidence"`
}

// QualityStatistics summarizes confidence distribution across the final
// transcript (§4.9 step 5, plus the diarization-consistency supplement from
// SPEC_FULL.md §1.3).
type QualityStatistics struct {
	AvgConfidence          float64 `json:"avg_confidence"`
	MinConfidence          float64 `json:"min_confidence"`
	MaxConfidence          float64 `json:"max_confidence"`
	BelowThresholdCount    int     `json:"below_threshold_count"`
	DiarizationConsistency float64 `json:"diarization_consistency"`
}

// MergeResult is the merger's (C9) complete output.
type MergeResult struct {
	Segments          []TranscribedSegment `json:"segments"`
	SpeakerStatistics []SpeakerStatistics  `json:"speaker_statistics"`
	QualityStatistics QualityStatistics    `json:"quality_statistics"`
}

// ProgressUpdate is published to the progress store on every state entry
// (§4.10).
type ProgressUpdate struct {
	UserID       string    `json:"userId"`
	AudioID      string    `json:"audioId"`
	Status       JobStatus `json:"status"`
	Progress     float64   `json:"progress"`
	Message      string    `json:"message"`
	CurrentChunk int       `json:"currentChunk,omitempty"`
	TotalChunks  int       `json:"totalChunks,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
