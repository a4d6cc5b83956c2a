// Package orchestrator implements C10: the job state machine driving every
// audio job from queued through completed (or cancelled/error). Grounded on
// the teacher's processor.VideoProcessor.Process — StoreJob, then
// UpdateJobStatus("processing") plus sendProgress at fixed waypoints around
// each pipeline step, UpdateJobStatus("failed", err) on the first error, and
// a final UpdateJobStatus("completed") plus sendProgress(100, ...) — adapted
// from the video pipeline's fixed step list to this system's
// preprocess/diarize/unify/dispatch/merge chain.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/meridianvoice/transcribe-worker/internal/audioquality"
	"github.com/meridianvoice/transcribe-worker/internal/blob"
	"github.com/meridianvoice/transcribe-worker/internal/chunker"
	"github.com/meridianvoice/transcribe-worker/internal/dispatch"
	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/fingerprint"
	"github.com/meridianvoice/transcribe-worker/internal/merge"
	"github.com/meridianvoice/transcribe-worker/internal/models"
	"github.com/meridianvoice/transcribe-worker/internal/preprocess"
	"github.com/meridianvoice/transcribe-worker/internal/unify"
)

// JobStore persists job status; the orchestrator never talks to Postgres
// directly so it can be tested against a fake.
type JobStore interface {
	StoreJob(ctx context.Context, jobID string, job models.AudioJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, progress float64, message string, errMessage string) error
	StoreResult(ctx context.Context, jobID string, speakers []models.GlobalSpeaker, result models.MergeResult) error
}

// ProgressPublisher publishes a progress update; failures here are logged,
// never treated as job failures (§4.10).
type ProgressPublisher interface {
	Publish(ctx context.Context, update models.ProgressUpdate) error
}

// Diarizer is the narrow contract orchestrator needs from C4.
type Diarizer interface {
	Diarize(ctx context.Context, path string, maxSpeakers int) ([]models.SpeakerSegment, error)
}

// Orchestrator runs one audio job through every pipeline stage.
type Orchestrator struct {
	jobs        JobStore
	progress    ProgressPublisher
	fetcher     *blob.Fetcher
	preproc     *preprocess.Adapter
	chunks      *chunker.Chunker
	diarizer    Diarizer
	unifier     *unify.Unifier
	dispatcher  *dispatch.Dispatcher
	fingerprint *fingerprint.Manager
}

// New wires together every collaborator the state machine drives.
func New(
	jobs JobStore,
	progress ProgressPublisher,
	fetcher *blob.Fetcher,
	preproc *preprocess.Adapter,
	chunks *chunker.Chunker,
	diarizer Diarizer,
	unifier *unify.Unifier,
	dispatcher *dispatch.Dispatcher,
	fp *fingerprint.Manager,
) *Orchestrator {
	return &Orchestrator{
		jobs:        jobs,
		progress:    progress,
		fetcher:     fetcher,
		preproc:     preproc,
		chunks:      chunks,
		diarizer:    diarizer,
		unifier:     unifier,
		dispatcher:  dispatcher,
		fingerprint: fp,
	}
}

// Run drives jobID through the full state machine (§4.10):
// queued -> preprocessing -> speaker_analysis -> (chunk_processing |
// transcribing) -> integrating -> completed, with cancelled/error branches.
// Progress is monotonically non-decreasing across the whole run; ctx
// cancellation is checked between every stage so a cancelled job stops at
// the next safe boundary instead of mid-stage.
func (o *Orchestrator) Run(ctx context.Context, jobID string, job models.AudioJob) (models.MergeResult, error) {
	if err := o.jobs.StoreJob(ctx, jobID, job); err != nil {
		log.Printf("job %s: storing initial job record failed: %v", jobID, err)
	}

	var scratchPaths []string
	defer func() { preprocess.Cleanup(scratchPaths...) }()

	result, err := o.run(ctx, jobID, &job, &scratchPaths)
	if err != nil {
		// The terminal status is written even when ctx is already cancelled.
		statusCtx := context.WithoutCancel(ctx)
		if ctx.Err() != nil {
			o.transition(statusCtx, jobID, &job, models.StatusCancelled, job.Progress, "job cancelled", "")
			return models.MergeResult{}, err
		}
		o.transition(statusCtx, jobID, &job, models.StatusError, job.Progress, "job failed", err.Error())
		return models.MergeResult{}, err
	}

	o.transition(ctx, jobID, &job, models.StatusCompleted, 100, "job completed", "")
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string, job *models.AudioJob, scratchPaths *[]string) (models.MergeResult, error) {
	o.transition(ctx, jobID, job, models.StatusPreprocessing, 5, "fetching source audio", "")
	if err := ctx.Err(); err != nil {
		return models.MergeResult{}, err
	}

	sourcePath, err := o.fetcher.Fetch(ctx, jobID, job.UserID, job.AudioID)
	if err != nil {
		return models.MergeResult{}, err
	}
	*scratchPaths = append(*scratchPaths, sourcePath)
	if jobID != "" {
		*scratchPaths = append(*scratchPaths, filepath.Dir(sourcePath))
	}

	o.transition(ctx, jobID, job, models.StatusPreprocessing, 10, "preconditioning audio", "")
	preconditionedPath, _, err := o.preproc.Precondition(sourcePath)
	if err != nil {
		return models.MergeResult{}, err
	}
	*scratchPaths = append(*scratchPaths, preconditionedPath)

	duration, err := o.preproc.Duration(preconditionedPath)
	if err != nil {
		return models.MergeResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return models.MergeResult{}, err
	}

	o.transition(ctx, jobID, job, models.StatusSpeakerAnalysis, 25, "running speaker diarization", "")
	localSegments, err := o.diarizer.Diarize(ctx, preconditionedPath, job.Config.MaxSpeakers)
	if err != nil {
		return models.MergeResult{}, err
	}

	globalSpeakers, assignment, err := o.unifier.Unify(localSegments, job.Config.MaxSpeakers)
	if err != nil {
		return models.MergeResult{}, err
	}

	var selfGlobalID string
	if fp, ok, ferr := o.fingerprint.Get(ctx, job.UserID); ferr == nil && ok {
		if selfID, matched := unify.MatchSelf(globalSpeakers, fp.Embedding, job.Config.UserMatchThreshold); matched {
			selfGlobalID = selfID
			for i := range globalSpeakers {
				if globalSpeakers[i].GlobalID == selfID {
					globalSpeakers[i].DisplayName = models.SelfDisplayName
				}
			}
		}
	}

	snr, voiceRatio, qualityErr := audioquality.Analyze(preconditionedPath)
	if qualityErr != nil {
		log.Printf("job %s: audio quality analysis failed: %v", jobID, qualityErr)
	}
	o.trainFingerprint(ctx, jobID, *job, snr, voiceRatio, qualityErr, globalSpeakers, selfGlobalID)

	if err := ctx.Err(); err != nil {
		return models.MergeResult{}, err
	}

	pctx := dispatch.Context{
		DurationSec:  duration,
		NoiseLevel:   audioquality.NoiseLevel(snr),
		SpeakerCount: len(globalSpeakers),
	}

	var chunkTranscriptions []merge.ChunkTranscription
	if chunker.ShouldChunk(duration, job.Config.ChunkThresholdSec) {
		o.transition(ctx, jobID, job, models.StatusChunkProcessing, 40, "splitting audio into chunks", "")
		chunks, err := o.chunks.Split(preconditionedPath, duration, job.Config.ChunkWindowSec, job.Config.OverlapSec)
		if err != nil {
			return models.MergeResult{}, err
		}
		for _, c := range chunks {
			*scratchPaths = append(*scratchPaths, c.Path)
		}

		job.TotalChunks = len(chunks)
		o.transition(ctx, jobID, job, models.StatusChunkProcessing, 40, fmt.Sprintf("transcribing %d chunks", len(chunks)), "")

		results := o.dispatcher.TranscribeSegments(ctx, chunks, job.Config.SpeechProvider, job.Config.Language, pctx)
		for _, r := range results {
			if r.Err != nil {
				continue // a failed chunk still contributes nothing, not a whole-job failure (§4.7 degraded path)
			}
			chunkEnd := r.Chunk.OffsetSec + r.Chunk.DurationSec
			chunkTranscriptions = append(chunkTranscriptions, merge.ChunkTranscription{
				Chunk:           r.Chunk,
				Result:          r.Result,
				SpeakerLabel:    overlapSpeaker(localSegments, assignment, r.Chunk.OffsetSec, chunkEnd),
				SegmentSpeakers: mapSegmentSpeakers(localSegments, assignment, r.Chunk.OffsetSec, r.Result.Segments),
			})
		}
	} else {
		o.transition(ctx, jobID, job, models.StatusTranscribing, 60, "transcribing audio", "")
		result, err := o.dispatcher.TranscribeWhole(ctx, preconditionedPath, job.Config.SpeechProvider, job.Config.Language, pctx)
		if err != nil {
			return models.MergeResult{}, err
		}
		chunkTranscriptions = []merge.ChunkTranscription{{
			Chunk:           models.ChunkDescriptor{Index: 0, OffsetSec: 0, Path: preconditionedPath, DurationSec: duration},
			Result:          result,
			SpeakerLabel:    overlapSpeaker(localSegments, assignment, 0, duration),
			SegmentSpeakers: mapSegmentSpeakers(localSegments, assignment, 0, result.Segments),
		}}
	}

	if err := ctx.Err(); err != nil {
		return models.MergeResult{}, err
	}

	o.transition(ctx, jobID, job, models.StatusIntegrating, 92, "merging transcript", "")
	mergeResult := merge.Merge(chunkTranscriptions, job.Config.OverlapDedupeThreshold, 0.7)

	if err := o.jobs.StoreResult(ctx, jobID, globalSpeakers, mergeResult); err != nil {
		return models.MergeResult{}, errs.New("orchestrator.run", errs.Transient, fmt.Errorf("storing result: %w", err))
	}

	return mergeResult, nil
}

// overlapSpeaker picks the global speaker id whose local diarization segments
// overlap [startSec, endSec) the most. Used both as the whole-chunk fallback
// (no internal speaker breakdown from the provider) and, via
// mapSegmentSpeakers, per provider segment — so a chunk covering two speakers
// doesn't get stamped with a single dominant label (§4.9 step 2).
func overlapSpeaker(localSegments []models.SpeakerSegment, assignment []string, startSec, endSec float64) string {
	counts := make(map[string]float64)
	for i, seg := range localSegments {
		if seg.EndSec < startSec || seg.StartSec > endSec {
			continue
		}
		counts[assignment[i]] += seg.Duration()
	}

	best := ""
	bestCount := -1.0
	for id, c := range counts {
		if c > bestCount {
			bestCount = c
			best = id
		}
	}
	return best
}

// mapSegmentSpeakers resolves one global speaker id per provider segment by
// overlapping that segment's own chunk-offset-adjusted time range against
// localSegments/assignment, instead of stamping every segment in the chunk
// with the chunk's single dominant speaker.
func mapSegmentSpeakers(localSegments []models.SpeakerSegment, assignment []string, chunkOffset float64, providerSegments []models.ProviderSegment) []string {
	out := make([]string, len(providerSegments))
	for i, seg := range providerSegments {
		out[i] = overlapSpeaker(localSegments, assignment, chunkOffset+seg.Start, chunkOffset+seg.End)
	}
	return out
}

func (o *Orchestrator) transition(ctx context.Context, jobID string, job *models.AudioJob, status models.JobStatus, progress float64, message, errMessage string) {
	job.Progress = progress
	if err := o.jobs.UpdateJobStatus(ctx, jobID, status, progress, message, errMessage); err != nil {
		log.Printf("job %s: updating job status to %s failed: %v", jobID, status, err)
	}

	update := models.ProgressUpdate{
		UserID:      job.UserID,
		AudioID:     job.AudioID,
		Status:      status,
		Progress:    progress,
		Message:     message,
		TotalChunks: job.TotalChunks,
		Timestamp:   time.Now(),
	}
	if err := o.progress.Publish(ctx, update); err != nil {
		log.Printf("job %s: publishing progress update failed: %v", jobID, err)
	}
}

// trainFingerprint folds this recording's self-speaker embedding into the
// user's voice fingerprint (§4.6), given the whole-clip SNR/voice-ratio the
// caller already computed via audioquality.Analyze (shared with the
// dispatcher's noise_level). When no fingerprint exists yet, the
// longest-speaking global speaker is taken as the enrollment candidate —
// mirroring original_source's extract_user_embedding, which has no prior
// profile to compare against on a user's first recording. Failures here are
// logged, not propagated: a bad fingerprint update must never fail an
// otherwise-successful transcription job.
func (o *Orchestrator) trainFingerprint(ctx context.Context, jobID string, job models.AudioJob, snr float64, voiceRatio float64, qualityErr error, speakers []models.GlobalSpeaker, selfGlobalID string) {
	if qualityErr != nil {
		return
	}

	candidate := selfGlobalID
	if candidate == "" {
		_, hasFingerprint, err := o.fingerprint.Get(ctx, job.UserID)
		if err != nil || hasFingerprint || len(speakers) == 0 {
			return
		}
		candidate = longestSpeaking(speakers)
	}
	if candidate == "" {
		return
	}

	var embedding []float64
	for _, s := range speakers {
		if s.GlobalID == candidate {
			embedding = s.RepresentativeEmbedding
			break
		}
	}
	if len(embedding) == 0 {
		return
	}

	quality := fingerprint.QualityScore(snr, voiceRatio)
	if _, err := o.fingerprint.Update(ctx, job.UserID, embedding, quality); err != nil {
		log.Printf("job %s: fingerprint update failed: %v", jobID, err)
	}
}

func longestSpeaking(speakers []models.GlobalSpeaker) string {
	best := ""
	bestCount := -1
	for _, s := range speakers {
		if s.SegmentCount > bestCount {
			bestCount = s.SegmentCount
			best = s.GlobalID
		}
	}
	return best
}
