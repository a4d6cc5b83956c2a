// Package merge implements C9: folding per-chunk transcription results (each
// in chunk-local time, each carrying local speaker labels) into one
// global-time, global-speaker transcript. Grounded on the teacher's
// audio_extractor.go mergeTranscriptions/mergeSpeakerSegments (cumulative
// time-offset arithmetic minus a fixed overlap) generalized from
// concatenation to confidence-based dedup over the overlapping regions, per
// SPEC_FULL.md §4.9.
package merge

import (
	"sort"

	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// ChunkTranscription is one chunk's provider output plus the global speaker
// id(s) to stamp onto it. SegmentSpeakers holds one resolved global speaker
// id per entry of Result.Segments — computed by overlapping that segment's
// own time range against the diarization-derived speaker assignment, per
// §4.9 step 2 ("map each segment's local_speaker_label through the
// unifier's map"). SpeakerLabel is the fallback used only when a provider
// returns a single whole-chunk Text with no Segments breakdown of its own.
type ChunkTranscription struct {
	Chunk           models.ChunkDescriptor
	Result          models.ProviderResult
	SpeakerLabel    string   // fallback global speaker id for a whole-chunk (segment-less) result
	SegmentSpeakers []string // parallel to Result.Segments
	BelowThreshold  bool     // true if Result.Confidence fell below the configured floor
}

// Merge time-shifts every chunk's segments into recording-global time,
// stamps each one with its own resolved global speaker id (falling back to
// the chunk's dominant speaker only for a segment-less whole-chunk result),
// drops duplicate segments in overlapping regions (keeping the
// higher-confidence one; ties drop the later chunk's copy since it's the one
// re-hearing already-covered audio), and returns the segments sorted by
// start time with (global_speaker_id, end_sec) as the tiebreak (§4.9).
func Merge(chunks []ChunkTranscription, dedupeThreshold float64, confidenceFloor float64) models.MergeResult {
	var all []models.TranscribedSegment

	for _, ct := range chunks {
		offset := ct.Chunk.OffsetSec
		for i, seg := range ct.Result.Segments {
			confidence := seg.Confidence
			speaker := ct.SpeakerLabel
			if i < len(ct.SegmentSpeakers) && ct.SegmentSpeakers[i] != "" {
				speaker = ct.SegmentSpeakers[i]
			}
			all = append(all, models.TranscribedSegment{
				StartSec:        offset + seg.Start,
				EndSec:          offset + seg.End,
				Text:            seg.Text,
				Confidence:      confidence,
				GlobalSpeakerID: speaker,
				Provider:        ct.Result.Provider,
			})
		}

		if len(ct.Result.Segments) == 0 && ct.Result.Text != "" {
			confidence := ct.Result.Confidence
			all = append(all, models.TranscribedSegment{
				StartSec:        offset,
				EndSec:          offset + ct.Chunk.DurationSec,
				Text:            ct.Result.Text,
				Confidence:      confidence,
				GlobalSpeakerID: ct.SpeakerLabel,
				Provider:        ct.Result.Provider,
				WordTimestamps:  ct.Result.WordTimestamps,
			})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartSec != all[j].StartSec {
			return all[i].StartSec < all[j].StartSec
		}
		if all[i].GlobalSpeakerID != all[j].GlobalSpeakerID {
			return all[i].GlobalSpeakerID < all[j].GlobalSpeakerID
		}
		return all[i].EndSec < all[j].EndSec
	})

	deduped := dedupe(all, dedupeThreshold)

	return models.MergeResult{
		Segments:          deduped,
		SpeakerStatistics: speakerStatistics(deduped),
		QualityStatistics: qualityStatistics(deduped, confidenceFloor),
	}
}

// dedupe drops a segment whose overlap with a prior, already-kept segment is
// at least dedupeThreshold of the shorter segment's duration, keeping
// whichever of the pair has higher confidence. Equal confidence keeps the
// earlier one (the later chunk is re-covering audio the earlier chunk's
// overlap window already captured) (§4.9 step 3).
func dedupe(segments []models.TranscribedSegment, dedupeThreshold float64) []models.TranscribedSegment {
	var kept []models.TranscribedSegment

	for _, seg := range segments {
		replaced := false
		dropped := false

		for i := range kept {
			overlap := overlapFraction(seg, kept[i])
			if overlap < dedupeThreshold {
				continue
			}
			if seg.Confidence > kept[i].Confidence {
				kept[i] = seg
				replaced = true
			} else {
				dropped = true
			}
			break
		}

		if !replaced && !dropped {
			kept = append(kept, seg)
		}
	}

	return kept
}

func overlapFraction(a, b models.TranscribedSegment) float64 {
	start := max(a.StartSec, b.StartSec)
	end := min(a.EndSec, b.EndSec)
	overlap := end - start
	if overlap <= 0 {
		return 0
	}
	shortest := min(a.Duration(), b.Duration())
	if shortest <= 0 {
		return 0
	}
	return overlap / shortest
}

func speakerStatistics(segments []models.TranscribedSegment) []models.SpeakerStatistics {
	byID := make(map[string]*models.SpeakerStatistics)
	var order []string

	for _, seg := range segments {
		stat, ok := byID[seg.GlobalSpeakerID]
		if !ok {
			stat = &models.SpeakerStatistics{GlobalSpeakerID: seg.GlobalSpeakerID}
			byID[seg.GlobalSpeakerID] = stat
			order = append(order, seg.GlobalSpeakerID)
		}
		stat.TotalDuration += seg.Duration()
		stat.SegmentCount++
		stat.AvgConfidence += seg.Confidence
	}

	out := make([]models.SpeakerStatistics, 0, len(order))
	for _, id := range order {
		stat := byID[id]
		if stat.SegmentCount > 0 {
			stat.AvgConfidence /= float64(stat.SegmentCount)
		}
		out = append(out, *stat)
	}
	return out
}

// qualityStatistics computes the confidence distribution plus a
// diarization_consistency figure: the fraction of segments whose speaker
// label matches the label of the immediately preceding segment, a proxy for
// how often diarization changed its mind mid-conversation versus how often
// the conversation itself changed speakers (SPEC_FULL.md §1.3 supplement,
// grounded on original_source's per-turn consistency check).
func qualityStatistics(segments []models.TranscribedSegment, floor float64) models.QualityStatistics {
	if len(segments) == 0 {
		return models.QualityStatistics{}
	}

	stats := models.QualityStatistics{
		MinConfidence: segments[0].Confidence,
		MaxConfidence: segments[0].Confidence,
	}

	var confSum float64
	sameSpeakerRun := 0
	for i, seg := range segments {
		confSum += seg.Confidence
		if seg.Confidence < floor {
			stats.BelowThresholdCount++
		}
		if seg.Confidence < stats.MinConfidence {
			stats.MinConfidence = seg.Confidence
		}
		if seg.Confidence > stats.MaxConfidence {
			stats.MaxConfidence = seg.Confidence
		}
		if i > 0 && seg.GlobalSpeakerID == segments[i-1].GlobalSpeakerID {
			sameSpeakerRun++
		}
	}
	stats.AvgConfidence = confSum / float64(len(segments))

	if len(segments) > 1 {
		stats.DiarizationConsistency = float64(sameSpeakerRun) / float64(len(segments)-1)
	} else {
		stats.DiarizationConsistency = 1
	}

	return stats
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
