// Package unify implements C5: turning the per-chunk local speaker segments
// into recording-wide global speakers, and matching one of them against the
// user's stored voice fingerprint. Grounded on the teacher's
// tracking.PersonReID (computeFeatureDistance as 1 - cosine similarity,
// threshold-gated findBestMatch) generalized from per-frame identity
// tracking to agglomerative clustering over whole segments, and on
// original_source's speaker_separation.py (sklearn.cluster.
// AgglomerativeClustering with average linkage over cosine distance) and
// voice_learning.py's compare_speaker_with_user threshold comparison.
package unify

import (
	"fmt"
	"math"
	"sort"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// Unifier clusters local speaker segments into global speakers and matches
// one of the resulting clusters against a stored fingerprint.
type Unifier struct {
	// ClusterDistanceThreshold is the average-linkage cutoff below which two
	// clusters merge (§4.5).
	ClusterDistanceThreshold float64
}

// New builds a Unifier with the documented clustering threshold.
func New(clusterDistanceThreshold float64) *Unifier {
	return &Unifier{ClusterDistanceThreshold: clusterDistanceThreshold}
}

// cluster is a working group of segment indices during agglomeration.
type cluster struct {
	indices []int
}

// Unify groups segments (pooled across every chunk, already time-shifted) by
// speaker identity using agglomerative clustering with average linkage over
// cosine distance, targeting cluster count k = min(maxSpeakers, n_segments),
// then assigns each cluster a stable GlobalSpeaker with a mean representative
// embedding (§4.5). maxSpeakers <= 0 is treated as unbounded (k = n_segments).
//
// Degraded paths: fewer than 2 embedded segments collapse to a single
// speaker (clustering is meaningless below that); segments missing an
// embedding are each assigned their own singleton cluster rather than
// dropped, since diarization confidence without an embedding is still a
// valid (if unmatchable) speaker turn.
func (u *Unifier) Unify(segments []models.SpeakerSegment, maxSpeakers int) ([]models.GlobalSpeaker, []string, error) {
	if len(segments) == 0 {
		return nil, nil, errs.New("unify.Unify", errs.InvalidInput, fmt.Errorf("no segments to unify"))
	}

	embeddedCount := 0
	for _, s := range segments {
		if len(s.Embedding) > 0 {
			embeddedCount++
		}
	}

	var clusters []cluster
	if embeddedCount < 2 {
		all := make([]int, len(segments))
		for i := range segments {
			all[i] = i
		}
		clusters = []cluster{{indices: all}}
	} else {
		clusters = agglomerate(segments, u.ClusterDistanceThreshold, maxSpeakers)
	}

	globalSpeakers := make([]models.GlobalSpeaker, len(clusters))
	assignment := make([]string, len(segments))

	for clusterIdx, c := range clusters {
		globalID := fmt.Sprintf("speaker_%02d", clusterIdx)
		embedding := meanEmbedding(segments, c.indices)
		confidence := meanConfidence(segments, c.indices)

		globalSpeakers[clusterIdx] = models.GlobalSpeaker{
			GlobalID:                globalID,
			DisplayName:             globalID,
			RepresentativeEmbedding: embedding,
			Confidence:              confidence,
			SegmentCount:            len(c.indices),
		}
		for _, idx := range c.indices {
			assignment[idx] = globalID
		}
	}

	return globalSpeakers, assignment, nil
}

// MatchSelf finds the global speaker whose representative embedding is
// closest to fingerprint and within threshold, and returns its id; the
// caller renames it to models.SelfDisplayName. Ties break toward the lowest
// cluster id (the
// clusters are already ordered that way, so the first qualifying match
// wins) (§4.5, "self-identification").
func MatchSelf(speakers []models.GlobalSpeaker, fingerprint []float64, threshold float64) (string, bool) {
	if len(fingerprint) == 0 {
		return "", false
	}

	bestID := ""
	bestSim := -math.MaxFloat64
	for _, s := range speakers {
		if len(s.RepresentativeEmbedding) == 0 {
			continue
		}
		sim := cosineSimilarity(s.RepresentativeEmbedding, fingerprint)
		if sim > bestSim {
			bestSim = sim
			bestID = s.GlobalID
		}
	}

	if bestID == "" || bestSim < threshold {
		return "", false
	}
	return bestID, true
}

// agglomerate runs average-linkage agglomerative clustering over cosine
// distance, always merging the closest remaining pair. Above the target
// cluster count k = min(maxSpeakers, n_segments) (§4.5(b)) the merge happens
// even past threshold, since the configured max_speakers is a hard ceiling,
// not a hint; at or below k, merging continues only while the closest
// remaining pair is within threshold.
func agglomerate(segments []models.SpeakerSegment, threshold float64, maxSpeakers int) []cluster {
	clusters := make([]cluster, 0, len(segments))
	for i := range segments {
		clusters = append(clusters, cluster{indices: []int{i}})
	}

	target := maxSpeakers
	if target <= 0 || target > len(segments) {
		target = len(segments)
	}

	for len(clusters) > 1 {
		bestI, bestJ := -1, -1
		bestDist := math.MaxFloat64

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				dist := averageLinkageDistance(segments, clusters[i], clusters[j])
				if dist < bestDist {
					bestDist = dist
					bestI, bestJ = i, j
				}
			}
		}

		if bestI < 0 {
			break
		}
		if len(clusters) <= target && bestDist > threshold {
			break
		}

		merged := cluster{indices: append(append([]int{}, clusters[bestI].indices...), clusters[bestJ].indices...)}
		next := make([]cluster, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].indices[0] < clusters[j].indices[0]
	})
	return clusters
}

func averageLinkageDistance(segments []models.SpeakerSegment, a, b cluster) float64 {
	var total float64
	var count int
	for _, i := range a.indices {
		for _, j := range b.indices {
			if len(segments[i].Embedding) == 0 || len(segments[j].Embedding) == 0 {
				continue
			}
			total += cosineDistance(segments[i].Embedding, segments[j].Embedding)
			count++
		}
	}
	if count == 0 {
		return math.MaxFloat64
	}
	return total / float64(count)
}

func meanEmbedding(segments []models.SpeakerSegment, indices []int) []float64 {
	var dim int
	for _, i := range indices {
		if len(segments[i].Embedding) > 0 {
			dim = len(segments[i].Embedding)
			break
		}
	}
	if dim == 0 {
		return nil
	}

	sum := make([]float64, dim)
	count := 0
	for _, i := range indices {
		if len(segments[i].Embedding) != dim {
			continue
		}
		for d := 0; d < dim; d++ {
			sum[d] += segments[i].Embedding[d]
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for d := range sum {
		sum[d] /= float64(count)
	}
	return sum
}

func meanConfidence(segments []models.SpeakerSegment, indices []int) float64 {
	var total float64
	for _, i := range indices {
		total += segments[i].Confidence
	}
	return total / float64(len(indices))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func cosineDistance(a, b []float64) float64 {
	return 1 - cosineSimilarity(a, b)
}
