// Package audioquality derives the clip-level SNR and voice-activity
// measurements fingerprint.QualityScore needs, by decoding a preconditioned
// WAV file directly instead of shelling out to ffmpeg for every metric.
// Grounded on SPEC_FULL.md §1.2's domain-stack binding of
// github.com/go-audio/wav (the waveform decoder the example pack's
// audio-processing repos reach for) to C6's quality scoring, and on the
// quality-score derivation formula in §4.6.
package audioquality

import (
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/stat"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
)

// sampleRate matches preprocess.TargetSampleRate; frame energy uses 25ms
// windows hopped every 10ms at that rate, per §4.6's quality-score
// derivation.
const sampleRate = 16000

const frameSizeSamples = sampleRate * 25 / 1000 // 400
const hopSizeSamples = sampleRate * 10 / 1000   // 160

// epsilon guards the SNR ratio's denominator against a silent clip.
const epsilon = 1e-9

// Analyze decodes path (expected mono 16-bit PCM WAV) and returns:
//   - snrDB: 10*log10(mean(x^2) / (p10(|x|)^2 + epsilon)) over the whole clip
//   - voiceRatio: the fraction of 25ms/10ms-hop frames whose RMS energy
//     exceeds the 30th percentile of the frame-energy series
//
// both consumed by fingerprint.QualityScore (§4.6).
func Analyze(path string) (snrDB float64, voiceRatio float64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, errs.New("audioquality.Analyze", errs.NotFound, fmt.Errorf("opening wav file: %w", err))
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return 0, 0, errs.New("audioquality.Analyze", errs.InvalidInput, fmt.Errorf("not a valid wav file: %s", path))
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return 0, 0, errs.New("audioquality.Analyze", errs.Fatal, fmt.Errorf("decoding pcm buffer: %w", err))
	}
	samples := buf.AsFloatBuffer().Data // []float64, normalized by bit depth
	if len(samples) == 0 {
		return 0, 0, errs.New("audioquality.Analyze", errs.InvalidInput, fmt.Errorf("empty audio"))
	}

	return clipSNR(samples), voiceActivityRatio(samples), nil
}

// clipSNR computes snr_db = 10*log10(mean(x^2) / (p10(|x|)^2 + eps)) over the
// whole clip (§4.6).
func clipSNR(samples []float64) float64 {
	var sumSquares float64
	abs := make([]float64, len(samples))
	for i, s := range samples {
		sumSquares += s * s
		abs[i] = math.Abs(s)
	}
	meanSquare := sumSquares / float64(len(samples))

	sort.Float64s(abs)
	p10 := stat.Quantile(0.10, stat.Empirical, abs, nil)

	return 10 * math.Log10(meanSquare/(p10*p10+epsilon))
}

// voiceActivityRatio frames the clip at 25ms windows hopped every 10ms,
// computes each frame's RMS energy, and returns the fraction of frames whose
// energy exceeds the 30th percentile of the whole series (§4.6).
func voiceActivityRatio(samples []float64) float64 {
	var rms []float64
	for start := 0; start+frameSizeSamples <= len(samples); start += hopSizeSamples {
		rms = append(rms, rmsOf(samples[start:start+frameSizeSamples]))
	}
	if len(rms) == 0 {
		rms = append(rms, rmsOf(samples))
	}

	sorted := append([]float64(nil), rms...)
	sort.Float64s(sorted)
	p30 := stat.Quantile(0.30, stat.Empirical, sorted, nil)

	active := 0
	for _, r := range rms {
		if r > p30 {
			active++
		}
	}
	return float64(active) / float64(len(rms))
}

func rmsOf(samples []float64) float64 {
	var sumSquares float64
	for _, s := range samples {
		sumSquares += s * s
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// NoiseLevel maps a clip's SNR in dB onto the same [0,1] window
// fingerprint.QualityScore normalizes SNR against, inverted: 0 is pristine
// audio, 1 is as noisy as the window allows. Feeds the dispatcher's
// provider-choice heuristic (§4.7).
func NoiseLevel(snrDB float64) float64 {
	return 1 - clamp01((snrDB+10)/30)
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
