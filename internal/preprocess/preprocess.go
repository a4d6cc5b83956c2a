// Package preprocess implements C2, the preprocessor adapter: conditioning
// a source recording into mono PCM at a fixed sample rate suitable for
// diarization. Grounded on the teacher's utils.FFmpegHelper — the same
// exec.Command("ffmpeg", ...) shelling-out style, narrowed from "extract
// audio out of a video container" to "normalize an already-audio file."
package preprocess

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
)

// TargetSampleRate is the fixed rate every preconditioned file is resampled
// to, matching what the diarization and embedding models expect (§4.2).
const TargetSampleRate = 16000

// Adapter conditions source recordings via a local ffmpeg/ffprobe install.
type Adapter struct {
	ffmpegPath  string
	ffprobePath string
}

// NewAdapter locates ffmpeg/ffprobe on PATH. A missing binary is a Fatal
// error — the whole pipeline is unusable without it.
func NewAdapter() (*Adapter, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errs.New("preprocess.NewAdapter", errs.Fatal, fmt.Errorf("ffmpeg not found in PATH: %w", err))
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, errs.New("preprocess.NewAdapter", errs.Fatal, fmt.Errorf("ffprobe not found in PATH: %w", err))
	}
	return &Adapter{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}, nil
}

// Precondition converts path to mono 16kHz PCM WAV, writing the result
// alongside path. Re-invoking with the same input path overwrites the same
// deterministic output path, so repeated calls are idempotent (§4.2).
func (a *Adapter) Precondition(path string) (string, int, error) {
	if _, err := os.Stat(path); err != nil {
		return "", 0, errs.New("preprocess.Precondition", errs.NotFound, fmt.Errorf("source audio not found: %w", err))
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".preconditioned.wav"

	cmd := exec.Command(a.ffmpegPath,
		"-i", path,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", "1",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", 0, errs.New("preprocess.Precondition", errs.Fatal,
			fmt.Errorf("ffmpeg preconditioning failed: %w (%s)", err, strings.TrimSpace(string(out))))
	}

	return outPath, TargetSampleRate, nil
}

// Duration returns the audio duration in seconds via ffprobe.
func (a *Adapter) Duration(path string) (float64, error) {
	cmd := exec.Command(a.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, errs.New("preprocess.Duration", errs.Fatal, fmt.Errorf("ffprobe failed: %w", err))
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, errs.New("preprocess.Duration", errs.Fatal, fmt.Errorf("parsing ffprobe duration: %w", err))
	}
	return duration, nil
}

// Cleanup removes scratch files, tolerating already-absent paths.
func Cleanup(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.RemoveAll(p)
	}
}
