// Package chunker implements C3: slicing a long recording into overlapping
// windows so diarization and transcription can run incrementally instead of
// loading hours of audio at once. Grounded on the teacher's
// extractor.AudioExtractor chunking branch (ChunkAudio, a fixed 2-second
// overlap over byte-size chunks) and on original_source's
// analyze_speakers_chunked 30-minute-window-minus-overlap offset arithmetic,
// generalized here to duration-based windows per SPEC_FULL.md §4.3.
package chunker

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meridianvoice/transcribe-worker/internal/errs"
	"github.com/meridianvoice/transcribe-worker/internal/models"
)

// Chunker slices a preconditioned audio file into overlapping windows via
// ffmpeg segment extraction.
type Chunker struct {
	ffmpegPath string
}

// New locates ffmpeg on PATH.
func New() (*Chunker, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, errs.New("chunker.New", errs.Fatal, fmt.Errorf("ffmpeg not found in PATH: %w", err))
	}
	return &Chunker{ffmpegPath: ffmpegPath}, nil
}

// Split slices path into chunks of windowSec with overlapSec overlap between
// successive chunks (§4.3). Invariants enforced: windowSec > overlapSec > 0;
// the last chunk may run shorter than windowSec; the union of all chunks
// covers [0, duration].
func (c *Chunker) Split(path string, duration, windowSec, overlapSec float64) ([]models.ChunkDescriptor, error) {
	if windowSec <= overlapSec || overlapSec <= 0 {
		return nil, errs.New("chunker.Split", errs.InvalidInput,
			fmt.Errorf("window_sec (%.0f) must exceed overlap_sec (%.0f), and overlap_sec must be positive", windowSec, overlapSec))
	}
	if duration <= 0 {
		return nil, errs.New("chunker.Split", errs.InvalidInput, fmt.Errorf("duration must be positive, got %.2f", duration))
	}

	stride := windowSec - overlapSec
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var chunks []models.ChunkDescriptor
	for index, offset := 0, 0.0; offset < duration; index, offset = index+1, offset+stride {
		chunkDuration := windowSec
		if offset+chunkDuration > duration {
			chunkDuration = duration - offset
		}

		outPath := filepath.Join(dir, fmt.Sprintf("%s.chunk%04d.wav", base, index))
		if err := c.extract(path, outPath, offset, chunkDuration); err != nil {
			return nil, err
		}

		chunks = append(chunks, models.ChunkDescriptor{
			Index:       index,
			OffsetSec:   offset,
			Path:        outPath,
			DurationSec: chunkDuration,
		})
	}

	return chunks, nil
}

func (c *Chunker) extract(srcPath, outPath string, offsetSec, durationSec float64) error {
	cmd := exec.Command(c.ffmpegPath,
		"-i", srcPath,
		"-ss", strconv.FormatFloat(offsetSec, 'f', 3, 64),
		"-t", strconv.FormatFloat(durationSec, 'f', 3, 64),
		"-acodec", "pcm_s16le",
		"-y",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errs.New("chunker.extract", errs.Fatal,
			fmt.Errorf("ffmpeg chunk extraction failed: %w (%s)", err, strings.TrimSpace(string(out))))
	}
	return nil
}

// ShouldChunk reports whether duration exceeds the configured chunking
// threshold (§2, "the chunking branch activates only when audio duration
// exceeds a threshold").
func ShouldChunk(duration, thresholdSec float64) bool {
	return duration > thresholdSec
}
