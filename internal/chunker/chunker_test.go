package chunker

import "testing"

func TestShouldChunk(t *testing.T) {
	cases := []struct {
		duration, threshold float64
		want                bool
	}{
		{1000, 1800, false},
		{1800, 1800, false},
		{1801, 1800, true},
	}
	for _, c := range cases {
		if got := ShouldChunk(c.duration, c.threshold); got != c.want {
			t.Errorf("ShouldChunk(%v, %v) = %v, want %v", c.duration, c.threshold, got, c.want)
		}
	}
}

func TestSplitRejectsInvalidWindow(t *testing.T) {
	c := &Chunker{ffmpegPath: "/bin/true"}

	if _, err := c.Split("in.wav", 100, 10, 10); err == nil {
		t.Fatal("expected error when window_sec == overlap_sec")
	}
	if _, err := c.Split("in.wav", 100, 10, 0); err == nil {
		t.Fatal("expected error when overlap_sec is zero")
	}
	if _, err := c.Split("in.wav", 0, 100, 10); err == nil {
		t.Fatal("expected error when duration is zero")
	}
}

func TestSplitOffsets(t *testing.T) {
	// window=30, overlap=5 => stride 25. duration=70 should give offsets 0,25,50.
	c := &Chunker{ffmpegPath: "/bin/true"}
	chunks, err := c.Split("in.wav", 70, 30, 5)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	want := []float64{0, 25, 50}
	if len(chunks) != len(want) {
		t.Fatalf("got %d offsets, want %d", len(chunks), len(want))
	}
	for i := range want {
		if chunks[i].OffsetSec != want[i] {
			t.Errorf("offset[%d] = %v, want %v", i, chunks[i].OffsetSec, want[i])
		}
	}

	// last chunk duration should be shorter than window_sec.
	lastDuration := chunks[len(chunks)-1].DurationSec
	if lastDuration != 20 {
		t.Errorf("last chunk duration = %v, want 20", lastDuration)
	}
}
