package vad_test

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lyrascribe/lyrascribe/internal/media"
	"github.com/lyrascribe/lyrascribe/internal/vad"
)

// stubDetector returns a fixed interval list regardless of the audio.
type stubDetector struct {
	intervals []media.Interval
}

func (d *stubDetector) SpeechTimestamps([]int16, int) []media.Interval {
	return d.intervals
}

// silentClip builds a mono all-zero clip.
func silentClip(rate int, seconds float64) *media.Clip {
	return &media.Clip{
		SampleRate: rate,
		Channels:   1,
		Samples:    make([]int16, int(seconds*float64(rate))),
	}
}

func writeClip(t *testing.T, dir, name string, clip *media.Clip) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := media.WriteWAV(path, clip); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	return path
}

func TestSplitNearMiddle(t *testing.T) {
	t.Parallel()

	t.Run("prefers the silence gap closest to the middle", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeClip(t, dir, "long.wav", silentClip(8000, 60))

		// Gaps at 10–12 s and 28–30 s; the second midpoint (29) is nearer
		// to 30 than the first (11).
		det := &stubDetector{intervals: []media.Interval{
			{Start: 0, End: 10},
			{Start: 12, End: 28},
			{Start: 30, End: 60},
		}}
		e := vad.NewEngine(vad.WithDetector(det))

		part1, part2, split, err := e.SplitNearMiddle(path, dir, 1.0)
		if err != nil {
			t.Fatalf("SplitNearMiddle: %v", err)
		}
		if math.Abs(split-29) > 0.001 {
			t.Errorf("split = %v, want 29", split)
		}

		info1, err := media.Probe(part1)
		if err != nil {
			t.Fatalf("Probe part1: %v", err)
		}
		info2, err := media.Probe(part2)
		if err != nil {
			t.Fatalf("Probe part2: %v", err)
		}
		if math.Abs(info1.Duration-29) > 0.01 {
			t.Errorf("part1 duration = %v, want 29", info1.Duration)
		}
		if math.Abs(info2.Duration-31) > 0.01 {
			t.Errorf("part2 duration = %v, want 31", info2.Duration)
		}
		if !strings.HasSuffix(part1, ".part1.wav") || !strings.HasSuffix(part2, ".part2.wav") {
			t.Errorf("part names = %q, %q", part1, part2)
		}
	})

	t.Run("too short gaps fall back to the midpoint", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeClip(t, dir, "dense.wav", silentClip(8000, 40))

		det := &stubDetector{intervals: []media.Interval{
			{Start: 0, End: 19.8},
			{Start: 20.2, End: 40}, // 0.4 s gap, below the 1 s minimum
		}}
		e := vad.NewEngine(vad.WithDetector(det))

		_, _, split, err := e.SplitNearMiddle(path, dir, 1.0)
		if err != nil {
			t.Fatalf("SplitNearMiddle: %v", err)
		}
		if math.Abs(split-20) > 0.001 {
			t.Errorf("split = %v, want midpoint 20", split)
		}
	})

	t.Run("no intervals fall back to the midpoint", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeClip(t, dir, "quiet.wav", silentClip(8000, 10))

		e := vad.NewEngine(vad.WithDetector(&stubDetector{}))
		_, _, split, err := e.SplitNearMiddle(path, dir, 1.0)
		if err != nil {
			t.Fatalf("SplitNearMiddle: %v", err)
		}
		if math.Abs(split-5) > 0.001 {
			t.Errorf("split = %v, want midpoint 5", split)
		}
	})
}

func TestSpeechOnly(t *testing.T) {
	t.Parallel()

	t.Run("concatenates the detected intervals", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeClip(t, dir, "talk.wav", silentClip(8000, 30))

		det := &stubDetector{intervals: []media.Interval{
			{Start: 2, End: 5},
			{Start: 10, End: 14},
		}}
		e := vad.NewEngine(vad.WithDetector(det))

		outPath, segments, err := e.SpeechOnly(path, dir)
		if err != nil {
			t.Fatalf("SpeechOnly: %v", err)
		}
		if !strings.HasSuffix(outPath, "_speech_only.wav") {
			t.Errorf("outPath = %q", outPath)
		}
		if len(segments) != 2 || segments[0].Start != 2 || segments[1].End != 14 {
			t.Errorf("segments = %+v, want original intervals", segments)
		}

		info, err := media.Probe(outPath)
		if err != nil {
			t.Fatalf("Probe: %v", err)
		}
		if math.Abs(info.Duration-7) > 0.01 {
			t.Errorf("speech-only duration = %v, want 7", info.Duration)
		}
	})

	t.Run("no speech is an error", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeClip(t, dir, "empty.wav", silentClip(8000, 5))

		e := vad.NewEngine(vad.WithDetector(&stubDetector{}))
		if _, _, err := e.SpeechOnly(path, dir); err == nil {
			t.Fatal("SpeechOnly: expected error for silent input")
		}
	})
}

func TestEnergyDetector(t *testing.T) {
	t.Parallel()

	rate := 16000
	// One second of silence, one second of tone, one second of silence.
	samples := make([]int16, 3*rate)
	for i := rate; i < 2*rate; i++ {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*300*float64(i)/float64(rate)))
	}

	det := vad.NewEnergyDetector()
	intervals := det.SpeechTimestamps(samples, rate)
	if len(intervals) != 1 {
		t.Fatalf("SpeechTimestamps: expected 1 interval, got %d (%+v)", len(intervals), intervals)
	}
	if intervals[0].Start > 1.1 || intervals[0].Start < 0.9 {
		t.Errorf("Start = %v, want ≈1.0", intervals[0].Start)
	}
	if intervals[0].End > 2.1 || intervals[0].End < 1.9 {
		t.Errorf("End = %v, want ≈2.0", intervals[0].End)
	}

	if got := det.SpeechTimestamps(nil, rate); got != nil {
		t.Errorf("SpeechTimestamps(nil) = %+v, want nil", got)
	}
}
