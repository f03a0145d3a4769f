package subtitle_test

import (
	"testing"

	"github.com/lyrascribe/lyrascribe/internal/media"
	"github.com/lyrascribe/lyrascribe/internal/subtitle"
)

func TestShift(t *testing.T) {
	t.Parallel()

	t.Run("zero offset is identity", func(t *testing.T) {
		t.Parallel()
		in := "[00:02.00] A\nnot timed\n[00:05.00] B"
		if got := subtitle.Shift(in, 0); got != in {
			t.Errorf("Shift(0) = %q, want input unchanged", got)
		}
	})

	t.Run("offset moves every timestamp", func(t *testing.T) {
		t.Parallel()
		got := subtitle.Shift("[00:02.00] A\n[00:03.00] B", 210)
		want := "[03:32.00] A\n[03:33.00] B"
		if got != want {
			t.Errorf("Shift = %q, want %q", got, want)
		}
	})

	t.Run("untimed lines survive verbatim", func(t *testing.T) {
		t.Parallel()
		got := subtitle.Shift("header line\n[00:01.00] x", 60)
		want := "header line\n[01:01.00] x"
		if got != want {
			t.Errorf("Shift = %q, want %q", got, want)
		}
	})
}

func TestRemap(t *testing.T) {
	t.Parallel()

	segments := []media.Interval{
		{Start: 10, End: 15},
		{Start: 30, End: 40},
	}

	t.Run("lines move back onto the original timeline", func(t *testing.T) {
		t.Parallel()
		// Concatenated timeline: [0,5) maps into the first segment,
		// [5,15) into the second.
		lrc := "[00:02.00] first\n[00:07.00] second"
		got := subtitle.Remap(lrc, segments)
		want := "[00:12.00] first\n[00:32.00] second"
		if got != want {
			t.Errorf("Remap = %q, want %q", got, want)
		}
	})

	t.Run("lines past the last segment are dropped", func(t *testing.T) {
		t.Parallel()
		lrc := "[00:02.00] kept\n[00:20.00] dropped"
		got := subtitle.Remap(lrc, segments)
		want := "[00:12.00] kept"
		if got != want {
			t.Errorf("Remap = %q, want %q", got, want)
		}
	})

	t.Run("text tail survives verbatim", func(t *testing.T) {
		t.Parallel()
		// No separator between timestamp and text; Remap must not invent one.
		got := subtitle.Remap("[00:02.00]first", segments)
		want := "[00:12.00]first"
		if got != want {
			t.Errorf("Remap = %q, want %q", got, want)
		}
	})

	t.Run("no segments yields empty output", func(t *testing.T) {
		t.Parallel()
		if got := subtitle.Remap("[00:01.00] x", nil); got != "" {
			t.Errorf("Remap = %q, want empty", got)
		}
	})
}
