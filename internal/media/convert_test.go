package media_test

import (
	"testing"

	"github.com/lyrascribe/lyrascribe/internal/media"
)

func TestDownmixMono(t *testing.T) {
	t.Parallel()

	t.Run("stereo averages channels", func(t *testing.T) {
		t.Parallel()
		stereo := &media.Clip{
			SampleRate: 8000,
			Channels:   2,
			Samples:    []int16{100, 300, -200, 200, 32767, 32767},
		}
		mono := media.DownmixMono(stereo)
		if mono.Channels != 1 {
			t.Fatalf("Channels = %d, want 1", mono.Channels)
		}
		want := []int16{200, 0, 32767}
		for i, w := range want {
			if mono.Samples[i] != w {
				t.Errorf("sample %d = %d, want %d", i, mono.Samples[i], w)
			}
		}
	})

	t.Run("mono passes through", func(t *testing.T) {
		t.Parallel()
		mono := &media.Clip{SampleRate: 8000, Channels: 1, Samples: []int16{1, 2, 3}}
		if got := media.DownmixMono(mono); got != mono {
			t.Error("DownmixMono: expected identical clip for mono input")
		}
	})
}

func TestResample(t *testing.T) {
	t.Parallel()

	t.Run("halving the rate halves the samples", func(t *testing.T) {
		t.Parallel()
		in := &media.Clip{SampleRate: 16000, Channels: 1, Samples: make([]int16, 16000)}
		out := media.Resample(in, 8000)
		if out.SampleRate != 8000 {
			t.Errorf("SampleRate = %d, want 8000", out.SampleRate)
		}
		if len(out.Samples) != 8000 {
			t.Errorf("len(Samples) = %d, want 8000", len(out.Samples))
		}
	})

	t.Run("same rate passes through", func(t *testing.T) {
		t.Parallel()
		in := &media.Clip{SampleRate: 16000, Channels: 1, Samples: []int16{5}}
		if got := media.Resample(in, 16000); got != in {
			t.Error("Resample: expected identical clip at the same rate")
		}
	})

	t.Run("duration is preserved", func(t *testing.T) {
		t.Parallel()
		in := sineClip(44100, 1.0)
		out := media.Resample(in, 16000)
		if d := out.Duration(); d < 0.99 || d > 1.01 {
			t.Errorf("Duration = %v, want ≈1.0", d)
		}
	})
}

func TestClipSlice(t *testing.T) {
	t.Parallel()

	clip := &media.Clip{SampleRate: 10, Channels: 1, Samples: []int16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}}

	sub := clip.Slice(2, 5)
	if len(sub.Samples) != 3 || sub.Samples[0] != 2 {
		t.Errorf("Slice(2,5) = %v", sub.Samples)
	}

	if out := clip.Slice(-5, 100); len(out.Samples) != 10 {
		t.Errorf("Slice clamps: got %d samples, want 10", len(out.Samples))
	}

	if out := clip.Slice(7, 3); len(out.Samples) != 0 {
		t.Errorf("Slice(7,3): got %d samples, want 0", len(out.Samples))
	}
}
