package vad

import (
	"math"

	"github.com/lyrascribe/lyrascribe/internal/media"
)

// EnergyDetector is a frame-energy voice activity detector. Each frame is
// classified by its RMS level against a threshold; adjacent speech frames
// are merged, short gaps are bridged, and segments shorter than the minimum
// speech duration are discarded. It holds no per-call state and is safe for
// concurrent use.
type EnergyDetector struct {
	// FrameDuration is the analysis window in seconds.
	FrameDuration float64

	// Threshold is the normalised RMS level ([0,1]) above which a frame
	// counts as speech.
	Threshold float64

	// MinSpeech is the minimum segment duration in seconds; shorter bursts
	// are treated as noise.
	MinSpeech float64

	// MergeGap bridges silences shorter than this many seconds between two
	// speech segments.
	MergeGap float64
}

// NewEnergyDetector returns a detector with defaults tuned for 16 kHz
// speech.
func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{
		FrameDuration: 0.03,
		Threshold:     0.015,
		MinSpeech:     0.25,
		MergeGap:      0.3,
	}
}

// SpeechTimestamps implements [Detector].
func (d *EnergyDetector) SpeechTimestamps(samples []int16, sampleRate int) []media.Interval {
	if sampleRate <= 0 || len(samples) == 0 {
		return nil
	}
	frameLen := int(d.FrameDuration * float64(sampleRate))
	if frameLen <= 0 {
		frameLen = 1
	}

	var raw []media.Interval
	var inSpeech bool
	var start float64

	for off := 0; off < len(samples); off += frameLen {
		end := min(off+frameLen, len(samples))
		speech := d.rms(samples[off:end]) >= d.Threshold
		t := float64(off) / float64(sampleRate)

		switch {
		case speech && !inSpeech:
			inSpeech = true
			start = t
		case !speech && inSpeech:
			inSpeech = false
			raw = append(raw, media.Interval{Start: start, End: t})
		}
	}
	if inSpeech {
		raw = append(raw, media.Interval{Start: start, End: float64(len(samples)) / float64(sampleRate)})
	}

	return d.smooth(raw)
}

// smooth bridges short gaps and drops segments below the minimum duration.
func (d *EnergyDetector) smooth(raw []media.Interval) []media.Interval {
	var merged []media.Interval
	for _, iv := range raw {
		if n := len(merged); n > 0 && iv.Start-merged[n-1].End < d.MergeGap {
			merged[n-1].End = iv.End
			continue
		}
		merged = append(merged, iv)
	}

	out := merged[:0]
	for _, iv := range merged {
		if iv.Duration() >= d.MinSpeech {
			out = append(out, iv)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// rms computes the normalised root-mean-square level of a frame.
func (d *EnergyDetector) rms(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}
