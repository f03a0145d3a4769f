// Package media handles on-disk media artifacts for transcription jobs:
// reading and writing PCM WAV files, probing duration, converting sample
// formats, and managing per-job scratch storage.
//
// Only 16-bit PCM WAV is decoded natively. Other containers from the intake
// allow-list (mp3, mp4, …) are passed to the speech provider untouched;
// probing them yields an unknown (zero) duration, which callers tolerate.
package media

import "fmt"

// Interval is a half-open span of seconds on a media timeline. Intervals
// produced by detection are ordered and non-overlapping with Start < End.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the interval length in seconds.
func (iv Interval) Duration() float64 { return iv.End - iv.Start }

func (iv Interval) String() string {
	return fmt.Sprintf("[%.2fs → %.2fs]", iv.Start, iv.End)
}

// Info describes a probed media artifact.
type Info struct {
	// SampleRate in Hz. Zero when the container could not be decoded.
	SampleRate int

	// Channels is the interleaved channel count. Zero when unknown.
	Channels int

	// Duration in seconds. Zero when unknown.
	Duration float64
}

// Clip is a fully decoded PCM16 audio clip. Samples are interleaved when
// Channels > 1.
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)/c.Channels) / float64(c.SampleRate)
}

// Frames returns the number of sample frames (samples per channel).
func (c *Clip) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Slice returns a sub-clip covering [from, to) in sample frames. Bounds are
// clamped to the clip length.
func (c *Clip) Slice(from, to int) *Clip {
	n := c.Frames()
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from >= to {
		return &Clip{SampleRate: c.SampleRate, Channels: c.Channels}
	}
	return &Clip{
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Samples:    c.Samples[from*c.Channels : to*c.Channels],
	}
}
