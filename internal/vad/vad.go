// Package vad locates speech in media artifacts and derives split points and
// speech-only renditions from the detected intervals.
//
// Detection always runs at a fixed internal 16 kHz mono rate; returned
// intervals are seconds on the original timeline. The detector instance is
// expensive to build in principle, so it is created lazily on first use and
// shared process-wide. Detectors must be safe for concurrent calls.
package vad

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lyrascribe/lyrascribe/internal/media"
)

// SampleRate is the fixed internal detection rate in Hz.
const SampleRate = 16000

// DefaultMinSilence is the minimum silence gap (seconds) considered a split
// candidate.
const DefaultMinSilence = 1.0

// Detector finds speech intervals in mono PCM16 audio at the given rate.
type Detector interface {
	SpeechTimestamps(samples []int16, sampleRate int) []media.Interval
}

var (
	defaultDetectorOnce sync.Once
	defaultDetector     Detector
)

// sharedDetector returns the process-wide detector, building it on first use.
func sharedDetector() Detector {
	defaultDetectorOnce.Do(func() {
		defaultDetector = NewEnergyDetector()
	})
	return defaultDetector
}

// Engine exposes the three VAD operations used by the pipeline. The zero
// value is not usable; construct with [NewEngine].
type Engine struct {
	det Detector
}

// Option configures an [Engine].
type Option func(*Engine)

// WithDetector overrides the shared detector, primarily for tests.
func WithDetector(det Detector) Option {
	return func(e *Engine) { e.det = det }
}

// NewEngine creates an Engine backed by the shared process-wide detector
// unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	if e.det == nil {
		e.det = sharedDetector()
	}
	return e
}

// Intervals returns the ordered speech intervals of the WAV artifact at
// path, in original-time seconds.
func (e *Engine) Intervals(path string) ([]media.Interval, error) {
	_, intervals, err := e.analyze(path)
	return intervals, err
}

// analyze decodes the artifact, runs detection at the internal rate, and
// returns the original-rate clip alongside the intervals.
func (e *Engine) analyze(path string) (*media.Clip, []media.Interval, error) {
	clip, err := media.ReadWAV(path)
	if err != nil {
		return nil, nil, fmt.Errorf("vad: read %q: %w", path, err)
	}
	mono := media.Resample(media.DownmixMono(clip), SampleRate)
	return clip, e.det.SpeechTimestamps(mono.Samples, SampleRate), nil
}

// SplitNearMiddle splits the artifact into two WAV files at the silence gap
// whose midpoint lies closest to the temporal midpoint, considering only
// gaps of at least minSilence seconds. When no gap qualifies the split falls
// back to the exact midpoint. Returns both artifact paths and the split time.
func (e *Engine) SplitNearMiddle(path, outDir string, minSilence float64) (part1, part2 string, split float64, err error) {
	if minSilence <= 0 {
		minSilence = DefaultMinSilence
	}

	clip, intervals, err := e.analyze(path)
	if err != nil {
		return "", "", 0, err
	}
	total := clip.Duration()
	if total <= 0 {
		return "", "", 0, fmt.Errorf("vad: artifact %q has no audio", path)
	}

	split = bestSplitPoint(intervals, total, minSilence)

	splitFrame := int(split * float64(clip.SampleRate))
	head := clip.Slice(0, splitFrame)
	tail := clip.Slice(splitFrame, clip.Frames())
	if head.Frames() == 0 || tail.Frames() == 0 {
		return "", "", 0, fmt.Errorf("vad: split point %.2fs leaves an empty part", split)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	part1 = filepath.Join(outDir, stem+".part1.wav")
	part2 = filepath.Join(outDir, stem+".part2.wav")

	if err := media.WriteWAV(part1, head); err != nil {
		return "", "", 0, err
	}
	if err := media.WriteWAV(part2, tail); err != nil {
		return "", "", 0, err
	}
	return part1, part2, split, nil
}

// bestSplitPoint scans the gaps between consecutive speech intervals and
// picks the qualifying gap midpoint closest to total/2, falling back to the
// exact midpoint.
func bestSplitPoint(intervals []media.Interval, total, minSilence float64) float64 {
	midpoint := total / 2
	best := -1.0
	for i := 0; i+1 < len(intervals); i++ {
		gapStart := intervals[i].End
		gapEnd := intervals[i+1].Start
		if gapEnd-gapStart < minSilence {
			continue
		}
		candidate := (gapStart + gapEnd) / 2
		if best < 0 || abs(candidate-midpoint) < abs(best-midpoint) {
			best = candidate
		}
	}
	if best < 0 {
		return midpoint
	}
	return best
}

// SpeechOnly concatenates the samples spanned by each detected interval, in
// order and at the original sample rate, into a new WAV artifact. The
// returned intervals are on the original timeline so that timestamps can be
// remapped after transcription.
func (e *Engine) SpeechOnly(path, outDir string) (string, []media.Interval, error) {
	clip, intervals, err := e.analyze(path)
	if err != nil {
		return "", nil, err
	}
	if len(intervals) == 0 {
		return "", nil, fmt.Errorf("vad: no speech detected in %q", path)
	}

	out := &media.Clip{SampleRate: clip.SampleRate, Channels: clip.Channels}
	for _, iv := range intervals {
		from := int(iv.Start * float64(clip.SampleRate))
		to := int(iv.End * float64(clip.SampleRate))
		out.Samples = append(out.Samples, clip.Slice(from, to).Samples...)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outPath := filepath.Join(outDir, stem+"_speech_only.wav")
	if err := media.WriteWAV(outPath, out); err != nil {
		return "", nil, err
	}
	return outPath, intervals, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
