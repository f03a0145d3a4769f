package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lyrascribe/lyrascribe/internal/media"
	"github.com/lyrascribe/lyrascribe/internal/subtitle"
	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
)

// maxSplitDepth bounds the recursion. With the default 180 s threshold this
// admits artifacts of over a month of audio before giving up.
const maxSplitDepth = 14

// transcribeTree transcribes one artifact, splitting at silence and
// recursing on failure.
//
// The contract mirrors the adapter's: a returned error is a hard failure; a
// result with Success=false is a provider content block, which the caller
// turns into a job failure. Token counts are summed across successful
// subtree evaluations only.
//
// Split artifacts are written into the job's scratch directory before the
// recursion descends, so CLEANUP removes them with everything else even when
// a subtree fails.
func (w *Worker) transcribeTree(ctx context.Context, j *job, path, prompt string, depth int) (speech.TranscriptionResult, error) {
	if depth > maxSplitDepth {
		return speech.TranscriptionResult{}, fmt.Errorf("split depth %d exceeded", maxSplitDepth)
	}

	res, callErr := j.adapter.Transcribe(ctx, path, prompt)
	if callErr == nil && res.Success {
		return res, nil
	}

	// The artifact failed outright or was blocked. Short or unmeasurable
	// artifacts accept the failure verbatim; longer ones are split at the
	// best silence gap near the middle and both halves retried.
	duration := w.artifactDuration(path)
	if duration <= 0 || duration < w.splitThreshold {
		if callErr != nil {
			return speech.TranscriptionResult{}, fmt.Errorf("transcribe %q: %w", filepath.Base(path), callErr)
		}
		return res, nil
	}

	part1, part2, split, splitErr := w.vad.SplitNearMiddle(path, filepath.Dir(path), w.minSilence)
	if splitErr != nil {
		// No split possible: the original failure stands.
		j.log.Warn("silence split unavailable", "file", filepath.Base(path), "error", splitErr)
		if callErr != nil {
			return speech.TranscriptionResult{}, fmt.Errorf("transcribe %q: %w", filepath.Base(path), callErr)
		}
		return res, nil
	}

	j.log.Info("splitting artifact after failed transcription",
		"file", filepath.Base(path), "duration_s", duration, "split_s", split, "depth", depth)
	w.metrics.TranscriptionSplits.Add(ctx, 1)

	first, err := w.transcribeTree(ctx, j, part1, prompt, depth+1)
	if err != nil {
		return speech.TranscriptionResult{}, err
	}
	if !first.Success {
		return first, nil
	}
	second, err := w.transcribeTree(ctx, j, part2, prompt, depth+1)
	if err != nil {
		return speech.TranscriptionResult{}, err
	}
	if !second.Success {
		return second, nil
	}

	// Merge: second-half timestamps move forward by the split time.
	merged := strings.TrimSpace(first.Text) + "\n" +
		strings.TrimSpace(subtitle.Shift(second.Text, split))
	return speech.TranscriptionResult{
		Success:      true,
		Text:         merged,
		InputTokens:  first.InputTokens + second.InputTokens,
		OutputTokens: first.OutputTokens + second.OutputTokens,
		TotalTokens:  first.TotalTokens + second.TotalTokens,
	}, nil
}

// artifactDuration probes an artifact, treating unknown containers as
// unmeasurable rather than failing.
func (w *Worker) artifactDuration(path string) float64 {
	info, err := media.Probe(path)
	if err != nil {
		if !errors.Is(err, media.ErrNotWAV) {
			w.log.Warn("probing artifact failed", "file", filepath.Base(path), "error", err)
		}
		return 0
	}
	return info.Duration
}
