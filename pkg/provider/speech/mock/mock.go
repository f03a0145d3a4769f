// Package mock provides a scripted speech.Adapter for tests.
package mock

import (
	"context"
	"sync"

	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
)

var _ speech.Adapter = (*Adapter)(nil)

// Call records one invocation made against the adapter.
type Call struct {
	Method string // "transcribe" or "translate"
	Path   string // media path for transcribe calls
	Text   string // input text for translate calls
	Prompt string
}

// Adapter replays scripted results in order. Each Transcribe call consumes
// the next TranscribeResults entry (the last entry repeats once exhausted),
// and likewise for Translate. All invocations are recorded for assertions.
type Adapter struct {
	mu sync.Mutex

	TranscribeResults []speech.TranscriptionResult
	TranscribeErrs    []error
	TranslateResults  []speech.TranslationResult
	TranslateErrs     []error

	// TranscribeFn, when set, overrides the scripted results entirely.
	TranscribeFn func(ctx context.Context, path, prompt string) (speech.TranscriptionResult, error)

	ReleaseErr error

	calls        []Call
	transcribes  int
	translates   int
	releaseCount int
}

// Calls returns a copy of every recorded invocation.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// ReleaseCount reports how many times Release has been called.
func (a *Adapter) ReleaseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseCount
}

func (a *Adapter) Transcribe(ctx context.Context, path, prompt string) (speech.TranscriptionResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Method: "transcribe", Path: path, Prompt: prompt})
	i := a.transcribes
	a.transcribes++
	fn := a.TranscribeFn
	a.mu.Unlock()

	if fn != nil {
		return fn(ctx, path, prompt)
	}
	if i < len(a.TranscribeErrs) && a.TranscribeErrs[i] != nil {
		return speech.TranscriptionResult{}, a.TranscribeErrs[i]
	}
	if len(a.TranscribeResults) == 0 {
		return speech.TranscriptionResult{Success: true}, nil
	}
	if i >= len(a.TranscribeResults) {
		i = len(a.TranscribeResults) - 1
	}
	return a.TranscribeResults[i], nil
}

func (a *Adapter) Translate(ctx context.Context, text, prompt string) (speech.TranslationResult, error) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Method: "translate", Text: text, Prompt: prompt})
	i := a.translates
	a.translates++
	a.mu.Unlock()

	if i < len(a.TranslateErrs) && a.TranslateErrs[i] != nil {
		return speech.TranslationResult{}, a.TranslateErrs[i]
	}
	if len(a.TranslateResults) == 0 {
		return speech.TranslationResult{Success: true, Text: text}, nil
	}
	if i >= len(a.TranslateResults) {
		i = len(a.TranslateResults) - 1
	}
	return a.TranslateResults[i], nil
}

func (a *Adapter) Release(context.Context) error {
	a.mu.Lock()
	a.releaseCount++
	a.mu.Unlock()
	return a.ReleaseErr
}
