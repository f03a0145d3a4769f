// Package speech defines the Adapter interface for generative speech-model
// providers.
//
// An Adapter wraps one provider account (API key + model id) for the
// duration of a single job. It uploads media blobs, invokes transcription
// and translation, reports token usage, and tracks every remote blob handle
// it creates so that Release can delete them when the job reaches a
// terminal state.
//
// Adapters are single-owner: one job, one goroutine. Retry across failed
// calls is the caller's concern; adapters surface each outcome exactly once.
package speech

import "context"

// TranscriptionResult is the outcome of one transcription call.
//
// Success=false with a non-empty Text means the provider answered but
// declined to generate (e.g. a safety block); Text then carries a
// human-readable description and the token fields any prompt tokens that
// were still counted. Transport and server errors are returned as Go errors
// instead.
type TranscriptionResult struct {
	Success      bool
	Text         string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// TranslationResult is the outcome of one translation call, with the same
// Success semantics as [TranscriptionResult].
type TranslationResult struct {
	Success      bool
	Text         string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Adapter is the provider-facing contract of the pipeline.
type Adapter interface {
	// Transcribe uploads the media file at path, waits for server-side
	// processing to finish, and asks the model for an LRC transcript
	// following prompt.
	Transcribe(ctx context.Context, path, prompt string) (TranscriptionResult, error)

	// Translate asks the model to translate text following prompt.
	Translate(ctx context.Context, text, prompt string) (TranslationResult, error)

	// Release deletes every remote blob handle this adapter created.
	// Safe to call more than once.
	Release(ctx context.Context) error
}

// Config carries the per-job provider settings an adapter constructor
// receives.
type Config struct {
	// APIKey is the opaque credential string supplied at submission.
	APIKey string

	// Model is the provider-side model id.
	Model string
}
