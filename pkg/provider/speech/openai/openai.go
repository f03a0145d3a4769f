// Package openai implements the speech.Adapter interface on top of the
// OpenAI chat completions API with inline audio input.
//
// Unlike the Gemini Files API there is no server-side blob lifecycle: audio
// is base64-encoded into the request, so Release has nothing to delete.
// Only wav and mp3 blobs are accepted, matching the input_audio formats the
// API supports.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
)

var _ speech.Adapter = (*Adapter)(nil)

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithBaseURL points the adapter at a different API endpoint, primarily for
// tests.
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.requestOpts = append(a.requestOpts, option.WithBaseURL(url)) }
}

// Adapter implements speech.Adapter backed by the OpenAI API.
type Adapter struct {
	model       string
	requestOpts []option.RequestOption
	client      openai.Client
}

// New creates an OpenAI adapter from per-job credentials.
func New(cfg speech.Config, opts ...Option) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	a := &Adapter{
		model:       cfg.Model,
		requestOpts: []option.RequestOption{option.WithAPIKey(cfg.APIKey)},
	}
	for _, o := range opts {
		o(a)
	}
	a.client = openai.NewClient(a.requestOpts...)
	return a, nil
}

// Transcribe sends the audio inline with the prompt and returns the model's
// LRC transcript. A refusal is reported as Success=false, mirroring the
// content-block semantics of other providers.
func (a *Adapter) Transcribe(ctx context.Context, path, prompt string) (speech.TranscriptionResult, error) {
	format, err := audioFormat(path)
	if err != nil {
		return speech.TranscriptionResult{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return speech.TranscriptionResult{}, fmt.Errorf("openai: read %q: %w", path, err)
	}

	parts := []openai.ChatCompletionContentPartUnionParam{
		{OfText: &openai.ChatCompletionContentPartTextParam{Text: prompt}},
		{OfInputAudio: &openai.ChatCompletionContentPartInputAudioParam{
			InputAudio: openai.ChatCompletionContentPartInputAudioInputAudioParam{
				Data:   base64.StdEncoding.EncodeToString(raw),
				Format: format,
			},
		}},
	}

	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		}},
	})
	if err != nil {
		return speech.TranscriptionResult{}, fmt.Errorf("openai: chat completion: %w", err)
	}

	result := speech.TranscriptionResult{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if len(resp.Choices) == 0 {
		result.Text = "generation blocked by provider (no choices returned)"
		return result, nil
	}
	if refusal := resp.Choices[0].Message.Refusal; refusal != "" {
		result.Text = fmt.Sprintf("generation blocked by provider (refusal: %s)", refusal)
		return result, nil
	}
	result.Success = true
	result.Text = resp.Choices[0].Message.Content
	return result, nil
}

// Translate runs a text-only chat completion.
func (a *Adapter) Translate(ctx context.Context, text, prompt string) (speech.TranslationResult, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		return speech.TranslationResult{}, fmt.Errorf("openai: chat completion: %w", err)
	}

	result := speech.TranslationResult{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if len(resp.Choices) == 0 {
		result.Text = "generation blocked by provider (no choices returned)"
		return result, nil
	}
	if refusal := resp.Choices[0].Message.Refusal; refusal != "" {
		result.Text = fmt.Sprintf("generation blocked by provider (refusal: %s)", refusal)
		return result, nil
	}
	result.Success = true
	result.Text = resp.Choices[0].Message.Content
	return result, nil
}

// Release is a no-op; audio is sent inline and leaves no remote handles.
func (a *Adapter) Release(context.Context) error { return nil }

func audioFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "wav", nil
	case ".mp3":
		return "mp3", nil
	default:
		return "", fmt.Errorf("openai: unsupported audio container %q (wav and mp3 only)", filepath.Ext(path))
	}
}
