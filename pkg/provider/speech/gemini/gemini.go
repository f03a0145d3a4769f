// Package gemini implements the speech.Adapter interface for the Google
// Gemini API.
//
// Media is pushed through the Files API using the resumable upload
// protocol, polled until the remote blob reaches a terminal processing
// state, and then referenced from a generateContent call. Token usage is
// taken from the response usage metadata. Every uploaded file handle is
// remembered so Release can delete it.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
)

// Compile-time assertion that Adapter satisfies the speech interface.
var _ speech.Adapter = (*Adapter)(nil)

const (
	defaultBaseURL      = "https://generativelanguage.googleapis.com"
	defaultPollInterval = 2 * time.Second

	// thinkingBudget bounds the model's internal reasoning tokens for
	// transcription calls.
	thinkingBudget = 128
)

// file states reported by the Files API.
const (
	stateProcessing = "PROCESSING"
	stateActive     = "ACTIVE"
	stateFailed     = "FAILED"
)

// Option is a functional option for configuring an Adapter.
type Option func(*Adapter)

// WithBaseURL overrides the API base URL. Primarily used in tests to point
// at a local mock server.
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.http = c }
}

// WithPollInterval overrides the file-processing poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(a *Adapter) { a.pollInterval = d }
}

// Adapter implements speech.Adapter backed by the Gemini REST API.
type Adapter struct {
	apiKey       string
	model        string
	baseURL      string
	pollInterval time.Duration
	http         *http.Client

	mu       sync.Mutex
	uploaded []string // remote file resource names, e.g. "files/abc123"
}

// New creates a Gemini adapter from per-job credentials.
func New(cfg speech.Config, opts ...Option) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key must not be empty")
	}
	if cfg.Model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	a := &Adapter{
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		baseURL:      defaultBaseURL,
		pollInterval: defaultPollInterval,
		http:         &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// remoteFile is the subset of the Files API resource the adapter needs.
type remoteFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	State    string `json:"state"`
	MimeType string `json:"mimeType"`
}

// Transcribe uploads the media file, waits for processing, and generates an
// LRC transcript. A safety block is reported as Success=false with any
// counted prompt tokens, not as an error.
func (a *Adapter) Transcribe(ctx context.Context, path, prompt string) (speech.TranscriptionResult, error) {
	file, err := a.upload(ctx, path)
	if err != nil {
		return speech.TranscriptionResult{}, err
	}

	file, err = a.awaitProcessed(ctx, file)
	if err != nil {
		return speech.TranscriptionResult{}, err
	}

	resp, err := a.generate(ctx, []part{
		{Text: prompt},
		{FileData: &fileData{FileURI: file.URI, MimeType: file.MimeType}},
	}, &generationConfig{ThinkingConfig: &thinkingConfig{ThinkingBudget: thinkingBudget}})
	if err != nil {
		return speech.TranscriptionResult{}, err
	}

	result := speech.TranscriptionResult{
		Success:      true,
		Text:         resp.text(),
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  resp.UsageMetadata.TotalTokenCount,
	}
	if len(resp.Candidates) == 0 {
		result.Success = false
		result.Text = blockDescription(resp)
	}
	return result, nil
}

// Translate runs a text-only generateContent call.
func (a *Adapter) Translate(ctx context.Context, text, prompt string) (speech.TranslationResult, error) {
	resp, err := a.generate(ctx, []part{{Text: prompt}, {Text: text}}, nil)
	if err != nil {
		return speech.TranslationResult{}, err
	}

	result := speech.TranslationResult{
		Success:      true,
		Text:         resp.text(),
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  resp.UsageMetadata.TotalTokenCount,
	}
	if len(resp.Candidates) == 0 {
		result.Success = false
		result.Text = blockDescription(resp)
	}
	return result, nil
}

// Release deletes every remote file this adapter uploaded. Errors are
// joined so one failed delete does not hide the others.
func (a *Adapter) Release(ctx context.Context) error {
	a.mu.Lock()
	names := a.uploaded
	a.uploaded = nil
	a.mu.Unlock()

	var errs []error
	for _, name := range names {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/v1beta/"+name, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.auth(req)
		resp, err := a.http.Do(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("gemini: delete %s: %w", name, err))
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			errs = append(errs, fmt.Errorf("gemini: delete %s: status %d", name, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}

// upload pushes the file via the resumable upload protocol and records the
// returned handle for later release.
func (a *Adapter) upload(ctx context.Context, path string) (remoteFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return remoteFile{}, fmt.Errorf("gemini: stat %q: %w", path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// Step 1: start the resumable session.
	meta, err := json.Marshal(map[string]any{
		"file": map[string]any{"display_name": filepath.Base(path)},
	})
	if err != nil {
		return remoteFile{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/upload/v1beta/files", bytes.NewReader(meta))
	if err != nil {
		return remoteFile{}, err
	}
	a.auth(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Upload-Protocol", "resumable")
	req.Header.Set("X-Goog-Upload-Command", "start")
	req.Header.Set("X-Goog-Upload-Header-Content-Length", strconv.FormatInt(info.Size(), 10))
	req.Header.Set("X-Goog-Upload-Header-Content-Type", mimeType)

	resp, err := a.http.Do(req)
	if err != nil {
		return remoteFile{}, fmt.Errorf("gemini: start upload: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return remoteFile{}, fmt.Errorf("gemini: start upload: status %d", resp.StatusCode)
	}
	uploadURL := resp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return remoteFile{}, errors.New("gemini: start upload: missing X-Goog-Upload-URL header")
	}

	// Step 2: send the bytes and finalize.
	f, err := os.Open(path)
	if err != nil {
		return remoteFile{}, fmt.Errorf("gemini: open %q: %w", path, err)
	}
	defer f.Close()

	req, err = http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, f)
	if err != nil {
		return remoteFile{}, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	req.Header.Set("X-Goog-Upload-Offset", "0")

	resp, err = a.http.Do(req)
	if err != nil {
		return remoteFile{}, fmt.Errorf("gemini: upload bytes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return remoteFile{}, fmt.Errorf("gemini: upload bytes: status %d", resp.StatusCode)
	}

	var body struct {
		File remoteFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return remoteFile{}, fmt.Errorf("gemini: decode upload response: %w", err)
	}
	if body.File.MimeType == "" {
		body.File.MimeType = mimeType
	}

	a.mu.Lock()
	a.uploaded = append(a.uploaded, body.File.Name)
	a.mu.Unlock()

	return body.File, nil
}

// awaitProcessed polls the file resource until it leaves the PROCESSING
// state. A FAILED terminal state is an error.
func (a *Adapter) awaitProcessed(ctx context.Context, file remoteFile) (remoteFile, error) {
	for file.State == stateProcessing {
		select {
		case <-ctx.Done():
			return remoteFile{}, ctx.Err()
		case <-time.After(a.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1beta/"+file.Name, nil)
		if err != nil {
			return remoteFile{}, err
		}
		a.auth(req)
		resp, err := a.http.Do(req)
		if err != nil {
			return remoteFile{}, fmt.Errorf("gemini: poll file %s: %w", file.Name, err)
		}
		var polled remoteFile
		err = json.NewDecoder(resp.Body).Decode(&polled)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if err != nil {
			return remoteFile{}, fmt.Errorf("gemini: decode file %s: %w", file.Name, err)
		}
		if polled.MimeType == "" {
			polled.MimeType = file.MimeType
		}
		file = polled
	}
	if file.State == stateFailed {
		return remoteFile{}, fmt.Errorf("gemini: remote processing of %s failed", file.Name)
	}
	return file, nil
}

func (a *Adapter) auth(req *http.Request) {
	req.Header.Set("x-goog-api-key", a.apiKey)
}
