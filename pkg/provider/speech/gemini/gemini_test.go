package gemini_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
	"github.com/lyrascribe/lyrascribe/pkg/provider/speech/gemini"
)

// filesAPI fakes the subset of the Gemini REST surface the adapter talks
// to: resumable upload, file polling, generateContent, and delete.
type filesAPI struct {
	t *testing.T

	mu           sync.Mutex
	uploadedBody []byte
	polls        int
	pollsUntil   int // polls returning PROCESSING before ACTIVE
	generateReqs []map[string]any
	generateResp map[string]any
	deleted      []string

	srv *httptest.Server
}

func newFilesAPI(t *testing.T) *filesAPI {
	t.Helper()
	api := &filesAPI{
		t:          t,
		pollsUntil: 2,
		generateResp: map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{{"text": "[00:01.00] Hello."}},
				},
			}},
			"usageMetadata": map[string]any{
				"promptTokenCount":     1000,
				"candidatesTokenCount": 20,
				"totalTokenCount":      1020,
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/v1beta/files", api.handleStart)
	mux.HandleFunc("POST /upload/session", api.handleBytes)
	mux.HandleFunc("GET /v1beta/files/abc123", api.handlePoll)
	mux.HandleFunc("DELETE /v1beta/files/abc123", api.handleDelete)
	mux.HandleFunc("POST /v1beta/models/{model}", api.handleGenerate)

	api.srv = httptest.NewServer(mux)
	t.Cleanup(api.srv.Close)
	return api
}

func (api *filesAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
		api.t.Errorf("start upload api key = %q", got)
	}
	if got := r.Header.Get("X-Goog-Upload-Protocol"); got != "resumable" {
		api.t.Errorf("upload protocol = %q", got)
	}
	if got := r.Header.Get("X-Goog-Upload-Command"); got != "start" {
		api.t.Errorf("upload command = %q", got)
	}
	w.Header().Set("X-Goog-Upload-URL", api.srv.URL+"/upload/session")
}

func (api *filesAPI) handleBytes(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("X-Goog-Upload-Command"); got != "upload, finalize" {
		api.t.Errorf("finalize command = %q", got)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.t.Errorf("read upload body: %v", err)
	}
	api.mu.Lock()
	api.uploadedBody = body
	api.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"file": map[string]any{
			"name":     "files/abc123",
			"uri":      api.srv.URL + "/v1beta/files/abc123",
			"state":    "PROCESSING",
			"mimeType": "audio/wav",
		},
	})
}

func (api *filesAPI) handlePoll(w http.ResponseWriter, _ *http.Request) {
	api.mu.Lock()
	api.polls++
	state := "ACTIVE"
	if api.polls < api.pollsUntil {
		state = "PROCESSING"
	}
	api.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"name":     "files/abc123",
		"uri":      api.srv.URL + "/v1beta/files/abc123",
		"state":    state,
		"mimeType": "audio/wav",
	})
}

func (api *filesAPI) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.t.Errorf("decode generate request: %v", err)
	}
	api.mu.Lock()
	api.generateReqs = append(api.generateReqs, req)
	resp := api.generateResp
	api.mu.Unlock()
	json.NewEncoder(w).Encode(resp)
}

func (api *filesAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	api.deleted = append(api.deleted, r.URL.Path)
	api.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func newAdapter(t *testing.T, api *filesAPI) *gemini.Adapter {
	t.Helper()
	a, err := gemini.New(speech.Config{APIKey: "test-key", Model: "gemini-2.5-pro"},
		gemini.WithBaseURL(api.srv.URL),
		gemini.WithPollInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return a
}

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFFfake-audio"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := gemini.New(speech.Config{Model: "m"}); err == nil {
		t.Error("New accepted an empty api key")
	}
	if _, err := gemini.New(speech.Config{APIKey: "k"}); err == nil {
		t.Error("New accepted an empty model")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	api := newFilesAPI(t)
	a := newAdapter(t, api)

	res, err := a.Transcribe(t.Context(), audioFile(t), "transcribe to lrc")
	if err != nil {
		t.Fatalf("Transcribe: unexpected error: %v", err)
	}
	if !res.Success {
		t.Errorf("Success = false, text %q", res.Text)
	}
	if res.Text != "[00:01.00] Hello." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.InputTokens != 1000 || res.OutputTokens != 20 || res.TotalTokens != 1020 {
		t.Errorf("tokens = %d/%d/%d", res.InputTokens, res.OutputTokens, res.TotalTokens)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if string(api.uploadedBody) != "RIFFfake-audio" {
		t.Errorf("uploaded body = %q", api.uploadedBody)
	}
	// The file stayed PROCESSING for one poll, so the adapter polled twice.
	if api.polls != 2 {
		t.Errorf("polls = %d, want 2", api.polls)
	}
	if len(api.generateReqs) != 1 {
		t.Fatalf("generate requests = %d", len(api.generateReqs))
	}
	payload, _ := json.Marshal(api.generateReqs[0])
	if !strings.Contains(string(payload), "files/abc123") {
		t.Errorf("generate request does not reference the uploaded file: %s", payload)
	}
	if !strings.Contains(string(payload), "transcribe to lrc") {
		t.Errorf("generate request does not carry the prompt: %s", payload)
	}
}

func TestTranscribeBlocked(t *testing.T) {
	t.Parallel()

	api := newFilesAPI(t)
	api.generateResp = map[string]any{
		"promptFeedback": map[string]any{"blockReason": "SAFETY"},
		"usageMetadata":  map[string]any{"promptTokenCount": 900, "totalTokenCount": 900},
	}
	a := newAdapter(t, api)

	res, err := a.Transcribe(t.Context(), audioFile(t), "transcribe")
	if err != nil {
		t.Fatalf("Transcribe: unexpected error: %v", err)
	}
	if res.Success {
		t.Error("Success = true for a blocked response")
	}
	if !strings.Contains(res.Text, "SAFETY") {
		t.Errorf("Text = %q, want the block reason", res.Text)
	}
	if res.InputTokens != 900 {
		t.Errorf("InputTokens = %d, prompt tokens must still be counted", res.InputTokens)
	}
}

func TestTranscribeRemoteProcessingFailure(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload/v1beta/files", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Goog-Upload-URL", srv.URL+"/upload/session")
	})
	mux.HandleFunc("POST /upload/session", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"name": "files/abc123", "state": "FAILED"},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a, err := gemini.New(speech.Config{APIKey: "test-key", Model: "gemini-2.5-pro"},
		gemini.WithBaseURL(srv.URL),
		gemini.WithPollInterval(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	if _, err := a.Transcribe(t.Context(), audioFile(t), "transcribe"); err == nil {
		t.Fatal("Transcribe: expected error for a FAILED remote file")
	}
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	api := newFilesAPI(t)
	api.generateResp = map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{"parts": []map[string]any{{"text": "[00:01.00] 你好。"}}},
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount": 30, "candidatesTokenCount": 10, "totalTokenCount": 40,
		},
	}
	a := newAdapter(t, api)

	res, err := a.Translate(t.Context(), "[00:01.00] Hello.", "translate to zh-TW")
	if err != nil {
		t.Fatalf("Translate: unexpected error: %v", err)
	}
	if !res.Success || res.Text != "[00:01.00] 你好。" {
		t.Errorf("result = %+v", res)
	}
	if res.TotalTokens != 40 {
		t.Errorf("TotalTokens = %d", res.TotalTokens)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.generateReqs) != 1 {
		t.Fatalf("generate requests = %d", len(api.generateReqs))
	}
	payload, _ := json.Marshal(api.generateReqs[0])
	if strings.Contains(string(payload), "file_data") {
		t.Errorf("translation request must not attach media: %s", payload)
	}
}

func TestReleaseDeletesUploads(t *testing.T) {
	t.Parallel()

	api := newFilesAPI(t)
	a := newAdapter(t, api)

	if _, err := a.Transcribe(t.Context(), audioFile(t), "transcribe"); err != nil {
		t.Fatalf("Transcribe: unexpected error: %v", err)
	}
	if err := a.Release(t.Context()); err != nil {
		t.Fatalf("Release: unexpected error: %v", err)
	}

	api.mu.Lock()
	deleted := append([]string(nil), api.deleted...)
	api.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "/v1beta/files/abc123" {
		t.Fatalf("deleted = %v", deleted)
	}

	// A second release has nothing left to delete.
	if err := a.Release(t.Context()); err != nil {
		t.Fatalf("second Release: unexpected error: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.deleted) != 1 {
		t.Errorf("repeat release deleted again: %v", api.deleted)
	}
}
