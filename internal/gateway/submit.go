package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/lyrascribe/lyrascribe/internal/bus"
	"github.com/lyrascribe/lyrascribe/internal/joblog"
	"github.com/lyrascribe/lyrascribe/internal/observe"
	"github.com/lyrascribe/lyrascribe/internal/queue"
)

// maxUploadMemory bounds how much of a multipart body is buffered in memory
// before spilling to temp files.
const maxUploadMemory = 64 << 20

// supportedMIMETypes is the fixed admission allow-list of media containers.
var supportedMIMETypes = map[string]bool{
	"audio/wav":       true,
	"audio/x-wav":     true,
	"audio/wave":      true,
	"audio/mp3":       true,
	"audio/mpeg":      true,
	"audio/flac":      true,
	"audio/x-flac":    true,
	"audio/opus":      true,
	"audio/ogg":       true,
	"audio/m4a":       true,
	"audio/x-m4a":     true,
	"audio/mp4":       true,
	"audio/aac":       true,
	"audio/webm":      true,
	"video/mp4":       true,
	"video/mpeg":      true,
	"video/webm":      true,
	"video/quicktime": true,
	"video/x-flv":     true,
	"video/x-ms-wmv":  true,
	"video/3gpp":      true,
}

// submission is the validated common part of both submission endpoints.
type submission struct {
	jobID      string
	clientID   string
	provider   string
	model      string
	apiKey     string
	sourceLang string
	targetLang string
	prompt     string
	reference  string
	filename   string
}

// parseSubmission validates the non-file fields shared by both endpoints.
// field is a lookup into either multipart form values or the decoded JSON
// body.
func (s *Server) parseSubmission(field func(string) string) (*submission, error) {
	sub := &submission{
		jobID:      field("file_uid"),
		clientID:   field("client_id"),
		provider:   field("provider"),
		model:      field("model"),
		apiKey:     field("api_keys"),
		sourceLang: field("source_lang"),
		targetLang: field("target_lang"),
		prompt:     field("prompt"),
		reference:  field("reference_text"),
	}
	if sub.jobID == "" {
		sub.jobID = uuid.NewString()
	}
	if sub.provider == "" {
		return nil, fmt.Errorf("missing provider")
	}
	if !slices.Contains(s.providers.Names(), sub.provider) {
		return nil, fmt.Errorf("unknown provider %q", sub.provider)
	}
	if sub.model == "" {
		return nil, fmt.Errorf("missing model")
	}
	if !s.book.Known(sub.model) {
		return nil, fmt.Errorf("unknown model %q", sub.model)
	}
	return sub, nil
}

// descriptor builds the queue descriptor for a validated submission.
func (sub *submission) descriptor(filePath string) *queue.Descriptor {
	return &queue.Descriptor{
		JobID:            sub.jobID,
		ClientID:         sub.clientID,
		FilePath:         filePath,
		OriginalFilename: sub.filename,
		Provider:         sub.provider,
		Model:            sub.model,
		APIKeys:          map[string]string{sub.provider: sub.apiKey},
		SourceLang:       sub.sourceLang,
		TargetLang:       sub.targetLang,
		Prompt:           sub.prompt,
		ReferenceText:    sub.reference,
	}
}

// handleSubmit serves POST /submit (multipart upload).
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	if mt := mimeType(header); !supportedMIMETypes[mt] {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("unsupported media type %q", mt))
		return
	}

	sub, err := s.parseSubmission(r.FormValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub.filename = header.Filename

	if !s.admit(w, r.Context(), sub) {
		return
	}

	// Store the bytes before the row and the enqueue; a storage error must
	// leave no trace on the queue.
	dest, err := s.scratch.Path(sub.jobID, header.Filename)
	if err == nil {
		err = writeFile(dest, file)
	}
	if err != nil {
		s.log.Error("storing upload failed", "job_id", sub.jobID, "error", err)
		s.withdraw(r.Context(), sub.jobID)
		writeError(w, http.StatusInternalServerError, "storing upload failed")
		return
	}

	if !s.enqueue(w, r.Context(), sub, sub.descriptor(dest)) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  sub.jobID,
		"message": "job queued",
	})
}

// submitURLRequest is the JSON body of POST /submit_url.
type submitURLRequest struct {
	URL           string `json:"url"`
	SourceLang    string `json:"source_lang"`
	TargetLang    string `json:"target_lang"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	APIKeys       string `json:"api_keys"`
	ClientID      string `json:"client_id"`
	FileUID       string `json:"file_uid"`
	Prompt        string `json:"prompt"`
	ReferenceText string `json:"reference_text"`
	EnableVAD     bool   `json:"enable_vad"`
}

// handleSubmitURL serves POST /submit_url. The download runs on the bounded
// fetch pool after the response; fetch failures surface as a FAILED job.
func (s *Server) handleSubmitURL(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		writeError(w, http.StatusNotImplemented, "url submission is disabled")
		return
	}

	var req submitURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	target, err := url.Parse(req.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "url must be http or https")
		return
	}

	fields := map[string]string{
		"file_uid": req.FileUID, "client_id": req.ClientID,
		"provider": req.Provider, "model": req.Model,
		"api_keys": req.APIKeys, "source_lang": req.SourceLang,
		"target_lang": req.TargetLang, "prompt": req.Prompt,
		"reference_text": req.ReferenceText,
	}
	sub, err := s.parseSubmission(func(k string) string { return fields[k] })
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub.filename = path.Base(target.Path)
	if sub.filename == "" || sub.filename == "/" || sub.filename == "." {
		sub.filename = "download"
	}

	if !s.admit(w, r.Context(), sub) {
		return
	}

	go s.resolveAndEnqueue(context.WithoutCancel(r.Context()), sub, req.URL, req.EnableVAD)

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  sub.jobID,
		"message": "fetch queued",
	})
}

// resolveAndEnqueue downloads the remote media, optionally reduces it to a
// speech-only artifact, and enqueues the job. Run on its own goroutine.
func (s *Server) resolveAndEnqueue(ctx context.Context, sub *submission, mediaURL string, enableVAD bool) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	fail := func(err error) {
		s.log.Error("url submission failed", "job_id", sub.jobID, "error", err)
		if uerr := s.store.Update(ctx, sub.jobID, joblog.Update{
			Status:       joblog.Ptr(joblog.StatusFailed),
			ErrorMessage: joblog.Ptr(err.Error()),
		}); uerr != nil {
			s.log.Error("recording fetch failure failed", "job_id", sub.jobID, "error", uerr)
		}
		if perr := s.bus.Publish(ctx, bus.Event{
			JobID:     sub.jobID,
			ClientID:  sub.clientID,
			StageCode: bus.StageFailed,
			StageText: "fetching remote media failed",
		}); perr != nil {
			s.log.Warn("publishing fetch failure failed", "job_id", sub.jobID, "error", perr)
		}
		if rerr := s.scratch.Remove(sub.jobID); rerr != nil {
			s.log.Warn("removing scratch failed", "job_id", sub.jobID, "error", rerr)
		}
	}

	dest, err := s.scratch.Path(sub.jobID, sub.filename)
	if err != nil {
		fail(err)
		return
	}
	if _, err := s.fetcher.Fetch(ctx, mediaURL, dest); err != nil {
		fail(err)
		return
	}

	desc := sub.descriptor(dest)
	if enableVAD && s.vad != nil {
		jobDir, err := s.scratch.JobDir(sub.jobID)
		if err == nil {
			if speechOnly, segments, verr := s.vad.SpeechOnly(dest, jobDir); verr != nil {
				s.log.Warn("speech-only preprocessing failed, using full media",
					"job_id", sub.jobID, "error", verr)
			} else {
				desc.FilePath = speechOnly
				desc.SegmentsForRemapping = segments
			}
		}
	}

	if err := s.queue.Enqueue(ctx, desc); err != nil {
		fail(err)
		return
	}
	s.metrics.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(
		observe.Attr("provider", sub.provider),
		observe.Attr("model", sub.model),
	))
}

// withdraw backs out an admission whose job never reached the queue: the row
// and any stored bytes are removed, so to callers it is as if the submission
// never happened and the job id stays reusable.
func (s *Server) withdraw(ctx context.Context, jobID string) {
	if err := s.store.Delete(ctx, jobID); err != nil {
		s.log.Error("withdrawing job row failed", "job_id", jobID, "error", err)
	}
	if err := s.scratch.Remove(jobID); err != nil {
		s.log.Warn("removing scratch failed", "job_id", jobID, "error", err)
	}
}

// admit enforces write-once admission: a job id with an existing row is
// rejected, otherwise a QUEUED row is created from the submission metadata.
func (s *Server) admit(w http.ResponseWriter, ctx context.Context, sub *submission) bool {
	row, err := s.store.Get(ctx, sub.jobID)
	if err != nil {
		s.log.Error("admission lookup failed", "job_id", sub.jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "job log unavailable")
		return false
	}
	if row != nil {
		writeError(w, http.StatusConflict, "job id already submitted")
		return false
	}
	if err := s.store.Insert(ctx, &joblog.Row{
		JobID:            sub.jobID,
		ClientID:         sub.clientID,
		Status:           joblog.StatusQueued,
		OriginalFilename: sub.filename,
		Provider:         sub.provider,
		Model:            sub.model,
		SourceLanguage:   sub.sourceLang,
	}); err != nil {
		s.log.Error("creating job row failed", "job_id", sub.jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "job log unavailable")
		return false
	}
	return true
}

// enqueue pushes the descriptor and updates the freshly admitted row with
// the submission metadata.
func (s *Server) enqueue(w http.ResponseWriter, ctx context.Context, sub *submission, desc *queue.Descriptor) bool {
	if err := s.queue.Enqueue(ctx, desc); err != nil {
		s.log.Error("enqueue failed", "job_id", sub.jobID, "error", err)
		s.withdraw(ctx, sub.jobID)
		writeError(w, http.StatusInternalServerError, "queueing job failed")
		return false
	}
	s.metrics.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(
		observe.Attr("provider", sub.provider),
		observe.Attr("model", sub.model),
	))
	return true
}

// mimeType resolves the effective MIME type of an uploaded part, falling
// back to the filename extension when the part header is absent or generic.
func mimeType(header *multipart.FileHeader) string {
	mt := header.Header.Get("Content-Type")
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" || mt == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(header.Filename))); byExt != "" {
			mt = byExt
			if i := strings.IndexByte(mt, ';'); i >= 0 {
				mt = strings.TrimSpace(mt[:i])
			}
		}
	}
	return mt
}

func writeFile(dest string, src io.Reader) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %q: %w", dest, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("write %q: %w", dest, err)
	}
	return f.Close()
}
