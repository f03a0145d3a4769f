// Package gateway is the HTTP edge of the pipeline: multipart and URL job
// submission, job status lookup, and the per-job websocket channel that
// relays progress events from the bus.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyrascribe/lyrascribe/internal/bus"
	"github.com/lyrascribe/lyrascribe/internal/fetch"
	"github.com/lyrascribe/lyrascribe/internal/health"
	"github.com/lyrascribe/lyrascribe/internal/joblog"
	"github.com/lyrascribe/lyrascribe/internal/media"
	"github.com/lyrascribe/lyrascribe/internal/observe"
	"github.com/lyrascribe/lyrascribe/internal/pricing"
	"github.com/lyrascribe/lyrascribe/internal/queue"
	"github.com/lyrascribe/lyrascribe/internal/vad"
	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
)

// Enqueuer abstracts the job queue for tests.
type Enqueuer interface {
	Enqueue(ctx context.Context, desc *queue.Descriptor) error
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithFetcher enables POST /submit_url with the given downloader.
func WithFetcher(f *fetch.Fetcher) Option {
	return func(s *Server) { s.fetcher = f }
}

// WithVAD enables speech-only preprocessing for URL submissions.
func WithVAD(e *vad.Engine) Option {
	return func(s *Server) { s.vad = e }
}

// WithHealthCheckers registers readiness probes for /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) { s.health = health.New(checkers...) }
}

// Server carries the gateway's collaborators. Construct with [New].
type Server struct {
	log       *slog.Logger
	store     joblog.Store
	bus       bus.Bus
	queue     Enqueuer
	scratch   *media.Scratch
	book      pricing.Book
	providers *speech.Registry
	fetcher   *fetch.Fetcher
	vad       *vad.Engine
	metrics   *observe.Metrics
	health    *health.Handler
}

// New assembles the gateway.
func New(store joblog.Store, b bus.Bus, q Enqueuer, scratch *media.Scratch,
	book pricing.Book, providers *speech.Registry, opts ...Option) *Server {

	s := &Server{
		log:       slog.Default(),
		store:     store,
		bus:       b,
		queue:     q,
		scratch:   scratch,
		book:      book,
		providers: providers,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New()
	}
	return s
}

// Routes returns the gateway's HTTP handler, wrapped in the observability
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("POST /submit_url", s.handleSubmitURL)
	mux.HandleFunc("GET /status/{job_id}", s.handleStatus)
	mux.HandleFunc("GET /ws/{job_id}", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// handleStatus serves GET /status/{job_id} from the job log.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	row, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		s.log.Error("status lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "job log unavailable")
		return
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "unknown job id")
		return
	}

	resp := struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		Result any    `json:"result,omitempty"`
	}{JobID: row.JobID, Status: string(row.Status)}

	switch {
	case row.Status == joblog.StatusCompleted && len(row.ResultJSON) > 0:
		resp.Result = json.RawMessage(row.ResultJSON)
	case row.Status == joblog.StatusFailed:
		resp.Result = row.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
