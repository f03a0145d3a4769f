// Package queue moves job descriptors from the gateway to workers over an
// asynq task queue.
//
// Delivery is at-least-once with exactly one consumer per task. A handler
// error or a crashed worker makes the broker redeliver the descriptor; the
// worker's redelivery policy decides what a repeated descriptor means.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lyrascribe/lyrascribe/internal/media"
)

const (
	// TypeTranscription is the asynq task type for transcription jobs.
	TypeTranscription = "transcription:job"

	// QueueName is the asynq queue jobs are enqueued on.
	QueueName = "transcription"
)

// Descriptor is the full job description carried through the queue. It is
// the same JSON document a websocket client sends as its first frame.
type Descriptor struct {
	JobID            string            `json:"job_id"`
	ClientID         string            `json:"client_id,omitempty"`
	FilePath         string            `json:"file_path"`
	OriginalFilename string            `json:"original_filename"`
	Provider         string            `json:"provider"`
	Model            string            `json:"model"`
	APIKeys          map[string]string `json:"api_keys,omitempty"`
	SourceLang       string            `json:"source_lang,omitempty"`
	TargetLang       string            `json:"target_lang,omitempty"`
	Prompt           string            `json:"prompt,omitempty"`
	ReferenceText    string            `json:"reference_text,omitempty"`

	// SegmentsForRemapping carries original-timeline speech intervals when
	// the artifact was reduced to speech-only audio before submission.
	SegmentsForRemapping []media.Interval `json:"segments_for_remapping,omitempty"`
}

// Validate checks the fields every job needs before it can be enqueued.
func (d *Descriptor) Validate() error {
	switch {
	case d.JobID == "":
		return fmt.Errorf("queue: descriptor missing job_id")
	case d.FilePath == "":
		return fmt.Errorf("queue: descriptor missing file_path")
	case d.Provider == "":
		return fmt.Errorf("queue: descriptor missing provider")
	case d.Model == "":
		return fmt.Errorf("queue: descriptor missing model")
	}
	return nil
}

// APIKey returns the credential for the descriptor's provider.
func (d *Descriptor) APIKey() string {
	return d.APIKeys[d.Provider]
}

// Client enqueues job descriptors.
type Client struct {
	inner *asynq.Client
}

// NewClient connects an enqueue client to the broker at redisURI
// (redis:// or rediss://).
func NewClient(redisURI string) (*Client, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("queue: parse broker uri: %w", err)
	}
	return &Client{inner: asynq.NewClient(opt)}, nil
}

// Enqueue serialises the descriptor onto the transcription queue.
func (c *Client) Enqueue(ctx context.Context, desc *Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("queue: marshal descriptor: %w", err)
	}
	task := asynq.NewTask(TypeTranscription, payload)
	_, err = c.inner.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue job %s: %w", desc.JobID, err)
	}
	return nil
}

// Close releases the broker connection.
func (c *Client) Close() error { return c.inner.Close() }

// Handler processes one dequeued descriptor. Returning an error makes the
// broker redeliver the task.
type Handler func(ctx context.Context, desc *Descriptor) error

// Server consumes the transcription queue with bounded concurrency.
type Server struct {
	inner   *asynq.Server
	handler Handler
	log     *slog.Logger
}

// NewServer builds a queue consumer. Concurrency bounds the number of jobs
// processed in parallel.
func NewServer(redisURI string, concurrency int, handler Handler, log *slog.Logger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("queue: parse broker uri: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
	})
	return &Server{inner: srv, handler: handler, log: log}, nil
}

// Run consumes tasks until Shutdown is called.
func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeTranscription, s.handle)
	if err := s.inner.Run(mux); err != nil {
		return fmt.Errorf("queue: server: %w", err)
	}
	return nil
}

// Shutdown stops consumption and waits for in-flight handlers.
func (s *Server) Shutdown() { s.inner.Shutdown() }

func (s *Server) handle(ctx context.Context, task *asynq.Task) error {
	var desc Descriptor
	if err := json.Unmarshal(task.Payload(), &desc); err != nil {
		// A payload that cannot decode will never succeed; drop it.
		s.log.Error("discarding undecodable task payload", "error", err)
		return nil
	}
	if err := desc.Validate(); err != nil {
		s.log.Error("discarding invalid descriptor", "job_id", desc.JobID, "error", err)
		return nil
	}
	return s.handler(ctx, &desc)
}
