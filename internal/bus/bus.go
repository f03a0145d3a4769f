// Package bus carries job progress events from workers to gateway sessions.
//
// Workers publish onto the transcription_updates topic; the gateway runs a
// subscriber that dispatches decoded events to per-job subscriptions. Events
// for one job id arrive in publication order and end with a terminal stage.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/lyrascribe/lyrascribe/internal/subtitle"
)

// Topic is the pub/sub channel name shared by workers and gateways.
const Topic = "transcription_updates"

// Stage classifies a progress event.
type Stage string

const (
	StageProcessing Stage = "PROCESSING"
	StageCompleted  Stage = "COMPLETED"
	StageFailed     Stage = "FAILED"
)

// Terminal reports whether the stage ends the event stream for a job.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CostItem is one accounted task in the final payload.
type CostItem struct {
	TaskName     string  `json:"task_name"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	ContentType  string  `json:"content_type"`
	Cost         float64 `json:"cost"`
}

// Result is the final payload delivered with a COMPLETED event and persisted
// to the job log for later status queries.
type Result struct {
	JobID                 string            `json:"job_id"`
	Transcripts           subtitle.Document `json:"transcripts"`
	TokensUsed            int64             `json:"tokens_used"`
	Cost                  float64           `json:"cost"`
	Model                 string            `json:"model"`
	SourceLanguage        string            `json:"source_language"`
	ProcessingTimeSeconds float64           `json:"processing_time_seconds"`
	AudioDurationSeconds  float64           `json:"audio_duration_seconds"`
	CostBreakdown         []CostItem        `json:"cost_breakdown"`
}

// Event is one progress message for a job.
type Event struct {
	JobID     string  `json:"job_id"`
	ClientID  string  `json:"client_id,omitempty"`
	StageCode Stage   `json:"stage_code"`
	StageText string  `json:"stage_text"`
	Result    *Result `json:"result,omitempty"`
}

// Publisher is the worker-facing side of the bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is a publisher that also supports per-job subscriptions.
type Bus interface {
	Publisher

	// Subscribe registers interest in one job id. The returned cancel
	// function must be called exactly once; it closes the channel.
	Subscribe(jobID string) (<-chan Event, func())
}

// subscriberBuffer bounds how far a slow session may lag before events are
// dropped.
const subscriberBuffer = 64

// dispatcher fans decoded events out to per-job subscriptions. It backs both
// the redis subscriber and the loopback bus.
type dispatcher struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[string][]chan Event
}

func newDispatcher(log *slog.Logger) *dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &dispatcher{log: log, subs: make(map[string][]chan Event)}
}

func (d *dispatcher) subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	d.mu.Lock()
	d.subs[jobID] = append(d.subs[jobID], ch)
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			chans := d.subs[jobID]
			for i, c := range chans {
				if c == ch {
					d.subs[jobID] = append(chans[:i], chans[i+1:]...)
					break
				}
			}
			if len(d.subs[jobID]) == 0 {
				delete(d.subs, jobID)
			}
			d.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (d *dispatcher) dispatch(ev Event) {
	d.mu.Lock()
	chans := append([]chan Event(nil), d.subs[ev.JobID]...)
	d.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			d.log.Warn("dropping event for lagging subscriber",
				"job_id", ev.JobID, "stage", ev.StageCode)
		}
	}
}
