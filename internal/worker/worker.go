// Package worker drives one transcription job at a time through the pipeline
// state machine: probe, adapter init, prompt preparation, recursive
// transcription, timestamp remapping, optional translation, format
// conversion, cost accounting, persistence and cleanup.
//
// A worker owns its job exclusively; concurrency across jobs comes from the
// queue server running multiple handlers. Every stage emits a PROCESSING
// event through the status callback before it starts, and the job always
// ends with exactly one terminal COMPLETED or FAILED event.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyrascribe/lyrascribe/internal/bus"
	"github.com/lyrascribe/lyrascribe/internal/joblog"
	"github.com/lyrascribe/lyrascribe/internal/media"
	"github.com/lyrascribe/lyrascribe/internal/observe"
	"github.com/lyrascribe/lyrascribe/internal/pricing"
	"github.com/lyrascribe/lyrascribe/internal/queue"
	"github.com/lyrascribe/lyrascribe/internal/subtitle"
	"github.com/lyrascribe/lyrascribe/internal/vad"
	"github.com/lyrascribe/lyrascribe/pkg/provider/speech"
)

// DefaultSplitThreshold is the duration (seconds) above which a failed
// transcription is retried by splitting the artifact.
const DefaultSplitThreshold = 180.0

// Stage names used in progress events and logs.
const (
	stageLogOpen    = "LOG_OPEN"
	stageProbe      = "PROBE"
	stageAdapter    = "ADAPTER_INIT"
	stagePrompt     = "PROMPT_PREP"
	stageTranscribe = "TRANSCRIBE_RECURSIVE"
	stageRemap      = "REMAP"
	stageTranslate  = "TRANSLATE"
	stageConvert    = "CONVERT"
	stageAccount    = "ACCOUNT"
	stageLogClose   = "LOG_CLOSE"
	stageCleanup    = "CLEANUP"
)

// Notifier receives every progress event a job emits. The default notifier
// publishes to the event bus; tests substitute a collector.
type Notifier func(ctx context.Context, ev bus.Event)

// Option configures a [Worker].
type Option func(*Worker)

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

// WithNotifier replaces the bus-publishing status callback.
func WithNotifier(n Notifier) Option {
	return func(w *Worker) { w.notify = n }
}

// WithSplitThreshold overrides the split duration threshold in seconds.
func WithSplitThreshold(seconds float64) Option {
	return func(w *Worker) { w.splitThreshold = seconds }
}

// WithMinSilence overrides the minimum silence gap considered for splitting.
func WithMinSilence(seconds float64) Option {
	return func(w *Worker) { w.minSilence = seconds }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// Worker executes transcription jobs dequeued from the job queue.
type Worker struct {
	store   joblog.Store
	pub     bus.Publisher
	reg     *speech.Registry
	vad     *vad.Engine
	book    pricing.Book
	scratch *media.Scratch
	metrics *observe.Metrics
	log     *slog.Logger
	notify  Notifier

	splitThreshold float64
	minSilence     float64
}

// New assembles a worker from its collaborators.
func New(store joblog.Store, pub bus.Publisher, reg *speech.Registry, vadEngine *vad.Engine,
	book pricing.Book, scratch *media.Scratch, opts ...Option) *Worker {

	w := &Worker{
		store:          store,
		pub:            pub,
		reg:            reg,
		vad:            vadEngine,
		book:           book,
		scratch:        scratch,
		log:            slog.Default(),
		splitThreshold: DefaultSplitThreshold,
		minSilence:     vad.DefaultMinSilence,
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	if w.notify == nil {
		w.notify = func(ctx context.Context, ev bus.Event) {
			if err := w.pub.Publish(ctx, ev); err != nil {
				w.log.Warn("publishing progress event failed",
					"job_id", ev.JobID, "stage", ev.StageCode, "error", err)
			}
		}
	}
	return w
}

// Process runs one job to a terminal state. The returned error is only
// non-nil for infrastructure failures where redelivery can help; job-level
// failures are absorbed into a FAILED row and terminal event.
func (w *Worker) Process(ctx context.Context, desc *queue.Descriptor) error {
	started := time.Now()
	log := w.log.With("job_id", desc.JobID)

	// Redelivery policy: a terminal row means a prior attempt finished and
	// its outcome is immutable; a PROCESSING row means a crashed attempt,
	// which is restarted from scratch on the same row.
	row, err := w.store.Get(ctx, desc.JobID)
	if err != nil {
		return fmt.Errorf("worker: load job row: %w", err)
	}
	if row != nil && row.Status.Terminal() {
		log.Warn("ignoring redelivered descriptor for finished job", "status", row.Status)
		return nil
	}
	if row != nil && row.Status == joblog.StatusProcessing {
		log.Warn("descriptor redelivered mid-flight, restarting job")
	}

	w.metrics.ActiveJobs.Add(ctx, 1)
	defer w.metrics.ActiveJobs.Add(ctx, -1)

	job := &job{desc: desc, log: log, started: started}

	w.stage(ctx, job, stageLogOpen, "opening job log")
	if row == nil {
		err = w.store.Insert(ctx, &joblog.Row{
			JobID:            desc.JobID,
			ClientID:         desc.ClientID,
			Status:           joblog.StatusProcessing,
			OriginalFilename: desc.OriginalFilename,
			Provider:         desc.Provider,
			Model:            desc.Model,
			SourceLanguage:   desc.SourceLang,
		})
	} else {
		err = w.store.Update(ctx, desc.JobID, joblog.Update{
			Status:       joblog.Ptr(joblog.StatusProcessing),
			ErrorMessage: joblog.Ptr(""),
		})
	}
	if err != nil {
		// The job cannot start without its log row. Tell the session and
		// discard the descriptor; redelivering would re-fail the same way
		// until the store recovers, and the row is the durable truth we
		// could not write anyway.
		log.Error("opening job log failed", "error", err)
		w.notify(ctx, bus.Event{
			JobID:     desc.JobID,
			ClientID:  desc.ClientID,
			StageCode: bus.StageFailed,
			StageText: "job could not be recorded; please resubmit",
		})
		w.finishStage(ctx, job)
		return nil
	}

	result, runErr := w.run(ctx, job)

	w.stage(ctx, job, stageCleanup, "") // log only, no event after terminal
	w.cleanup(ctx, job)
	w.finishStage(ctx, job)

	elapsed := time.Since(started).Seconds()
	if runErr != nil {
		log.Error("job failed", "error", runErr, "elapsed_s", elapsed)
		if uerr := w.store.Update(ctx, desc.JobID, joblog.Update{
			Status:                joblog.Ptr(joblog.StatusFailed),
			ErrorMessage:          joblog.Ptr(runErr.Error()),
			ProcessingTimeSeconds: joblog.Ptr(elapsed),
		}); uerr != nil {
			log.Error("closing job log failed", "error", uerr)
		}
		w.metrics.RecordJobFinished(ctx, "failed", elapsed)
		w.notify(ctx, bus.Event{
			JobID:     desc.JobID,
			ClientID:  desc.ClientID,
			StageCode: bus.StageFailed,
			StageText: terminalSentence(runErr),
		})
		return nil
	}

	log.Info("job completed",
		"elapsed_s", elapsed, "tokens", result.TokensUsed, "cost", result.Cost)
	w.metrics.RecordJobFinished(ctx, "completed", elapsed)
	w.notify(ctx, bus.Event{
		JobID:     desc.JobID,
		ClientID:  desc.ClientID,
		StageCode: bus.StageCompleted,
		StageText: "transcription completed",
		Result:    result,
	})
	return nil
}

// job accumulates per-job pipeline state.
type job struct {
	desc    *queue.Descriptor
	log     *slog.Logger
	started time.Time

	adapter  speech.Adapter
	duration float64

	// Currently open stage, for the per-stage duration histogram.
	stageName  string
	stageStart time.Time
}

// run executes the fallible middle of the pipeline and returns the final
// payload. Any returned error is fatal for the job.
func (w *Worker) run(ctx context.Context, j *job) (*bus.Result, error) {
	desc := j.desc

	// PROBE. Unknown containers are tolerated with duration zero.
	w.stage(ctx, j, stageProbe, "probing media duration")
	info, err := media.Probe(desc.FilePath)
	switch {
	case err == nil:
		j.duration = info.Duration
	case errors.Is(err, media.ErrNotWAV):
		j.log.Info("media duration unknown", "file", filepath.Base(desc.FilePath))
	default:
		return nil, fmt.Errorf("probe media: %w", err)
	}
	if j.duration > 0 {
		if uerr := w.store.Update(ctx, desc.JobID, joblog.Update{
			AudioDurationSeconds: joblog.Ptr(j.duration),
		}); uerr != nil {
			j.log.Warn("recording audio duration failed", "error", uerr)
		}
	}

	// ADAPTER_INIT.
	w.stage(ctx, j, stageAdapter, "connecting to speech provider")
	j.adapter, err = w.reg.Create(desc.Provider, speech.Config{
		APIKey: desc.APIKey(),
		Model:  desc.Model,
	})
	if err != nil {
		w.metrics.RecordProviderError(ctx, desc.Provider, "init")
		return nil, fmt.Errorf("init adapter: %w", err)
	}

	// PROMPT_PREP.
	w.stage(ctx, j, stagePrompt, "preparing prompt")
	prompt := buildPrompt(desc)

	// TRANSCRIBE_RECURSIVE.
	w.stage(ctx, j, stageTranscribe, "transcribing")
	trans, err := w.transcribeTree(ctx, j, desc.FilePath, prompt, 0)
	if err != nil {
		w.metrics.RecordProviderError(ctx, desc.Provider, "transcribe")
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	if !trans.Success {
		return nil, fmt.Errorf("transcribe: provider declined to generate: %s", trans.Text)
	}
	w.metrics.RecordTokens(ctx, desc.Model, "transcription", trans.TotalTokens)
	lrc := strings.TrimSpace(trans.Text)

	// REMAP. Only submissions preprocessed to speech-only audio carry
	// segments.
	if len(desc.SegmentsForRemapping) > 0 {
		w.stage(ctx, j, stageRemap, "remapping timestamps onto the original timeline")
		lrc = subtitle.Remap(lrc, desc.SegmentsForRemapping)
	}

	// TRANSLATE (non-fatal).
	items := []pricing.Item{{
		TaskName:     "total_transcription",
		Model:        desc.Model,
		InputTokens:  trans.InputTokens,
		OutputTokens: trans.OutputTokens,
		ContentType:  pricing.ContentAudio,
	}}
	tokensUsed := trans.TotalTokens
	if desc.TargetLang != "" {
		w.stage(ctx, j, stageTranslate, "translating to "+desc.TargetLang)
		translated, titem, ttokens := w.translate(ctx, j, lrc)
		if translated != "" {
			lrc = translated
			items = append(items, *titem)
			tokensUsed += ttokens
			w.metrics.RecordTokens(ctx, desc.Model, "translation", ttokens)
		}
	}

	// CONVERT.
	w.stage(ctx, j, stageConvert, "rendering subtitle formats")
	doc := subtitle.ConvertAll(lrc)

	// ACCOUNT.
	w.stage(ctx, j, stageAccount, "computing cost")
	breakdown := make([]bus.CostItem, 0, len(items))
	for _, entry := range w.book.Breakdown(items) {
		breakdown = append(breakdown, bus.CostItem{
			TaskName:     entry.TaskName,
			InputTokens:  entry.InputTokens,
			OutputTokens: entry.OutputTokens,
			ContentType:  string(entry.ContentType),
			Cost:         entry.Cost,
		})
	}
	elapsed := time.Since(j.started).Seconds()
	result := &bus.Result{
		JobID:                 desc.JobID,
		Transcripts:           doc,
		TokensUsed:            tokensUsed,
		Cost:                  w.book.Total(items),
		Model:                 desc.Model,
		SourceLanguage:        desc.SourceLang,
		ProcessingTimeSeconds: elapsed,
		AudioDurationSeconds:  j.duration,
		CostBreakdown:         breakdown,
	}

	// LOG_CLOSE. A persistence failure here is absorbed: the result is
	// still pushed to the session.
	w.stage(ctx, j, stageLogClose, "recording result")
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	if uerr := w.store.Update(ctx, desc.JobID, joblog.Update{
		Status:                joblog.Ptr(joblog.StatusCompleted),
		ProcessingTimeSeconds: joblog.Ptr(elapsed),
		TotalTokens:           joblog.Ptr(tokensUsed),
		Cost:                  joblog.Ptr(result.Cost),
		ResultJSON:            payload,
	}); uerr != nil {
		j.log.Error("closing job log failed", "error", uerr)
	}
	return result, nil
}

// stage opens the named stage on j: the previous stage's duration is
// recorded, the transition is logged and, unless text is empty, a PROCESSING
// event is emitted.
func (w *Worker) stage(ctx context.Context, j *job, name, text string) {
	w.finishStage(ctx, j)
	j.stageName = name
	j.stageStart = time.Now()

	w.log.Debug("stage", "job_id", j.desc.JobID, "name", name)
	if text == "" {
		return
	}
	w.notify(ctx, bus.Event{
		JobID:     j.desc.JobID,
		ClientID:  j.desc.ClientID,
		StageCode: bus.StageProcessing,
		StageText: text,
	})
}

// finishStage records the elapsed duration of the stage currently open on j,
// if any, to the stage histogram.
func (w *Worker) finishStage(ctx context.Context, j *job) {
	if j.stageName == "" {
		return
	}
	w.metrics.RecordStage(ctx, j.stageName, time.Since(j.stageStart).Seconds())
	j.stageName = ""
}

// cleanup deletes the job's scratch directory and releases remote adapter
// handles. It runs on success and failure alike.
func (w *Worker) cleanup(ctx context.Context, j *job) {
	if j.adapter != nil {
		if err := j.adapter.Release(ctx); err != nil {
			j.log.Warn("releasing remote media failed", "error", err)
		}
	}
	if err := w.scratch.Remove(j.desc.JobID); err != nil {
		j.log.Warn("removing scratch directory failed", "error", err)
	}
}

// terminalSentence reduces an error chain to the single sentence shown in
// the terminal FAILED frame.
func terminalSentence(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
