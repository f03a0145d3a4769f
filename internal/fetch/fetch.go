// Package fetch downloads remote media into job scratch storage.
//
// Downloads run on a bounded pool so a burst of URL submissions cannot stall
// the admission path or exhaust sockets. A fetch only counts as successful
// when the artifact on disk probes to a known duration.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lyrascribe/lyrascribe/internal/media"
	"github.com/lyrascribe/lyrascribe/internal/observe"
	"github.com/lyrascribe/lyrascribe/internal/resilience"
)

// DefaultMaxBytes caps a single download at 1 GiB.
const DefaultMaxBytes = 1 << 30

// ErrTooLarge is returned when the remote artifact exceeds the size cap.
var ErrTooLarge = errors.New("fetch: remote artifact exceeds size limit")

// ErrUnknownDuration is returned when the downloaded artifact cannot be
// probed to a duration.
var ErrUnknownDuration = errors.New("fetch: downloaded artifact has unknown duration")

// Option configures a [Fetcher].
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithMaxBytes overrides the download size cap.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(f *Fetcher) { f.log = log }
}

// WithMetrics overrides the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// Fetcher downloads remote media with bounded concurrency. A shared circuit
// breaker sheds downloads for a while when the network itself is failing, so
// queued submissions fail fast instead of piling onto dead sockets.
type Fetcher struct {
	client   *http.Client
	sem      *semaphore.Weighted
	breaker  *resilience.Breaker
	maxBytes int64
	log      *slog.Logger
	metrics  *observe.Metrics
}

// New creates a fetcher allowing poolSize concurrent downloads.
func New(poolSize int, opts ...Option) *Fetcher {
	if poolSize <= 0 {
		poolSize = 4
	}
	f := &Fetcher{
		client:   &http.Client{Timeout: 10 * time.Minute},
		sem:      semaphore.NewWeighted(int64(poolSize)),
		maxBytes: DefaultMaxBytes,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	f.breaker = resilience.NewBreaker("fetch", resilience.WithLogger(f.log))
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// Fetch downloads url to destPath and returns the probed media info. The
// destination file is removed again on any error.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) (media.Info, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return media.Info{}, fmt.Errorf("fetch: acquire pool slot: %w", err)
	}
	defer f.sem.Release(1)

	start := time.Now()
	var info media.Info
	err := f.breaker.Do(func() error {
		var derr error
		info, derr = f.download(ctx, url, destPath)
		return derr
	})
	f.metrics.FetchDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		os.Remove(destPath)
		return media.Info{}, err
	}
	f.log.Info("fetched remote media",
		"url", url, "duration_s", info.Duration, "elapsed", time.Since(start))
	return info, nil
}

func (f *Fetcher) download(ctx context.Context, url, destPath string) (media.Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return media.Info{}, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return media.Info{}, fmt.Errorf("fetch: get %q: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return media.Info{}, fmt.Errorf("fetch: get %q: status %d", url, resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return media.Info{}, ErrTooLarge
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return media.Info{}, fmt.Errorf("fetch: create %q: %w", destPath, err)
	}
	defer dest.Close()

	// Read one byte past the cap to detect servers that lie about length.
	n, err := io.Copy(dest, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return media.Info{}, fmt.Errorf("fetch: download %q: %w", url, err)
	}
	if n > f.maxBytes {
		return media.Info{}, ErrTooLarge
	}
	if err := dest.Close(); err != nil {
		return media.Info{}, fmt.Errorf("fetch: close %q: %w", destPath, err)
	}

	info, err := media.Probe(destPath)
	if err != nil || info.Duration <= 0 {
		return media.Info{}, ErrUnknownDuration
	}
	return info, nil
}
