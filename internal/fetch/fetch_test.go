package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/lyrascribe/lyrascribe/internal/fetch"
	"github.com/lyrascribe/lyrascribe/internal/media"
)

// wavBytes renders a silent mono WAV of the given duration.
func wavBytes(t *testing.T, rate int, seconds float64) []byte {
	t.Helper()
	var buf bytes.Buffer
	clip := &media.Clip{
		SampleRate: rate,
		Channels:   1,
		Samples:    make([]int16, int(seconds*float64(rate))),
	}
	if err := media.EncodeWAV(&buf, clip); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return buf.Bytes()
}

func TestFetchDownloadsAndProbes(t *testing.T) {
	t.Parallel()

	payload := wavBytes(t, 8000, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "media.wav")
	f := fetch.New(2)
	info, err := f.Fetch(context.Background(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if math.Abs(info.Duration-3) > 0.01 {
		t.Errorf("Duration = %v, want 3", info.Duration)
	}

	stored, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(stored, payload) {
		t.Errorf("stored %d bytes, want %d", len(stored), len(payload))
	}
}

func TestFetchRejectsOversizedArtifact(t *testing.T) {
	t.Parallel()

	payload := wavBytes(t, 8000, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "media.wav")
	f := fetch.New(1, fetch.WithMaxBytes(100))
	_, err := f.Fetch(context.Background(), srv.URL, dest)
	if !errors.Is(err, fetch.ErrTooLarge) {
		t.Fatalf("Fetch: %v, want ErrTooLarge", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("partial download was not removed")
	}
}

func TestFetchRejectsUnknownDuration(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not audio at all"))
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "media.bin")
	f := fetch.New(1)
	_, err := f.Fetch(context.Background(), srv.URL, dest)
	if !errors.Is(err, fetch.ErrUnknownDuration) {
		t.Fatalf("Fetch: %v, want ErrUnknownDuration", err)
	}
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "media.wav")
	f := fetch.New(1)
	if _, err := f.Fetch(context.Background(), srv.URL, dest); err == nil {
		t.Fatal("Fetch: expected error for 404 response")
	}
}
