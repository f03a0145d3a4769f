package joblog_test

import (
	"context"
	"testing"

	"github.com/lyrascribe/lyrascribe/internal/joblog"
)

func TestMemStoreInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("insert then get", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		row := &joblog.Row{JobID: "job-1", Status: joblog.StatusQueued, Provider: "google", Model: "gemini-2.5-pro"}
		if err := s.Insert(ctx, row); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := s.Get(ctx, "job-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got == nil || got.Provider != "google" || got.Status != joblog.StatusQueued {
			t.Fatalf("Get = %+v", got)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps were not set on insert")
		}
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		if err := s.Insert(ctx, &joblog.Row{JobID: "dup"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := s.Insert(ctx, &joblog.Row{JobID: "dup"}); err == nil {
			t.Fatal("Insert duplicate: expected error")
		}
	})

	t.Run("missing job yields nil row", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		got, err := s.Get(ctx, "ghost")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Fatalf("Get = %+v, want nil", got)
		}
	})
}

func TestMemStoreUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("merges only the supplied fields", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		if err := s.Insert(ctx, &joblog.Row{
			JobID:    "job-u",
			Status:   joblog.StatusQueued,
			Provider: "google",
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		if err := s.Update(ctx, "job-u", joblog.Update{
			Status:      joblog.Ptr(joblog.StatusCompleted),
			TotalTokens: joblog.Ptr(int64(1020)),
			Cost:        joblog.Ptr(0.25),
			ResultJSON:  []byte(`{"lrc":""}`),
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := s.Get(ctx, "job-u")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != joblog.StatusCompleted || got.TotalTokens != 1020 || got.Cost != 0.25 {
			t.Errorf("row = %+v", got)
		}
		if got.Provider != "google" {
			t.Errorf("Provider = %q, untouched field was overwritten", got.Provider)
		}
		if string(got.ResultJSON) != `{"lrc":""}` {
			t.Errorf("ResultJSON = %q", got.ResultJSON)
		}
	})

	t.Run("unknown job is an error", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		if err := s.Update(ctx, "ghost", joblog.Update{Status: joblog.Ptr(joblog.StatusFailed)}); err == nil {
			t.Fatal("Update: expected error for unknown job")
		}
	})

	t.Run("get returns a copy", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		if err := s.Insert(ctx, &joblog.Row{JobID: "copy", ErrorMessage: "original"}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, _ := s.Get(ctx, "copy")
		got.ErrorMessage = "mutated"
		again, _ := s.Get(ctx, "copy")
		if again.ErrorMessage != "original" {
			t.Error("Get leaked a mutable reference to the stored row")
		}
	})
}

func TestMemStoreDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("delete frees the id for reuse", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		if err := s.Insert(ctx, &joblog.Row{JobID: "job-d", Status: joblog.StatusQueued}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := s.Delete(ctx, "job-d"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		got, err := s.Get(ctx, "job-d")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got != nil {
			t.Fatalf("Get = %+v, want nil after delete", got)
		}
		if err := s.Insert(ctx, &joblog.Row{JobID: "job-d"}); err != nil {
			t.Errorf("Insert after delete: %v", err)
		}
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		t.Parallel()
		s := joblog.NewMemStore()
		if err := s.Delete(ctx, "ghost"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	})
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	cases := map[joblog.Status]bool{
		joblog.StatusQueued:     false,
		joblog.StatusProcessing: false,
		joblog.StatusCompleted:  true,
		joblog.StatusFailed:     true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}
