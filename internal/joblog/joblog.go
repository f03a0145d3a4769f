// Package joblog persists one audit row per submitted transcription job.
//
// The row is inserted when a job is admitted and merged with partial updates
// as the job moves through the pipeline. Updates are field-wise: fields left
// nil in an [Update] keep their stored value, so stage handlers only touch
// what they learned.
package joblog

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job row.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Row is the persisted record of one job.
type Row struct {
	JobID                 string
	ClientID              string
	Status                Status
	OriginalFilename      string
	Provider              string
	Model                 string
	SourceLanguage        string
	AudioDurationSeconds  float64
	ProcessingTimeSeconds float64
	TotalTokens           int64
	Cost                  float64
	ErrorMessage          string
	// ResultJSON holds the final subtitle document (lrc/srt/vtt/txt) for
	// successful jobs so GET /status can serve it after the fact.
	ResultJSON []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Update is a partial row update. Nil fields are left untouched.
type Update struct {
	Status                *Status
	SourceLanguage        *string
	AudioDurationSeconds  *float64
	ProcessingTimeSeconds *float64
	TotalTokens           *int64
	Cost                  *float64
	ErrorMessage          *string
	ResultJSON            []byte
}

// Store is the persistence contract for job rows.
type Store interface {
	// Insert creates the row. The job id must be unique.
	Insert(ctx context.Context, row *Row) error

	// Update merges the non-nil fields of u into the stored row.
	Update(ctx context.Context, jobID string, u Update) error

	// Get returns the row, or (nil, nil) when no such job exists.
	Get(ctx context.Context, jobID string) (*Row, error)

	// Delete removes the row. Used by the intake to back out an admission
	// whose job never reached the queue; deleting an unknown id is a no-op.
	Delete(ctx context.Context, jobID string) error
}

// Ptr returns a pointer to v, for building [Update] literals.
func Ptr[T any](v T) *T { return &v }
