package joblog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory [Store] for tests and single-process setups.
type MemStore struct {
	mu   sync.RWMutex
	rows map[string]*Row
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]*Row)}
}

func (s *MemStore) Insert(_ context.Context, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.JobID]; ok {
		return fmt.Errorf("joblog: job %q already exists", row.JobID)
	}
	now := time.Now()
	row.CreatedAt = now
	row.UpdatedAt = now
	clone := *row
	s.rows[row.JobID] = &clone
	return nil
}

func (s *MemStore) Update(_ context.Context, jobID string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[jobID]
	if !ok {
		return fmt.Errorf("joblog: job %q not found", jobID)
	}
	if u.Status != nil {
		row.Status = *u.Status
	}
	if u.SourceLanguage != nil {
		row.SourceLanguage = *u.SourceLanguage
	}
	if u.AudioDurationSeconds != nil {
		row.AudioDurationSeconds = *u.AudioDurationSeconds
	}
	if u.ProcessingTimeSeconds != nil {
		row.ProcessingTimeSeconds = *u.ProcessingTimeSeconds
	}
	if u.TotalTokens != nil {
		row.TotalTokens = *u.TotalTokens
	}
	if u.Cost != nil {
		row.Cost = *u.Cost
	}
	if u.ErrorMessage != nil {
		row.ErrorMessage = *u.ErrorMessage
	}
	if u.ResultJSON != nil {
		row.ResultJSON = append([]byte(nil), u.ResultJSON...)
	}
	row.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, jobID)
	return nil
}

func (s *MemStore) Get(_ context.Context, jobID string) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[jobID]
	if !ok {
		return nil, nil
	}
	clone := *row
	clone.ResultJSON = append([]byte(nil), row.ResultJSON...)
	return &clone, nil
}
