package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scratch manages per-job temporary storage. Every job owns the directory
// <root>/<job_id>; workers never touch another job's directory, and the
// whole directory is removed on the job's terminal transition.
type Scratch struct {
	root string
}

// NewScratch creates the scratch root directory if needed.
func NewScratch(root string) (*Scratch, error) {
	if root == "" {
		return nil, errors.New("media: scratch root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("media: create scratch root %q: %w", root, err)
	}
	return &Scratch{root: root}, nil
}

// Root returns the scratch root directory.
func (s *Scratch) Root() string { return s.root }

// JobDir returns the job's directory, creating it if needed.
func (s *Scratch) JobDir(jobID string) (string, error) {
	if err := validateJobID(jobID); err != nil {
		return "", err
	}
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("media: create job dir %q: %w", dir, err)
	}
	return dir, nil
}

// Path joins a file name into the job's directory, creating the directory
// if needed.
func (s *Scratch) Path(jobID, name string) (string, error) {
	dir, err := s.JobDir(jobID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(name)), nil
}

// Remove deletes the job's entire scratch directory. Removing a directory
// that does not exist is not an error.
func (s *Scratch) Remove(jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, jobID)); err != nil {
		return fmt.Errorf("media: remove job dir for %q: %w", jobID, err)
	}
	return nil
}

func validateJobID(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return fmt.Errorf("media: invalid job id %q", jobID)
	}
	return nil
}
