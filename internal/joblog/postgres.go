package joblog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the transcription_jobs table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS transcription_jobs (
    job_id                  TEXT PRIMARY KEY,
    client_id               TEXT NOT NULL DEFAULT '',
    status                  TEXT NOT NULL,
    original_filename       TEXT NOT NULL DEFAULT '',
    provider                TEXT NOT NULL DEFAULT '',
    model                   TEXT NOT NULL DEFAULT '',
    source_language         TEXT NOT NULL DEFAULT '',
    audio_duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
    processing_time_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_tokens            BIGINT NOT NULL DEFAULT 0,
    cost                    DOUBLE PRECISION NOT NULL DEFAULT 0,
    error_message           TEXT NOT NULL DEFAULT '',
    result_json             JSONB,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_client ON transcription_jobs(client_id);
CREATE INDEX IF NOT EXISTS idx_transcription_jobs_status ON transcription_jobs(status);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("joblog: migrate: %w", err)
	}
	return nil
}

// Insert creates the job row. Inserting a duplicate job id is an error.
func (s *PostgresStore) Insert(ctx context.Context, row *Row) error {
	const query = `
		INSERT INTO transcription_jobs (
			job_id, client_id, status, original_filename, provider, model,
			source_language, audio_duration_seconds, processing_time_seconds,
			total_tokens, cost, error_message, result_json
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		row.JobID, row.ClientID, string(row.Status), row.OriginalFilename,
		row.Provider, row.Model, row.SourceLanguage,
		row.AudioDurationSeconds, row.ProcessingTimeSeconds,
		row.TotalTokens, row.Cost, row.ErrorMessage, nullable(row.ResultJSON),
	).Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("joblog: job %q already exists", row.JobID)
		}
		return fmt.Errorf("joblog: insert: %w", err)
	}
	return nil
}

// Update merges the non-nil fields of u into the stored row.
func (s *PostgresStore) Update(ctx context.Context, jobID string, u Update) error {
	set := []string{"updated_at = now()"}
	args := []any{jobID}

	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.Status != nil {
		add("status", string(*u.Status))
	}
	if u.SourceLanguage != nil {
		add("source_language", *u.SourceLanguage)
	}
	if u.AudioDurationSeconds != nil {
		add("audio_duration_seconds", *u.AudioDurationSeconds)
	}
	if u.ProcessingTimeSeconds != nil {
		add("processing_time_seconds", *u.ProcessingTimeSeconds)
	}
	if u.TotalTokens != nil {
		add("total_tokens", *u.TotalTokens)
	}
	if u.Cost != nil {
		add("cost", *u.Cost)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.ResultJSON != nil {
		add("result_json", u.ResultJSON)
	}

	query := fmt.Sprintf(
		`UPDATE transcription_jobs SET %s WHERE job_id = $1 RETURNING updated_at`,
		strings.Join(set, ", "))

	var updatedAt any
	if err := s.db.QueryRow(ctx, query, args...).Scan(&updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("joblog: job %q not found", jobID)
		}
		return fmt.Errorf("joblog: update %q: %w", jobID, err)
	}
	return nil
}

// Delete removes a job row. Deleting an unknown id is a no-op.
func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	const query = `DELETE FROM transcription_jobs WHERE job_id = $1`
	if _, err := s.db.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("joblog: delete %q: %w", jobID, err)
	}
	return nil
}

// Get retrieves a job row by id. It returns (nil, nil) when no row exists.
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Row, error) {
	const query = `
		SELECT job_id, client_id, status, original_filename, provider, model,
		       source_language, audio_duration_seconds, processing_time_seconds,
		       total_tokens, cost, error_message, result_json,
		       created_at, updated_at
		FROM transcription_jobs
		WHERE job_id = $1`

	var row Row
	var status string
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&row.JobID, &row.ClientID, &status, &row.OriginalFilename,
		&row.Provider, &row.Model, &row.SourceLanguage,
		&row.AudioDurationSeconds, &row.ProcessingTimeSeconds,
		&row.TotalTokens, &row.Cost, &row.ErrorMessage, &row.ResultJSON,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("joblog: get %q: %w", jobID, err)
	}
	row.Status = Status(status)
	return &row, nil
}

// nullable maps an empty JSON payload to SQL NULL.
func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
