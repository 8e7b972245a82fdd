package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// PostgresStore implements Repository on Postgres, storing session payloads
// as JSONB documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and ensures the schema exists.
func NewPostgres(ctx context.Context, dsn string, cfg PoolConfig) (Repository, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires DATABASE_URL")
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		code TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id UUID PRIMARY KEY,
		device_id TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS problem_reports (
		id UUID PRIMARY KEY,
		device_id TEXT NOT NULL,
		resume_code TEXT NOT NULL,
		subject TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// GetSession retrieves a session document by resume code.
func (s *PostgresStore) GetSession(ctx context.Context, code string) (*domain.SessionDocument, error) {
	query := `
		SELECT code, subject, payload, created_at, updated_at
		FROM sessions WHERE code = $1`

	var doc domain.SessionDocument
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&doc.Code, &doc.Subject, &doc.Payload, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return &doc, nil
}

// UpsertSession creates or replaces a session document.
func (s *PostgresStore) UpsertSession(ctx context.Context, doc *domain.SessionDocument) error {
	query := `
	INSERT INTO sessions (code, subject, payload, created_at, updated_at)
	VALUES ($1, $2, $3::jsonb, $4, $5)
	ON CONFLICT (code) DO UPDATE SET
		subject = EXCLUDED.subject,
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at`

	now := time.Now()
	createdAt, updatedAt := doc.CreatedAt, doc.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}

	if _, err := s.pool.Exec(ctx, query, doc.Code, doc.Subject, string(doc.Payload), createdAt, updatedAt); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// SessionExists reports whether a document is stored under code.
func (s *PostgresStore) SessionExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return exists, nil
}

// DeleteSession removes a session document.
func (s *PostgresStore) DeleteSession(ctx context.Context, code string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE code = $1`, code); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsBefore removes documents not updated since cutoff.
func (s *PostgresStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AppendFeedback stores free-text feedback.
func (s *PostgresStore) AppendFeedback(ctx context.Context, fb *domain.Feedback) error {
	query := `INSERT INTO feedback (id, device_id, message, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, fb.ID, fb.DeviceID, fb.Message, fb.CreatedAt); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// AppendProblemReport stores a per-question problem report.
func (s *PostgresStore) AppendProblemReport(ctx context.Context, report *domain.ProblemReport) error {
	query := `
	INSERT INTO problem_reports (
		id, device_id, resume_code, subject, question_index, question_text, message, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		report.ID, report.DeviceID, report.ResumeCode, report.Subject,
		report.QuestionIndex, report.QuestionText, report.Message, report.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert problem report: %w", err)
	}
	return nil
}
