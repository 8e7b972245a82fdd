package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialises writers to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets readers proceed while autosaves are written.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		code TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS problem_reports (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		resume_code TEXT NOT NULL,
		subject TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		question_text TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetSession retrieves a session document by resume code.
func (s *SQLiteStore) GetSession(ctx context.Context, code string) (*domain.SessionDocument, error) {
	query := `
		SELECT code, subject, payload, created_at, updated_at
		FROM sessions WHERE code = ?`

	var doc domain.SessionDocument
	var payload string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&doc.Code, &doc.Subject, &payload, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	doc.Payload = []byte(payload)
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	return &doc, nil
}

// UpsertSession creates or replaces a session document. The original
// created_at is kept on update.
func (s *SQLiteStore) UpsertSession(ctx context.Context, doc *domain.SessionDocument) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO sessions (code, subject, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(code) DO UPDATE SET
		subject = excluded.subject,
		payload = excluded.payload,
		updated_at = excluded.updated_at`

	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		doc.Code, doc.Subject, string(doc.Payload),
		createdAt.Unix(), updatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// SessionExists reports whether a document is stored under code.
func (s *SQLiteStore) SessionExists(ctx context.Context, code string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE code = ?`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return true, nil
}

// DeleteSession removes a session document.
func (s *SQLiteStore) DeleteSession(ctx context.Context, code string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE code = ?`, code); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsBefore removes documents not updated since cutoff.
func (s *SQLiteStore) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	return result.RowsAffected()
}

// AppendFeedback stores free-text feedback.
func (s *SQLiteStore) AppendFeedback(ctx context.Context, fb *domain.Feedback) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `INSERT INTO feedback (id, device_id, message, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, fb.ID, fb.DeviceID, fb.Message, fb.CreatedAt.Unix()); err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// AppendProblemReport stores a per-question problem report.
func (s *SQLiteStore) AppendProblemReport(ctx context.Context, report *domain.ProblemReport) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO problem_reports (
		id, device_id, resume_code, subject, question_index, question_text, message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		report.ID, report.DeviceID, report.ResumeCode, report.Subject,
		report.QuestionIndex, report.QuestionText, report.Message, report.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert problem report: %w", err)
	}
	return nil
}
