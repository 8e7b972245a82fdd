// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/quizdeck/internal/domain"
)

// Repository is the keyed document store behind saved sessions and the
// feedback side-channel.
type Repository interface {
	// GetSession retrieves a session document by resume code.
	// Returns nil, nil when no document exists.
	GetSession(ctx context.Context, code string) (*domain.SessionDocument, error)

	// UpsertSession creates or replaces a session document.
	UpsertSession(ctx context.Context, doc *domain.SessionDocument) error

	// SessionExists reports whether a document is stored under code.
	SessionExists(ctx context.Context, code string) (bool, error)

	// DeleteSession removes a session document. Missing documents are not an error.
	DeleteSession(ctx context.Context, code string) error

	// DeleteSessionsBefore removes documents not updated since cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// AppendFeedback stores free-text feedback.
	AppendFeedback(ctx context.Context, fb *domain.Feedback) error

	// AppendProblemReport stores a per-question problem report.
	AppendProblemReport(ctx context.Context, report *domain.ProblemReport) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures a Repository implementation.
type Options struct {
	Driver          string
	SQLitePath      string
	PostgresURL     string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Open returns the Repository for the configured driver.
func Open(ctx context.Context, opts Options) (Repository, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		return NewSQLite(opts.SQLitePath)
	case DriverPostgres:
		return NewPostgres(ctx, opts.PostgresURL, PoolConfig{
			MaxConns:        opts.MaxConns,
			MaxConnLifetime: opts.MaxConnLifetime,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
