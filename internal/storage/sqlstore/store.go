// Package sqlstore implements storage.Storage on database/sql. The sqlite
// and mysql packages open the connection and supply a Dialect; the queries
// themselves are shared.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/leadcheck/leadcheck/internal/storage"
)

// Dialect captures what differs between the supported SQL engines.
type Dialect interface {
	// Name is the backend name used in logs and errors.
	Name() string
	// Schema returns the DDL statements creating all tables, safe to re-run.
	Schema() []string
	// InsertIgnore returns the INSERT keyword variant that skips rows
	// violating a unique key ("INSERT OR IGNORE" / "INSERT IGNORE").
	InsertIgnore() string
	// IsUniqueViolation reports whether err is a unique/primary key violation.
	IsUniqueViolation(err error) bool
	// IsRetryable reports whether a failed transaction may succeed if re-run
	// (lock contention, deadlock, dropped connection).
	IsRetryable(err error) bool
}

// Options tunes a Store.
type Options struct {
	// RetryMaxElapsed bounds transaction retries on retryable errors.
	// Zero uses DefaultRetryMaxElapsed; negative disables retries.
	RetryMaxElapsed time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// DefaultRetryMaxElapsed is the retry window for transient transaction failures.
const DefaultRetryMaxElapsed = 10 * time.Second

// Store is the shared SQL implementation of storage.Storage.
type Store struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	log     *slog.Logger
	closed  atomic.Bool
}

var _ storage.Storage = (*Store)(nil)

// New wraps an open database, creating the schema if needed.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.RetryMaxElapsed == 0 {
		opts.RetryMaxElapsed = DefaultRetryMaxElapsed
	}
	s := &Store{db: db, dialect: dialect, opts: opts, log: opts.Logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: failed to initialize schema: %w", s.dialect.Name(), err)
		}
	}
	return nil
}

// DB exposes the underlying handle for backend-specific maintenance.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the backend dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) newBackOff(ctx context.Context) backoff.BackOff {
	if s.opts.RetryMaxElapsed < 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = s.opts.RetryMaxElapsed
	return backoff.WithContext(bo, ctx)
}

// RunInTransaction runs fn in a transaction, re-running the whole callback
// when the dialect classifies the failure as transient.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := s.runTransactionOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if s.dialect.IsRetryable(err) {
			s.log.Debug("retrying transaction", "backend", s.dialect.Name(), "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, s.newBackOff(ctx))
}

func (s *Store) runTransactionOnce(ctx context.Context, fn func(tx storage.Transaction) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&sqlTransaction{q: queries{q: sqlTx, d: s.dialect}, store: s}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) reader() queries {
	return queries{q: s.db, d: s.dialect}
}

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to storage.ErrNotFound for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
