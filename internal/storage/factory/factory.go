// Package factory provides functions for creating storage backends based on configuration.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/storage/mysql"
	"github.com/leadcheck/leadcheck/internal/storage/sqlite"
	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// Options configures how the storage backend is opened
type Options struct {
	// Path is the SQLite database file (or sqlite.MemoryPath).
	Path string
	// DSN is the go-sql-driver connection string for the mysql backend.
	DSN    string
	Logger *slog.Logger
}

// BackendFactory is a function that creates a storage backend
type BackendFactory func(ctx context.Context, opts Options) (storage.Storage, error)

// backendRegistry holds registered backend factories
var backendRegistry = map[string]BackendFactory{
	BackendSQLite: func(ctx context.Context, opts Options) (storage.Storage, error) {
		if opts.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires db.path")
		}
		return sqlite.Open(ctx, opts.Path, sqlstore.Options{Logger: opts.Logger})
	},
	BackendMySQL: func(ctx context.Context, opts Options) (storage.Storage, error) {
		if opts.DSN == "" {
			return nil, fmt.Errorf("mysql backend requires db.dsn")
		}
		return mysql.Open(ctx, opts.DSN, sqlstore.Options{Logger: opts.Logger})
	},
}

// RegisterBackend registers a storage backend factory
func RegisterBackend(name string, factory BackendFactory) {
	backendRegistry[name] = factory
}

// New creates a storage backend based on the backend type.
// An empty backend selects SQLite.
func New(ctx context.Context, backend string, opts Options) (storage.Storage, error) {
	if backend == "" {
		backend = BackendSQLite
	}
	if factory, ok := backendRegistry[backend]; ok {
		return factory(ctx, opts)
	}
	names := make([]string, 0, len(backendRegistry))
	for n := range backendRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown storage backend: %s (supported: %s)", backend, strings.Join(names, ", "))
}
