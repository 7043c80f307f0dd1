// Package sqlite opens the SQLite backend: ncruces/go-sqlite3 (a WASM build
// of SQLite run by wazero) driven through the shared sqlstore queries.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// setupWASMCache configures WASM compilation caching so SQLite starts in
// ~20ms instead of recompiling the module on every process start.
// Returns the cache directory ("" when falling back to an in-memory cache).
func setupWASMCache() string {
	cacheDir := ""
	if userCache, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(userCache, "leadcheck", "wasm")
	}

	var cache wazero.CompilationCache
	if cacheDir != "" {
		if c, err := wazero.NewCompilationCacheWithDir(cacheDir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
		cacheDir = ""
	}

	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
	return cacheDir
}

func init() {
	_ = setupWASMCache()
}

// Open opens (creating if needed) the SQLite database at path.
// Pass MemoryPath for a throwaway database private to the returned store.
func Open(ctx context.Context, path string, opts sqlstore.Options) (*sqlstore.Store, error) {
	// _txlock=immediate makes BeginTx take the write lock up front, so a
	// read-plan-write transaction cannot be overtaken between its read and
	// its conditional update.
	const params = "_pragma=foreign_keys(ON)&_pragma=busy_timeout(10000)&_txlock=immediate"

	inMemory := path == MemoryPath || (strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))

	var connStr string
	switch {
	case path == MemoryPath:
		// Named shared-cache memory db so every pooled connection sees the
		// same data; the random name keeps stores isolated from each other.
		connStr = fmt.Sprintf("file:lc-%s?mode=memory&cache=shared&%s", uuid.NewString(), params)
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_txlock") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			connStr += sep + params
		}
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?" + params
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		// WAL allows one writer and many readers; cap the pool so writers
		// queue on busy_timeout instead of piling up goroutines.
		db.SetMaxOpenConns(runtime.NumCPU() + 1)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(0)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := sqlstore.New(ctx, db, Dialect{}, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect is the sqlstore dialect for SQLite.
type Dialect struct{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return "sqlite" }

// Schema implements sqlstore.Dialect.
func (Dialect) Schema() []string { return schema }

// InsertIgnore implements sqlstore.Dialect.
func (Dialect) InsertIgnore() string { return "INSERT OR IGNORE" }

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsRetryable implements sqlstore.Dialect.
func (Dialect) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked")
}
