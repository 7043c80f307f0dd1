// Package mysql opens the MySQL-protocol backend (MySQL, MariaDB or a Dolt
// sql-server) through go-sql-driver/mysql and the shared sqlstore queries.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
)

// MySQL server error numbers.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

const openMaxElapsed = 30 * time.Second

func newOpenBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openMaxElapsed
	return bo
}

// Open connects to dsn (go-sql-driver format, e.g.
// "user:pass@tcp(127.0.0.1:3306)/leadcheck"), waiting out a server that is
// still starting, and creates the schema.
func Open(ctx context.Context, dsn string, opts sqlstore.Options) (*sqlstore.Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid mysql dsn: %w", err)
	}
	// Conditional updates rely on RowsAffected counting matched rows.
	cfg.ClientFoundRows = true
	cfg.ParseTime = false
	cfg.MultiStatements = false

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			if isRetryableError(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newOpenBackoff(), ctx))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}

	store, err := sqlstore.New(ctx, db, Dialect{}, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Dialect is the sqlstore dialect for MySQL-compatible servers.
type Dialect struct{}

// Name implements sqlstore.Dialect.
func (Dialect) Name() string { return "mysql" }

// Schema implements sqlstore.Dialect.
func (Dialect) Schema() []string { return schema }

// InsertIgnore implements sqlstore.Dialect.
func (Dialect) InsertIgnore() string { return "INSERT IGNORE" }

// IsUniqueViolation implements sqlstore.Dialect.
func (Dialect) IsUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errDupEntry
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate entry")
}

// IsRetryable implements sqlstore.Dialect.
func (Dialect) IsRetryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == errDeadlock || me.Number == errLockWaitTimeout
	}
	return isRetryableError(err)
}

// isRetryableError returns true if the error is a transient connection error.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused", // server restarting
		"lost connection",    // 2013: mid-query disconnect
		"gone away",          // 2006: idle connection timeout
		"i/o timeout",
		"serialization failure",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
