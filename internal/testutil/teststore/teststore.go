// Package teststore provides SQLite-backed stores and lead fixtures for
// tests above the storage layer.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    store := teststore.New(t)
//	    provider := leads.StaticProvider{"sub-1": teststore.Snapshot(10)}
//	    ...
//	}
package teststore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/leadcheck/leadcheck/internal/storage/sqlite"
	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
	"github.com/leadcheck/leadcheck/internal/types"
)

// New opens an isolated SQLite store in the test's temp dir. It is closed
// when the test completes.
func New(t testing.TB) *sqlstore.Store {
	t.Helper()
	return NewWithOptions(t, sqlstore.Options{})
}

// NewWithOptions is New with explicit store options.
func NewWithOptions(t testing.TB, opts sqlstore.Options) *sqlstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leadcheck.db")
	store, err := sqlite.Open(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("teststore: failed to open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Snapshot returns a lead snapshot of the first n catalogue fields, with
// values "value-0", "value-1", ...
func Snapshot(n int) []types.FieldValue {
	if n > len(types.FieldCatalogue) {
		n = len(types.FieldCatalogue)
	}
	out := make([]types.FieldValue, n)
	for i := range out {
		out[i] = types.FieldValue{Name: types.FieldCatalogue[i], Value: fmt.Sprintf("value-%d", i)}
	}
	return out
}
