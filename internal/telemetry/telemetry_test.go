package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/storage/sqlite"
	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
	"github.com/leadcheck/leadcheck/internal/types"
)

func TestWrapStorageDisabled(t *testing.T) {
	t.Setenv("LC_OTEL_ENABLED", "")
	store, err := sqlite.Open(context.Background(), sqlite.MemoryPath, sqlstore.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if got := WrapStorage(store); got != storage.Storage(store) {
		t.Fatal("WrapStorage should return the store unchanged when disabled")
	}
}

func TestInitDisabledIsNoop(t *testing.T) {
	t.Setenv("LC_OTEL_ENABLED", "false")
	if err := Init(context.Background(), "lc", "test"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	Shutdown(context.Background())
	// Counters from the no-op provider must be safe to use.
	NewTransitions().Record(context.Background(), "claim", "in_progress", "ok")
	var nilT *Transitions
	nilT.Record(context.Background(), "claim", "in_progress", "ok")
}

func TestInstrumentedStorageDelegates(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.MemoryPath, sqlstore.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	wrapped := newInstrumentedStorage(store)
	defer wrapped.Close()

	now := time.Now().UTC()
	s := &types.Session{ID: "vs-tel", SubmissionID: "sub-tel", Status: types.StatusPending, StartedAt: now, UpdatedAt: now}
	err = wrapped.RunInTransaction(ctx, func(tx storage.Transaction) error {
		if err := tx.CreateSession(ctx, s); err != nil {
			return err
		}
		_, err := tx.CreateItems(ctx, s.ID, []types.FieldValue{{Name: types.FieldCarrier, Value: "Acme"}})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := wrapped.GetOpenSession(ctx, "sub-tel")
	if err != nil || got.ID != s.ID {
		t.Fatalf("GetOpenSession = %v, %v", got, err)
	}
	items, err := wrapped.GetItems(ctx, s.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("GetItems = %d, %v", len(items), err)
	}
	if _, err := wrapped.GetSession(ctx, "vs-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound through wrapper, got %v", err)
	}
	ok, err := wrapped.ReserveNotification(ctx, "k", now)
	if err != nil || !ok {
		t.Fatalf("ReserveNotification = %v, %v", ok, err)
	}
}
