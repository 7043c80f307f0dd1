// Package storage provides the storage interface for verification sessions.
//
// The shared SQL implementation lives in the sqlstore sub-package; sqlite and
// mysql supply drivers and dialects for it. Consumers depend on the
// interfaces here so alternative implementations (telemetry wrappers, test
// doubles) can be substituted.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/leadcheck/leadcheck/internal/types"
)

// ErrAlreadyClaimed is returned when a claim loses the race for a session.
// The error message contains the current owner.
var ErrAlreadyClaimed = errors.New("session already claimed")

// ErrNotFound is returned when a requested entity does not exist in the database.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write matched no row because the
// session moved on since it was read, or when a uniqueness guard rejected an
// insert (a second open session for the same submission).
var ErrConflict = errors.New("conflict")

// Guard is the expected current state for a conditional session update.
type Guard struct {
	SessionID string
	Status    types.Status
	OwnerID   string
}

// Storage is the interface satisfied by *sqlstore.Store.
type Storage interface {
	// Sessions
	GetSession(ctx context.Context, id string) (*types.Session, error)
	GetOpenSession(ctx context.Context, submissionID string) (*types.Session, error)
	GetSessionBySubmission(ctx context.Context, submissionID string) (*types.Session, error) // Open session, else most recent
	ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error)

	// Items
	GetItems(ctx context.Context, sessionID string) ([]*types.Item, error)
	GetItem(ctx context.Context, id int64) (*types.Item, error)

	// Audit events. Empty sessionID lists across all sessions.
	ListEvents(ctx context.Context, sessionID string, since time.Time, limit int) ([]*types.Event, error)

	// ReserveNotification records an idempotency key. It returns false when
	// the key was already present.
	ReserveNotification(ctx context.Context, key string, at time.Time) (bool, error)

	// Transactions
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Lifecycle
	Close() error
}

// Transaction provides atomic multi-operation support within a single database transaction.
//
// All operations share one connection and are invisible to other connections
// until commit. An error or panic from the callback rolls the transaction back.
//
//	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
//	    cur, err := tx.GetSession(ctx, id)
//	    if err != nil {
//	        return err
//	    }
//	    tr, err := lifecycle.Plan(cur, req, now)
//	    if err != nil {
//	        return err // Triggers rollback
//	    }
//	    return tx.TransitionSession(ctx, storage.Guard{SessionID: id, Status: tr.From, OwnerID: tr.FromOwner}, tr.Next)
//	})
type Transaction interface {
	// Reads see writes made earlier in the same transaction.
	GetSession(ctx context.Context, id string) (*types.Session, error)
	GetOpenSession(ctx context.Context, submissionID string) (*types.Session, error)
	GetItems(ctx context.Context, sessionID string) ([]*types.Item, error)
	GetItem(ctx context.Context, id int64) (*types.Item, error)

	// CreateSession inserts a new session. Returns ErrConflict if the
	// submission already has an open session.
	CreateSession(ctx context.Context, s *types.Session) error

	// CreateItems snapshots the checklist for a session and sets its
	// TotalFields. It does nothing and returns 0 when items already exist.
	CreateItems(ctx context.Context, sessionID string, snapshot []types.FieldValue) (int, error)

	// TransitionSession writes next only if the stored session still matches
	// guard. Returns ErrConflict when it does not.
	TransitionSession(ctx context.Context, guard Guard, next *types.Session) error

	// SetItemVerified toggles an item and recomputes the owning session's
	// verified count and progress. Returns the updated item and session.
	SetItemVerified(ctx context.Context, itemID int64, verified bool) (*types.Item, *types.Session, error)

	// SetItemValue updates the working value and recomputes IsModified.
	SetItemValue(ctx context.Context, itemID int64, value string) (*types.Item, error)

	RecordEvent(ctx context.Context, e *types.Event) error
}
