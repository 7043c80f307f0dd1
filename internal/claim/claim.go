// Package claim arbitrates ownership claims on verification sessions.
//
// A claim resolves its target session (creating it from a lead snapshot when
// the submission has none open), plans the change with lifecycle.Plan and
// applies it with one conditional write keyed on the status and owner the
// plan was made from. Of any number of concurrent claimants exactly one
// wins; the rest get storage.ErrAlreadyClaimed and leave the session as the
// winner wrote it.
package claim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/leadcheck/leadcheck/internal/idgen"
	"github.com/leadcheck/leadcheck/internal/leads"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/types"
)

// ErrInvalidRequest is returned for claim requests missing an agent, a role
// or a target.
var ErrInvalidRequest = errors.New("invalid request")

// maxAttempts bounds how often a claim re-resolves after losing a
// create race or discovering it needs a snapshot.
const maxAttempts = 4

var (
	errNeedSnapshot = errors.New("lead snapshot required")
	errCreateRace   = errors.New("lost session create race")
)

// Result describes an applied (or no-op) claim.
type Result struct {
	Before     *types.Session // Session as it was before the claim; nil when Created
	Session    *types.Session
	Items      []*types.Item
	Transition *lifecycle.Transition
	Created    bool  // The session was created by this claim
	EventID    int64 // Audit event recorded for the transition; 0 for a no-op
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// Arbiter applies claims against a store.
type Arbiter struct {
	store storage.Storage
	leads leads.Provider
	now   func() time.Time
	log   *slog.Logger
}

// New returns an Arbiter. provider supplies snapshots for submissions that
// have no open session yet; it may be nil if every claim names an existing
// session.
func New(store storage.Storage, provider leads.Provider, logger *slog.Logger, opts ...Option) *Arbiter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &Arbiter{
		store: store,
		leads: provider,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Claim applies req. A repeat claim by the current owner is a no-op and
// returns the current state with Transition.Noop set.
func (a *Arbiter) Claim(ctx context.Context, req types.ClaimRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("claim: %w: %v", ErrInvalidRequest, err)
	}

	var (
		snapshot []types.FieldValue
		fetched  bool
	)
	if a.needsSnapshot(ctx, req) {
		var err error
		if snapshot, err = a.fetch(ctx, req.SubmissionID); err != nil {
			return nil, err
		}
		fetched = true
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		res, err := a.claimOnce(ctx, req, snapshot, fetched, attempt)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, errNeedSnapshot):
			submission := req.SubmissionID
			var need *snapshotNeeded
			if errors.As(err, &need) {
				submission = need.s.SubmissionID
			}
			if snapshot, err = a.fetch(ctx, submission); err != nil {
				return nil, err
			}
			fetched = true
		case errors.Is(err, errCreateRace):
			a.log.Debug("claim create race, retrying", "submission", req.SubmissionID, "attempt", attempt+1)
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("claim %s: gave up after %d attempts: %w", target(req), maxAttempts, storage.ErrConflict)
}

// needsSnapshot is an unlocked peek. A wrong guess costs one extra round
// trip: claimOnce re-checks inside the transaction.
func (a *Arbiter) needsSnapshot(ctx context.Context, req types.ClaimRequest) bool {
	if req.SessionID != "" {
		return false
	}
	_, err := a.store.GetOpenSession(ctx, req.SubmissionID)
	return errors.Is(err, storage.ErrNotFound)
}

func (a *Arbiter) fetch(ctx context.Context, submissionID string) ([]types.FieldValue, error) {
	if a.leads == nil {
		return nil, fmt.Errorf("snapshot for %s: no lead provider configured: %w", submissionID, leads.ErrUnavailable)
	}
	snap, err := a.leads.Snapshot(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", submissionID, err)
	}
	return snap, nil
}

// snapshotNeeded carries the session whose checklist must be fetched.
type snapshotNeeded struct{ s *types.Session }

func (e *snapshotNeeded) Error() string { return errNeedSnapshot.Error() }
func (e *snapshotNeeded) Unwrap() error { return errNeedSnapshot }

func (a *Arbiter) claimOnce(ctx context.Context, req types.ClaimRequest, snapshot []types.FieldValue, fetched bool, attempt int) (*Result, error) {
	now := a.now()
	actor := lifecycle.Actor{ID: req.AgentID, Role: req.Role}
	res := &Result{}

	err := a.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		s, err := resolve(ctx, tx, req)
		switch {
		case errors.Is(err, storage.ErrNotFound) && req.SessionID == "":
			if !fetched {
				return errNeedSnapshot
			}
			if s, err = a.create(ctx, tx, req, snapshot, now, attempt); err != nil {
				return err
			}
			res.Created = true
		case err != nil:
			return err
		}

		if s.Status.IsOpen() && s.TotalFields == 0 {
			items, err := tx.GetItems(ctx, s.ID)
			if err != nil {
				return err
			}
			if len(items) == 0 && !fetched {
				return &snapshotNeeded{s: s}
			}
			if len(items) == 0 && len(snapshot) > 0 {
				if _, err := tx.CreateItems(ctx, s.ID, snapshot); err != nil {
					return err
				}
				if s, err = tx.GetSession(ctx, s.ID); err != nil {
					return err
				}
			}
		}

		if !res.Created {
			res.Before = s.Clone()
		}
		t, err := lifecycle.Plan(s, lifecycle.Request{
			Action:        lifecycle.ActionClaim,
			Actor:         actor,
			RetentionType: req.RetentionType,
			Notes:         req.Notes,
		}, now)
		if err != nil {
			if errors.Is(err, lifecycle.ErrOwned) {
				return fmt.Errorf("claim %s: held by %s: %w", s.ID, s.OwnerID, storage.ErrAlreadyClaimed)
			}
			return err
		}
		res.Transition = t

		if !t.Noop {
			guard := storage.Guard{SessionID: s.ID, Status: t.From, OwnerID: t.FromOwner}
			if err := tx.TransitionSession(ctx, guard, t.Next); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					return fmt.Errorf("claim %s: %w", s.ID, storage.ErrAlreadyClaimed)
				}
				return err
			}
			ev := &types.Event{
				SessionID: s.ID,
				Type:      t.Event,
				Actor:     actor.ID,
				OldStatus: t.From,
				NewStatus: t.To,
				Detail:    claimDetail(req),
				CreatedAt: now,
			}
			if err := tx.RecordEvent(ctx, ev); err != nil {
				return err
			}
			res.EventID = ev.ID
		}

		if res.Session, err = tx.GetSession(ctx, s.ID); err != nil {
			return err
		}
		res.Items, err = tx.GetItems(ctx, s.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.Transition.Noop {
		a.log.Debug("claim no-op", "session", res.Session.ID, "agent", actor.ID)
	} else {
		a.log.Info("session claimed",
			"session", res.Session.ID,
			"submission", res.Session.SubmissionID,
			"agent", actor.ID,
			"role", string(actor.Role),
			"from", string(res.Transition.From),
			"created", res.Created,
		)
	}
	return res, nil
}

func resolve(ctx context.Context, tx storage.Transaction, req types.ClaimRequest) (*types.Session, error) {
	if req.SessionID == "" {
		return tx.GetOpenSession(ctx, req.SubmissionID)
	}
	s, err := tx.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if req.SubmissionID != "" && req.SubmissionID != s.SubmissionID {
		return nil, fmt.Errorf("claim: session %s belongs to submission %s, not %s: %w",
			s.ID, s.SubmissionID, req.SubmissionID, ErrInvalidRequest)
	}
	return s, nil
}

func (a *Arbiter) create(ctx context.Context, tx storage.Transaction, req types.ClaimRequest, snapshot []types.FieldValue, now time.Time, nonce int) (*types.Session, error) {
	s := &types.Session{
		ID:           idgen.SessionID(req.SubmissionID, req.AgentID, now, nonce),
		SubmissionID: req.SubmissionID,
		Status:       types.StatusPending,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.CreateSession(ctx, s); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", errCreateRace, err)
		}
		return nil, err
	}
	n, err := tx.CreateItems(ctx, s.ID, snapshot)
	if err != nil {
		return nil, err
	}
	if err := tx.RecordEvent(ctx, &types.Event{
		SessionID: s.ID,
		Type:      types.EventCreated,
		Actor:     req.AgentID,
		NewStatus: types.StatusPending,
		Detail:    fmt.Sprintf("%d fields", n),
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return tx.GetSession(ctx, s.ID)
}

func claimDetail(req types.ClaimRequest) string {
	if req.RetentionType != "" {
		return fmt.Sprintf("role=%s retention=%s", req.Role, req.RetentionType)
	}
	return "role=" + string(req.Role)
}

func target(req types.ClaimRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return req.SubmissionID
}
