// Package handoff is the entry point for every agent action on a
// verification session. It sequences claim arbitration, lifecycle planning,
// the conditional write and post-commit side effects (feed broadcast and
// handoff alerts).
//
// Side effects run only after the write has committed and never roll it
// back: a failed alert shows up in Outcome.Warnings.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/leadcheck/leadcheck/internal/claim"
	"github.com/leadcheck/leadcheck/internal/eventbus"
	"github.com/leadcheck/leadcheck/internal/leads"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/roster"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/telemetry"
	"github.com/leadcheck/leadcheck/internal/types"
)

var (
	// ErrUpstreamUnavailable is returned when the lead record provider
	// cannot supply a snapshot.
	ErrUpstreamUnavailable = leads.ErrUnavailable

	// ErrDataIntegrity is returned when a session's counters disagree with
	// its items. The drift is reported, never repaired.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = claim.ErrInvalidRequest
)

// maxWriteAttempts bounds re-planning after a conditional write misses.
const maxWriteAttempts = 3

// Outcome is the result of every mutating operation and of session reads.
type Outcome struct {
	Session   *types.Session     `json:"session"` // nil when a close found no session
	Items     []*types.Item      `json:"items,omitempty"`
	Item      *types.Item        `json:"item,omitempty"` // Item operations only
	Progress  types.Progress     `json:"progress"`
	Available []lifecycle.Action `json:"available,omitempty"` // Actions open to the acting agent
	Warnings  []string           `json:"warnings,omitempty"`
	Noop      bool               `json:"noop,omitempty"`
}

// Options wires an Orchestrator. Store is required; the rest are optional.
type Options struct {
	Store  storage.Storage
	Leads  leads.Provider
	Bus    *eventbus.Bus
	Roster *roster.Roster
	Logger *slog.Logger
	Now    func() time.Time

	Transitions *telemetry.Transitions
}

// Orchestrator implements the session operations.
type Orchestrator struct {
	store   storage.Storage
	arbiter *claim.Arbiter
	bus     *eventbus.Bus
	roster  *roster.Roster
	log     *slog.Logger
	now     func() time.Time
	metrics *telemetry.Transitions
}

// New returns an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		store:   opts.Store,
		arbiter: claim.New(opts.Store, opts.Leads, opts.Logger, claim.WithNow(opts.Now)),
		bus:     opts.Bus,
		roster:  opts.Roster,
		log:     opts.Logger,
		now:     opts.Now,
		metrics: opts.Transitions,
	}
}

func (o *Orchestrator) displayName(id string) string {
	if o.roster == nil {
		return id
	}
	return o.roster.DisplayName(id)
}

func (o *Orchestrator) outcome(s *types.Session, items []*types.Item, actor lifecycle.Actor) *Outcome {
	out := &Outcome{Session: s, Items: items, Progress: s.Progress()}
	if actor.ID != "" {
		out.Available = lifecycle.Available(s, actor)
	}
	return out
}

// notification builds the alert for a committed transition, or nil when the
// transition alerts nobody.
func (o *Orchestrator) notification(t *lifecycle.Transition, s *types.Session, actor lifecycle.Actor, eventID int64, at time.Time) *types.Notification {
	if t.Notify == "" {
		return nil
	}
	return &types.Notification{
		Type:            t.Notify,
		SessionID:       s.ID,
		SubmissionID:    s.SubmissionID,
		ActorID:         actor.ID,
		ActorName:       o.displayName(actor.ID),
		Role:            actor.Role,
		IsRetentionCall: s.IsRetentionCall,
		Progress:        s.Progress(),
		EventID:         eventID,
		At:              at,
	}
}

// emit hands a committed change to the bus and returns any warnings.
func (o *Orchestrator) emit(ctx context.Context, event *eventbus.Event) []string {
	if o.bus == nil {
		return nil
	}
	res, err := o.bus.Dispatch(ctx, event)
	var warnings []string
	if res != nil {
		warnings = res.Warnings
	}
	if err != nil {
		warnings = append(warnings, err.Error())
	}
	return warnings
}

func (o *Orchestrator) emitTransition(ctx context.Context, t *lifecycle.Transition, s *types.Session, actor lifecycle.Actor, eventID int64, at time.Time) []string {
	return o.emit(ctx, &eventbus.Event{
		Type:         eventbus.FromAudit(t.Event),
		SessionID:    s.ID,
		SubmissionID: s.SubmissionID,
		Actor:        actor.ID,
		OldStatus:    t.From,
		NewStatus:    t.To,
		Session:      s,
		Notification: o.notification(t, s, actor, eventID, at),
		At:           at,
	})
}

func (o *Orchestrator) record(ctx context.Context, action string, s *types.Session, err error, noop bool) {
	status := ""
	if s != nil {
		status = string(s.Status)
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = errorClass(err)
	case noop:
		outcome = "noop"
	}
	o.metrics.Record(ctx, action, status, outcome)
}

// errorClass names the sentinel behind err for metrics and logs.
func errorClass(err error) string {
	switch {
	case errors.Is(err, storage.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, lifecycle.ErrNotOwner):
		return "not_owner"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	}
	return "error"
}

// checkIntegrity verifies the session counters against its items.
func checkIntegrity(s *types.Session, items []*types.Item) error {
	verified := 0
	for _, it := range items {
		if it.SessionID != s.ID {
			return fmt.Errorf("session %s: item %d belongs to %s: %w", s.ID, it.ID, it.SessionID, ErrDataIntegrity)
		}
		if it.IsVerified {
			verified++
		}
	}
	if len(items) != s.TotalFields {
		return fmt.Errorf("session %s: total_fields %d but %d items: %w", s.ID, s.TotalFields, len(items), ErrDataIntegrity)
	}
	if verified != s.VerifiedFields {
		return fmt.Errorf("session %s: verified_fields %d but %d items verified: %w", s.ID, s.VerifiedFields, verified, ErrDataIntegrity)
	}
	if want := types.ComputeProgress(verified, s.TotalFields).Percentage; want != s.ProgressPercentage {
		return fmt.Errorf("session %s: progress %d%% but counters give %d%%: %w", s.ID, s.ProgressPercentage, want, ErrDataIntegrity)
	}
	return nil
}
