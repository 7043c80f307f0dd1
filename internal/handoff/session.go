package handoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadcheck/leadcheck/internal/eventbus"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/types"
)

// IntakeActor is recorded as the actor of closes that arrive from
// call-result intake.
const IntakeActor = "intake"

// ClaimSession takes ownership of a session for req.AgentID, creating the
// session from the lead record when the submission has none open.
func (o *Orchestrator) ClaimSession(ctx context.Context, req types.ClaimRequest) (*Outcome, error) {
	res, err := o.arbiter.Claim(ctx, req)
	if err != nil {
		o.record(ctx, string(lifecycle.ActionClaim), nil, err, false)
		return nil, err
	}
	actor := lifecycle.Actor{ID: req.AgentID, Role: req.Role}
	out := o.outcome(res.Session, res.Items, actor)
	out.Noop = res.Transition.Noop
	o.record(ctx, string(lifecycle.ActionClaim), res.Session, nil, out.Noop)
	if out.Noop {
		return out, nil
	}

	at := res.Session.UpdatedAt
	if res.Created {
		out.Warnings = append(out.Warnings, o.emit(ctx, &eventbus.Event{
			Type:         eventbus.EventSessionCreated,
			SessionID:    res.Session.ID,
			SubmissionID: res.Session.SubmissionID,
			Actor:        actor.ID,
			NewStatus:    types.StatusPending,
			At:           res.Session.StartedAt,
		})...)
	}
	out.Warnings = append(out.Warnings, o.emitTransition(ctx, res.Transition, res.Session, actor, res.EventID, at)...)
	return out, nil
}

// ReportDropped records that the owner's call dropped. Both slots may drop.
func (o *Orchestrator) ReportDropped(ctx context.Context, actor lifecycle.Actor, sessionID string) (*Outcome, error) {
	return o.apply(ctx, lifecycle.Request{Action: lifecycle.ActionDrop, Actor: actor}, sessionID)
}

// FinishOwnCall ends the owner's part of the session (buffer_done or
// la_done depending on the slot held).
func (o *Orchestrator) FinishOwnCall(ctx context.Context, actor lifecycle.Actor, sessionID string) (*Outcome, error) {
	return o.apply(ctx, lifecycle.Request{Action: lifecycle.ActionFinish, Actor: actor}, sessionID)
}

// TransferToLicensed hands a buffer-owned session to the licensed queue.
func (o *Orchestrator) TransferToLicensed(ctx context.Context, actor lifecycle.Actor, sessionID string) (*Outcome, error) {
	return o.apply(ctx, lifecycle.Request{Action: lifecycle.ActionTransfer, Actor: actor}, sessionID)
}

// DeferToOtherLicensed releases a licensed-owned session so another
// licensed agent can claim it.
func (o *Orchestrator) DeferToOtherLicensed(ctx context.Context, actor lifecycle.Actor, sessionID string) (*Outcome, error) {
	return o.apply(ctx, lifecycle.Request{Action: lifecycle.ActionDefer, Actor: actor}, sessionID)
}

// CloseOnSubmission completes the open session for a submission once its
// call result has been recorded. Closing an already completed session is a
// no-op, and so is closing a submission nobody ever verified: that Outcome
// has no Session.
func (o *Orchestrator) CloseOnSubmission(ctx context.Context, submissionID, actorID string) (*Outcome, error) {
	if submissionID == "" {
		return nil, fmt.Errorf("close: submission id is required: %w", ErrInvalidRequest)
	}
	if actorID == "" {
		actorID = IntakeActor
	}
	actor := lifecycle.Actor{ID: actorID}

	open, err := o.store.GetOpenSession(ctx, submissionID)
	if errors.Is(err, storage.ErrNotFound) {
		// Already closed, or never opened.
		s, err := o.store.GetSessionBySubmission(ctx, submissionID)
		if errors.Is(err, storage.ErrNotFound) {
			o.log.Debug("close for submission without a session", "submission", submissionID, "actor", actorID)
			o.record(ctx, string(lifecycle.ActionClose), nil, nil, true)
			return &Outcome{Noop: true}, nil
		}
		if err != nil {
			o.record(ctx, string(lifecycle.ActionClose), nil, err, false)
			return nil, fmt.Errorf("close submission %s: %w", submissionID, err)
		}
		items, err := o.store.GetItems(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		out := o.outcome(s, items, lifecycle.Actor{})
		out.Noop = true
		o.record(ctx, string(lifecycle.ActionClose), s, nil, true)
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return o.apply(ctx, lifecycle.Request{Action: lifecycle.ActionClose, Actor: actor}, open.ID)
}

// apply plans req against the current session and writes it with a
// conditional update, re-planning if another writer got there first.
func (o *Orchestrator) apply(ctx context.Context, req lifecycle.Request, sessionID string) (*Outcome, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is required: %w", req.Action, ErrInvalidRequest)
	}
	if req.Actor.ID == "" {
		return nil, fmt.Errorf("%s %s: actor is required: %w", req.Action, sessionID, ErrInvalidRequest)
	}

	var (
		t       *lifecycle.Transition
		s       *types.Session
		items   []*types.Item
		eventID int64
		err     error
	)
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		t, s, items, eventID, err = o.applyOnce(ctx, req, sessionID)
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
		o.log.Debug("conditional write missed, re-planning",
			"session", sessionID, "action", string(req.Action), "attempt", attempt)
	}
	o.record(ctx, string(req.Action), s, err, t != nil && t.Noop)
	if err != nil {
		return nil, err
	}

	out := o.outcome(s, items, req.Actor)
	out.Noop = t.Noop
	if t.Noop {
		return out, nil
	}
	o.log.Info("session transition",
		"session", s.ID,
		"action", string(req.Action),
		"actor", req.Actor.ID,
		"from", string(t.From),
		"to", string(t.To),
	)
	out.Warnings = o.emitTransition(ctx, t, s, req.Actor, eventID, s.UpdatedAt)
	return out, nil
}

func (o *Orchestrator) applyOnce(ctx context.Context, req lifecycle.Request, sessionID string) (*lifecycle.Transition, *types.Session, []*types.Item, int64, error) {
	now := o.now()
	var (
		t       *lifecycle.Transition
		s       *types.Session
		items   []*types.Item
		eventID int64
	)
	err := o.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		cur, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if t, err = lifecycle.Plan(cur, req, now); err != nil {
			return err
		}
		if !t.Noop {
			guard := storage.Guard{SessionID: cur.ID, Status: t.From, OwnerID: t.FromOwner}
			if err := tx.TransitionSession(ctx, guard, t.Next); err != nil {
				return err
			}
			ev := &types.Event{
				SessionID: cur.ID,
				Type:      t.Event,
				Actor:     req.Actor.ID,
				OldStatus: t.From,
				NewStatus: t.To,
				CreatedAt: now,
			}
			if err := tx.RecordEvent(ctx, ev); err != nil {
				return err
			}
			eventID = ev.ID
		}
		if s, err = tx.GetSession(ctx, sessionID); err != nil {
			return err
		}
		items, err = tx.GetItems(ctx, sessionID)
		return err
	})
	return t, s, items, eventID, err
}
