// Package lifecycle holds the session state machine. Every status change a
// session can undergo is planned here; callers persist the planned result
// with a conditional write keyed on the status and owner the plan started
// from.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/leadcheck/leadcheck/internal/types"
)

var (
	// ErrInvalidTransition is returned when the action is not permitted from
	// the session's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNotOwner is returned when an owner-only action is attempted by an
	// agent who does not currently hold the session.
	ErrNotOwner = errors.New("not the session owner")

	// ErrOwned is returned when a claim targets a session another agent
	// already holds.
	ErrOwned = errors.New("session already owned")
)

// Action is an agent-facing operation on a session
type Action string

// Actions
const (
	ActionClaim    Action = "claim"
	ActionDrop     Action = "drop"
	ActionFinish   Action = "finish"
	ActionTransfer Action = "transfer"
	ActionDefer    Action = "defer"
	ActionClose    Action = "close"
)

// AllActions lists the actions in the order they are offered to agents.
var AllActions = []Action{ActionClaim, ActionDrop, ActionFinish, ActionTransfer, ActionDefer, ActionClose}

// Actor identifies who performs an action.
type Actor struct {
	ID   string
	Role types.Role
}

// Request is the input to Plan.
type Request struct {
	Action Action
	Actor  Actor

	// Claim only.
	RetentionType string
	Notes         string
}

// Transition is a planned status change. Next is the full session as it
// should be stored; From/FromOwner form the guard for the conditional write.
type Transition struct {
	Action    Action
	From      types.Status
	FromOwner string
	To        types.Status
	Event     types.EventType
	Notify    types.NotificationType // Empty when nobody needs alerting
	Next      *types.Session
	Noop      bool // Nothing to write
}

type rule struct {
	from   []types.Status
	slots  []types.Role // Claim: actor roles allowed. Others: owner slots allowed.
	to     types.Status
	event  types.EventType
	notify func(from types.Status) types.NotificationType
	apply  func(next *types.Session, req Request)
}

func always(n types.NotificationType) func(types.Status) types.NotificationType {
	return func(types.Status) types.NotificationType { return n }
}

func never(types.Status) types.NotificationType { return "" }

var claimRules = []rule{
	{
		from:  []types.Status{types.StatusPending, types.StatusCallDropped},
		slots: []types.Role{types.RoleBuffer, types.RoleRetention},
		to:    types.StatusInProgress,
		event: types.EventClaimed,
		notify: func(from types.Status) types.NotificationType {
			if from == types.StatusCallDropped {
				return types.NotifyReconnected
			}
			return ""
		},
		apply: func(next *types.Session, req Request) {
			next.BufferAgentID = req.Actor.ID
			next.OwnerID = req.Actor.ID
			next.OwnerRole = types.RoleBuffer
		},
	},
	{
		from:   []types.Status{types.StatusTransferred, types.StatusReadyForTransfer},
		slots:  []types.Role{types.RoleLicensed, types.RoleRetention},
		to:     types.StatusInProgress,
		event:  types.EventClaimed,
		notify: never,
		apply: func(next *types.Session, req Request) {
			next.LicensedAgentID = req.Actor.ID
			next.OwnerID = req.Actor.ID
			next.OwnerRole = types.RoleLicensed
		},
	},
}

var ownerRules = map[Action][]rule{
	ActionDrop: {{
		slots:  []types.Role{types.RoleBuffer, types.RoleLicensed},
		to:     types.StatusCallDropped,
		event:  types.EventDropped,
		notify: always(types.NotifyDropped),
	}},
	ActionFinish: {
		{slots: []types.Role{types.RoleBuffer}, to: types.StatusBufferDone, event: types.EventFinished, notify: never},
		{slots: []types.Role{types.RoleLicensed}, to: types.StatusLADone, event: types.EventFinished, notify: never},
	},
	ActionTransfer: {{
		slots:  []types.Role{types.RoleBuffer},
		to:     types.StatusTransferred,
		event:  types.EventTransferred,
		notify: always(types.NotifyTransferred),
	}},
	ActionDefer: {{
		slots:  []types.Role{types.RoleLicensed},
		to:     types.StatusReadyForTransfer,
		event:  types.EventDeferred,
		notify: always(types.NotifyReady),
		apply: func(next *types.Session, _ Request) {
			next.LicensedAgentID = ""
		},
	}},
}

// Plan validates req against the current session and returns the resulting
// transition. s is never modified.
func Plan(s *types.Session, req Request, now time.Time) (*Transition, error) {
	if s == nil {
		return nil, fmt.Errorf("plan %s: nil session", req.Action)
	}
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("plan %s on %s: unknown status %q: %w", req.Action, s.ID, s.Status, ErrInvalidTransition)
	}

	switch req.Action {
	case ActionClaim:
		return planClaim(s, req, now)
	case ActionClose:
		return planClose(s, req, now)
	case ActionDrop, ActionFinish, ActionTransfer, ActionDefer:
		return planOwnerAction(s, req, now)
	default:
		return nil, fmt.Errorf("unknown action %q: %w", req.Action, ErrInvalidTransition)
	}
}

func planClaim(s *types.Session, req Request, now time.Time) (*Transition, error) {
	if !req.Actor.Role.IsValid() {
		return nil, fmt.Errorf("claim %s: invalid role %q: %w", s.ID, req.Actor.Role, ErrInvalidTransition)
	}
	if s.Status == types.StatusInProgress && s.Owned() {
		if s.OwnerID == req.Actor.ID {
			return &Transition{Action: ActionClaim, From: s.Status, FromOwner: s.OwnerID, To: s.Status, Next: s.Clone(), Noop: true}, nil
		}
		return nil, fmt.Errorf("claim %s: held by %s: %w", s.ID, s.OwnerID, ErrOwned)
	}
	for _, r := range claimRules {
		if !slices.Contains(r.from, s.Status) || !slices.Contains(r.slots, req.Actor.Role) {
			continue
		}
		next := s.Clone()
		next.Status = r.to
		next.UpdatedAt = now
		r.apply(next, req)
		if req.Actor.Role == types.RoleRetention {
			next.IsRetentionCall = true
			if req.RetentionType != "" {
				next.RetentionType = req.RetentionType
			}
		}
		if req.Notes != "" {
			next.Notes = req.Notes
		}
		return &Transition{
			Action:    ActionClaim,
			From:      s.Status,
			FromOwner: s.OwnerID,
			To:        r.to,
			Event:     r.event,
			Notify:    r.notify(s.Status),
			Next:      next,
		}, nil
	}
	return nil, fmt.Errorf("%s agent cannot claim %s session %s: %w", req.Actor.Role, s.Status, s.ID, ErrInvalidTransition)
}

func planOwnerAction(s *types.Session, req Request, now time.Time) (*Transition, error) {
	if err := CheckOwner(s, req.Actor, string(req.Action)); err != nil {
		return nil, err
	}
	for _, r := range ownerRules[req.Action] {
		if !slices.Contains(r.slots, s.OwnerRole) {
			continue
		}
		next := s.Clone()
		next.Status = r.to
		next.OwnerID = ""
		next.OwnerRole = ""
		next.UpdatedAt = now
		if r.apply != nil {
			r.apply(next, req)
		}
		return &Transition{
			Action:    req.Action,
			From:      s.Status,
			FromOwner: s.OwnerID,
			To:        r.to,
			Event:     r.event,
			Notify:    r.notify(s.Status),
			Next:      next,
		}, nil
	}
	return nil, fmt.Errorf("%s %s: not available to the %s slot: %w", req.Action, s.ID, s.OwnerRole, ErrInvalidTransition)
}

// CheckOwner returns nil if actor currently holds s. op names the attempted
// operation in the error.
func CheckOwner(s *types.Session, actor Actor, op string) error {
	if s.Status != types.StatusInProgress {
		return fmt.Errorf("%s %s: session is %s: %w", op, s.ID, s.Status, ErrInvalidTransition)
	}
	if !s.Owned() || s.OwnerID != actor.ID {
		return fmt.Errorf("%s %s: %q does not own it: %w", op, s.ID, actor.ID, ErrNotOwner)
	}
	return nil
}

func planClose(s *types.Session, _ Request, now time.Time) (*Transition, error) {
	if s.Status == types.StatusCompleted {
		return &Transition{Action: ActionClose, From: s.Status, FromOwner: s.OwnerID, To: s.Status, Next: s.Clone(), Noop: true}, nil
	}
	next := s.Clone()
	next.Status = types.StatusCompleted
	next.OwnerID = ""
	next.OwnerRole = ""
	next.UpdatedAt = now
	completed := now
	next.CompletedAt = &completed
	return &Transition{
		Action:    ActionClose,
		From:      s.Status,
		FromOwner: s.OwnerID,
		To:        types.StatusCompleted,
		Event:     types.EventClosed,
		Next:      next,
	}, nil
}

// Available returns the actions actor could perform on s right now.
// Close is omitted: it belongs to call-result intake, not agents.
func Available(s *types.Session, actor Actor) []Action {
	var out []Action
	for _, a := range AllActions {
		if a == ActionClose {
			continue
		}
		t, err := Plan(s, Request{Action: a, Actor: actor}, time.Time{})
		if err == nil && !t.Noop {
			out = append(out, a)
		}
	}
	return out
}
