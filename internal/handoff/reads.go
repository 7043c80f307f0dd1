package handoff

import (
	"context"
	"time"

	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/roster"
	"github.com/leadcheck/leadcheck/internal/types"
)

// GetSession returns a session with its checklist. viewer, if set, fills
// Outcome.Available. Counter drift is returned as ErrDataIntegrity.
func (o *Orchestrator) GetSession(ctx context.Context, id string, viewer lifecycle.Actor) (*Outcome, error) {
	s, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.withItems(ctx, s, viewer)
}

// GetSessionBySubmission returns the open session for a submission, or its
// most recent one when none is open.
func (o *Orchestrator) GetSessionBySubmission(ctx context.Context, submissionID string, viewer lifecycle.Actor) (*Outcome, error) {
	s, err := o.store.GetSessionBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return o.withItems(ctx, s, viewer)
}

func (o *Orchestrator) withItems(ctx context.Context, s *types.Session, viewer lifecycle.Actor) (*Outcome, error) {
	items, err := o.store.GetItems(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if err := checkIntegrity(s, items); err != nil {
		o.log.Error("session counters drifted from items", "session", s.ID, "error", err)
		return nil, err
	}
	return o.outcome(s, items, viewer), nil
}

// ListSessions returns sessions for the dashboard. The zero filter hides
// completed sessions.
func (o *Orchestrator) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	return o.store.ListSessions(ctx, filter)
}

// ListEvents returns the audit trail, oldest first. An empty sessionID
// lists across sessions.
func (o *Orchestrator) ListEvents(ctx context.Context, sessionID string, since time.Time, limit int) ([]*types.Event, error) {
	if sessionID != "" {
		if _, err := o.store.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	return o.store.ListEvents(ctx, sessionID, since, limit)
}

// Agents lists active roster agents with role (every role when empty).
func (o *Orchestrator) Agents(role types.Role) []roster.Agent {
	if o.roster == nil {
		return nil
	}
	return o.roster.Agents(role)
}
