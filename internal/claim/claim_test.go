package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcheck/leadcheck/internal/leads"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
	"github.com/leadcheck/leadcheck/internal/testutil/teststore"
	"github.com/leadcheck/leadcheck/internal/types"
)

// countingProvider counts Snapshot calls.
type countingProvider struct {
	leads.StaticProvider
	calls atomic.Int32
}

func (p *countingProvider) Snapshot(ctx context.Context, id string) ([]types.FieldValue, error) {
	p.calls.Add(1)
	return p.StaticProvider.Snapshot(ctx, id)
}

func newArbiter(t *testing.T, subs map[string]int) (*Arbiter, *sqlstore.Store, *countingProvider) {
	t.Helper()
	store := teststore.New(t)
	p := &countingProvider{StaticProvider: leads.StaticProvider{}}
	for id, n := range subs {
		p.StaticProvider[id] = teststore.Snapshot(n)
	}
	return New(store, p, nil), store, p
}

func TestClaimCreatesSessionFromSnapshot(t *testing.T) {
	a, store, p := newArbiter(t, map[string]int{"sub-1": 10})
	ctx := context.Background()

	res, err := a.Claim(ctx, types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Nil(t, res.Before)
	assert.Equal(t, types.StatusInProgress, res.Session.Status)
	assert.Equal(t, "ba-1", res.Session.OwnerID)
	assert.Equal(t, "ba-1", res.Session.BufferAgentID)
	assert.Equal(t, 10, res.Session.TotalFields)
	assert.Len(t, res.Items, 10)
	assert.Equal(t, types.EventClaimed, res.Transition.Event)
	assert.EqualValues(t, 1, p.calls.Load())

	events, err := store.ListEvents(ctx, res.Session.ID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventCreated, events[0].Type)
	assert.Equal(t, types.EventClaimed, events[1].Type)
}

func TestClaimByOwnerIsNoop(t *testing.T) {
	a, store, p := newArbiter(t, map[string]int{"sub-1": 3})
	ctx := context.Background()
	req := types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"}

	first, err := a.Claim(ctx, req)
	require.NoError(t, err)
	again, err := a.Claim(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Transition.Noop)
	assert.False(t, again.Created)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.EqualValues(t, 1, p.calls.Load(), "an open session needs no snapshot")

	events, err := store.ListEvents(ctx, first.Session.ID, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestClaimOwnedSessionFails(t *testing.T) {
	a, store, _ := newArbiter(t, map[string]int{"sub-1": 3})
	ctx := context.Background()

	first, err := a.Claim(ctx, types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"})
	require.NoError(t, err)

	_, err = a.Claim(ctx, types.ClaimRequest{AgentID: "ba-2", Role: types.RoleBuffer, SessionID: first.Session.ID})
	require.ErrorIs(t, err, storage.ErrAlreadyClaimed)
	assert.Contains(t, err.Error(), "ba-1")

	got, err := store.GetSession(ctx, first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "ba-1", got.OwnerID)
}

// TestConcurrentClaimsOneWinner races agents for a submission nobody has
// opened yet. Exactly one creates and owns the session.
func TestConcurrentClaimsOneWinner(t *testing.T) {
	a, store, _ := newArbiter(t, map[string]int{"sub-race": 5})
	ctx := context.Background()

	const agents = 8
	var (
		wg     sync.WaitGroup
		wins   atomic.Int32
		losses atomic.Int32
		winner atomic.Value
	)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			_, err := a.Claim(ctx, types.ClaimRequest{AgentID: agent, Role: types.RoleBuffer, SubmissionID: "sub-race"})
			switch {
			case err == nil:
				wins.Add(1)
				winner.Store(agent)
			case errors.Is(err, storage.ErrAlreadyClaimed):
				losses.Add(1)
			default:
				t.Errorf("agent %s: unexpected error: %v", agent, err)
			}
		}(fmt.Sprintf("ba-%d", i))
	}
	wg.Wait()

	if wins.Load() != 1 || losses.Load() != agents-1 {
		t.Fatalf("wins=%d losses=%d, want 1 and %d", wins.Load(), losses.Load(), agents-1)
	}
	s, err := store.GetOpenSession(ctx, "sub-race")
	require.NoError(t, err)
	assert.Equal(t, winner.Load(), s.OwnerID)
	assert.Equal(t, 5, s.TotalFields)

	all, err := store.ListSessions(ctx, types.SessionFilter{SubmissionID: "sub-race", IncludeCompleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClaimFromCallDroppedReconnects(t *testing.T) {
	a, store, _ := newArbiter(t, map[string]int{"sub-1": 3})
	ctx := context.Background()

	res, err := a.Claim(ctx, types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"})
	require.NoError(t, err)

	err = store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		tr, err := lifecycle.Plan(res.Session, lifecycle.Request{
			Action: lifecycle.ActionDrop,
			Actor:  lifecycle.Actor{ID: "ba-1", Role: types.RoleBuffer},
		}, time.Now().UTC())
		if err != nil {
			return err
		}
		return tx.TransitionSession(ctx, storage.Guard{SessionID: res.Session.ID, Status: tr.From, OwnerID: tr.FromOwner}, tr.Next)
	})
	require.NoError(t, err)

	again, err := a.Claim(ctx, types.ClaimRequest{AgentID: "ba-2", Role: types.RoleBuffer, SubmissionID: "sub-1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCallDropped, again.Before.Status)
	assert.Equal(t, types.NotifyReconnected, again.Transition.Notify)
	assert.Equal(t, "ba-2", again.Session.OwnerID)
	assert.Equal(t, "ba-2", again.Session.BufferAgentID)
}

func TestRetentionClaimTagsSession(t *testing.T) {
	a, _, _ := newArbiter(t, map[string]int{"sub-1": 3})

	res, err := a.Claim(context.Background(), types.ClaimRequest{
		AgentID:       "ra-1",
		Role:          types.RoleRetention,
		SubmissionID:  "sub-1",
		RetentionType: "new_sale",
		Notes:         "callback requested",
	})
	require.NoError(t, err)
	assert.True(t, res.Session.IsRetentionCall)
	assert.Equal(t, "new_sale", res.Session.RetentionType)
	assert.Equal(t, "callback requested", res.Session.Notes)
	assert.Equal(t, types.RoleBuffer, res.Session.OwnerRole)
}

func TestClaimErrors(t *testing.T) {
	a, _, _ := newArbiter(t, map[string]int{"sub-1": 3})
	ctx := context.Background()

	_, err := a.Claim(ctx, types.ClaimRequest{Role: types.RoleBuffer, SubmissionID: "sub-1"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = a.Claim(ctx, types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "missing"})
	assert.ErrorIs(t, err, leads.ErrSubmissionNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = a.Claim(ctx, types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SessionID: "vs-nope"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A licensed agent cannot open a fresh lead.
	_, err = a.Claim(ctx, types.ClaimRequest{AgentID: "la-1", Role: types.RoleLicensed, SubmissionID: "sub-1"})
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestClaimWithoutProvider(t *testing.T) {
	a := New(teststore.New(t), nil, nil)
	_, err := a.Claim(context.Background(), types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"})
	assert.ErrorIs(t, err, leads.ErrUnavailable)
}
