package handoff

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcheck/leadcheck/internal/eventbus"
	"github.com/leadcheck/leadcheck/internal/leads"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/notification"
	"github.com/leadcheck/leadcheck/internal/roster"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/storage/sqlite"
	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
	"github.com/leadcheck/leadcheck/internal/testutil/teststore"
	"github.com/leadcheck/leadcheck/internal/types"
)

var (
	buffer1   = lifecycle.Actor{ID: "ba-1", Role: types.RoleBuffer}
	buffer2   = lifecycle.Actor{ID: "ba-2", Role: types.RoleBuffer}
	licensed1 = lifecycle.Actor{ID: "la-1", Role: types.RoleLicensed}
	licensed2 = lifecycle.Actor{ID: "la-2", Role: types.RoleLicensed}
)

// recorder captures bus traffic.
type recorder struct {
	mu            sync.Mutex
	events        []*eventbus.Event
	notifications []*types.Notification
	fail          error
}

func (r *recorder) Publish(_ context.Context, e *eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Notify(_ context.Context, n *types.Notification) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil, r.fail
}

func (r *recorder) eventTypes() []eventbus.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) notified() []types.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.NotificationType, len(r.notifications))
	for i, n := range r.notifications {
		out[i] = n.Type
	}
	return out
}

type harness struct {
	o     *Orchestrator
	store *sqlstore.Store
	rec   *recorder
}

func newHarness(t *testing.T, subs map[string]int) *harness {
	t.Helper()
	store := teststore.New(t)

	provider := leads.StaticProvider{}
	for id, n := range subs {
		provider[id] = teststore.Snapshot(n)
	}
	r, err := roster.New(
		roster.Agent{ID: "ba-1", Name: "Bea Buffer", Role: types.RoleBuffer},
		roster.Agent{ID: "ba-2", Name: "Bo Buffer", Role: types.RoleBuffer},
		roster.Agent{ID: "la-1", Name: "Lee Licensed", Role: types.RoleLicensed},
	)
	require.NoError(t, err)

	rec := &recorder{}
	bus := eventbus.New(nil)
	bus.Register(&eventbus.FeedHandler{Feed: rec})
	bus.Register(&eventbus.NotifyHandler{Notifier: rec})

	return &harness{
		o:     New(Options{Store: store, Leads: provider, Bus: bus, Roster: r}),
		store: store,
		rec:   rec,
	}
}

func (h *harness) claim(t *testing.T, actor lifecycle.Actor, submission string) *Outcome {
	t.Helper()
	out, err := h.o.ClaimSession(context.Background(), types.ClaimRequest{AgentID: actor.ID, Role: actor.Role, SubmissionID: submission})
	require.NoError(t, err)
	return out
}

func (h *harness) verify(t *testing.T, actor lifecycle.Actor, items []*types.Item, n int) *Outcome {
	t.Helper()
	var out *Outcome
	for _, it := range items[:n] {
		var err error
		out, err = h.o.RecordFieldVerification(context.Background(), actor, it.ID, true)
		require.NoError(t, err)
	}
	return out
}

// TestFullHandoff walks a lead from the buffer agent to the licensed agent
// and through call-result intake.
func TestFullHandoff(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": len(types.FieldCatalogue)})
	ctx := context.Background()

	claimed := h.claim(t, buffer1, "sub-1")
	require.Len(t, claimed.Items, 34)
	assert.Equal(t, 34, claimed.Session.TotalFields)
	assert.ElementsMatch(t, []lifecycle.Action{lifecycle.ActionDrop, lifecycle.ActionFinish, lifecycle.ActionTransfer}, claimed.Available)
	id := claimed.Session.ID

	verified := h.verify(t, buffer1, claimed.Items, 26)
	assert.Equal(t, 26, verified.Session.VerifiedFields)
	assert.Equal(t, types.Progress{Percentage: 76, Label: types.LabelReadyForTransfer}, verified.Progress)

	transferred, err := h.o.TransferToLicensed(ctx, buffer1, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTransferred, transferred.Session.Status)
	assert.Empty(t, transferred.Session.OwnerID)
	assert.Equal(t, "ba-1", transferred.Session.BufferAgentID)
	assert.Empty(t, transferred.Warnings)

	la := h.claim(t, licensed1, "sub-1")
	assert.Equal(t, id, la.Session.ID)
	assert.Equal(t, "la-1", la.Session.OwnerID)
	assert.Equal(t, types.RoleLicensed, la.Session.OwnerRole)
	assert.Equal(t, 26, la.Session.VerifiedFields, "progress survives the handoff")

	done, err := h.o.FinishOwnCall(ctx, licensed1, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusLADone, done.Session.Status)

	closed, err := h.o.CloseOnSubmission(ctx, "sub-1", "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, closed.Session.Status)
	require.NotNil(t, closed.Session.CompletedAt)

	_, err = h.store.GetOpenSession(ctx, "sub-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []types.NotificationType{types.NotifyTransferred}, h.rec.notified())
	n := h.rec.notifications[0]
	assert.Equal(t, "Bea Buffer", n.ActorName)
	assert.Equal(t, 76, n.Progress.Percentage)

	seen := h.rec.eventTypes()
	assert.Equal(t, eventbus.EventSessionCreated, seen[0])
	assert.Equal(t, eventbus.EventSessionClaimed, seen[1])
	assert.Equal(t, eventbus.EventSessionClosed, seen[len(seen)-1])

	events, err := h.o.ListEvents(ctx, id, time.Time{}, 0)
	require.NoError(t, err)
	// created, claimed, 26 verifications, transferred, claimed, finished, closed
	assert.Len(t, events, 32)
}

func TestDropThenReclaimBySecondBuffer(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 10})
	ctx := context.Background()

	first := h.claim(t, buffer1, "sub-1")
	h.verify(t, buffer1, first.Items, 4)

	dropped, err := h.o.ReportDropped(ctx, buffer1, first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCallDropped, dropped.Session.Status)

	second := h.claim(t, buffer2, "sub-1")
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, "ba-2", second.Session.OwnerID)
	assert.Equal(t, "ba-2", second.Session.BufferAgentID)
	assert.Equal(t, 4, second.Session.VerifiedFields)

	assert.Equal(t, []types.NotificationType{types.NotifyDropped, types.NotifyReconnected}, h.rec.notified())
	assert.Equal(t, "Bo Buffer", h.rec.notifications[1].ActorName)

	// The first agent no longer owns it.
	_, err = h.o.RecordFieldVerification(ctx, buffer1, first.Items[5].ID, true)
	assert.ErrorIs(t, err, lifecycle.ErrNotOwner)
}

func TestProgressFollowsUnverify(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 10})
	ctx := context.Background()

	out := h.claim(t, buffer1, "sub-1")
	three := h.verify(t, buffer1, out.Items, 3)
	assert.Equal(t, 30, three.Progress.Percentage)
	assert.Equal(t, types.LabelInProgress, three.Progress.Label)

	two, err := h.o.RecordFieldVerification(ctx, buffer1, out.Items[0].ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, two.Session.VerifiedFields)
	assert.Equal(t, 20, two.Progress.Percentage)
	assert.Equal(t, types.LabelJustStarted, two.Progress.Label)
	assert.False(t, two.Item.IsVerified)

	again, err := h.o.RecordFieldVerification(ctx, buffer1, out.Items[0].ID, false)
	require.NoError(t, err)
	assert.True(t, again.Noop)
}

func TestUpdateFieldValue(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 3})
	ctx := context.Background()
	out := h.claim(t, buffer1, "sub-1")
	item := out.Items[1]

	changed, err := h.o.UpdateFieldValue(ctx, buffer1, item.ID, "corrected")
	require.NoError(t, err)
	assert.Equal(t, "corrected", changed.Item.VerifiedValue)
	assert.Equal(t, item.OriginalValue, changed.Item.OriginalValue)
	assert.True(t, changed.Item.IsModified)

	reverted, err := h.o.UpdateFieldValue(ctx, buffer1, item.ID, item.OriginalValue)
	require.NoError(t, err)
	assert.False(t, reverted.Item.IsModified)

	_, err = h.o.UpdateFieldValue(ctx, buffer2, item.ID, "x")
	assert.ErrorIs(t, err, lifecycle.ErrNotOwner)

	_, err = h.o.UpdateFieldValue(ctx, buffer1, 99999, "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNotificationFailureIsAWarning(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 3})
	h.rec.fail = fmt.Errorf("smtp down")
	ctx := context.Background()

	out := h.claim(t, buffer1, "sub-1")
	dropped, err := h.o.ReportDropped(ctx, buffer1, out.Session.ID)
	require.NoError(t, err)
	require.Len(t, dropped.Warnings, 1)
	assert.Contains(t, dropped.Warnings[0], "smtp down")

	s, err := h.store.GetSession(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCallDropped, s.Status, "the transition stays committed")
}

func TestDispatcherChannelFailureIsAWarning(t *testing.T) {
	store, err := sqlite.Open(context.Background(), sqlite.MemoryPath, sqlstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	d := notification.NewDispatcher(notification.Config{
		Routes: map[string][]string{"default": {"log", "webhook"}},
	}, store, nil)
	bus := eventbus.New(nil)
	bus.Register(&eventbus.NotifyHandler{Notifier: d})
	o := New(Options{Store: store, Leads: leads.StaticProvider{"sub-1": teststore.Snapshot(2)}, Bus: bus})
	ctx := context.Background()

	out, err := o.ClaimSession(ctx, types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"})
	require.NoError(t, err)
	transferred, err := o.TransferToLicensed(ctx, buffer1, out.Session.ID)
	require.NoError(t, err)
	require.Len(t, transferred.Warnings, 1)
	assert.Contains(t, transferred.Warnings[0], "no webhook URL configured")
	assert.Equal(t, types.StatusTransferred, transferred.Session.Status)
}

// sentCounter counts alerts the dispatcher actually delivered.
type sentCounter struct {
	d    *notification.Dispatcher
	mu   sync.Mutex
	sent []types.NotificationType
}

func (c *sentCounter) Notify(ctx context.Context, n *types.Notification) ([]string, error) {
	results, err := c.d.Dispatch(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		c.mu.Lock()
		c.sent = append(c.sent, n.Type)
		c.mu.Unlock()
	}
	return nil, nil
}

func TestRepeatDropWithinWindowAlertsTwice(t *testing.T) {
	store := teststore.New(t)
	counter := &sentCounter{d: notification.NewDispatcher(notification.Config{}, store, nil)}
	bus := eventbus.New(nil)
	bus.Register(&eventbus.NotifyHandler{Notifier: counter})
	o := New(Options{Store: store, Leads: leads.StaticProvider{"sub-1": teststore.Snapshot(2)}, Bus: bus})
	ctx := context.Background()
	req := types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"}

	out, err := o.ClaimSession(ctx, req)
	require.NoError(t, err)
	_, err = o.ReportDropped(ctx, buffer1, out.Session.ID)
	require.NoError(t, err)
	_, err = o.ClaimSession(ctx, req)
	require.NoError(t, err)
	_, err = o.ReportDropped(ctx, buffer1, out.Session.ID)
	require.NoError(t, err)

	assert.Equal(t, []types.NotificationType{
		types.NotifyDropped, types.NotifyReconnected, types.NotifyDropped,
	}, counter.sent, "each committed drop alerts once, even inside the dedupe window")
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 3})
	ctx := context.Background()

	out := h.claim(t, buffer1, "sub-1")
	_, err := h.o.FinishOwnCall(ctx, buffer1, out.Session.ID)
	require.NoError(t, err)

	closed, err := h.o.CloseOnSubmission(ctx, "sub-1", "")
	require.NoError(t, err)
	assert.False(t, closed.Noop)
	assert.Equal(t, types.StatusCompleted, closed.Session.Status)

	again, err := h.o.CloseOnSubmission(ctx, "sub-1", "")
	require.NoError(t, err)
	assert.True(t, again.Noop)
	assert.Equal(t, closed.Session.ID, again.Session.ID)

	unknown, err := h.o.CloseOnSubmission(ctx, "sub-never-verified", "")
	require.NoError(t, err, "a call result for an unverified lead is not an error")
	assert.True(t, unknown.Noop)
	assert.Nil(t, unknown.Session)

	events, err := h.o.ListEvents(ctx, out.Session.ID, time.Time{}, 0)
	require.NoError(t, err)
	closes := 0
	for _, e := range events {
		if e.Type == types.EventClosed {
			closes++
			assert.Equal(t, IntakeActor, e.Actor)
			assert.Equal(t, types.StatusBufferDone, e.OldStatus)
		}
	}
	assert.Equal(t, 1, closes)
}

func TestInvalidTransitionLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 3})
	ctx := context.Background()

	out := h.claim(t, buffer1, "sub-1")
	id := out.Session.ID

	_, err := h.o.DeferToOtherLicensed(ctx, buffer1, id)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	_, err = h.o.TransferToLicensed(ctx, buffer2, id)
	assert.ErrorIs(t, err, lifecycle.ErrNotOwner)

	_, err = h.o.ClaimSession(ctx, types.ClaimRequest{AgentID: "la-1", Role: types.RoleLicensed, SessionID: id})
	assert.ErrorIs(t, err, storage.ErrAlreadyClaimed)

	s, err := h.store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, s.Status)
	assert.Equal(t, "ba-1", s.OwnerID)
	assert.Empty(t, h.rec.notified())

	_, err = h.o.FinishOwnCall(ctx, buffer1, id)
	require.NoError(t, err)
	_, err = h.o.ReportDropped(ctx, buffer1, id)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestDeferToOtherLicensed(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 3})
	ctx := context.Background()

	out := h.claim(t, buffer1, "sub-1")
	_, err := h.o.TransferToLicensed(ctx, buffer1, out.Session.ID)
	require.NoError(t, err)
	h.claim(t, licensed1, "sub-1")

	deferred, err := h.o.DeferToOtherLicensed(ctx, licensed1, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusReadyForTransfer, deferred.Session.Status)
	assert.Empty(t, deferred.Session.LicensedAgentID)

	next := h.claim(t, licensed2, "sub-1")
	assert.Equal(t, "la-2", next.Session.LicensedAgentID)
	assert.Equal(t, []types.NotificationType{types.NotifyTransferred, types.NotifyReady}, h.rec.notified())
}

func TestReadsCheckIntegrity(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 4})
	ctx := context.Background()
	out := h.claim(t, buffer1, "sub-1")

	got, err := h.o.GetSession(ctx, out.Session.ID, buffer1)
	require.NoError(t, err)
	assert.Len(t, got.Items, 4)
	assert.NotEmpty(t, got.Available)

	bySub, err := h.o.GetSessionBySubmission(ctx, "sub-1", lifecycle.Actor{})
	require.NoError(t, err)
	assert.Equal(t, out.Session.ID, bySub.Session.ID)
	assert.Empty(t, bySub.Available)

	_, err = h.store.DB().ExecContext(ctx, `UPDATE sessions SET verified_fields = 3 WHERE id = ?`, out.Session.ID)
	require.NoError(t, err)
	_, err = h.o.GetSession(ctx, out.Session.ID, buffer1)
	assert.ErrorIs(t, err, ErrDataIntegrity)

	assert.Len(t, h.o.Agents(types.RoleBuffer), 2)
	assert.Len(t, h.o.Agents(""), 3)
}

func TestListSessionsHidesCompleted(t *testing.T) {
	h := newHarness(t, map[string]int{"sub-1": 3, "sub-2": 3})
	ctx := context.Background()

	h.claim(t, buffer1, "sub-1")
	h.claim(t, buffer2, "sub-2")
	_, err := h.o.CloseOnSubmission(ctx, "sub-2", "")
	require.NoError(t, err)

	open, err := h.o.ListSessions(ctx, types.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "sub-1", open[0].SubmissionID)

	all, err := h.o.ListSessions(ctx, types.SessionFilter{IncludeCompleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpstreamUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.o = New(Options{Store: h.store, Leads: failingProvider{}})
	_, err := h.o.ClaimSession(context.Background(), types.ClaimRequest{AgentID: "ba-1", Role: types.RoleBuffer, SubmissionID: "sub-1"})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

type failingProvider struct{}

func (failingProvider) Snapshot(context.Context, string) ([]types.FieldValue, error) {
	return nil, fmt.Errorf("lead service: %w", leads.ErrUnavailable)
}
