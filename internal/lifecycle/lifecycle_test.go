package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

func session(status types.Status, owner string, slot types.Role) *types.Session {
	return &types.Session{
		ID:           "vs-test",
		SubmissionID: "sub-1",
		Status:       status,
		OwnerID:      owner,
		OwnerRole:    slot,
		TotalFields:  10,
	}
}

func req(a lifecycle.Action, id string, role types.Role) lifecycle.Request {
	return lifecycle.Request{Action: a, Actor: lifecycle.Actor{ID: id, Role: role}}
}

func TestPlanClaim(t *testing.T) {
	tests := []struct {
		name       string
		from       types.Status
		role       types.Role
		wantSlot   types.Role
		wantNotify types.NotificationType
	}{
		{"buffer claims pending", types.StatusPending, types.RoleBuffer, types.RoleBuffer, ""},
		{"buffer reclaims dropped", types.StatusCallDropped, types.RoleBuffer, types.RoleBuffer, types.NotifyReconnected},
		{"retention claims pending", types.StatusPending, types.RoleRetention, types.RoleBuffer, ""},
		{"licensed claims transferred", types.StatusTransferred, types.RoleLicensed, types.RoleLicensed, ""},
		{"licensed claims ready", types.StatusReadyForTransfer, types.RoleLicensed, types.RoleLicensed, ""},
		{"retention claims transferred", types.StatusTransferred, types.RoleRetention, types.RoleLicensed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session(tt.from, "", "")
			tr, err := lifecycle.Plan(s, req(lifecycle.ActionClaim, "agent-1", tt.role), now)
			require.NoError(t, err)
			assert.Equal(t, types.StatusInProgress, tr.To)
			assert.Equal(t, tt.from, tr.From)
			assert.Equal(t, types.EventClaimed, tr.Event)
			assert.Equal(t, tt.wantNotify, tr.Notify)
			assert.Equal(t, "agent-1", tr.Next.OwnerID)
			assert.Equal(t, tt.wantSlot, tr.Next.OwnerRole)
			if tt.wantSlot == types.RoleBuffer {
				assert.Equal(t, "agent-1", tr.Next.BufferAgentID)
			} else {
				assert.Equal(t, "agent-1", tr.Next.LicensedAgentID)
			}
			assert.Equal(t, tt.role == types.RoleRetention, tr.Next.IsRetentionCall)
			assert.Equal(t, tt.from, s.Status, "input session must not change")
			assert.NoError(t, tr.Next.Validate())
		})
	}
}

func TestPlanClaimRejected(t *testing.T) {
	tests := []struct {
		name string
		s    *types.Session
		role types.Role
		want error
	}{
		{"licensed cannot claim pending", session(types.StatusPending, "", ""), types.RoleLicensed, lifecycle.ErrInvalidTransition},
		{"buffer cannot claim transferred", session(types.StatusTransferred, "", ""), types.RoleBuffer, lifecycle.ErrInvalidTransition},
		{"nobody claims buffer_done", session(types.StatusBufferDone, "", ""), types.RoleBuffer, lifecycle.ErrInvalidTransition},
		{"nobody claims completed", session(types.StatusCompleted, "", ""), types.RoleRetention, lifecycle.ErrInvalidTransition},
		{"owned by someone else", session(types.StatusInProgress, "ba-2", types.RoleBuffer), types.RoleBuffer, lifecycle.ErrOwned},
		{"bad role", session(types.StatusPending, "", ""), types.Role("boss"), lifecycle.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lifecycle.Plan(tt.s, req(lifecycle.ActionClaim, "agent-1", tt.role), now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestPlanClaimBySameOwnerIsNoop(t *testing.T) {
	s := session(types.StatusInProgress, "ba-1", types.RoleBuffer)
	tr, err := lifecycle.Plan(s, req(lifecycle.ActionClaim, "ba-1", types.RoleBuffer), now)
	require.NoError(t, err)
	assert.True(t, tr.Noop)
}

func TestPlanRetentionClaimCarriesTag(t *testing.T) {
	s := session(types.StatusPending, "", "")
	r := req(lifecycle.ActionClaim, "ret-1", types.RoleRetention)
	r.RetentionType = "premium_increase"
	r.Notes = "customer called to cancel"
	tr, err := lifecycle.Plan(s, r, now)
	require.NoError(t, err)
	assert.True(t, tr.Next.IsRetentionCall)
	assert.Equal(t, "premium_increase", tr.Next.RetentionType)
	assert.Equal(t, "customer called to cancel", tr.Next.Notes)
}

func TestPlanOwnerActions(t *testing.T) {
	tests := []struct {
		name       string
		slot       types.Role
		action     lifecycle.Action
		want       types.Status
		wantNotify types.NotificationType
	}{
		{"buffer drop", types.RoleBuffer, lifecycle.ActionDrop, types.StatusCallDropped, types.NotifyDropped},
		{"buffer finish", types.RoleBuffer, lifecycle.ActionFinish, types.StatusBufferDone, ""},
		{"buffer transfer", types.RoleBuffer, lifecycle.ActionTransfer, types.StatusTransferred, types.NotifyTransferred},
		{"licensed drop", types.RoleLicensed, lifecycle.ActionDrop, types.StatusCallDropped, types.NotifyDropped},
		{"licensed finish", types.RoleLicensed, lifecycle.ActionFinish, types.StatusLADone, ""},
		{"licensed defer", types.RoleLicensed, lifecycle.ActionDefer, types.StatusReadyForTransfer, types.NotifyReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := session(types.StatusInProgress, "agent-1", tt.slot)
			s.BufferAgentID = "ba-1"
			s.LicensedAgentID = "agent-1"
			tr, err := lifecycle.Plan(s, req(tt.action, "agent-1", tt.slot), now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tr.To)
			assert.Equal(t, tt.wantNotify, tr.Notify)
			assert.Equal(t, "agent-1", tr.FromOwner)
			assert.Empty(t, tr.Next.OwnerID, "owner cleared")
			assert.Empty(t, string(tr.Next.OwnerRole))
			assert.Equal(t, "ba-1", tr.Next.BufferAgentID, "buffer assignment kept")
			if tt.action == lifecycle.ActionDefer {
				assert.Empty(t, tr.Next.LicensedAgentID)
			} else {
				assert.Equal(t, "agent-1", tr.Next.LicensedAgentID)
			}
			assert.NoError(t, tr.Next.Validate())
		})
	}
}

func TestPlanOwnerActionsRejected(t *testing.T) {
	tests := []struct {
		name   string
		s      *types.Session
		action lifecycle.Action
		actor  string
		want   error
	}{
		{"transfer on pending", session(types.StatusPending, "", ""), lifecycle.ActionTransfer, "ba-1", lifecycle.ErrInvalidTransition},
		{"finish on transferred", session(types.StatusTransferred, "", ""), lifecycle.ActionFinish, "ba-1", lifecycle.ErrInvalidTransition},
		{"drop by non-owner", session(types.StatusInProgress, "ba-1", types.RoleBuffer), lifecycle.ActionDrop, "ba-2", lifecycle.ErrNotOwner},
		{"licensed cannot transfer", session(types.StatusInProgress, "la-1", types.RoleLicensed), lifecycle.ActionTransfer, "la-1", lifecycle.ErrInvalidTransition},
		{"buffer cannot defer", session(types.StatusInProgress, "ba-1", types.RoleBuffer), lifecycle.ActionDefer, "ba-1", lifecycle.ErrInvalidTransition},
		{"unknown action", session(types.StatusInProgress, "ba-1", types.RoleBuffer), lifecycle.Action("escalate"), "ba-1", lifecycle.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lifecycle.Plan(tt.s, req(tt.action, tt.actor, types.RoleBuffer), now)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestPlanClose(t *testing.T) {
	for _, st := range types.AllStatuses {
		t.Run(string(st), func(t *testing.T) {
			owner, slot := "", types.Role("")
			if st == types.StatusInProgress {
				owner, slot = "ba-1", types.RoleBuffer
			}
			tr, err := lifecycle.Plan(session(st, owner, slot), lifecycle.Request{Action: lifecycle.ActionClose}, now)
			require.NoError(t, err)
			if st == types.StatusCompleted {
				assert.True(t, tr.Noop)
				return
			}
			assert.False(t, tr.Noop)
			assert.Equal(t, types.StatusCompleted, tr.To)
			assert.Equal(t, types.EventClosed, tr.Event)
			assert.Empty(t, tr.Next.OwnerID)
			require.NotNil(t, tr.Next.CompletedAt)
			assert.True(t, tr.Next.CompletedAt.Equal(now))
		})
	}
}

func TestAvailable(t *testing.T) {
	owned := session(types.StatusInProgress, "ba-1", types.RoleBuffer)
	assert.Equal(t,
		[]lifecycle.Action{lifecycle.ActionDrop, lifecycle.ActionFinish, lifecycle.ActionTransfer},
		lifecycle.Available(owned, lifecycle.Actor{ID: "ba-1", Role: types.RoleBuffer}))
	assert.Empty(t, lifecycle.Available(owned, lifecycle.Actor{ID: "ba-2", Role: types.RoleBuffer}))

	transferred := session(types.StatusTransferred, "", "")
	assert.Equal(t, []lifecycle.Action{lifecycle.ActionClaim},
		lifecycle.Available(transferred, lifecycle.Actor{ID: "la-1", Role: types.RoleLicensed}))
}

func TestCheckOwner(t *testing.T) {
	owned := session(types.StatusInProgress, "ba-1", types.RoleBuffer)

	assert.NoError(t, lifecycle.CheckOwner(owned, lifecycle.Actor{ID: "ba-1", Role: types.RoleBuffer}, "verify"))
	assert.ErrorIs(t, lifecycle.CheckOwner(owned, lifecycle.Actor{ID: "ba-2", Role: types.RoleBuffer}, "verify"), lifecycle.ErrNotOwner)
	assert.ErrorIs(t, lifecycle.CheckOwner(session(types.StatusTransferred, "", ""), lifecycle.Actor{ID: "ba-1"}, "verify"), lifecycle.ErrInvalidTransition)
}
