package handoff

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/leadcheck/leadcheck/internal/eventbus"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/types"
)

// itemChange mutates one item inside the write transaction and returns the
// audit detail, or ok=false when there is nothing to write.
type itemChange func(ctx context.Context, tx storage.Transaction, it *types.Item) (detail string, ok bool, err error)

// RecordFieldVerification checks or unchecks one checklist item. Only the
// session owner may do it, and the session's counters and progress move in
// the same transaction.
func (o *Orchestrator) RecordFieldVerification(ctx context.Context, actor lifecycle.Actor, itemID int64, verified bool) (*Outcome, error) {
	return o.changeItem(ctx, "verify", types.EventFieldVerified, actor, itemID,
		func(ctx context.Context, tx storage.Transaction, it *types.Item) (string, bool, error) {
			if it.IsVerified == verified {
				return "", false, nil
			}
			if _, _, err := tx.SetItemVerified(ctx, it.ID, verified); err != nil {
				return "", false, err
			}
			return string(it.FieldName) + "=" + strconv.FormatBool(verified), true, nil
		})
}

// UpdateFieldValue replaces the working value of one item. The original
// value is kept so the item can report whether it was modified.
func (o *Orchestrator) UpdateFieldValue(ctx context.Context, actor lifecycle.Actor, itemID int64, value string) (*Outcome, error) {
	return o.changeItem(ctx, "set_value", types.EventFieldUpdated, actor, itemID,
		func(ctx context.Context, tx storage.Transaction, it *types.Item) (string, bool, error) {
			if it.VerifiedValue == value {
				return "", false, nil
			}
			if _, err := tx.SetItemValue(ctx, it.ID, value); err != nil {
				return "", false, err
			}
			return string(it.FieldName), true, nil
		})
}

func (o *Orchestrator) changeItem(ctx context.Context, op string, eventType types.EventType, actor lifecycle.Actor, itemID int64, change itemChange) (*Outcome, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%s item %d: actor is required: %w", op, itemID, ErrInvalidRequest)
	}
	now := o.now()
	var (
		s       *types.Session
		items   []*types.Item
		item    *types.Item
		changed bool
	)
	err := o.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		it, err := tx.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		cur, err := tx.GetSession(ctx, it.SessionID)
		if err != nil {
			return err
		}
		if err := lifecycle.CheckOwner(cur, actor, op); err != nil {
			return err
		}

		detail, ok, err := change(ctx, tx, it)
		if err != nil {
			return err
		}
		changed = ok
		if ok {
			if err := tx.RecordEvent(ctx, &types.Event{
				SessionID: cur.ID,
				Type:      eventType,
				Actor:     actor.ID,
				OldStatus: cur.Status,
				NewStatus: cur.Status,
				Detail:    detail,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		if s, err = tx.GetSession(ctx, cur.ID); err != nil {
			return err
		}
		if items, err = tx.GetItems(ctx, cur.ID); err != nil {
			return err
		}
		if err := checkIntegrity(s, items); err != nil {
			return err
		}
		item, err = tx.GetItem(ctx, itemID)
		return err
	})
	o.record(ctx, op, s, err, !changed)
	if err != nil {
		if errors.Is(err, ErrDataIntegrity) {
			o.log.Error("session counters drifted from items", "item", itemID, "error", err)
		}
		return nil, err
	}

	out := o.outcome(s, items, actor)
	out.Item = item
	out.Noop = !changed
	if changed {
		out.Warnings = o.emit(ctx, &eventbus.Event{
			Type:         eventbus.FromAudit(eventType),
			SessionID:    s.ID,
			SubmissionID: s.SubmissionID,
			Actor:        actor.ID,
			OldStatus:    s.Status,
			NewStatus:    s.Status,
			ItemID:       itemID,
			Session:      s,
			At:           now,
		})
	}
	return out, nil
}
