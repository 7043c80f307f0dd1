package sqlstore

import (
	"context"
	"fmt"

	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/types"
)

// sqlTransaction implements storage.Transaction on a *sql.Tx.
type sqlTransaction struct {
	q     queries
	store *Store
}

var _ storage.Transaction = (*sqlTransaction)(nil)

func (t *sqlTransaction) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return t.q.getSession(ctx, id)
}

func (t *sqlTransaction) GetOpenSession(ctx context.Context, submissionID string) (*types.Session, error) {
	return t.q.getOpenSession(ctx, submissionID)
}

func (t *sqlTransaction) GetItems(ctx context.Context, sessionID string) ([]*types.Item, error) {
	return t.q.getItems(ctx, sessionID)
}

func (t *sqlTransaction) GetItem(ctx context.Context, id int64) (*types.Item, error) {
	return t.q.getItem(ctx, id)
}

// openKey is the value of the unique open_key column: the submission id
// while the session is open, NULL once completed.
func openKey(s *types.Session) any {
	if s.Status.IsOpen() {
		return s.SubmissionID
	}
	return nil
}

func completedMillis(s *types.Session) any {
	if s.CompletedAt == nil {
		return nil
	}
	return toMillis(*s.CompletedAt)
}

// CreateSession inserts a new session row.
func (t *sqlTransaction) CreateSession(ctx context.Context, s *types.Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	_, err := t.q.q.ExecContext(ctx, `INSERT INTO sessions (
			id, submission_id, open_key, buffer_agent_id, licensed_agent_id, owner_id, owner_role,
			status, total_fields, verified_fields, progress_percentage,
			is_retention_call, retention_type, notes, started_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.SubmissionID, openKey(s), s.BufferAgentID, s.LicensedAgentID, s.OwnerID, string(s.OwnerRole),
		string(s.Status), s.TotalFields, s.VerifiedFields, s.ProgressPercentage,
		s.IsRetentionCall, s.RetentionType, s.Notes, toMillis(s.StartedAt), toMillis(s.UpdatedAt), completedMillis(s))
	if err != nil {
		if t.q.d.IsUniqueViolation(err) {
			return fmt.Errorf("create session %s for submission %s: %w", s.ID, s.SubmissionID, storage.ErrConflict)
		}
		return wrapDBError("create session", err)
	}
	return nil
}

// CreateItems inserts the checklist for a session unless one already exists.
func (t *sqlTransaction) CreateItems(ctx context.Context, sessionID string, snapshot []types.FieldValue) (int, error) {
	var existing int
	if err := t.q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE session_id = ?`, sessionID).Scan(&existing); err != nil {
		return 0, wrapDBError("count items", err)
	}
	if existing > 0 {
		return 0, nil
	}

	fields, err := types.NormalizeSnapshot(snapshot)
	if err != nil {
		return 0, fmt.Errorf("create items for %s: %w", sessionID, err)
	}
	now := toMillis(t.store.opts.Now())
	for _, fv := range fields {
		if _, err := t.q.q.ExecContext(ctx, `INSERT INTO items (
				session_id, field_name, ordinal, original_value, verified_value, is_verified, is_modified, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, string(fv.Name), fv.Name.Ordinal(), fv.Value, fv.Value, false, false, now); err != nil {
			return 0, wrapDBError(fmt.Sprintf("create item %s", fv.Name), err)
		}
	}

	res, err := t.q.q.ExecContext(ctx, `UPDATE sessions
		SET total_fields = ?, verified_fields = 0, progress_percentage = 0, updated_at = ?
		WHERE id = ?`, len(fields), now, sessionID)
	if err != nil {
		return 0, wrapDBError("set total fields", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("create items: session %s: %w", sessionID, storage.ErrNotFound)
	}
	return len(fields), nil
}

// TransitionSession is the single conditional write behind every status and
// ownership change.
func (t *sqlTransaction) TransitionSession(ctx context.Context, guard storage.Guard, next *types.Session) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("transition %s: %w", guard.SessionID, err)
	}
	res, err := t.q.q.ExecContext(ctx, `UPDATE sessions SET
			open_key = ?, status = ?, owner_id = ?, owner_role = ?,
			buffer_agent_id = ?, licensed_agent_id = ?,
			is_retention_call = ?, retention_type = ?, notes = ?,
			updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ? AND owner_id = ?`,
		openKey(next), string(next.Status), next.OwnerID, string(next.OwnerRole),
		next.BufferAgentID, next.LicensedAgentID,
		next.IsRetentionCall, next.RetentionType, next.Notes,
		toMillis(next.UpdatedAt), completedMillis(next),
		guard.SessionID, string(guard.Status), guard.OwnerID)
	if err != nil {
		if t.q.d.IsUniqueViolation(err) {
			return fmt.Errorf("transition %s: submission already has an open session: %w", guard.SessionID, storage.ErrConflict)
		}
		return wrapDBError(fmt.Sprintf("transition %s", guard.SessionID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError(fmt.Sprintf("transition %s", guard.SessionID), err)
	}
	if n == 0 {
		if _, err := t.q.getSession(ctx, guard.SessionID); err != nil {
			return err
		}
		return fmt.Errorf("transition %s from %s: %w", guard.SessionID, guard.Status, storage.ErrConflict)
	}
	return nil
}

// recount recomputes verified_fields and progress from the item rows.
// total_fields is left alone so drift between it and the rows stays visible.
func (t *sqlTransaction) recount(ctx context.Context, sessionID string) (*types.Session, error) {
	var verified int
	if err := t.q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE session_id = ? AND is_verified = ?`, sessionID, true).Scan(&verified); err != nil {
		return nil, wrapDBError("count verified items", err)
	}
	s, err := t.q.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p := types.ComputeProgress(verified, s.TotalFields)
	now := t.store.opts.Now()
	if _, err := t.q.q.ExecContext(ctx, `UPDATE sessions
		SET verified_fields = ?, progress_percentage = ?, updated_at = ?
		WHERE id = ?`, verified, p.Percentage, toMillis(now), sessionID); err != nil {
		return nil, wrapDBError("update session counters", err)
	}
	s.VerifiedFields = verified
	s.ProgressPercentage = p.Percentage
	s.UpdatedAt = fromMillis(toMillis(now))
	return s, nil
}

// SetItemVerified toggles is_verified and recomputes the session counters.
func (t *sqlTransaction) SetItemVerified(ctx context.Context, itemID int64, verified bool) (*types.Item, *types.Session, error) {
	now := t.store.opts.Now()
	if _, err := t.q.q.ExecContext(ctx, `UPDATE items SET is_verified = ?, updated_at = ? WHERE id = ?`,
		verified, toMillis(now), itemID); err != nil {
		return nil, nil, wrapDBError(fmt.Sprintf("set item %d verified", itemID), err)
	}
	it, err := t.q.getItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	s, err := t.recount(ctx, it.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return it, s, nil
}

// SetItemValue updates the working value of an item.
func (t *sqlTransaction) SetItemValue(ctx context.Context, itemID int64, value string) (*types.Item, error) {
	it, err := t.q.getItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	now := t.store.opts.Now()
	modified := value != it.OriginalValue
	if _, err := t.q.q.ExecContext(ctx, `UPDATE items SET verified_value = ?, is_modified = ?, updated_at = ? WHERE id = ?`,
		value, modified, toMillis(now), itemID); err != nil {
		return nil, wrapDBError(fmt.Sprintf("set item %d value", itemID), err)
	}
	if _, err := t.q.q.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`,
		toMillis(now), it.SessionID); err != nil {
		return nil, wrapDBError("touch session", err)
	}
	it.VerifiedValue = value
	it.IsModified = modified
	it.UpdatedAt = fromMillis(toMillis(now))
	return it, nil
}

// RecordEvent appends an audit event.
func (t *sqlTransaction) RecordEvent(ctx context.Context, e *types.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.store.opts.Now()
	}
	res, err := t.q.q.ExecContext(ctx, `INSERT INTO events (
			session_id, event_type, actor, old_status, new_status, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Type), e.Actor, string(e.OldStatus), string(e.NewStatus), e.Detail, toMillis(e.CreatedAt))
	if err != nil {
		return wrapDBError("record event", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}
