package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/leadcheck/leadcheck/internal/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
	d Dialect
}

const sessionColumns = `id, submission_id, buffer_agent_id, licensed_agent_id, owner_id, owner_role,
	status, total_fields, verified_fields, progress_percentage,
	is_retention_call, retention_type, notes, started_at, updated_at, completed_at`

const itemColumns = `id, session_id, field_name, original_value, verified_value, is_verified, is_modified, updated_at`

const eventColumns = `id, session_id, event_type, actor, old_status, new_status, detail, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var (
		s                 types.Session
		status, ownerRole string
		started, updated  int64
		completed         sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.SubmissionID, &s.BufferAgentID, &s.LicensedAgentID, &s.OwnerID, &ownerRole,
		&status, &s.TotalFields, &s.VerifiedFields, &s.ProgressPercentage,
		&s.IsRetentionCall, &s.RetentionType, &s.Notes, &started, &updated, &completed); err != nil {
		return nil, err
	}
	s.Status = types.Status(status)
	s.OwnerRole = types.Role(ownerRole)
	s.StartedAt = fromMillis(started)
	s.UpdatedAt = fromMillis(updated)
	if completed.Valid {
		t := fromMillis(completed.Int64)
		s.CompletedAt = &t
	}
	return &s, nil
}

func scanItem(row scanner) (*types.Item, error) {
	var (
		it      types.Item
		field   string
		updated int64
	)
	if err := row.Scan(&it.ID, &it.SessionID, &field, &it.OriginalValue, &it.VerifiedValue,
		&it.IsVerified, &it.IsModified, &updated); err != nil {
		return nil, err
	}
	it.FieldName = types.FieldName(field)
	it.UpdatedAt = fromMillis(updated)
	return &it, nil
}

func scanEvent(row scanner) (*types.Event, error) {
	var (
		e                 types.Event
		typ, oldSt, newSt string
		created           int64
	)
	if err := row.Scan(&e.ID, &e.SessionID, &typ, &e.Actor, &oldSt, &newSt, &e.Detail, &created); err != nil {
		return nil, err
	}
	e.Type = types.EventType(typ)
	e.OldStatus = types.Status(oldSt)
	e.NewStatus = types.Status(newSt)
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

func (q queries) getSession(ctx context.Context, id string) (*types.Session, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get session %s", id), err)
	}
	return s, nil
}

func (q queries) getOpenSession(ctx context.Context, submissionID string) (*types.Session, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE open_key = ?`, submissionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get open session for submission %s", submissionID), err)
	}
	return s, nil
}

func (q queries) getSessionBySubmission(ctx context.Context, submissionID string) (*types.Session, error) {
	// Open session first, then newest.
	row := q.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE submission_id = ?
		ORDER BY CASE WHEN open_key IS NULL THEN 1 ELSE 0 END, started_at DESC
		LIMIT 1`, submissionID)
	s, err := scanSession(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get session for submission %s", submissionID), err)
	}
	return s, nil
}

func (q queries) listSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(ph, ", ")+")")
	} else if !filter.IncludeCompleted {
		where = append(where, "status <> ?")
		args = append(args, string(types.StatusCompleted))
	}
	if filter.MinLabel != "" {
		where = append(where, "progress_percentage >= ?")
		args = append(args, filter.MinLabel.MinPercentage())
	}
	if filter.SubmissionID != "" {
		where = append(where, "submission_id = ?")
		args = append(args, filter.SubmissionID)
	}
	if filter.AgentID != "" {
		where = append(where, "(owner_id = ? OR buffer_agent_id = ? OR licensed_agent_id = ?)")
		args = append(args, filter.AgentID, filter.AgentID, filter.AgentID)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list sessions", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, wrapDBError("scan session", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q queries) getItems(ctx context.Context, sessionID string) ([]*types.Item, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE session_id = ? ORDER BY ordinal, id`, sessionID)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get items for %s", sessionID), err)
	}
	defer rows.Close()

	var out []*types.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, wrapDBError("scan item", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (q queries) getItem(ctx context.Context, id int64) (*types.Item, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get item %d", id), err)
	}
	return it, nil
}

func (q queries) listEvents(ctx context.Context, sessionID string, since time.Time, limit int) ([]*types.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE created_at >= ?`
	args := []any{toMillis(since)}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list events", err)
	}
	defer rows.Close()

	var out []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrapDBError("scan event", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return s.reader().getSession(ctx, id)
}

// GetOpenSession retrieves the non-completed session for a submission.
func (s *Store) GetOpenSession(ctx context.Context, submissionID string) (*types.Session, error) {
	return s.reader().getOpenSession(ctx, submissionID)
}

// GetSessionBySubmission returns the open session for a submission, or the
// most recently started one when none is open.
func (s *Store) GetSessionBySubmission(ctx context.Context, submissionID string) (*types.Session, error) {
	return s.reader().getSessionBySubmission(ctx, submissionID)
}

// ListSessions returns sessions matching filter, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.Session, error) {
	return s.reader().listSessions(ctx, filter)
}

// GetItems returns the checklist of a session in catalogue order.
func (s *Store) GetItems(ctx context.Context, sessionID string) ([]*types.Item, error) {
	return s.reader().getItems(ctx, sessionID)
}

// GetItem retrieves a single checklist item.
func (s *Store) GetItem(ctx context.Context, id int64) (*types.Item, error) {
	return s.reader().getItem(ctx, id)
}

// ListEvents returns audit events created at or after since, oldest first.
func (s *Store) ListEvents(ctx context.Context, sessionID string, since time.Time, limit int) ([]*types.Event, error) {
	return s.reader().listEvents(ctx, sessionID, since, limit)
}

// ReserveNotification inserts key into the notification ledger. It returns
// false if the key already exists.
func (s *Store) ReserveNotification(ctx context.Context, key string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.dialect.InsertIgnore()+` INTO notifications (idem_key, created_at) VALUES (?, ?)`,
		key, toMillis(at))
	if err != nil {
		return false, wrapDBError("reserve notification", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("reserve notification", err)
	}
	return n == 1, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
