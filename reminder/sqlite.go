package reminder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Schema creates the reminder tables. Timestamps are stored as unix milliseconds so range
// queries compare numerically.
const Schema = `
	CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY, -- UUID
		kind TEXT NOT NULL DEFAULT 'reminder',
		owner_id TEXT NOT NULL,
		created_by TEXT,
		title TEXT NOT NULL,
		note TEXT,
		context TEXT,
		trigger_at INTEGER NOT NULL,
		is_repeating BOOLEAN DEFAULT 0,
		repeat_interval TEXT NOT NULL DEFAULT 'none',
		repeat_minutes INTEGER DEFAULT 0,
		status TEXT CHECK(status IN ('pending', 'snoozed', 'dispatching', 'completed', 'dismissed')) DEFAULT 'pending',
		snooze_count INTEGER DEFAULT 0,
		trigger_count INTEGER DEFAULT 0,
		last_triggered_at INTEGER,
		next_trigger_at INTEGER,
		due_at INTEGER,
		claimed_at INTEGER,
		delivery_failures INTEGER DEFAULT 0,
		completion_response TEXT,
		completed_at INTEGER,
		response_word_count INTEGER DEFAULT 0,
		assignment_id TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dispatch_attempts (
		id TEXT PRIMARY KEY, -- UUID
		reminder_id TEXT NOT NULL,
		address TEXT,
		channel TEXT CHECK(channel IN ('primary', 'fallback')) NOT NULL,
		outcome TEXT CHECK(outcome IN ('sent', 'failed', 'timeout')) NOT NULL,
		error_detail TEXT,
		attempted_at INTEGER NOT NULL,
		FOREIGN KEY (reminder_id) REFERENCES reminders(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_reminders_owner_id ON reminders(owner_id);
	CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(status, due_at);
	CREATE INDEX IF NOT EXISTS idx_dispatch_attempts_reminder_id ON dispatch_attempts(reminder_id);`

const reminderColumns = `id, kind, owner_id, created_by, title, note, context,
	trigger_at, is_repeating, repeat_interval, repeat_minutes,
	status, snooze_count, trigger_count, last_triggered_at, next_trigger_at, due_at, claimed_at,
	delivery_failures, completion_response, completed_at, response_word_count, assignment_id,
	version, created_at, updated_at`

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Migrate creates the tables if they don't exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// CreateReminder implements Store.CreateReminder
func (s *SQLiteStore) CreateReminder(ctx context.Context, r *Reminder) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	args, err := reminderArgs(r)
	if err != nil {
		return storeErr("create", err)
	}
	query := `INSERT INTO reminders (` + reminderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, args...)
	return storeErr("create", err)
}

// GetReminder implements Store.GetReminder
func (s *SQLiteStore) GetReminder(ctx context.Context, id string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, storeErr("get", err)
}

// ListReminders implements Store.ListReminders
func (s *SQLiteStore) ListReminders(ctx context.Context, filter ListFilter) ([]*Reminder, error) {
	var conditions []string
	var args []interface{}

	if filter.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Kind != nil {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.Overdue {
		conditions = append(conditions, "status = 'pending' AND due_at IS NULL AND trigger_count > 0")
	}
	if filter.FromTime != nil {
		conditions = append(conditions, "trigger_at >= ?")
		args = append(args, toMillis(*filter.FromTime))
	}
	if filter.ToTime != nil {
		conditions = append(conditions, "trigger_at <= ?")
		args = append(args, toMillis(*filter.ToTime))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM reminders %s ORDER BY trigger_at ASC`, reminderColumns, where)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.query(ctx, "list", query, args...)
}

// ListDue implements Store.ListDue
func (s *SQLiteStore) ListDue(ctx context.Context, q DueQuery) ([]*Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders
		WHERE due_at IS NOT NULL AND (
			(status IN ('pending', 'snoozed') AND due_at <= ?)
			OR (status = 'dispatching' AND (claimed_at IS NULL OR claimed_at < ?))
		)
		ORDER BY due_at ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return s.query(ctx, "list due", query, toMillis(q.Now), toMillis(q.StaleBefore))
}

// UpdateReminder implements Store.UpdateReminder
func (s *SQLiteStore) UpdateReminder(ctx context.Context, id string, mutate Mutation) (*Reminder, error) {
	return updateOptimistic(ctx, id, mutate, s.GetReminder, s.swap)
}

func (s *SQLiteStore) swap(ctx context.Context, r *Reminder, expected int64) (bool, error) {
	args, err := reminderArgs(r)
	if err != nil {
		return false, storeErr("update", err)
	}
	// drop id from the front, it goes into the WHERE clause
	args = append(args[1:], r.ID, expected)

	query := `
		UPDATE reminders
		SET kind = ?, owner_id = ?, created_by = ?, title = ?, note = ?, context = ?,
			trigger_at = ?, is_repeating = ?, repeat_interval = ?, repeat_minutes = ?,
			status = ?, snooze_count = ?, trigger_count = ?, last_triggered_at = ?,
			next_trigger_at = ?, due_at = ?, claimed_at = ?, delivery_failures = ?,
			completion_response = ?, completed_at = ?, response_word_count = ?, assignment_id = ?,
			version = ?, created_at = ?, updated_at = ?
		WHERE id = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storeErr("update", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("update", err)
	}
	return rows == 1, nil
}

// DeleteReminder implements Store.DeleteReminder
func (s *SQLiteStore) DeleteReminder(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM reminders WHERE id = ?", id)
	if err != nil {
		return storeErr("delete", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeErr("delete", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM dispatch_attempts WHERE reminder_id = ?", id)
	return storeErr("delete", err)
}

// CreateAttempt implements Store.CreateAttempt
func (s *SQLiteStore) CreateAttempt(ctx context.Context, a *DispatchAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO dispatch_attempts (
			id, reminder_id, address, channel, outcome, error_detail, attempted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.ReminderID, a.Address, string(a.Channel),
		string(a.Outcome), a.ErrorDetail, toMillis(a.Timestamp))
	return storeErr("create attempt", err)
}

// ListAttempts implements Store.ListAttempts
func (s *SQLiteStore) ListAttempts(ctx context.Context, reminderID string) ([]*DispatchAttempt, error) {
	query := `
		SELECT id, reminder_id, address, channel, outcome, error_detail, attempted_at
		FROM dispatch_attempts
		WHERE reminder_id = ?
		ORDER BY attempted_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, reminderID)
	if err != nil {
		return nil, storeErr("list attempts", err)
	}
	defer rows.Close()

	var attempts []*DispatchAttempt
	for rows.Next() {
		a := &DispatchAttempt{}
		var address, detail sql.NullString
		var ts int64
		if err := rows.Scan(&a.ID, &a.ReminderID, &address, &a.Channel, &a.Outcome, &detail, &ts); err != nil {
			return nil, storeErr("list attempts", err)
		}
		a.Address = address.String
		a.ErrorDetail = detail.String
		a.Timestamp = fromMillis(ts)
		attempts = append(attempts, a)
	}
	return attempts, storeErr("list attempts", rows.Err())
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...interface{}) ([]*Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		reminders = append(reminders, r)
	}
	return reminders, storeErr(op, rows.Err())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row rowScanner) (*Reminder, error) {
	r := &Reminder{}
	var (
		createdBy, note, contextJSON, response, assignmentID sql.NullString
		triggerAt, createdAt, updatedAt                      int64
		lastTriggered, nextTrigger, due, claimed, completed  sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &r.Kind, &r.OwnerID, &createdBy, &r.Title, &note, &contextJSON,
		&triggerAt, &r.IsRepeating, &r.RepeatInterval, &r.RepeatMinutes,
		&r.Status, &r.SnoozeCount, &r.TriggerCount, &lastTriggered, &nextTrigger, &due, &claimed,
		&r.DeliveryFailures, &response, &completed, &r.ResponseWordCount, &assignmentID,
		&r.Version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.CreatedBy = createdBy.String
	r.Note = note.String
	r.CompletionResponse = response.String
	r.AssignmentID = assignmentID.String
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &r.Context); err != nil {
			return nil, fmt.Errorf("decode context of %s: %w", r.ID, err)
		}
	}
	r.TriggerAt = fromMillis(triggerAt)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	r.LastTriggeredAt = nullMillis(lastTriggered)
	r.NextTriggerAt = nullMillis(nextTrigger)
	r.DueAt = nullMillis(due)
	r.ClaimedAt = nullMillis(claimed)
	r.CompletedAt = nullMillis(completed)
	return r, nil
}

// reminderArgs returns the column values in reminderColumns order.
func reminderArgs(r *Reminder) ([]interface{}, error) {
	var contextJSON interface{}
	if len(r.Context) > 0 {
		b, err := json.Marshal(r.Context)
		if err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
		contextJSON = string(b)
	}
	return []interface{}{
		r.ID, string(r.Kind), r.OwnerID, r.CreatedBy, r.Title, r.Note, contextJSON,
		toMillis(r.TriggerAt), r.IsRepeating, string(r.RepeatInterval), r.RepeatMinutes,
		string(r.Status), r.SnoozeCount, r.TriggerCount, millisArg(r.LastTriggeredAt),
		millisArg(r.NextTriggerAt), millisArg(r.DueAt), millisArg(r.ClaimedAt),
		r.DeliveryFailures, r.CompletionResponse, millisArg(r.CompletedAt), r.ResponseWordCount,
		r.AssignmentID, r.Version, toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	}, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func millisArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
