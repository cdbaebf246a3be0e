package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brk3/habitd/internal/storage"
	"github.com/brk3/habitd/pkg/habit"
	_ "modernc.org/sqlite"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calendar_days (
		date TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS habits (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		weekdays TEXT NOT NULL,
		fire_times TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS habit_days (
		id TEXT PRIMARY KEY,
		habit_id TEXT NOT NULL REFERENCES habits(id) ON DELETE CASCADE,
		day TEXT NOT NULL REFERENCES calendar_days(date),
		was_executed INTEGER NOT NULL DEFAULT 0,
		marked_at TEXT,
		UNIQUE (habit_id, day)
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		habit_id TEXT NOT NULL REFERENCES habits(id) ON DELETE CASCADE,
		fire_at TEXT NOT NULL,
		status TEXT NOT NULL,
		dispatcher_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_habit_fire ON notifications (habit_id, fire_at)`,
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers the way bbolt does.
	db.SetMaxOpenConns(1)

	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, fn)
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, fn)
}

// run executes fn in a transaction. Transactions must not nest: the pool
// holds a single connection.
func (s *Store) run(ctx context.Context, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type sqlTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// timeLayout is fixed width so that TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (t *sqlTx) GetCalendarDay(d habit.Date) (habit.CalendarDay, bool, error) {
	var createdAt string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT created_at FROM calendar_days WHERE date = ?`, d.String()).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.CalendarDay{}, false, nil
	}
	if err != nil {
		return habit.CalendarDay{}, false, err
	}
	ts, err := parseTime(createdAt)
	if err != nil {
		return habit.CalendarDay{}, false, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return habit.CalendarDay{Date: d, CreatedAt: ts}, true, nil
}

func (t *sqlTx) PutCalendarDay(day habit.CalendarDay) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO calendar_days (date, created_at) VALUES (?, ?) ON CONFLICT(date) DO NOTHING`,
		day.Date.String(), formatTime(day.CreatedAt))
	return err
}

func (t *sqlTx) PutHabit(h habit.Habit) error {
	weekdays, err := json.Marshal(h.Weekdays)
	if err != nil {
		return err
	}
	fireTimes, err := json.Marshal(h.FireTimes)
	if err != nil {
		return err
	}
	var endDate sql.NullString
	if h.EndDate != nil {
		endDate = sql.NullString{String: h.EndDate.String(), Valid: true}
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO habits (id, name, color, created_at, updated_at, start_date, end_date, weekdays, fire_times)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			color = excluded.color,
			updated_at = excluded.updated_at,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			weekdays = excluded.weekdays,
			fire_times = excluded.fire_times`,
		h.ID, h.Name, string(h.Color), formatTime(h.CreatedAt), formatTime(h.UpdatedAt),
		h.StartDate.String(), endDate, string(weekdays), string(fireTimes))
	return err
}

const habitColumns = `id, name, color, created_at, updated_at, start_date, end_date, weekdays, fire_times`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(row rowScanner) (habit.Habit, error) {
	var h habit.Habit
	var color, createdAt, updatedAt, startDate, weekdays, fireTimes string
	var endDate sql.NullString
	if err := row.Scan(&h.ID, &h.Name, &color, &createdAt, &updatedAt, &startDate, &endDate, &weekdays, &fireTimes); err != nil {
		return habit.Habit{}, err
	}
	h.Color = habit.Color(color)

	var err error
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return habit.Habit{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if h.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return habit.Habit{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if h.StartDate, err = habit.ParseDate(startDate); err != nil {
		return habit.Habit{}, err
	}
	if endDate.Valid {
		d, err := habit.ParseDate(endDate.String)
		if err != nil {
			return habit.Habit{}, err
		}
		h.EndDate = &d
	}
	if err := json.Unmarshal([]byte(weekdays), &h.Weekdays); err != nil {
		return habit.Habit{}, fmt.Errorf("failed to decode weekdays: %w", err)
	}
	if err := json.Unmarshal([]byte(fireTimes), &h.FireTimes); err != nil {
		return habit.Habit{}, fmt.Errorf("failed to decode fire times: %w", err)
	}
	return h, nil
}

func (t *sqlTx) GetHabit(id string) (habit.Habit, error) {
	row := t.tx.QueryRowContext(t.ctx, `SELECT `+habitColumns+` FROM habits WHERE id = ?`, id)
	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.Habit{}, fmt.Errorf("habit %s: %w", id, storage.ErrNotFound)
	}
	return h, err
}

func (t *sqlTx) ListHabits() ([]habit.Habit, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+habitColumns+` FROM habits ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []habit.Habit{}
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *sqlTx) DeleteHabit(id string) error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM habits WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("habit %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (t *sqlTx) PutHabitDay(d habit.HabitDay) error {
	var markedAt sql.NullString
	if d.MarkedAt != nil {
		markedAt = sql.NullString{String: formatTime(*d.MarkedAt), Valid: true}
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO habit_days (id, habit_id, day, was_executed, marked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(habit_id, day) DO UPDATE SET
			was_executed = excluded.was_executed,
			marked_at = excluded.marked_at`,
		d.ID, d.HabitID, d.Day.String(), d.WasExecuted, markedAt)
	return err
}

func scanHabitDay(row rowScanner) (habit.HabitDay, error) {
	var d habit.HabitDay
	var day string
	var markedAt sql.NullString
	if err := row.Scan(&d.ID, &d.HabitID, &day, &d.WasExecuted, &markedAt); err != nil {
		return habit.HabitDay{}, err
	}
	var err error
	if d.Day, err = habit.ParseDate(day); err != nil {
		return habit.HabitDay{}, err
	}
	if markedAt.Valid {
		ts, err := parseTime(markedAt.String)
		if err != nil {
			return habit.HabitDay{}, fmt.Errorf("failed to parse marked_at: %w", err)
		}
		d.MarkedAt = &ts
	}
	return d, nil
}

func (t *sqlTx) GetHabitDay(habitID string, day habit.Date) (habit.HabitDay, bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT id, habit_id, day, was_executed, marked_at FROM habit_days WHERE habit_id = ? AND day = ?`,
		habitID, day.String())
	d, err := scanHabitDay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.HabitDay{}, false, nil
	}
	if err != nil {
		return habit.HabitDay{}, false, err
	}
	return d, true, nil
}

func (t *sqlTx) ListHabitDays(habitID string, q storage.DayQuery) ([]habit.HabitDay, error) {
	query := `SELECT id, habit_id, day, was_executed, marked_at FROM habit_days WHERE habit_id = ?`
	args := []any{habitID}
	if q.From != nil {
		query += " AND day >= ?"
		args = append(args, q.From.String())
	}
	if q.To != nil {
		query += " AND day <= ?"
		args = append(args, q.To.String())
	}
	if q.ExecutedOnly {
		query += " AND was_executed = 1"
	}
	query += " ORDER BY day"

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []habit.HabitDay{}
	for rows.Next() {
		d, err := scanHabitDay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (t *sqlTx) LastHabitDay(habitID string) (habit.HabitDay, bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT id, habit_id, day, was_executed, marked_at FROM habit_days WHERE habit_id = ? ORDER BY day DESC LIMIT 1`,
		habitID)
	d, err := scanHabitDay(row)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.HabitDay{}, false, nil
	}
	if err != nil {
		return habit.HabitDay{}, false, err
	}
	return d, true, nil
}

func (t *sqlTx) DeleteHabitDay(habitID string, day habit.Date) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM habit_days WHERE habit_id = ? AND day = ?`, habitID, day.String())
	return err
}

func (t *sqlTx) PutNotification(n habit.Notification) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO notifications (id, habit_id, fire_at, status, dispatcher_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			dispatcher_id = excluded.dispatcher_id,
			updated_at = excluded.updated_at`,
		n.ID, n.HabitID, formatTime(n.FireAt), string(n.Status), n.DispatcherID,
		formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	return err
}

func (t *sqlTx) ListNotifications(habitID string, statuses ...habit.NotificationStatus) ([]habit.Notification, error) {
	query := `SELECT id, habit_id, fire_at, status, dispatcher_id, created_at, updated_at
		FROM notifications WHERE habit_id = ?`
	args := []any{habitID}
	if len(statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(", ?", len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY fire_at, id"

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []habit.Notification{}
	for rows.Next() {
		var n habit.Notification
		var status, fireAt, createdAt, updatedAt string
		if err := rows.Scan(&n.ID, &n.HabitID, &fireAt, &status, &n.DispatcherID, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		n.Status = habit.NotificationStatus(status)
		if n.FireAt, err = parseTime(fireAt); err != nil {
			return nil, fmt.Errorf("failed to parse fire_at: %w", err)
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("failed to parse updated_at: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *sqlTx) PruneNotifications(habitID string, before time.Time) (int, error) {
	res, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM notifications WHERE habit_id = ? AND status != ? AND fire_at < ?`,
		habitID, string(habit.StatusScheduled), formatTime(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

var _ storage.Store = (*Store)(nil)
