package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ada/internal/logging"
)

// Reminder statuses form a monotonic ladder; rows never move backwards.
const (
	ReminderPending   = 0
	ReminderTriggered = 1 // marked before dispatch
	ReminderDelivered = 2
)

// Reminder is a scheduled one-shot notification.
type Reminder struct {
	ID        string
	Message   string
	TriggerAt time.Time
	Status    int
	CreatedAt time.Time
}

// CreateReminder persists a new pending reminder.
func (s *Store) CreateReminder(message string, triggerAt time.Time) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &Reminder{
		ID:        uuid.NewString(),
		Message:   message,
		TriggerAt: triggerAt.UTC(),
		Status:    ReminderPending,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := s.db.Exec(
		"INSERT INTO reminders (id, message, trigger_at, status, created_at) VALUES (?, ?, ?, ?, ?)",
		r.ID, r.Message, r.TriggerAt, r.Status, r.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create reminder: %w", err)
	}
	logging.Scheduler("reminder %s scheduled for %s", r.ID, r.TriggerAt.Format(time.RFC3339))
	return r, nil
}

// PendingReminders returns all pending rows ordered by trigger time.
func (s *Store) PendingReminders() ([]*Reminder, error) {
	return s.queryReminders("SELECT id, message, trigger_at, status, created_at FROM reminders WHERE status = ? ORDER BY trigger_at", ReminderPending)
}

// OrphanTriggered returns reminders stuck at triggered with a past trigger
// time: dispatch started but delivery was never confirmed. Recovery re-sends
// these, so delivery is at-least-once after a crash.
func (s *Store) OrphanTriggered(now time.Time) ([]*Reminder, error) {
	return s.queryReminders(
		"SELECT id, message, trigger_at, status, created_at FROM reminders WHERE status = ? AND trigger_at < ? ORDER BY trigger_at",
		ReminderTriggered, now.UTC())
}

// AdvanceReminder moves a reminder from one status to the next, refusing
// any non-monotonic or skipped transition. Returns false when the row was
// not in the expected state.
func (s *Store) AdvanceReminder(id string, from, to int) (bool, error) {
	if to != from+1 || from < ReminderPending || to > ReminderDelivered {
		return false, fmt.Errorf("invalid reminder transition %d -> %d", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE reminders SET status = ? WHERE id = ? AND status = ?", to, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to advance reminder: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CancelReminder deletes a pending reminder. Triggered or delivered rows
// are left alone.
func (s *Store) CancelReminder(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM reminders WHERE id = ? AND status = ?", id, ReminderPending)
	if err != nil {
		return fmt.Errorf("failed to cancel reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearReminders deletes every pending reminder and returns the count.
func (s *Store) ClearReminders() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM reminders WHERE status = ?", ReminderPending)
	if err != nil {
		return 0, fmt.Errorf("failed to clear reminders: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) queryReminders(query string, args ...interface{}) ([]*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	var out []*Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.Message, &r.TriggerAt, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
