package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements the Store interface in process memory. Every update runs under
// one lock, which makes it trivially atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	reminders map[string]*Reminder
	attempts  map[string][]*DispatchAttempt
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reminders: make(map[string]*Reminder),
		attempts:  make(map[string][]*DispatchAttempt),
	}
}

// CreateReminder implements Store.CreateReminder
func (s *MemoryStore) CreateReminder(_ context.Context, r *Reminder) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[r.ID]; ok {
		return &StoreError{Op: "create", Err: fmt.Errorf("duplicate id %s", r.ID)}
	}
	s.reminders[r.ID] = r.Clone()
	return nil
}

// GetReminder implements Store.GetReminder
func (s *MemoryStore) GetReminder(_ context.Context, id string) (*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// ListReminders implements Store.ListReminders
func (s *MemoryStore) ListReminders(_ context.Context, filter ListFilter) ([]*Reminder, error) {
	s.mu.RLock()
	var out []*Reminder
	for _, r := range s.reminders {
		if filter.matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TriggerAt.Before(out[j].TriggerAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ListDue implements Store.ListDue
func (s *MemoryStore) ListDue(_ context.Context, q DueQuery) ([]*Reminder, error) {
	s.mu.RLock()
	var out []*Reminder
	for _, r := range s.reminders {
		if q.matches(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpdateReminder implements Store.UpdateReminder
func (s *MemoryStore) UpdateReminder(_ context.Context, id string, mutate Mutation) (*Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reminders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.reminders[id] = next
	return next.Clone(), nil
}

// DeleteReminder implements Store.DeleteReminder
func (s *MemoryStore) DeleteReminder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.reminders, id)
	delete(s.attempts, id)
	return nil
}

// CreateAttempt implements Store.CreateAttempt
func (s *MemoryStore) CreateAttempt(_ context.Context, a *DispatchAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	c := *a

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.ReminderID] = append(s.attempts[a.ReminderID], &c)
	return nil
}

// ListAttempts implements Store.ListAttempts
func (s *MemoryStore) ListAttempts(_ context.Context, reminderID string) ([]*DispatchAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.attempts[reminderID]
	out := make([]*DispatchAttempt, 0, len(src))
	for _, a := range src {
		c := *a
		out = append(out, &c)
	}
	return out, nil
}

func (f ListFilter) matches(r *Reminder) bool {
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	if f.Kind != nil && r.Kind != *f.Kind {
		return false
	}
	if f.Overdue && !r.IsOverdue() {
		return false
	}
	if f.FromTime != nil && r.TriggerAt.Before(*f.FromTime) {
		return false
	}
	if f.ToTime != nil && r.TriggerAt.After(*f.ToTime) {
		return false
	}
	return true
}

func (q DueQuery) matches(r *Reminder) bool {
	if r.DueAt == nil {
		return false
	}
	switch r.Status {
	case StatusPending, StatusSnoozed:
		return !r.DueAt.After(q.Now)
	case StatusDispatching:
		return r.ClaimedAt == nil || r.ClaimedAt.Before(q.StaleBefore)
	}
	return false
}
