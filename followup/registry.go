package followup

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownAssignment is returned for an assignment that was never registered.
var ErrUnknownAssignment = errors.New("unknown assignment")

// Registry tracks assignment status so reminders linked to live assignments are not
// deleted. It implements reminder.AssignmentChecker.
type Registry struct {
	mu          sync.RWMutex
	assignments map[string]Assignment
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{assignments: make(map[string]Assignment)}
}

// Put stores or replaces an assignment.
func (r *Registry) Put(a Assignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.ID] = a
}

// Get returns a copy of the assignment.
func (r *Registry) Get(id string) (Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[id]
	if !ok {
		return Assignment{}, fmt.Errorf("%w: %s", ErrUnknownAssignment, id)
	}
	return a, nil
}

// SetStatus changes the status of a known assignment.
func (r *Registry) SetStatus(id string, status AssignmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAssignment, id)
	}
	a.Status = status
	r.assignments[id] = a
	return nil
}

// IsActive implements reminder.AssignmentChecker. Unknown assignments are inactive.
func (r *Registry) IsActive(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[id]
	return ok && a.Active(), nil
}
