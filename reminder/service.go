package reminder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jgabriele321/remindd/logger"
)

// Service is the lifecycle manager: creation, listing and recipient actions.
type Service interface {
	// Create validates and stores a new reminder
	Create(ctx context.Context, r *Reminder) error

	// Get retrieves a reminder by ID
	Get(ctx context.Context, id string) (*Reminder, error)

	// List retrieves reminders based on filters
	List(ctx context.Context, filter ListFilter) ([]*Reminder, error)

	// Delete removes a reminder that no active assignment refers to
	Delete(ctx context.Context, id string) error

	// Complete marks a reminder as completed with the recipient's response
	Complete(ctx context.Context, id, response string) (*Reminder, error)

	// Snooze defers the reminder by minutes
	Snooze(ctx context.Context, id string, minutes int) (*Reminder, error)

	// Dismiss closes the reminder without a response; repeating it is a no-op
	Dismiss(ctx context.Context, id string) (*Reminder, error)

	// Attempts lists the delivery history of a reminder
	Attempts(ctx context.Context, id string) ([]*DispatchAttempt, error)
}

// ServiceOption configures the service.
type ServiceOption func(*service)

// WithClock overrides time.Now.
func WithClock(c Clock) ServiceOption {
	return func(s *service) { s.now = c }
}

// WithBusyWait bounds how long a recipient action waits for an in-flight dispatch.
func WithBusyWait(d time.Duration) ServiceOption {
	return func(s *service) { s.busyWait = d }
}

// WithAssignmentChecker blocks deletion of reminders linked to active assignments.
func WithAssignmentChecker(c AssignmentChecker) ServiceOption {
	return func(s *service) { s.assignments = c }
}

// service implements the Service interface
type service struct {
	store       Store
	now         Clock
	busyWait    time.Duration
	busyPoll    time.Duration
	assignments AssignmentChecker
	log         *logrus.Entry
}

// NewService creates a new reminder service instance
func NewService(store Store, opts ...ServiceOption) Service {
	s := &service{
		store:    store,
		now:      time.Now,
		busyWait: 30 * time.Second,
		busyPoll: 5 * time.Millisecond,
		log:      logger.GetAppLogger().WithField("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements Service.Create
func (s *service) Create(ctx context.Context, r *Reminder) error {
	if err := s.validateNew(r); err != nil {
		return err
	}

	if r.Kind == "" {
		r.Kind = KindReminder
	}
	if !r.IsRepeating {
		r.RepeatInterval = RepeatNone
		r.RepeatMinutes = 0
	}
	r.Title = strings.TrimSpace(r.Title)
	r.Status = StatusPending
	r.SnoozeCount = 0
	r.TriggerCount = 0
	r.DeliveryFailures = 0
	r.LastTriggeredAt = nil
	r.NextTriggerAt = nil
	r.ClaimedAt = nil
	r.CompletedAt = nil
	r.CompletionResponse = ""
	r.ResponseWordCount = 0
	r.DueAt = timePtr(r.TriggerAt)

	if err := s.store.CreateReminder(ctx, r); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"reminderId": r.ID,
		"ownerId":    r.OwnerID,
		"kind":       r.Kind,
		"triggerAt":  r.TriggerAt,
		"repeating":  r.IsRepeating,
	}).Info("reminder created")
	return nil
}

func (s *service) validateNew(r *Reminder) error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return invalid("ownerId", "owner is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return invalid("title", "reminder title is required")
	}
	if r.Kind != "" && r.Kind != KindReminder && r.Kind != KindAlert {
		return invalid("kind", "unknown kind %q", r.Kind)
	}
	if r.TriggerAt.IsZero() {
		return invalid("triggerAt", "reminder trigger time is required")
	}
	if !r.TriggerAt.After(s.now()) {
		return invalid("triggerAt", "reminder trigger time must be in the future")
	}
	if !r.IsRepeating {
		return nil
	}
	switch r.RepeatInterval {
	case RepeatDaily, RepeatWeekly:
	case RepeatCustom:
		if r.RepeatMinutes <= 0 {
			return invalid("repeatMinutes", "custom interval needs a positive number of minutes")
		}
	default:
		return invalid("repeatInterval", "repeating reminder needs daily, weekly or custom interval, got %q", r.RepeatInterval)
	}
	return nil
}

// Get implements Service.Get
func (s *service) Get(ctx context.Context, id string) (*Reminder, error) {
	return s.store.GetReminder(ctx, id)
}

// List implements Service.List
func (s *service) List(ctx context.Context, filter ListFilter) ([]*Reminder, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalid("status", "unknown status %q", *filter.Status)
	}
	return s.store.ListReminders(ctx, filter)
}

// Delete implements Service.Delete
func (s *service) Delete(ctx context.Context, id string) error {
	r, err := s.store.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if r.AssignmentID != "" && s.assignments != nil {
		active, err := s.assignments.IsActive(ctx, r.AssignmentID)
		if err != nil {
			return &StoreError{Op: "check assignment", Err: err}
		}
		if active {
			return &InvalidStateError{
				Current:    r.Status,
				Transition: "delete",
				Reason:     "referenced by active assignment " + r.AssignmentID,
			}
		}
	}
	if err := s.store.DeleteReminder(ctx, id); err != nil {
		return err
	}
	s.log.WithField("reminderId", id).Info("reminder deleted")
	return nil
}

// Complete implements Service.Complete
func (s *service) Complete(ctx context.Context, id, response string) (*Reminder, error) {
	r, err := s.transition(ctx, id, "complete", complete(s.now(), response))
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"reminderId": id,
		"words":      r.ResponseWordCount,
	}).Info("reminder completed")
	return r, nil
}

// Snooze implements Service.Snooze
func (s *service) Snooze(ctx context.Context, id string, minutes int) (*Reminder, error) {
	if minutes <= 0 {
		return nil, invalid("minutes", "snooze minutes must be positive, got %d", minutes)
	}
	r, err := s.transition(ctx, id, "snooze", snooze(s.now(), minutes))
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"reminderId":    id,
		"nextTriggerAt": r.NextTriggerAt,
		"snoozeCount":   r.SnoozeCount,
	}).Info("reminder snoozed")
	return r, nil
}

// Dismiss implements Service.Dismiss
func (s *service) Dismiss(ctx context.Context, id string) (*Reminder, error) {
	r, err := s.transition(ctx, id, "dismiss", dismiss())
	if errors.Is(err, errAlreadyDismissed) {
		return s.store.GetReminder(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	s.log.WithField("reminderId", id).Info("reminder dismissed")
	return r, nil
}

// Attempts implements Service.Attempts
func (s *service) Attempts(ctx context.Context, id string) ([]*DispatchAttempt, error) {
	if _, err := s.store.GetReminder(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAttempts(ctx, id)
}

// transition applies a recipient action, waiting while the scheduler holds the reminder so
// the action never commits underneath an in-flight send.
func (s *service) transition(ctx context.Context, id, name string, mutate Mutation) (*Reminder, error) {
	deadline := time.Now().Add(s.busyWait)
	for {
		r, err := s.store.UpdateReminder(ctx, id, mutate)
		if !errors.Is(err, errBusy) {
			if err != nil && !errors.Is(err, errAlreadyDismissed) {
				s.log.WithError(err).WithFields(logrus.Fields{
					"reminderId": id,
					"transition": name,
				}).Debug("transition rejected")
			}
			return r, err
		}
		if time.Now().After(deadline) {
			return nil, &InvalidStateError{
				Current:    StatusDispatching,
				Transition: name,
				Reason:     "delivery in progress, retry shortly",
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.busyPoll):
		}
	}
}
