package reminder

import (
	"context"
	"time"
)

// Status represents the current state of a reminder
type Status string

const (
	StatusPending     Status = "pending"
	StatusSnoozed     Status = "snoozed"
	StatusDispatching Status = "dispatching"
	StatusCompleted   Status = "completed"
	StatusDismissed   Status = "dismissed"
)

// IsTerminal reports whether no further transition is accepted from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDismissed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSnoozed, StatusDispatching, StatusCompleted, StatusDismissed:
		return true
	}
	return false
}

// Kind separates reminders that need a written completion from one-off alerts.
type Kind string

const (
	KindReminder Kind = "reminder"
	KindAlert    Kind = "alert"
)

// RepeatInterval is the recurrence of a repeating reminder.
type RepeatInterval string

const (
	RepeatNone   RepeatInterval = "none"
	RepeatDaily  RepeatInterval = "daily"
	RepeatWeekly RepeatInterval = "weekly"
	RepeatCustom RepeatInterval = "custom" // every RepeatMinutes minutes
)

// Channel names the delivery path of an attempt.
type Channel string

const (
	ChannelPrimary  Channel = "primary"
	ChannelFallback Channel = "fallback"
)

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeFailed  Outcome = "failed"
	OutcomeTimeout Outcome = "timeout"
)

// NoRecipientAddress is recorded as the error detail when the owner has no live address.
const NoRecipientAddress = "no-recipient-address"

// Reminder represents a single scheduled reminder or alert
type Reminder struct {
	ID        string            `json:"id" bson:"_id"`
	Kind      Kind              `json:"kind" bson:"kind"`
	OwnerID   string            `json:"ownerId" bson:"ownerId"`
	CreatedBy string            `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	Title     string            `json:"title" bson:"title"`
	Note      string            `json:"note,omitempty" bson:"note,omitempty"`
	Context   map[string]string `json:"context,omitempty" bson:"context,omitempty"`

	TriggerAt      time.Time      `json:"triggerAt" bson:"triggerAt"`
	IsRepeating    bool           `json:"isRepeating" bson:"isRepeating"`
	RepeatInterval RepeatInterval `json:"repeatInterval" bson:"repeatInterval"`
	RepeatMinutes  int            `json:"repeatMinutes,omitempty" bson:"repeatMinutes,omitempty"`

	Status           Status     `json:"status" bson:"status"`
	SnoozeCount      int        `json:"snoozeCount" bson:"snoozeCount"`
	TriggerCount     int        `json:"triggerCount" bson:"triggerCount"`
	LastTriggeredAt  *time.Time `json:"lastTriggeredAt,omitempty" bson:"lastTriggeredAt,omitempty"`
	NextTriggerAt    *time.Time `json:"nextTriggerAt,omitempty" bson:"nextTriggerAt,omitempty"`
	DueAt            *time.Time `json:"dueAt,omitempty" bson:"dueAt,omitempty"`
	ClaimedAt        *time.Time `json:"-" bson:"claimedAt,omitempty"`
	DeliveryFailures int        `json:"deliveryFailures,omitempty" bson:"deliveryFailures"`

	CompletionResponse string     `json:"completionResponse,omitempty" bson:"completionResponse,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	ResponseWordCount  int        `json:"responseWordCount,omitempty" bson:"responseWordCount"`

	AssignmentID string `json:"assignmentId,omitempty" bson:"assignmentId,omitempty"`

	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// EffectiveTriggerAt is NextTriggerAt when set, otherwise TriggerAt.
func (r *Reminder) EffectiveTriggerAt() time.Time {
	if r.NextTriggerAt != nil {
		return *r.NextTriggerAt
	}
	return r.TriggerAt
}

// IsOverdue reports a non-repeating reminder that already fired and was never acted on.
func (r *Reminder) IsOverdue() bool {
	return r.Status == StatusPending && r.DueAt == nil && r.TriggerCount > 0
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (r *Reminder) Clone() *Reminder {
	c := *r
	if r.Context != nil {
		c.Context = make(map[string]string, len(r.Context))
		for k, v := range r.Context {
			c.Context[k] = v
		}
	}
	c.LastTriggeredAt = cloneTime(r.LastTriggeredAt)
	c.NextTriggerAt = cloneTime(r.NextTriggerAt)
	c.DueAt = cloneTime(r.DueAt)
	c.ClaimedAt = cloneTime(r.ClaimedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// DispatchAttempt is an append-only record of one delivery try.
type DispatchAttempt struct {
	ID          string    `json:"id" bson:"_id"`
	ReminderID  string    `json:"reminderId" bson:"reminderId"`
	Address     string    `json:"address" bson:"address"`
	Channel     Channel   `json:"channel" bson:"channel"`
	Outcome     Outcome   `json:"outcome" bson:"outcome"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	ErrorDetail string    `json:"errorDetail,omitempty" bson:"errorDetail,omitempty"`
}

// DispatchOutcome summarises one Dispatch call.
type DispatchOutcome struct {
	Delivered bool
	NoAddress bool
	Attempts  []*DispatchAttempt
}

// ListFilter defines filters for listing reminders
type ListFilter struct {
	OwnerID  string
	Status   *Status
	Kind     *Kind
	Overdue  bool       // only fired, un-acted, non-repeating reminders
	FromTime *time.Time // TriggerAt range start
	ToTime   *time.Time // TriggerAt range end
	Limit    int
}

// DueQuery selects reminders the scheduler should fire.
type DueQuery struct {
	Now time.Time
	// Dispatching reminders claimed before StaleBefore are handed out again.
	StaleBefore time.Time
	Limit       int
}

// Mutation changes a reminder in place. Returning an error aborts the update.
type Mutation func(r *Reminder) error

// Store defines the interface for reminder persistence
type Store interface {
	CreateReminder(ctx context.Context, r *Reminder) error
	GetReminder(ctx context.Context, id string) (*Reminder, error)
	ListReminders(ctx context.Context, filter ListFilter) ([]*Reminder, error)
	ListDue(ctx context.Context, q DueQuery) ([]*Reminder, error)
	// UpdateReminder applies mutate atomically with respect to every other update of id.
	UpdateReminder(ctx context.Context, id string, mutate Mutation) (*Reminder, error)
	DeleteReminder(ctx context.Context, id string) error

	CreateAttempt(ctx context.Context, a *DispatchAttempt) error
	ListAttempts(ctx context.Context, reminderID string) ([]*DispatchAttempt, error)
}

// Dispatcher delivers a claimed reminder to its owner.
type Dispatcher interface {
	Dispatch(ctx context.Context, r *Reminder) (*DispatchOutcome, error)
}

// AssignmentChecker reports whether a lead assignment still references its reminders.
type AssignmentChecker interface {
	IsActive(ctx context.Context, assignmentID string) (bool, error)
}

// Clock returns the current time.
type Clock func() time.Time
