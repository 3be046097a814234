package reminder

import (
	"errors"
	"strings"
	"time"
)

// errBusy aborts a recipient action while the scheduler holds the reminder.
var errBusy = errors.New("reminder is being dispatched")

// leaseTime normalises a claim timestamp so it survives a round trip through any store.
func leaseTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// claim moves a due reminder, or one whose dispatch lease went stale, to dispatching.
func claim(now, staleBefore time.Time) Mutation {
	return func(r *Reminder) error {
		switch r.Status {
		case StatusPending, StatusSnoozed:
			if r.DueAt == nil || r.DueAt.After(now) {
				return errNotClaimable
			}
		case StatusDispatching:
			if r.ClaimedAt != nil && !r.ClaimedAt.Before(staleBefore) {
				return errNotClaimable
			}
		default:
			return errNotClaimable
		}
		r.Status = StatusDispatching
		r.ClaimedAt = timePtr(leaseTime(now))
		return nil
	}
}

func complete(now time.Time, response string) Mutation {
	return func(r *Reminder) error {
		switch r.Status {
		case StatusPending, StatusSnoozed:
		case StatusDispatching:
			return errBusy
		default:
			return &InvalidStateError{Current: r.Status, Transition: "complete"}
		}

		text := strings.TrimSpace(response)
		if text == "" {
			if r.Kind != KindAlert {
				return invalid("response", "completion response must not be empty")
			}
			text = "acknowledged"
		}
		r.Status = StatusCompleted
		r.CompletionResponse = text
		r.ResponseWordCount = len(strings.Fields(text))
		r.CompletedAt = timePtr(now)
		r.NextTriggerAt = nil
		r.DueAt = nil
		return nil
	}
}

func snooze(now time.Time, minutes int) Mutation {
	return func(r *Reminder) error {
		switch r.Status {
		case StatusPending, StatusSnoozed:
		case StatusDispatching:
			return errBusy
		default:
			return &InvalidStateError{Current: r.Status, Transition: "snooze"}
		}
		next := now.Add(time.Duration(minutes) * time.Minute)
		r.Status = StatusSnoozed
		r.SnoozeCount++
		r.NextTriggerAt = timePtr(next)
		r.DueAt = timePtr(next)
		return nil
	}
}

// errAlreadyDismissed short-circuits a repeated dismiss without writing.
var errAlreadyDismissed = errors.New("reminder already dismissed")

func dismiss() Mutation {
	return func(r *Reminder) error {
		switch r.Status {
		case StatusPending, StatusSnoozed:
		case StatusDispatching:
			return errBusy
		case StatusDismissed:
			return errAlreadyDismissed
		default:
			return &InvalidStateError{Current: r.Status, Transition: "dismiss"}
		}
		r.Status = StatusDismissed
		r.NextTriggerAt = nil
		r.DueAt = nil
		return nil
	}
}
