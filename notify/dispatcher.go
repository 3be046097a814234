// Package notify delivers reminders, alerts, chat messages and announcements through the
// push gateways and records what happened.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jgabriele321/remindd/logger"
	"github.com/jgabriele321/remindd/push"
	"github.com/jgabriele321/remindd/recipient"
	"github.com/jgabriele321/remindd/reminder"
)

const defaultGatewayTimeout = 10 * time.Second

// Attempt sources used as the metrics label.
const (
	sourceReminder = "reminder"
	sourceNotify   = "notify"
)

// AttemptRecorder persists the delivery audit trail. reminder.Store satisfies it.
type AttemptRecorder interface {
	CreateAttempt(ctx context.Context, a *reminder.DispatchAttempt) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithGatewayTimeout bounds every single gateway call.
func WithGatewayTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) { dp.timeout = d }
}

// WithDisplayLocation sets the zone used to render due times in notification bodies.
func WithDisplayLocation(loc *time.Location) DispatcherOption {
	return func(dp *Dispatcher) { dp.loc = loc }
}

// WithMetrics records attempts to m.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(dp *Dispatcher) { dp.metrics = m }
}

// WithDispatchClock overrides the attempt timestamp clock.
func WithDispatchClock(c reminder.Clock) DispatcherOption {
	return func(dp *Dispatcher) { dp.now = c }
}

// Dispatcher resolves a recipient's addresses and delivers through the primary gateway,
// falling back to the secondary one per address.
type Dispatcher struct {
	directory recipient.Directory
	primary   push.Gateway
	fallback  push.Gateway
	recorder  AttemptRecorder
	timeout   time.Duration
	loc       *time.Location
	metrics   *Metrics
	now       reminder.Clock
	log       *logrus.Logger
}

// NewDispatcher creates a dispatcher. fallback may be nil, in which case a failed primary
// send is final.
func NewDispatcher(directory recipient.Directory, primary, fallback push.Gateway, recorder AttemptRecorder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		directory: directory,
		primary:   primary,
		fallback:  fallback,
		recorder:  recorder,
		timeout:   defaultGatewayTimeout,
		loc:       time.Local,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.GetDispatchLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch implements reminder.Dispatcher. An owner without addresses is reported through
// the outcome, not as an error; an error means the addresses could not be resolved.
func (d *Dispatcher) Dispatch(ctx context.Context, r *reminder.Reminder) (*reminder.DispatchOutcome, error) {
	addresses, err := d.directory.ResolveAddresses(ctx, r.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve addresses for %s: %w", r.OwnerID, err)
	}

	outcome := &reminder.DispatchOutcome{}
	if len(addresses) == 0 {
		attempt := &reminder.DispatchAttempt{
			ReminderID:  r.ID,
			Channel:     reminder.ChannelPrimary,
			Outcome:     reminder.OutcomeFailed,
			ErrorDetail: reminder.NoRecipientAddress,
		}
		d.record(ctx, attempt)
		outcome.NoAddress = true
		outcome.Attempts = append(outcome.Attempts, attempt)
		d.log.WithFields(logrus.Fields{
			"reminderId": r.ID,
			"ownerId":    r.OwnerID,
		}).Warn("no recipient address, reminder not delivered")
		return outcome, nil
	}

	payload := ReminderPayload(r, d.loc)
	for _, addr := range addresses {
		delivered := d.deliver(ctx, addr, payload, sourceReminder, func(a *reminder.DispatchAttempt) {
			a.ReminderID = r.ID
			d.record(ctx, a)
			outcome.Attempts = append(outcome.Attempts, a)
		})
		if delivered {
			outcome.Delivered = true
		}
	}

	d.log.WithFields(logrus.Fields{
		"reminderId": r.ID,
		"ownerId":    r.OwnerID,
		"addresses":  len(addresses),
		"attempts":   len(outcome.Attempts),
		"delivered":  outcome.Delivered,
	}).Info("reminder dispatched")
	return outcome, nil
}

// Notify delivers a payload that is not backed by a reminder, such as a chat message or an
// assignment alert. It reports whether any address received it. Attempts are logged and
// counted but not stored.
func (d *Dispatcher) Notify(ctx context.Context, recipientID string, p push.Payload) (bool, error) {
	addresses, err := d.directory.ResolveAddresses(ctx, recipientID)
	if err != nil {
		return false, fmt.Errorf("resolve addresses for %s: %w", recipientID, err)
	}
	if len(addresses) == 0 {
		d.log.WithFields(logrus.Fields{
			"recipientId": recipientID,
			"type":        p.Type(),
		}).Warn("no recipient address, notification dropped")
		return false, nil
	}

	delivered := false
	for _, addr := range addresses {
		ok := d.deliver(ctx, addr, p, sourceNotify, func(a *reminder.DispatchAttempt) {
			d.log.WithFields(logrus.Fields{
				"recipientId": recipientID,
				"type":        p.Type(),
				"channel":     a.Channel,
				"outcome":     a.Outcome,
				"error":       a.ErrorDetail,
			}).Debug("notification attempt")
		})
		delivered = delivered || ok
	}
	return delivered, nil
}

// deliver tries the primary gateway and then the fallback for one address, handing every
// attempt to onAttempt. An address both paths call invalid is removed from the directory.
func (d *Dispatcher) deliver(ctx context.Context, address string, p push.Payload, source string, onAttempt func(*reminder.DispatchAttempt)) bool {
	primaryErr := d.send(ctx, d.primary, reminder.ChannelPrimary, address, p, source, onAttempt)
	if primaryErr == nil {
		return true
	}
	if d.fallback == nil {
		return false
	}

	fallbackErr := d.send(ctx, d.fallback, reminder.ChannelFallback, address, p, source, onAttempt)
	if fallbackErr == nil {
		return true
	}

	if push.KindOf(primaryErr) == push.FailureInvalidAddress && push.KindOf(fallbackErr) == push.FailureInvalidAddress {
		if err := d.directory.RemoveAddress(context.WithoutCancel(ctx), address); err != nil {
			d.log.WithError(err).WithField("address", address).Warn("failed to prune invalid address")
		} else {
			d.metrics.recordPruned()
			d.log.WithField("address", address).Info("pruned invalid address")
		}
	}
	return false
}

func (d *Dispatcher) send(ctx context.Context, gw push.Gateway, channel reminder.Channel, address string, p push.Payload, source string, onAttempt func(*reminder.DispatchAttempt)) error {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := gw.SendToOne(callCtx, address, p)
	elapsed := time.Since(start)

	attempt := &reminder.DispatchAttempt{
		Address:   address,
		Channel:   channel,
		Outcome:   reminder.OutcomeSent,
		Timestamp: d.now(),
	}
	if err != nil {
		attempt.Outcome = reminder.OutcomeFailed
		if push.KindOf(err) == push.FailureTimeout || callCtx.Err() != nil {
			attempt.Outcome = reminder.OutcomeTimeout
		}
		attempt.ErrorDetail = err.Error()
	}
	d.metrics.recordAttempt(source, string(channel), string(attempt.Outcome), elapsed)
	onAttempt(attempt)
	return err
}

func (d *Dispatcher) record(ctx context.Context, a *reminder.DispatchAttempt) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = d.now()
	}
	if d.recorder == nil {
		return
	}
	if err := d.recorder.CreateAttempt(context.WithoutCancel(ctx), a); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"reminderId": a.ReminderID,
			"channel":    a.Channel,
		}).Error("failed to record dispatch attempt")
	}
}
