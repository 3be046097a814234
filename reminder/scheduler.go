package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jgabriele321/remindd/logger"
	timecalc "github.com/jgabriele321/remindd/time"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithPollInterval sets the tick period.
func WithPollInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.interval = d }
}

// WithWorkers bounds how many reminders of one batch are dispatched concurrently.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) { s.workers = n }
}

// WithBatchSize caps the number of due reminders fetched per tick.
func WithBatchSize(n int) SchedulerOption {
	return func(s *Scheduler) { s.batchSize = n }
}

// WithLeaseTimeout sets how long a claim may stay in flight before another tick reclaims it.
func WithLeaseTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaseTimeout = d }
}

// WithRetryPolicy sets the backoff base and the number of redelivery attempts after a
// dispatch in which every path failed.
func WithRetryPolicy(delay time.Duration, maxRetries int) SchedulerOption {
	return func(s *Scheduler) {
		s.retryDelay = delay
		s.maxRetries = maxRetries
	}
}

// WithLocation sets the zone whose wall clock daily and weekly reminders keep.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) { s.loc = loc }
}

// WithSchedulerClock overrides time.Now.
func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.now = c }
}

// TickHook observes every completed tick.
type TickHook func(fired int, elapsed time.Duration, err error)

// WithTickHook registers h to run after each tick started by the poll loop.
func WithTickHook(h TickHook) SchedulerOption {
	return func(s *Scheduler) { s.onTick = h }
}

// Scheduler turns elapsed trigger times into dispatches
type Scheduler struct {
	store        Store
	dispatcher   Dispatcher
	now          Clock
	loc          *time.Location
	interval     time.Duration
	workers      int
	batchSize    int
	leaseTimeout time.Duration
	retryDelay   time.Duration
	maxRetries   int
	onTick       TickHook
	log          *logrus.Entry

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler instance
func NewScheduler(store Store, dispatcher Dispatcher, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        store,
		dispatcher:   dispatcher,
		now:          time.Now,
		loc:          time.UTC,
		interval:     30 * time.Second,
		workers:      8,
		batchSize:    200,
		leaseTimeout: 5 * time.Minute,
		retryDelay:   time.Minute,
		maxRetries:   3,
		log:          logger.GetAppLogger().WithField("component", "scheduler"),
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	return s
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop gracefully stops the scheduler and waits for the running tick to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithFields(logrus.Fields{
		"interval": s.interval.String(),
		"workers":  s.workers,
	}).Info("scheduler started")

	for {
		select {
		case <-s.stopChan:
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.safeTick(ctx)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	start := time.Now()
	fired := 0
	var err error
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("panic during scheduler tick, continuing next tick")
			err = fmt.Errorf("panic: %v", r)
		}
		if s.onTick != nil {
			s.onTick(fired, time.Since(start), err)
		}
	}()
	fired, err = s.Tick(ctx)
	if err != nil {
		s.log.WithError(err).Warn("scheduler tick failed, retrying next tick")
	}
}

// Tick fetches the due reminders and fires each of them once. It returns how many were
// dispatched by this call. Only a failure to list is returned as an error; per-reminder
// problems are logged.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDue(ctx, DueQuery{
		Now:         now,
		StaleBefore: now.Add(-s.leaseTimeout),
		Limit:       s.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var (
		mu    sync.Mutex
		fired int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, r := range due {
		id := r.ID
		g.Go(func() error {
			defer func() {
				// A panicking dispatch leaves the claim to expire; the batch carries on.
				if p := recover(); p != nil {
					s.log.WithFields(logrus.Fields{
						"reminderId": id,
						"panic":      p,
					}).Error("panic while firing reminder")
				}
			}()
			ok, err := s.Fire(gctx, id)
			if err != nil {
				s.log.WithError(err).WithField("reminderId", id).Error("failed to fire reminder")
				return nil
			}
			if ok {
				mu.Lock()
				fired++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.WithFields(logrus.Fields{
		"due":   len(due),
		"fired": fired,
	}).Debug("scheduler tick finished")
	return fired, nil
}

// Fire claims, dispatches and releases one reminder. It reports false without error when
// the claim lost to a concurrent update, e.g. a dismiss that committed first.
func (s *Scheduler) Fire(ctx context.Context, id string) (bool, error) {
	now := s.now()
	claimed, err := s.store.UpdateReminder(ctx, id, claim(now, now.Add(-s.leaseTimeout)))
	if errors.Is(err, errNotClaimable) || errors.Is(err, ErrNotFound) {
		s.log.WithField("reminderId", id).Debug("reminder no longer claimable, skipping")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	firedAt := *claimed.ClaimedAt

	outcome, dispatchErr := s.dispatcher.Dispatch(ctx, claimed)
	if dispatchErr != nil {
		s.log.WithError(dispatchErr).WithField("reminderId", id).Warn("dispatch failed")
	}

	// The release must land even if ctx was cancelled mid-dispatch, otherwise the
	// reminder sits in dispatching until the lease expires.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	released, err := s.store.UpdateReminder(releaseCtx, id, s.release(firedAt, outcome, dispatchErr))
	if errors.Is(err, errNotDispatching) {
		s.log.WithField("reminderId", id).Warn("claim was taken over before release")
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("release reminder: %w", err)
	}

	fields := logrus.Fields{
		"reminderId":   id,
		"ownerId":      released.OwnerID,
		"triggerCount": released.TriggerCount,
	}
	if outcome != nil {
		fields["delivered"] = outcome.Delivered
		fields["noAddress"] = outcome.NoAddress
		fields["attempts"] = len(outcome.Attempts)
	}
	if released.DueAt != nil {
		fields["nextDueAt"] = *released.DueAt
	}
	s.log.WithFields(fields).Info("reminder fired")
	return true, nil
}

// release returns a fired reminder to pending and computes when it is due next.
func (s *Scheduler) release(firedAt time.Time, outcome *DispatchOutcome, dispatchErr error) Mutation {
	return func(r *Reminder) error {
		if r.Status != StatusDispatching || r.ClaimedAt == nil || !r.ClaimedAt.Equal(firedAt) {
			return errNotDispatching
		}
		now := s.now()
		r.Status = StatusPending
		r.ClaimedAt = nil
		r.TriggerCount++
		r.LastTriggeredAt = timePtr(firedAt)

		failed := dispatchErr != nil || (outcome != nil && !outcome.Delivered && !outcome.NoAddress)
		if failed && r.DeliveryFailures < s.maxRetries {
			r.DeliveryFailures++
			retryAt := now.Add(s.retryDelay << (r.DeliveryFailures - 1))
			r.DueAt = timePtr(retryAt)
			return nil
		}
		r.DeliveryFailures = 0

		if !r.IsRepeating {
			r.NextTriggerAt = nil
			r.DueAt = nil
			return nil
		}
		next, err := s.nextOccurrence(r, firedAt, now)
		if err != nil {
			// A malformed interval must not keep the reminder firing; leave it overdue.
			r.NextTriggerAt = nil
			r.DueAt = nil
			return nil
		}
		r.NextTriggerAt = timePtr(next)
		r.DueAt = timePtr(next)
		return nil
	}
}

// nextOccurrence steps from the fire time, skipping cycles that are already in the past.
// Daily and weekly steps are calendar steps in the scheduler's zone, but never shorter than
// a full 24h or 7d: on a spring-forward day the occurrence moves one hour later instead.
func (s *Scheduler) nextOccurrence(r *Reminder, firedAt, now time.Time) (time.Time, error) {
	step, period, err := stepFor(r)
	if err != nil {
		return time.Time{}, err
	}
	next := timecalc.NextAfter(firedAt.In(s.loc), step, now)
	if next.Before(firedAt.Add(period)) {
		fixed := func(t time.Time) time.Time { return t.Add(period) }
		next = timecalc.NextAfter(firedAt, fixed, now)
	}
	return next.UTC(), nil
}

func stepFor(r *Reminder) (timecalc.Step, time.Duration, error) {
	switch r.RepeatInterval {
	case RepeatDaily:
		return timecalc.Daily, 24 * time.Hour, nil
	case RepeatWeekly:
		return timecalc.Weekly, 7 * 24 * time.Hour, nil
	case RepeatCustom:
		step, err := timecalc.EveryMinutes(r.RepeatMinutes)
		return step, time.Duration(r.RepeatMinutes) * time.Minute, err
	}
	return nil, 0, fmt.Errorf("unsupported repeat interval: %s", r.RepeatInterval)
}
