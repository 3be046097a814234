package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	calls      []string
	outcome    DispatchOutcome
	err        error
	onDispatch func(r *Reminder)
}

func (d *fakeDispatcher) Dispatch(_ context.Context, r *Reminder) (*DispatchOutcome, error) {
	if d.onDispatch != nil {
		d.onDispatch(r)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, r.ID)
	if d.err != nil {
		return nil, d.err
	}
	out := d.outcome
	return &out, nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type schedulerFixture struct {
	store      *MemoryStore
	svc        Service
	clock      *testClock
	dispatcher *fakeDispatcher
	scheduler  *Scheduler
}

func newSchedulerFixture(t *testing.T, opts ...SchedulerOption) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		store:      NewMemoryStore(),
		clock:      &testClock{now: base},
		dispatcher: &fakeDispatcher{outcome: DispatchOutcome{Delivered: true}},
	}
	f.svc = NewService(f.store, WithClock(f.clock.Now))
	opts = append([]SchedulerOption{WithSchedulerClock(f.clock.Now)}, opts...)
	f.scheduler = NewScheduler(f.store, f.dispatcher, opts...)
	return f
}

func (f *schedulerFixture) create(t *testing.T, mutate ...func(*Reminder)) *Reminder {
	t.Helper()
	return createReminder(t, f.svc, mutate...)
}

func (f *schedulerFixture) tick(t *testing.T) int {
	t.Helper()
	n, err := f.scheduler.Tick(context.Background())
	require.NoError(t, err)
	return n
}

func (f *schedulerFixture) get(t *testing.T, id string) *Reminder {
	t.Helper()
	r, err := f.store.GetReminder(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestTickFiresNonRepeatingReminderOnce(t *testing.T) {
	f := newSchedulerFixture(t)
	r := f.create(t)

	assert.Equal(t, 0, f.tick(t), "not due yet")

	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.tick(t))

	got := f.get(t, r.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.TriggerCount)
	require.NotNil(t, got.LastTriggeredAt)
	assert.True(t, got.LastTriggeredAt.Equal(base.Add(time.Hour)))
	assert.Nil(t, got.DueAt)
	assert.Nil(t, got.NextTriggerAt)
	assert.Nil(t, got.ClaimedAt)
	assert.True(t, got.IsOverdue())

	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, f.tick(t), "fired reminders stay overdue, they do not fire again")
	assert.Equal(t, 1, f.dispatcher.count())

	overdue, err := f.svc.List(context.Background(), ListFilter{Overdue: true})
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	// the recipient can still act on an overdue reminder
	done, err := f.svc.Complete(context.Background(), r.ID, "Called back")
	require.NoError(t, err)
	assert.False(t, done.IsOverdue())
}

func TestTickIgnoresDismissedAndCompleted(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	dismissed := f.create(t)
	completed := f.create(t)
	_, err := f.svc.Dismiss(ctx, dismissed.ID)
	require.NoError(t, err)
	_, err = f.svc.Complete(ctx, completed.ID, "done early")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, f.tick(t))
	assert.Equal(t, 0, f.dispatcher.count())
}

func TestSnoozedReminderFiresAtNewTime(t *testing.T) {
	f := newSchedulerFixture(t)
	r := f.create(t)

	_, err := f.svc.Snooze(context.Background(), r.ID, 90)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Equal(t, 0, f.tick(t), "original trigger time is superseded")
	f.clock.Advance(30 * time.Minute)
	assert.Equal(t, 1, f.tick(t))

	got := f.get(t, r.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.SnoozeCount)
}

func TestWeeklyRecurrenceSkipsMissedOccurrences(t *testing.T) {
	f := newSchedulerFixture(t)
	monday := time.Date(2026, 3, 23, 9, 0, 0, 0, time.UTC)
	r := f.create(t, func(r *Reminder) {
		r.TriggerAt = monday
		r.IsRepeating = true
		r.RepeatInterval = RepeatWeekly
	})

	// scheduler offline for three weeks
	f.clock.now = monday.Add(3*7*24*time.Hour + time.Hour)
	assert.Equal(t, 1, f.tick(t))
	assert.Equal(t, 0, f.tick(t), "missed occurrences are not replayed")

	got := f.get(t, r.ID)
	assert.Equal(t, 1, got.TriggerCount)
	assert.Equal(t, StatusPending, got.Status)
	require.NotNil(t, got.NextTriggerAt)
	require.NotNil(t, got.LastTriggeredAt)
	want := time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)
	assert.True(t, got.NextTriggerAt.Equal(want), "got %s", got.NextTriggerAt)
	assert.True(t, got.DueAt.Equal(want))
	assert.False(t, got.NextTriggerAt.Before(got.LastTriggeredAt.Add(7*24*time.Hour)))
	assert.False(t, got.IsOverdue())
}

func TestWeeklyRecurrenceFiredLate(t *testing.T) {
	f := newSchedulerFixture(t)
	monday := time.Date(2026, 3, 23, 9, 0, 0, 0, time.UTC)
	r := f.create(t, func(r *Reminder) {
		r.TriggerAt = monday
		r.IsRepeating = true
		r.RepeatInterval = RepeatWeekly
	})

	// picked up by a poll twenty seconds after the trigger time
	firedAt := monday.Add(20 * time.Second)
	f.clock.now = firedAt
	require.Equal(t, 1, f.tick(t))

	got := f.get(t, r.ID)
	require.NotNil(t, got.NextTriggerAt)
	assert.True(t, got.LastTriggeredAt.Equal(firedAt))
	assert.False(t, got.NextTriggerAt.Before(firedAt.Add(7*24*time.Hour)),
		"next %s is earlier than a week after %s", got.NextTriggerAt, firedAt)
}

func TestDailyRecurrenceFollowsFireTime(t *testing.T) {
	f := newSchedulerFixture(t)
	r := f.create(t, func(r *Reminder) {
		r.IsRepeating = true
		r.RepeatInterval = RepeatDaily
	})

	// fired a little late
	f.clock.Advance(time.Hour + 45*time.Second)
	assert.Equal(t, 1, f.tick(t))

	got := f.get(t, r.ID)
	want := r.TriggerAt.Add(45*time.Second + 24*time.Hour)
	assert.True(t, got.NextTriggerAt.Equal(want), "got %s", got.NextTriggerAt)
	assert.True(t, got.NextTriggerAt.Equal(got.LastTriggeredAt.Add(24*time.Hour)))
}

func TestDailyRecurrenceAcrossDSTInLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name     string
		trigger  time.Time
		wantHour int
		wantGap  time.Duration
	}{
		// clocks spring forward on March 8: a calendar day is only 23h long
		{"spring forward", time.Date(2026, 3, 7, 9, 0, 0, 0, ny), 10, 24 * time.Hour},
		// clocks fall back on November 1: the calendar day keeps the wall-clock time
		{"fall back", time.Date(2026, 10, 31, 9, 0, 0, 0, ny), 9, 25 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(t, WithLocation(ny))
			f.clock.now = tt.trigger.Add(-time.Hour)
			r := f.create(t, func(r *Reminder) {
				r.TriggerAt = tt.trigger.UTC()
				r.IsRepeating = true
				r.RepeatInterval = RepeatDaily
			})

			f.clock.now = tt.trigger.Add(time.Minute)
			assert.Equal(t, 1, f.tick(t))

			got := f.get(t, r.ID)
			next := got.NextTriggerAt.In(ny)
			assert.Equal(t, tt.trigger.AddDate(0, 0, 1).Day(), next.Day())
			assert.Equal(t, tt.wantHour, next.Hour())
			assert.Equal(t, tt.wantGap, got.NextTriggerAt.Sub(*got.LastTriggeredAt))
		})
	}
}

func TestCustomIntervalRecurrence(t *testing.T) {
	f := newSchedulerFixture(t)
	r := f.create(t, func(r *Reminder) {
		r.IsRepeating = true
		r.RepeatInterval = RepeatCustom
		r.RepeatMinutes = 45
	})

	f.clock.Advance(time.Hour + 100*time.Minute) // fired 100 minutes late
	assert.Equal(t, 1, f.tick(t))

	got := f.get(t, r.ID)
	want := r.TriggerAt.Add(100*time.Minute + 45*time.Minute)
	assert.True(t, got.NextTriggerAt.Equal(want), "got %s", got.NextTriggerAt)
}

func TestFailedDeliveryIsRetriedWithBackoff(t *testing.T) {
	f := newSchedulerFixture(t, WithRetryPolicy(time.Minute, 2))
	f.dispatcher.outcome = DispatchOutcome{Delivered: false}
	r := f.create(t)

	f.clock.Advance(time.Hour)
	require.Equal(t, 1, f.tick(t))
	got := f.get(t, r.ID)
	assert.Equal(t, 1, got.DeliveryFailures)
	assert.Equal(t, 1, got.TriggerCount)
	require.NotNil(t, got.DueAt)
	assert.True(t, got.DueAt.Equal(f.clock.Now().Add(time.Minute)))

	f.clock.Advance(time.Minute)
	require.Equal(t, 1, f.tick(t))
	got = f.get(t, r.ID)
	assert.Equal(t, 2, got.DeliveryFailures)
	assert.True(t, got.DueAt.Equal(f.clock.Now().Add(2*time.Minute)))

	f.clock.Advance(2 * time.Minute)
	require.Equal(t, 1, f.tick(t))
	got = f.get(t, r.ID)
	assert.Equal(t, 0, got.DeliveryFailures, "retries exhausted")
	assert.Equal(t, 3, got.TriggerCount)
	assert.Nil(t, got.DueAt)
	assert.True(t, got.IsOverdue())
}

func TestDispatcherErrorCountsAsFailure(t *testing.T) {
	f := newSchedulerFixture(t)
	f.dispatcher.err = errors.New("directory unavailable")
	r := f.create(t)

	f.clock.Advance(time.Hour)
	require.Equal(t, 1, f.tick(t))

	got := f.get(t, r.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.DeliveryFailures)
	assert.NotNil(t, got.DueAt)
}

func TestNoAddressIsNotRetried(t *testing.T) {
	f := newSchedulerFixture(t)
	f.dispatcher.outcome = DispatchOutcome{NoAddress: true}
	r := f.create(t)

	f.clock.Advance(time.Hour)
	require.Equal(t, 1, f.tick(t))

	got := f.get(t, r.ID)
	assert.Zero(t, got.DeliveryFailures)
	assert.Nil(t, got.DueAt)
	assert.Equal(t, 1, got.TriggerCount)
}

func TestStaleLeaseIsReclaimed(t *testing.T) {
	f := newSchedulerFixture(t, WithLeaseTimeout(5*time.Minute))
	ctx := context.Background()
	r := f.create(t)

	f.clock.Advance(time.Hour)
	// a claim left behind by a crashed process
	_, err := f.store.UpdateReminder(ctx, r.ID, claim(f.clock.Now(), f.clock.Now()))
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 0, f.tick(t), "lease still fresh")

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, f.tick(t))
	got := f.get(t, r.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.TriggerCount)
}

func TestTickDispatchesBatchConcurrently(t *testing.T) {
	f := newSchedulerFixture(t, WithWorkers(4))
	var inFlight, peak int32
	f.dispatcher.onDispatch = func(*Reminder) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
	}
	for i := 0; i < 20; i++ {
		f.create(t)
	}

	f.clock.Advance(time.Hour)
	assert.Equal(t, 20, f.tick(t))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Equal(t, 20, f.dispatcher.count())
}

func TestPanickingDispatchDoesNotStopTheBatch(t *testing.T) {
	f := newSchedulerFixture(t)
	bad := f.create(t, func(r *Reminder) { r.Title = "boom" })
	good := f.create(t)
	f.dispatcher.onDispatch = func(r *Reminder) {
		if r.Title == "boom" {
			panic("gateway exploded")
		}
	}

	f.clock.Advance(time.Hour)
	f.tick(t)

	assert.Equal(t, 1, f.get(t, good.ID).TriggerCount)
	assert.Equal(t, StatusDispatching, f.get(t, bad.ID).Status, "left for lease expiry")
}

func TestDismissNeverCommitsDuringDispatch(t *testing.T) {
	f := newSchedulerFixture(t)
	f.svc.(*service).busyPoll = 100 * time.Microsecond
	ctx := context.Background()

	var violations, sends int32
	f.dispatcher.onDispatch = func(r *Reminder) {
		atomic.AddInt32(&sends, 1)
		cur, err := f.store.GetReminder(ctx, r.ID)
		if err != nil || cur.Status != StatusDispatching {
			atomic.AddInt32(&violations, 1)
		}
	}

	for i := 0; i < 1000; i++ {
		f.clock.now = base
		r := f.create(t)
		f.clock.now = base.Add(2 * time.Hour)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.scheduler.Fire(ctx, r.ID)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.Dismiss(ctx, r.ID)
			assert.NoError(t, err)
		}()
		wg.Wait()

		got := f.get(t, r.ID)
		require.Equal(t, StatusDismissed, got.Status)
		require.LessOrEqual(t, got.TriggerCount, 1)
	}

	assert.Zero(t, atomic.LoadInt32(&violations), "a send observed a non-dispatching reminder")
	t.Logf("%d of 1000 races dispatched before the dismiss", atomic.LoadInt32(&sends))
	assert.Equal(t, 0, f.tick(t), "dismissed reminders never fire")
}

func TestStartStop(t *testing.T) {
	var ticks int32
	f := newSchedulerFixture(t,
		WithPollInterval(5*time.Millisecond),
		WithTickHook(func(int, time.Duration, error) { atomic.AddInt32(&ticks, 1) }),
	)
	r := f.create(t)
	f.clock.Advance(time.Hour)

	f.scheduler.Start()
	require.Eventually(t, func() bool { return f.dispatcher.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.scheduler.Stop()
	f.scheduler.Stop() // idempotent

	assert.Equal(t, 1, f.get(t, r.ID).TriggerCount)
	assert.Positive(t, atomic.LoadInt32(&ticks))
}
