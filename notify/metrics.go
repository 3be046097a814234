package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports delivery telemetry to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	attempts      *prometheus.CounterVec
	sendLatency   *prometheus.HistogramVec
	pruned        prometheus.Counter
	announcements *prometheus.CounterVec
	ticks         *prometheus.CounterVec
	fired         prometheus.Counter
	tickDuration  prometheus.Histogram
}

// NewMetrics registers the collectors on reg, reusing collectors that are already registered.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "remindd"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Delivery attempts by source, channel and outcome.",
		}, []string{"source", "channel", "outcome"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_send_duration_seconds",
			Help:      "Latency of single gateway sends.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_addresses_total",
			Help:      "Addresses removed after both delivery paths reported them invalid.",
		}),
		announcements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcement_deliveries_total",
			Help:      "Per-address results of bulk announcements.",
		}, []string{"result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler polls by result.",
		}, []string{"result"}),
		fired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_fired_total",
			Help:      "Reminders fired by the scheduler.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Duration of one scheduler poll including dispatch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	var err error
	if m.attempts, err = register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.sendLatency, err = register(reg, m.sendLatency); err != nil {
		return nil, err
	}
	if m.pruned, err = register(reg, m.pruned); err != nil {
		return nil, err
	}
	if m.announcements, err = register(reg, m.announcements); err != nil {
		return nil, err
	}
	if m.ticks, err = register(reg, m.ticks); err != nil {
		return nil, err
	}
	if m.fired, err = register(reg, m.fired); err != nil {
		return nil, err
	}
	if m.tickDuration, err = register(reg, m.tickDuration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) recordAttempt(source, channel, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(source, channel, outcome).Inc()
	m.sendLatency.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *Metrics) recordPruned() {
	if m == nil {
		return
	}
	m.pruned.Inc()
}

func (m *Metrics) recordAnnouncement(res AnnouncementResult) {
	if m == nil {
		return
	}
	m.announcements.WithLabelValues("sent").Add(float64(res.SentCount))
	m.announcements.WithLabelValues("failed").Add(float64(res.FailedCount))
}

// ObserveTick records one scheduler poll. It matches the scheduler's tick hook signature.
func (m *Metrics) ObserveTick(fired int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ticks.WithLabelValues("error").Inc()
	} else {
		m.ticks.WithLabelValues("ok").Inc()
	}
	m.fired.Add(float64(fired))
	m.tickDuration.Observe(elapsed.Seconds())
}
