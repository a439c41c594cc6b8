// Package metrics exports queue activity to Prometheus.
//
// Metrics counts lifecycle events as they are published by a Queue.
// ReportCollector exposes the funnel report as gauges, computed on scrape.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

const namespace = "workqueue"

// Metrics holds the event-driven collectors.
type Metrics struct {
	events   *prometheus.CounterVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Queue lifecycle events by work type and event.",
		}, []string{"type", "event"}),
		finished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finished_total",
			Help:      "Finished work by type and outcome status.",
		}, []string{"type", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "work_duration_seconds",
			Help:      "Time from allocation to finish.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~163s
		}, []string{"type"}),
	}
}

// Observe records one event.
func (m *Metrics) Observe(ev workqueue.Event) {
	if ev.Work == nil {
		return
	}
	typ := ev.Work.Type
	m.events.WithLabelValues(typ, string(ev.Type)).Inc()

	if ev.Type != workqueue.EventFinished {
		return
	}
	m.finished.WithLabelValues(typ, string(ev.Work.Status())).Inc()
	if d := ev.Work.Duration(); d > 0 {
		m.duration.WithLabelValues(typ).Observe(d.Seconds())
	}
}

// Consume observes events until the channel closes or ctx is done.
func (m *Metrics) Consume(ctx context.Context, events <-chan workqueue.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

// Run returns a function suitable for errgroup that observes the events of q.
func (m *Metrics) Run(ctx context.Context, q *workqueue.Queue) func() error {
	return func() error {
		m.Consume(ctx, q.Subscribe(ctx))
		return nil
	}
}

// Reporter produces funnel reports; *workqueue.Queue implements it.
type Reporter interface {
	GetReport(ctx context.Context, filter workqueue.ReportFilter) ([]workqueue.TypeReport, error)
}

// ReportCollector exposes the funnel report over a trailing window of
// created times as gauges.
type ReportCollector struct {
	reporter Reporter
	window   time.Duration
	timeout  time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	desc     *prometheus.Desc
}

// ReportOption configures a ReportCollector.
type ReportOption func(*ReportCollector)

// WithWindow sets how far back created times are counted. Zero counts all work.
func WithWindow(d time.Duration) ReportOption {
	return func(c *ReportCollector) { c.window = d }
}

// WithScrapeTimeout bounds the report query of one scrape.
func WithScrapeTimeout(d time.Duration) ReportOption {
	return func(c *ReportCollector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock overrides the clock the window is measured from.
func WithClock(clock func() time.Time) ReportOption {
	return func(c *ReportCollector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger used for failed scrapes.
func WithLogger(l *slog.Logger) ReportOption {
	return func(c *ReportCollector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewReportCollector creates a collector; register it with a prometheus.Registerer.
func NewReportCollector(r Reporter, opts ...ReportOption) *ReportCollector {
	c := &ReportCollector{
		reporter: r,
		window:   24 * time.Hour,
		timeout:  5 * time.Second,
		clock:    time.Now,
		logger:   slog.Default(),
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "report", "works"),
			"Work created within the report window by type and funnel stage.",
			[]string{"type", "stage"}, nil,
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ReportCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *ReportCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var filter workqueue.ReportFilter
	if c.window > 0 {
		filter.Created.From = c.clock().UTC().Add(-c.window)
	}
	reports, err := c.reporter.GetReport(ctx, filter)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to collect work report", logger.Component("metrics"), logger.Error(err))
		return
	}

	for _, r := range reports {
		for stage, v := range map[string]int64{
			"new":       r.NewCount,
			"started":   r.StartCount,
			"succeeded": r.SuccessCount,
			"failed":    r.ErrorCount,
			"deleted":   r.DeleteCount,
		} {
			ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(v), r.Type, stage)
		}
	}
}
