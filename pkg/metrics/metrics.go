package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry metrics
	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "someip_services_total",
			Help: "Total number of offered or requested services",
		},
	)

	EventsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "someip_events_total",
			Help: "Total number of registered events by type (event, field, selective, unknown)",
		},
		[]string{"type"},
	)

	SubscriptionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "someip_subscriptions_total",
			Help: "Total number of active subscription records",
		},
	)

	// EventStore metrics
	NotificationsForwardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "someip_notifications_forwarded_total",
			Help: "Total number of notifications forwarded past the debounce filter",
		},
	)

	NotificationsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "someip_notifications_suppressed_total",
			Help: "Total number of notifications suppressed by the debounce filter",
		},
	)

	DebounceIntervalFlushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "someip_debounce_interval_flushes_total",
			Help: "Total number of send-current-value-after timer flushes",
		},
	)

	// Dispatcher metrics
	DispatcherActiveWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "someip_dispatcher_active_workers",
			Help: "Current number of live dispatcher worker goroutines",
		},
	)

	DispatcherQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "someip_dispatcher_queue_depth",
			Help: "Current number of items waiting in the dispatcher queue",
		},
	)

	DispatcherEscalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "someip_dispatcher_escalations_total",
			Help: "Total number of times the dispatcher spawned an extra worker due to a blocked handler",
		},
	)

	DispatcherDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "someip_dispatcher_dropped_total",
			Help: "Total number of dispatcher items dropped due to back-pressure, by handler type",
		},
		[]string{"handler_type"},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "someip_dispatch_latency_seconds",
			Help:    "Time between a handler being queued and invoked",
			Buckets: prometheus.DefBuckets,
		},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "someip_handler_duration_seconds",
			Help:    "Time spent inside a user-registered handler, by handler type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler_type"},
	)

	// IdAllocator metrics
	ClientIDPoolExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "someip_client_id_pool_exhausted_total",
			Help: "Total number of client id requests that failed due to pool exhaustion",
		},
	)

	ClientIDsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "someip_client_ids_in_use",
			Help: "Current number of allocated client ids for this network",
		},
	)
)

func init() {
	prometheus.MustRegister(ServicesTotal)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(SubscriptionsTotal)
	prometheus.MustRegister(NotificationsForwardedTotal)
	prometheus.MustRegister(NotificationsSuppressedTotal)
	prometheus.MustRegister(DebounceIntervalFlushesTotal)
	prometheus.MustRegister(DispatcherActiveWorkers)
	prometheus.MustRegister(DispatcherQueueDepth)
	prometheus.MustRegister(DispatcherEscalationsTotal)
	prometheus.MustRegister(DispatcherDroppedTotal)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(ClientIDPoolExhaustedTotal)
	prometheus.MustRegister(ClientIDsInUse)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
