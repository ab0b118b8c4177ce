// Package observability registers the agent's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edge_agent"

var (
	interceptedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Intercepted requests grouped by routing strategy and how they were answered.",
	}, []string{"strategy", "source"})

	cacheWriteDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "writes_dropped_total",
		Help:      "Cache writes silently dropped after a store refused them.",
	}, []string{"store"})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "syncqueue",
		Name:      "pending_operations",
		Help:      "Operations waiting for replay.",
	})

	replayCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncqueue",
		Name:      "replays_total",
		Help:      "Replay attempts grouped by operation kind and result.",
	}, []string{"kind", "result"})

	drainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncqueue",
		Name:      "drain_duration_seconds",
		Help:      "Time spent replaying one drain cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	notificationsAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "added_total",
		Help:      "Notifications added, grouped by severity.",
	}, []string{"severity"})

	notificationsUnread = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "unread",
		Help:      "Notifications not yet marked read.",
	})

	pushCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "messages_total",
		Help:      "Inbound push messages grouped by transport and result.",
	}, []string{"transport", "result"})

	connectivityGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "online",
		Help:      "1 when the origin was reachable on the last probe.",
	})

	activatedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "lifecycle",
		Name:      "last_activation_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activation.",
	})
)

func init() {
	prometheus.MustRegister(
		interceptedCounter,
		cacheWriteDropped,
		queueDepth,
		replayCounter,
		drainDuration,
		notificationsAdded,
		notificationsUnread,
		pushCounter,
		connectivityGauge,
		activatedGauge,
	)
}

// RecordIntercepted counts a request answered by source under strategy.
func RecordIntercepted(strategy, source string) {
	interceptedCounter.WithLabelValues(strategy, source).Inc()
}

// RecordCacheWriteDropped counts a refused cache write.
func RecordCacheWriteDropped(store string) {
	cacheWriteDropped.WithLabelValues(store).Inc()
}

// SetQueueDepth publishes the number of pending operations.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordReplay counts one replay attempt.
func RecordReplay(kind string, ok bool) {
	result := "failed"
	if ok {
		result = "succeeded"
	}
	replayCounter.WithLabelValues(kind, result).Inc()
}

// ObserveDrain records how long a drain cycle took.
func ObserveDrain(d time.Duration) {
	drainDuration.Observe(d.Seconds())
}

// RecordNotification counts an added notification and publishes the unread total.
func RecordNotification(severity string, unread int) {
	notificationsAdded.WithLabelValues(severity).Inc()
	notificationsUnread.Set(float64(unread))
}

// SetUnread publishes the unread notification total.
func SetUnread(unread int) {
	notificationsUnread.Set(float64(unread))
}

// RecordPush counts an inbound push message.
func RecordPush(transport string, ok bool) {
	result := "invalid"
	if ok {
		result = "accepted"
	}
	pushCounter.WithLabelValues(transport, result).Inc()
}

// RecordConnectivity publishes the latest probe outcome.
func RecordConnectivity(online bool) {
	if online {
		connectivityGauge.Set(1)
		return
	}
	connectivityGauge.Set(0)
}

// RecordActivated updates the activation watermark gauge.
func RecordActivated(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activatedGauge.Set(float64(ts.Unix()))
}
