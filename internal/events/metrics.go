package events

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Number of lifecycle events successfully published, by topic and event type.",
	}, []string{"topic", "event_type"})

	publishErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nestlog",
		Subsystem: "events",
		Name:      "publish_errors_total",
		Help:      "Number of lifecycle event publish failures, by topic and event type.",
	}, []string{"topic", "event_type"})
)

func init() {
	prometheus.MustRegister(publishedCounter, publishErrorCounter)
}

func recordPublished(topic, eventType string) {
	publishedCounter.WithLabelValues(topic, eventType).Inc()
}

func recordPublishError(topic, eventType string) {
	publishErrorCounter.WithLabelValues(topic, eventType).Inc()
}
