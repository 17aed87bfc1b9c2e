// Package promsink turns environment activity events into Prometheus metrics.
package promsink

import (
	"context"

	"github.com/goliatone/go-bootenv/pkg/activity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hook counts events per verb and backend and tracks whether the last load of
// each backend was degraded to a single surviving copy.
type Hook struct {
	events   *prometheus.CounterVec
	degraded *prometheus.GaugeVec
	last     *prometheus.GaugeVec
}

// Option configures a Hook.
type Option func(*config)

type config struct {
	namespace string
}

// WithNamespace prefixes metric names. Defaults to "bootenv".
func WithNamespace(namespace string) Option {
	return func(cfg *config) {
		cfg.namespace = namespace
	}
}

// New registers the hook's collectors with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, opts ...Option) *Hook {
	cfg := config{namespace: "bootenv"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Hook{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "events_total",
			Help:      "Environment lifecycle events by verb and backend",
		}, []string{"verb", "backend"}),
		degraded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "degraded",
			Help:      "1 when the last load recovered from a single surviving copy",
		}, []string{"backend"}),
		last: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Unix time of the most recent event by verb",
		}, []string{"verb"}),
	}
}

// Notify records the event. It never fails.
func (h *Hook) Notify(_ context.Context, event activity.Event) error {
	if h == nil {
		return nil
	}
	normalized := activity.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.ObjectID == "" {
		return nil
	}

	h.events.WithLabelValues(normalized.Verb, normalized.ObjectID).Inc()
	h.last.WithLabelValues(normalized.Verb).Set(float64(normalized.OccurredAt.Unix()) + float64(normalized.OccurredAt.Nanosecond())/1e9)
	if normalized.Verb == activity.VerbLoaded {
		degraded, _ := normalized.Metadata["degraded"].(bool)
		value := 0.0
		if degraded {
			value = 1
		}
		h.degraded.WithLabelValues(normalized.ObjectID).Set(value)
	}
	return nil
}
