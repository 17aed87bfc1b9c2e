package promsink_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-bootenv/pkg/activity"
	"github.com/goliatone/go-bootenv/pkg/activity/promsink"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		out[family.GetName()] = family
	}
	return out
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestHookCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := promsink.New(reg)
	hooks := activity.Hooks{hook}
	ctx := context.Background()

	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	events := []activity.Event{
		activity.BuildLoadedEvent(activity.EnvEventInput{Backend: "mmc", Degraded: true, OccurredAt: at}),
		activity.BuildSavedEvent(activity.EnvEventInput{Backend: "mmc", OccurredAt: at}),
		activity.BuildSavedEvent(activity.EnvEventInput{Backend: "mmc", OccurredAt: at}),
		activity.BuildSaveFailedEvent(activity.EnvEventInput{Backend: "sata", OccurredAt: at}),
	}
	for _, event := range events {
		if err := hooks.Notify(ctx, event); err != nil {
			t.Fatalf("notify: %v", err)
		}
	}

	families := gather(t, reg)
	counts, ok := families["bootenv_events_total"]
	if !ok {
		t.Fatalf("expected bootenv_events_total to be registered")
	}
	want := map[string]float64{
		activity.VerbLoaded + "/mmc":      1,
		activity.VerbSaved + "/mmc":       2,
		activity.VerbSaveFailed + "/sata": 1,
	}
	if len(counts.GetMetric()) != len(want) {
		t.Fatalf("expected %d series, got %d", len(want), len(counts.GetMetric()))
	}
	for _, metric := range counts.GetMetric() {
		key := labelValue(metric, "verb") + "/" + labelValue(metric, "backend")
		if metric.GetCounter().GetValue() != want[key] {
			t.Fatalf("expected %s=%v, got %v", key, want[key], metric.GetCounter().GetValue())
		}
	}

	degraded := families["bootenv_degraded"]
	if degraded == nil || len(degraded.GetMetric()) != 1 {
		t.Fatalf("expected one degraded series, got %v", degraded)
	}
	if degraded.GetMetric()[0].GetGauge().GetValue() != 1 {
		t.Fatalf("expected degraded gauge 1, got %v", degraded.GetMetric()[0].GetGauge().GetValue())
	}

	last := families["bootenv_last_event_timestamp_seconds"]
	for _, metric := range last.GetMetric() {
		if metric.GetGauge().GetValue() != float64(at.Unix()) {
			t.Fatalf("expected timestamp %d, got %v", at.Unix(), metric.GetGauge().GetValue())
		}
	}
}

func TestHookClearsDegradedOnCleanLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := promsink.New(reg, promsink.WithNamespace("fw"))
	ctx := context.Background()

	_ = hook.Notify(ctx, activity.BuildLoadedEvent(activity.EnvEventInput{Backend: "mmc", Degraded: true}))
	_ = hook.Notify(ctx, activity.BuildLoadedEvent(activity.EnvEventInput{Backend: "mmc"}))

	degraded := gather(t, reg)["fw_degraded"]
	if degraded == nil || degraded.GetMetric()[0].GetGauge().GetValue() != 0 {
		t.Fatalf("expected degraded gauge reset to 0, got %v", degraded)
	}
}

func TestHookIgnoresIncompleteEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := promsink.New(reg)
	if err := hook.Notify(context.Background(), activity.Event{ObjectID: "mmc"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if _, ok := gather(t, reg)["bootenv_events_total"]; ok {
		t.Fatalf("expected no series for an event without a verb")
	}
}
