package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sentinel"

// Metrics holds all Sentinel metric instruments. A nil *Metrics is valid
// and records nothing, so wiring telemetry stays optional in tests.
type Metrics struct {
	Decisions        metric.Int64Counter
	Incidents        metric.Int64Counter
	Appeals          metric.Int64Counter
	JudgeFailures    metric.Int64Counter
	PipelineDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Decisions, err = meter.Int64Counter("sentinel.decisions",
		metric.WithDescription("Number of verdict pipeline decisions"))
	if err != nil {
		return nil, err
	}

	m.Incidents, err = meter.Int64Counter("sentinel.incidents",
		metric.WithDescription("Number of incidents recorded"))
	if err != nil {
		return nil, err
	}

	m.Appeals, err = meter.Int64Counter("sentinel.appeals",
		metric.WithDescription("Number of incident appeals processed"))
	if err != nil {
		return nil, err
	}

	m.JudgeFailures, err = meter.Int64Counter("sentinel.judge.failures",
		metric.WithDescription("Number of failed judge evaluations"))
	if err != nil {
		return nil, err
	}

	m.PipelineDuration, err = meter.Float64Histogram("sentinel.pipeline.duration_seconds",
		metric.WithDescription("Verdict pipeline duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDecision counts one pipeline run and its duration.
func (m *Metrics) RecordDecision(ctx context.Context, verdict string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("verdict", verdict))
	m.Decisions.Add(ctx, 1, attrs)
	m.PipelineDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordIncident counts one recorded incident.
func (m *Metrics) RecordIncident(ctx context.Context, incidentType, severity string) {
	if m == nil {
		return
	}
	m.Incidents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", incidentType),
		attribute.String("severity", severity),
	))
}

// RecordAppeal counts one processed appeal.
func (m *Metrics) RecordAppeal(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Appeals.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordJudgeFailure counts one failed judge call.
func (m *Metrics) RecordJudgeFailure(ctx context.Context, judge string) {
	if m == nil {
		return
	}
	m.JudgeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("judge", judge)))
}
