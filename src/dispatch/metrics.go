package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stake-plus/mememo/src/executor"
)

const meterName = "github.com/stake-plus/mememo/src/dispatch"

// Metrics records dispatch outcomes and executions through OpenTelemetry.
type Metrics struct {
	outcomes   metric.Int64Counter
	executions metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider when
// mp is nil. Instrument errors fall back to no-op instruments.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error
	if m.outcomes, err = meter.Int64Counter("dispatch.outcomes",
		metric.WithDescription("Dispatched commands by outcome kind")); err != nil {
		otel.Handle(err)
	}
	if m.executions, err = meter.Int64Counter("dispatch.executions",
		metric.WithDescription("Service executions by result")); err != nil {
		otel.Handle(err)
	}
	if m.duration, err = meter.Float64Histogram("dispatch.execution.duration",
		metric.WithDescription("Service execution wall time"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}
	return m
}

func (m *Metrics) outcome(ctx context.Context, o Outcome) {
	if m.outcomes == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("kind", o.Kind.String())}
	if o.Service != "" {
		attrs = append(attrs, attribute.String("service", o.Service))
	}
	if o.Kind == Handled {
		attrs = append(attrs, attribute.Bool("cached", o.Cached))
	}
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) execution(ctx context.Context, service string, d time.Duration, err error) {
	result := "ok"
	var exit *executor.ExitError
	switch {
	case err == nil:
	case errors.Is(err, executor.ErrTimeout):
		result = "timeout"
	case errors.As(err, &exit):
		result = "exit"
	default:
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("service", service), attribute.String("result", result))
	if m.executions != nil {
		m.executions.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
}
