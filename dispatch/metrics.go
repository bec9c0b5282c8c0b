package dispatch

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tnqbao/gau-music-dispatch/dispatch"

type metrics struct {
	tracer    trace.Tracer
	submitted metric.Int64Counter
	rejected  metric.Int64Counter
	finished  metric.Int64Counter
	claims    metric.Int64Counter
	requeues  metric.Int64Counter
}

func newMetrics(meter metric.Meter, queue Queue, pool *Pool, logger Logger) *metrics {
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	ctx := context.Background()

	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.WarningWithContextf(ctx, "[Metrics] Counter %s unavailable, recording disabled: %v", name, err)
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	m := &metrics{
		tracer:    otel.Tracer(instrumentationName),
		submitted: counter("dispatch.jobs.submitted", "Jobs accepted into the queue"),
		rejected:  counter("dispatch.jobs.rejected", "Submissions rejected by validation or backpressure"),
		finished:  counter("dispatch.jobs.finished", "Jobs that reached a terminal status"),
		claims:    counter("dispatch.claims", "Jobs handed to workers"),
		requeues:  counter("dispatch.requeues", "Jobs requeued after their worker was lost"),
	}

	_, err := meter.Int64ObservableGauge("dispatch.queue.depth",
		metric.WithDescription("Pending entries in the dispatch queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := queue.Len(ctx)
			if err != nil {
				return nil
			}
			o.Observe(int64(n))
			return nil
		}),
	)
	if err != nil {
		logger.WarningWithContextf(ctx, "[Metrics] Gauge dispatch.queue.depth unavailable: %v", err)
	}
	_, err = meter.Int64ObservableGauge("dispatch.workers",
		metric.WithDescription("Registered workers by liveness"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			counts := make(map[string]int64)
			for _, w := range pool.Workers() {
				counts[string(w.Liveness)]++
			}
			for liveness, n := range counts {
				o.Observe(n, metric.WithAttributes(attribute.String("liveness", liveness)))
			}
			return nil
		}),
	)
	if err != nil {
		logger.WarningWithContextf(ctx, "[Metrics] Gauge dispatch.workers unavailable: %v", err)
	}
	return m
}

func (m *metrics) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and returns it unchanged.
func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func metricAttrs(attrs ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(attrs...)
}
