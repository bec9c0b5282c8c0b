package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type brokenMeter struct {
	noop.Meter
}

func (brokenMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return nil, errors.New("meter closed")
}

func (brokenMeter) Int64ObservableGauge(string, ...metric.Int64ObservableGaugeOption) (metric.Int64ObservableGauge, error) {
	return nil, errors.New("meter closed")
}

type warningRecorder struct {
	nopLogger
	mu       sync.Mutex
	warnings []string
}

func (r *warningRecorder) WarningWithContextf(_ context.Context, format string, args ...any) {
	r.mu.Lock()
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func TestMetricsRegistrationFailuresAreLogged(t *testing.T) {
	logger := &warningRecorder{}
	m := newMetrics(brokenMeter{}, NewMemoryQueue(1), NewPool(0, 0, 1, 1, nil), logger)

	m.submitted.Add(context.Background(), 1)

	var gauges int
	for _, w := range logger.warnings {
		if strings.Contains(w, "Gauge") {
			gauges++
		}
	}
	if len(logger.warnings) != 7 || gauges != 2 {
		t.Fatalf("warnings = %q, want 5 counters and 2 gauges", logger.warnings)
	}
}
