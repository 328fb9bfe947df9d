// Package otelhook implements a hooks.Hook that records OpenTelemetry
// metrics around each rate limit check.
//
// Grounded on original_source/throttled/contrib/otel/hook.py; metric
// names and attribute keys are kept identical to the original.
package otelhook

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chris-alexander-pop/throttled/pkg/hooks"
	"github.com/chris-alexander-pop/throttled/pkg/limiter"
)

const (
	metricRequests = "throttled.requests"
	metricDuration = "throttled.duration"
)

// Hook records a "throttled.requests" counter and a "throttled.duration"
// histogram, both tagged with key/algorithm/store_type/result.
type Hook struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// New builds a Hook backed by the given meter's instruments.
func New(meter metric.Meter) (*Hook, error) {
	requests, err := meter.Int64Counter(
		metricRequests,
		metric.WithDescription("Number of rate limit checks"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		metricDuration,
		metric.WithDescription("Duration of rate limit checks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Hook{requests: requests, duration: duration}, nil
}

// OnLimit implements hooks.Hook.
func (h *Hook) OnLimit(next hooks.Next, ctx hooks.Context) (limiter.Decision, error) {
	start := time.Now()
	decision, err := next()
	elapsed := time.Since(start)

	result := "allowed"
	if decision.Limited {
		result = "denied"
	}
	attrs := attribute.NewSet(
		attribute.String("key", ctx.Key),
		attribute.String("algorithm", string(ctx.Algorithm)),
		attribute.String("store_type", ctx.StoreType),
		attribute.String("result", result),
	)

	h.requests.Add(context.Background(), int64(ctx.Cost), metric.WithAttributeSet(attrs))
	h.duration.Record(context.Background(), elapsed.Seconds(), metric.WithAttributeSet(attrs))

	return decision, err
}

var _ hooks.Hook = (*Hook)(nil)
