package ocrpool

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("lib/ocrpool")
var requestCounter, _ = meter.Int64Counter("ocr_requests")
var failureCounter, _ = meter.Int64Counter("ocr_failures")
var latencyHistogram, _ = meter.Int64Histogram("ocr_latency_ms", metric.WithUnit("ms"))

type stats struct {
	requests  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	latencyNs atomic.Int64
}

func (s *stats) record(ctx context.Context, latency time.Duration, ok bool) {
	s.requests.Add(1)
	s.latencyNs.Add(latency.Nanoseconds())
	if ok {
		s.successes.Add(1)
	} else {
		s.failures.Add(1)
		failureCounter.Add(ctx, 1)
	}
	requestCounter.Add(ctx, 1)
	latencyHistogram.Record(ctx, latency.Milliseconds())
}

// Stats is a point-in-time snapshot of recognition activity.
type Stats struct {
	Requests   int64
	Successes  int64
	Failures   int64
	AvgLatency time.Duration
}

func (p *Pool) Stats() Stats {
	requests := p.stats.requests.Load()
	out := Stats{
		Requests:  requests,
		Successes: p.stats.successes.Load(),
		Failures:  p.stats.failures.Load(),
	}
	if requests > 0 {
		out.AvgLatency = time.Duration(p.stats.latencyNs.Load() / requests)
	}
	return out
}
