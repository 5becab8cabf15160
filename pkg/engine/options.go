package engine

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tracklane/tracklane/pkg/engine"

type options struct {
	metrics        Metrics
	tracer         trace.Tracer
	maxConcurrency int
	debug          bool
	now            func() time.Time
}

// Option configures an engine component.
type Option func(*options)

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer used for spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithMaxConcurrency bounds the number of workflow executions running at once.
// Zero means unlimited.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// WithDebug asks workflow executors to record node level debug information.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

// WithClock sets the clock used for timestamps and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		metrics: nopMetrics{},
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
