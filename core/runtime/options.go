package runtime

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/viraj-mahida/betting-contract/native/market"
	"github.com/viraj-mahida/betting-contract/observability"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSink registers a named sink. Sinks run in registration order.
func WithSink(name string, sink Sink) Option {
	return func(r *Runtime) {
		if sink != nil {
			r.sinks = append(r.sinks, namedSink{name: name, sink: sink})
		}
	}
}

// WithPayoutMode selects the payout rule stamped onto new markets.
func WithPayoutMode(mode market.PayoutMode) Option {
	return func(r *Runtime) { r.payoutMode = mode }
}

// WithNowFunc overrides the clock used for market creation timestamps.
func WithNowFunc(now func() int64) Option {
	return func(r *Runtime) { r.nowFn = now }
}

// WithMetrics overrides the metrics registry. Passing nil disables metrics.
func WithMetrics(metrics *observability.MarketMetrics) Option {
	return func(r *Runtime) { r.metrics = metrics }
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runtime) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}
