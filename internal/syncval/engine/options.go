package engine

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/kolkov/syncval/internal/syncval/config"
	"github.com/kolkov/syncval/internal/syncval/hazard"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	cfg    config.Config
	logger *slog.Logger
	sink   hazard.Sink
	reg    prometheus.Registerer
	tp     trace.TracerProvider
}

// WithConfig sets the engine configuration. The default is
// config.Default().
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSink sets where hazards are delivered. The default discards them;
// they are still counted.
func WithSink(s hazard.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithMetrics registers the engine's metrics on reg. By default they go to
// a private registry so several engines can coexist.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.reg = reg }
}

// WithTracerProvider sets the provider of the engine's tracer. The default
// is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tp = tp }
}
