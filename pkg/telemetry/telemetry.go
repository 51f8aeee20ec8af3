package telemetry

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/froyostack/pkg/engine"
)

// Telemetry combines logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return newTelemetry(cfg, logger)
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that logs nowhere and exports nothing.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Events.Enabled = false
	tel, _ := newTelemetry(cfg, &Logger{zlog: zerolog.Nop()})
	return tel
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher and flushes traces.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// Phase is one instrumented step of a deployment.
type Phase struct {
	Ctx  context.Context
	Span trace.Span

	metrics *Metrics
}

// StartPhase begins a span for one deployment phase (compose, package, sync, converge, watch).
func (t *Telemetry) StartPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) *Phase {
	attrs = append(attrs, AttrPhase.String(phase))
	spanCtx, span := t.Tracer.StartSpan(ctx, "deploy."+phase, attrs...)
	return &Phase{Ctx: spanCtx, Span: span, metrics: t.Metrics}
}

// End finishes the phase, recording the error class and code on failure.
func (p *Phase) End(err error) {
	if err != nil {
		class, code := engine.Classify(err)
		p.Span.SetAttributes(AttrErrorClass.String(string(class)), AttrErrorCode.String(code))
		RecordError(p.Span, err)
		p.metrics.RecordError(string(class), code)
	} else {
		RecordSuccess(p.Span)
	}
	p.Span.End()
}
