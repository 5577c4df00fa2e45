// Package observability provides the engine's OpenTelemetry provider and
// the alerting collaborator boundary.
//
// The provider exports traces and metrics over OTLP gRPC and owns the
// engine's counters: sessions by outcome, rounds, escalations, mined
// patterns, and round-duration histograms.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns local development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "accord-consensus",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
		Insecure:       false,
	}
}

// Provider manages the trace and metric providers and the engine's
// instruments. A disabled provider is a cheap no-op, so call sites never
// branch on whether telemetry is on.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	sessionCounter    metric.Int64Counter
	roundCounter      metric.Int64Counter
	escalationCounter metric.Int64Counter
	patternCounter    metric.Int64Counter
	roundDuration     metric.Float64Histogram
	activeSessions    metric.Int64UpDownCounter
}

// New creates the provider and registers the engine instruments.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
			attribute.String("accord.component", "engine"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init traces: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("observability: init metrics: %w", err)
	}

	p.tracer = otel.Tracer("accord.consensus",
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter("accord.consensus",
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("observability: init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.sessionCounter, err = p.meter.Int64Counter("accord.sessions.total",
		metric.WithDescription("Terminal consensus sessions by outcome"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return err
	}

	p.roundCounter, err = p.meter.Int64Counter("accord.rounds.total",
		metric.WithDescription("Consensus rounds scored"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		return err
	}

	p.escalationCounter, err = p.meter.Int64Counter("accord.escalations.total",
		metric.WithDescription("Human gateway escalations by reason"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		return err
	}

	p.patternCounter, err = p.meter.Int64Counter("accord.patterns.total",
		metric.WithDescription("Correction patterns ingested by the miner"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		return err
	}

	p.roundDuration, err = p.meter.Float64Histogram("accord.round.duration",
		metric.WithDescription("Wall time of one evaluate-critique-score round in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return err
	}

	p.activeSessions, err = p.meter.Int64UpDownCounter("accord.sessions.active",
		metric.WithDescription("Sessions currently between start and terminal state"),
		metric.WithUnit("{session}"),
	)
	return err
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer("accord.consensus")
	}
	return p.tracer
}

// StartSpan starts a span. Safe on a nil or disabled provider.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// SessionStarted marks a session as active.
func (p *Provider) SessionStarted(ctx context.Context) {
	if p != nil && p.activeSessions != nil {
		p.activeSessions.Add(ctx, 1)
	}
}

// SessionEnded records a terminal session.
func (p *Provider) SessionEnded(ctx context.Context, outcome string, rounds int) {
	if p == nil {
		return
	}
	if p.activeSessions != nil {
		p.activeSessions.Add(ctx, -1)
	}
	if p.sessionCounter != nil {
		p.sessionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.Int("rounds", rounds),
		))
	}
}

// RoundScored records one scored round and its wall time.
func (p *Provider) RoundScored(ctx context.Context, converged, inconclusive bool, duration time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.Bool("converged", converged),
		attribute.Bool("inconclusive", inconclusive),
	)
	if p.roundCounter != nil {
		p.roundCounter.Add(ctx, 1, attrs)
	}
	if p.roundDuration != nil {
		p.roundDuration.Record(ctx, duration.Seconds(), attrs)
	}
}

// Escalated records one trip to the human gateway.
func (p *Provider) Escalated(ctx context.Context, reason string) {
	if p != nil && p.escalationCounter != nil {
		p.escalationCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// PatternIngested records one correction fed to the miner.
func (p *Provider) PatternIngested(ctx context.Context, supportCount int) {
	if p != nil && p.patternCounter != nil {
		p.patternCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("support_count", supportCount)))
	}
}
