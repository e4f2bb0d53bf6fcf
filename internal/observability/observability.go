// Package observability wires the client's Prometheus metrics and OTel
// tracing. Everything is gated: with both disabled every helper is a cheap
// no-op, so the hot paths can call them unconditionally.
package observability

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	Enabled      bool           `yaml:"enabled"`
	OTLPEndpoint string         `yaml:"otlp_endpoint"`
	Insecure     bool           `yaml:"insecure"`
	SampleRatio  float64        `yaml:"sample_ratio"`
	Resource     ResourceConfig `yaml:"resource"`
}

type ResourceConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

type Config struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

var (
	metricsEnabled int32
	tracingEnabled int32

	defaultTracer trace.Tracer = noop.NewTracerProvider().Tracer("raiden")

	reconnectsTotal  prometheus.Counter
	repliesTotal     prometheus.Counter
	pushesDelivered  prometheus.Counter
	pushesDropped    prometheus.Counter
	writesTotal      prometheus.Counter
	bytesWritten     prometheus.Counter
	bytesRead        prometheus.Counter
	requestsInFlight prometheus.Gauge

	tracerProvider *sdktrace.TracerProvider
)

func MetricsEnabled() bool { return atomic.LoadInt32(&metricsEnabled) == 1 }
func TracingEnabled() bool { return atomic.LoadInt32(&tracingEnabled) == 1 }

// Setup initializes metrics and tracing according to cfg. It registers the
// collectors on reg (prometheus.DefaultRegisterer when nil).
func Setup(ctx context.Context, cfg Config, reg prometheus.Registerer, l *slog.Logger) error {
	if cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		initMetrics(reg)
		atomic.StoreInt32(&metricsEnabled, 1)
	}

	if cfg.Tracing.Enabled {
		if err := initTracing(ctx, cfg.Tracing); err != nil {
			return err
		}
		atomic.StoreInt32(&tracingEnabled, 1)
		l.Info("tracing enabled", "endpoint", cfg.Tracing.OTLPEndpoint)
	}

	return nil
}

// Shutdown flushes the trace exporter.
func Shutdown(ctx context.Context) error {
	atomic.StoreInt32(&metricsEnabled, 0)
	atomic.StoreInt32(&tracingEnabled, 0)
	if tracerProvider == nil {
		return nil
	}
	return tracerProvider.Shutdown(ctx)
}

func initMetrics(reg prometheus.Registerer) {
	reconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raiden_reconnects_total",
		Help: "Times the connection was re-established.",
	})
	repliesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raiden_replies_total",
		Help: "Top level replies matched to requests.",
	})
	pushesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raiden_pushes_delivered_total",
		Help: "Server push frames handed to the push channel.",
	})
	pushesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raiden_pushes_dropped_total",
		Help: "Server push frames discarded after the receiver cancelled.",
	})
	writesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raiden_writes_total",
		Help: "Coalesced network writes.",
	})
	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raiden_bytes_written_total",
		Help: "Bytes written to the server.",
	})
	bytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raiden_bytes_read_total",
		Help: "Bytes read from the server.",
	})
	requestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raiden_requests_in_flight",
		Help: "Requests enqueued and not yet completed.",
	})

	reg.MustRegister(
		reconnectsTotal, repliesTotal,
		pushesDelivered, pushesDropped,
		writesTotal, bytesWritten, bytesRead,
		requestsInFlight,
	)
}

func initTracing(ctx context.Context, cfg TracingConfig) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.Resource.ServiceName),
			semconv.ServiceVersion(cfg.Resource.ServiceVersion),
			attribute.String("environment", cfg.Resource.Environment),
		),
	)
	if err != nil {
		return err
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tracerProvider)
	defaultTracer = tracerProvider.Tracer("raiden")

	return nil
}

// StartExecSpan opens a span around one pipelined request execution.
func StartExecSpan(ctx context.Context, commands int) (context.Context, trace.Span) {
	if !TracingEnabled() {
		return noop.NewTracerProvider().Tracer("raiden").Start(ctx, "raiden.exec")
	}
	return defaultTracer.Start(ctx, "raiden.exec",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("raiden.commands", commands)),
	)
}

func IncReconnects() {
	if MetricsEnabled() {
		reconnectsTotal.Inc()
	}
}

func IncReplies() {
	if MetricsEnabled() {
		repliesTotal.Inc()
	}
}

func IncPushDelivered() {
	if MetricsEnabled() {
		pushesDelivered.Inc()
	}
}

func IncPushDropped() {
	if MetricsEnabled() {
		pushesDropped.Inc()
	}
}

func ObserveWrite(n int) {
	if MetricsEnabled() {
		writesTotal.Inc()
		bytesWritten.Add(float64(n))
	}
}

func ObserveRead(n int) {
	if MetricsEnabled() {
		bytesRead.Add(float64(n))
	}
}

func AddRequestsInFlight(d float64) {
	if MetricsEnabled() {
		requestsInFlight.Add(d)
	}
}
