// Package monitoring provides OpenTelemetry metrics for the consent engine
// with a Prometheus exporter by default and optional OTLP export.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

// Attribute keys for consent-engine business metrics.
const (
	attrAction       = "consent.action"
	attrOutcome      = "consent.outcome"
	attrDenialReason = "consent.denial_reason"
)

var (
	httpRequestsCounter  metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	accessDecisions      metric.Int64Counter
	businessEvents       metric.Int64Counter
	sweepTransitions     metric.Int64Counter
	metricsHandler       http.Handler
	initialized          int32
	initOnce             sync.Once
)

// Config holds the configuration for metrics
type Config struct {
	// ExporterType can be "prometheus", "otlp", or "none"
	ExporterType string
	// ServiceName identifies the service in exported metrics
	ServiceName string
	// ServiceVersion defaults to "dev"
	ServiceVersion string
	// OTLPEndpoint is required for the otlp exporter
	OTLPEndpoint string
	// OTLPTLSInsecure allows plain-HTTP OTLP endpoints
	OTLPTLSInsecure bool
}

// DefaultConfig returns a default configuration reading the standard
// environment variables.
func DefaultConfig(serviceName string) Config {
	return Config{
		ExporterType:    envOrDefault("OTEL_METRICS_EXPORTER", "prometheus"),
		ServiceName:     serviceName,
		ServiceVersion:  envOrDefault("SERVICE_VERSION", "dev"),
		OTLPEndpoint:    envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPTLSInsecure: envOrDefault("OTEL_EXPORTER_OTLP_INSECURE", "false") == "true",
	}
}

// Initialize sets up the metrics pipeline. Safe to call more than once;
// only the first call initializes.
func Initialize(config Config) error {
	var initErr error
	initOnce.Do(func() {
		initErr = initializeInternal(context.Background(), config)
		if initErr == nil {
			atomic.StoreInt32(&initialized, 1)
		}
	})
	return initErr
}

func initializeInternal(ctx context.Context, config Config) error {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	var reader sdkmetric.Reader

	switch config.ExporterType {
	case "prometheus", "":
		reg := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		reader = exporter
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		slog.Info("Initialized metrics with Prometheus exporter", "service", config.ServiceName)

	case "otlp":
		if config.OTLPEndpoint == "" {
			return fmt.Errorf("OTLP endpoint is required when using OTLP exporter")
		}
		endpointURL, err := url.Parse(config.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("invalid OTLP endpoint URL: %w", err)
		}
		if endpointURL.Scheme != "https" && !config.OTLPTLSInsecure {
			return fmt.Errorf("OTLP endpoint must use HTTPS (got: %s); set OTEL_EXPORTER_OTLP_INSECURE=true to override", endpointURL.Scheme)
		}
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpointURL.Host)}
		if config.OTLPTLSInsecure && endpointURL.Scheme == "http" {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))
		metricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("# Metrics exported via OTLP\n"))
		})
		slog.Info("Initialized metrics with OTLP exporter", "service", config.ServiceName, "endpoint", config.OTLPEndpoint)

	case "none":
		reader = sdkmetric.NewManualReader()
		metricsHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("# Metrics disabled\n"))
		})
		slog.Info("Metrics disabled", "service", config.ServiceName)

	default:
		return fmt.Errorf("unknown exporter type: %s (supported: prometheus, otlp, none)", config.ExporterType)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "http_request_duration_seconds"},
			sdkmetric.Stream{
				Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
					Boundaries: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				},
			},
		)),
	)
	otel.SetMeterProvider(meterProvider)

	meter := otel.Meter("consent-engine")

	httpRequestsCounter, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	accessDecisions, err = meter.Int64Counter(
		"access_decisions_total",
		metric.WithDescription("Access gate decisions by outcome and denial reason"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create access_decisions_total counter: %w", err)
	}

	businessEvents, err = meter.Int64Counter(
		"consent_events_total",
		metric.WithDescription("Consent lifecycle events by action and outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create consent_events_total counter: %w", err)
	}

	sweepTransitions, err = meter.Int64Counter(
		"sweep_transitions_total",
		metric.WithDescription("Entities transitioned to expired by the lifecycle sweeper"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sweep_transitions_total counter: %w", err)
	}

	return nil
}

// Handler returns the metrics HTTP handler (the Prometheus endpoint when
// the Prometheus exporter is active).
func Handler() http.Handler {
	if atomic.LoadInt32(&initialized) == 0 || metricsHandler == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("# Metrics not initialized\n"))
		})
	}
	return metricsHandler
}

// RecordAccessDecision counts one access gate decision.
func RecordAccessDecision(outcome, denialReason string) {
	if atomic.LoadInt32(&initialized) == 0 {
		return
	}
	attrs := []attribute.KeyValue{attribute.String(attrOutcome, outcome)}
	if denialReason != "" {
		attrs = append(attrs, attribute.String(attrDenialReason, denialReason))
	}
	accessDecisions.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// RecordBusinessEvent counts one consent lifecycle event.
func RecordBusinessEvent(action, outcome string) {
	if atomic.LoadInt32(&initialized) == 0 {
		return
	}
	businessEvents.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String(attrAction, action),
		attribute.String(attrOutcome, outcome),
	))
}

// RecordSweepTransitions counts entities expired by a sweep pass.
func RecordSweepTransitions(entity string, count int64) {
	if atomic.LoadInt32(&initialized) == 0 || count == 0 {
		return
	}
	sweepTransitions.Add(context.Background(), count, metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// HTTPMetricsMiddleware records request count and duration for each call.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt32(&initialized) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := metric.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.HTTPResponseStatusCode(rec.status),
			attribute.String("http.route", r.URL.Path),
		)
		httpRequestsCounter.Add(r.Context(), 1, attrs)
		httpRequestDuration.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

// statusRecorder captures the response status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
