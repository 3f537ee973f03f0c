package observability

// https://opentelemetry.io/docs/languages/go/exporters/

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/sdk/metric"
)

var ErrUnknownMetricsExporter = errors.New("[x-avl] unknown metrics exporter")

type MetricsExporterType uint8

const (
	NoopMetricsExporter MetricsExporterType = iota
	ConsoleMetricsExporter
	PrometheusMetricsExporter
)

func (typ MetricsExporterType) String() string {
	switch typ {
	case ConsoleMetricsExporter:
		return "console"
	case PrometheusMetricsExporter:
		return "prometheus"
	case NoopMetricsExporter:
		fallthrough
	default:
	}
	return "none"
}

func ParseMetricsExporterType(typ string) (MetricsExporterType, error) {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "none":
		return NoopMetricsExporter, nil
	case "console", "stdout":
		return ConsoleMetricsExporter, nil
	case "prometheus", "prom":
		return PrometheusMetricsExporter, nil
	default:
	}
	return NoopMetricsExporter, ErrUnknownMetricsExporter
}

// NewMetricsExporter installs the global meter provider of the type
// and returns its shutdown callback.
func NewMetricsExporter(typ MetricsExporterType, interval time.Duration) (func(ctx context.Context) error, error) {
	switch typ {
	case ConsoleMetricsExporter:
		return NewConsoleMetricsExporter(interval, interval/2, stdoutmetric.WithPrettyPrint())
	case PrometheusMetricsExporter:
		return NewPrometheusMetricsExporter()
	case NoopMetricsExporter:
		return func(ctx context.Context) error { return nil }, nil
	default:
	}
	return nil, ErrUnknownMetricsExporter
}

// Serves for test/dev environment.
func NewConsoleMetricsExporter(interval, timeout time.Duration, opts ...stdoutmetric.Option) (func(ctx context.Context) error, error) {
	exporter, err := stdoutmetric.New(opts...)
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(metric.NewPeriodicReader(
		exporter,
		metric.WithInterval(interval),
		metric.WithTimeout(timeout),
	)))
	callback := mp.Shutdown
	otel.SetMeterProvider(mp)
	return callback, nil
}

// Serves for the product environment and fetch stats metrics by HTTP.
// The exporter registers into the prometheus default registerer, it
// is scraped through promhttp.Handler().
func NewPrometheusMetricsExporter() (func(ctx context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	mp := metric.NewMeterProvider(metric.WithReader(exporter))
	callback := mp.Shutdown
	otel.SetMeterProvider(mp)
	return callback, nil
}
