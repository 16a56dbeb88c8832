package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
)

// ServiceVersion is stamped onto every OTel resource dispatchd exports
// metrics under. Bump alongside releases.
const ServiceVersion = "0.1.0"

// SetupOpenTelemetry wires a Prometheus-backed OTel meter provider
// tagged with this process's service name and deployment environment
// (cfg.Environment, e.g. "production" or "development"), and returns a
// shutdown function to run on graceful exit.
func SetupOpenTelemetry(serviceName, environment string, logger *zap.Logger) (func(), error) {
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(ServiceVersion),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, err
	}

	metricExporter, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	metricProvider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metricExporter),
	)

	otel.SetMeterProvider(metricProvider)

	logger.Info("opentelemetry meter provider started",
		zap.String("service", serviceName),
		zap.String("environment", environment),
		zap.String("version", ServiceVersion),
	)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := metricProvider.Shutdown(ctx); err != nil {
			logger.Error("error shutting down opentelemetry meter provider", zap.Error(err))
		}
	}, nil
}
