// Package metrics wires the OpenTelemetry meter provider and the
// application-level instruments.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	usageCommits  metric.Int64Counter
	creditsSpent  metric.Int64Counter
	overageTotal  metric.Int64Counter
	webhookEvents metric.Int64Counter
	checkouts     metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditrail"
	}
	meter := provider.Meter(name)

	usageCommits, err := meter.Int64Counter("creditrail_usage_commits_total")
	if err != nil {
		return nil, err
	}
	creditsSpent, err := meter.Int64Counter("creditrail_credits_spent_total")
	if err != nil {
		return nil, err
	}
	overageTotal, err := meter.Int64Counter("creditrail_overage_credits_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("creditrail_webhook_events_total")
	if err != nil {
		return nil, err
	}
	checkouts, err := meter.Int64Counter("creditrail_checkouts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageCommits:  usageCommits,
		creditsSpent:  creditsSpent,
		overageTotal:  overageTotal,
		webhookEvents: webhookEvents,
		checkouts:     checkouts,
	}, nil
}

// Nop returns instruments backed by the noop provider, used by tests.
func Nop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordUsageCommit counts one committed usage event and the credits it cost.
func (m *Metrics) RecordUsageCommit(ctx context.Context, model string, costCredits, overageCredits int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", strings.TrimSpace(model)))
	m.usageCommits.Add(ctx, 1, attrs)
	m.creditsSpent.Add(ctx, costCredits, attrs)
	if overageCredits > 0 {
		m.overageTotal.Add(ctx, overageCredits, attrs)
	}
}

// RecordWebhookEvent counts one processed webhook by terminal status.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("status", strings.TrimSpace(status)),
	))
}

// RecordCheckout counts one created checkout session by kind.
func (m *Metrics) RecordCheckout(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.checkouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
	))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}
