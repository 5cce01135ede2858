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
	paymentEvents   metric.Int64Counter
	ordersRecorded  metric.Int64Counter
	creditMutations metric.Int64Counter
	retryAttempts   metric.Int64Counter
	retryExhausted  metric.Int64Counter
	alerts          metric.Int64Counter
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
		name = "creditline"
	}
	meter := provider.Meter(name)

	paymentEvents, err := meter.Int64Counter("creditline_payment_events_total")
	if err != nil {
		return nil, err
	}
	ordersRecorded, err := meter.Int64Counter("creditline_orders_recorded_total")
	if err != nil {
		return nil, err
	}
	creditMutations, err := meter.Int64Counter("creditline_credit_mutations_total")
	if err != nil {
		return nil, err
	}
	retryAttempts, err := meter.Int64Counter("creditline_ledger_retry_attempts_total")
	if err != nil {
		return nil, err
	}
	retryExhausted, err := meter.Int64Counter("creditline_ledger_retry_exhausted_total")
	if err != nil {
		return nil, err
	}
	alerts, err := meter.Int64Counter("creditline_alerts_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentEvents:   paymentEvents,
		ordersRecorded:  ordersRecorded,
		creditMutations: creditMutations,
		retryAttempts:   retryAttempts,
		retryExhausted:  retryExhausted,
		alerts:          alerts,
	}, nil
}

// RecordPaymentEvent increments payment event counts by outcome.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOrder counts order writes; duplicate is true when the idempotency guard short-circuited.
func (m *Metrics) RecordOrder(ctx context.Context, orderType string, duplicate bool) {
	if m == nil {
		return
	}
	result := "inserted"
	if duplicate {
		result = "duplicate"
	}
	attrs := FilterAttributes(
		attribute.String("order_type", strings.TrimSpace(orderType)),
		attribute.String("result", result),
	)
	m.ordersRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditMutation increments ledger mutation counts.
func (m *Metrics) RecordCreditMutation(ctx context.Context, op, logType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("op", strings.TrimSpace(op)),
		attribute.String("log_type", strings.TrimSpace(logType)),
	)
	m.creditMutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRetryAttempt(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("op", op))...))
}

func (m *Metrics) RecordRetryExhausted(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("op", op))...))
}

// RecordAlert counts notifier deliveries per channel.
func (m *Metrics) RecordAlert(ctx context.Context, kind, channel string, err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("outcome", outcome),
	)
	m.alerts.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"provider":    {},
	"event_type":  {},
	"outcome":     {},
	"order_type":  {},
	"result":      {},
	"op":          {},
	"log_type":    {},
	"kind":        {},
	"channel":     {},
	"status_code": {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
