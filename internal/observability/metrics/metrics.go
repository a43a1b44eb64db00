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
	filingsSubmitted   metric.Int64Counter
	filingTransitions  metric.Int64Counter
	liabilityComputed  metric.Int64Counter
	validationFailures metric.Int64Counter
	paymentEvents      metric.Int64Counter
	gatewayRequests    metric.Int64Counter
	gatewayRetries     metric.Int64Counter
	amendments         metric.Int64Counter
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
		name = "taxcore"
	}
	meter := provider.Meter(name)

	filingsSubmitted, err := meter.Int64Counter("taxcore_filings_submitted_total")
	if err != nil {
		return nil, err
	}
	filingTransitions, err := meter.Int64Counter("taxcore_filing_transitions_total")
	if err != nil {
		return nil, err
	}
	liabilityComputed, err := meter.Int64Counter("taxcore_liability_computed_total")
	if err != nil {
		return nil, err
	}
	validationFailures, err := meter.Int64Counter("taxcore_validation_failures_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("taxcore_payment_events_total")
	if err != nil {
		return nil, err
	}
	gatewayRequests, err := meter.Int64Counter("taxcore_gateway_requests_total")
	if err != nil {
		return nil, err
	}
	gatewayRetries, err := meter.Int64Counter("taxcore_gateway_retries_total")
	if err != nil {
		return nil, err
	}
	amendments, err := meter.Int64Counter("taxcore_amendments_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		filingsSubmitted:   filingsSubmitted,
		filingTransitions:  filingTransitions,
		liabilityComputed:  liabilityComputed,
		validationFailures: validationFailures,
		paymentEvents:      paymentEvents,
		gatewayRequests:    gatewayRequests,
		gatewayRetries:     gatewayRetries,
		amendments:         amendments,
	}, nil
}

// RecordFilingSubmitted increments accepted submission counts.
func (m *Metrics) RecordFilingSubmitted(ctx context.Context, filingType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("filing_type", strings.TrimSpace(filingType)))
	m.filingsSubmitted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFilingTransition increments state transition counts.
func (m *Metrics) RecordFilingTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", strings.TrimSpace(from)),
		attribute.String("to_status", strings.TrimSpace(to)),
	)
	m.filingTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLiabilityComputed increments liability computation counts.
func (m *Metrics) RecordLiabilityComputed(ctx context.Context, filingType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("filing_type", strings.TrimSpace(filingType)))
	m.liabilityComputed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordValidationFailure increments validation failure counts per rule.
func (m *Metrics) RecordValidationFailure(ctx context.Context, rule string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("rule", strings.TrimSpace(rule)))
	m.validationFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, source, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGatewayRequest increments gateway request counts.
func (m *Metrics) RecordGatewayRequest(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.gatewayRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGatewayRetry increments gateway retry counts.
func (m *Metrics) RecordGatewayRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.gatewayRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAmendment increments amendment counts.
func (m *Metrics) RecordAmendment(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.amendments.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"filing_type": {},
	"from_status": {},
	"to_status":   {},
	"rule":        {},
	"source":      {},
	"outcome":     {},
	"operation":   {},
	"endpoint":    {},
	"status_code": {},
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
