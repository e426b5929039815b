package observability

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Providers holds the meter provider and its shutdown function.
type Providers struct {
	MeterProvider *sdkmetric.MeterProvider
	Shutdown      func(context.Context) error
}

// NewProviders creates a MeterProvider exporting via OTLP/gRPC to endpoint every interval.
// endpoint may be host:port or a URL; only the host is used. An empty endpoint yields a
// provider without readers and a no-op Shutdown.
func NewProviders(ctx context.Context, endpoint, serviceName string, interval time.Duration) (*Providers, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return &Providers{
			MeterProvider: sdkmetric.NewMeterProvider(),
			Shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	if interval <= 0 {
		interval = 30 * time.Second
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	return &Providers{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
}

// Metrics holds the shipper instruments. A nil *Metrics records nothing.
type Metrics struct {
	appendedCtr  metric.Int64Counter
	ticksCtr     metric.Int64Counter
	deliveredCtr metric.Int64Counter
	failedCtr    metric.Int64Counter
	skippedCtr   metric.Int64Counter
	submitHist   metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.appendedCtr, err = meter.Int64Counter("edgeship.records.appended",
		metric.WithDescription("Records written to the outbox")); err != nil {
		return nil, err
	}
	if m.ticksCtr, err = meter.Int64Counter("edgeship.sync.ticks",
		metric.WithDescription("Sync ticks by connectivity outcome")); err != nil {
		return nil, err
	}
	if m.deliveredCtr, err = meter.Int64Counter("edgeship.records.delivered",
		metric.WithDescription("Records acknowledged by the ingestion API")); err != nil {
		return nil, err
	}
	if m.failedCtr, err = meter.Int64Counter("edgeship.records.failed",
		metric.WithDescription("Submission attempts that left the record pending")); err != nil {
		return nil, err
	}
	if m.skippedCtr, err = meter.Int64Counter("edgeship.records.skipped",
		metric.WithDescription("Records excluded from submission")); err != nil {
		return nil, err
	}
	if m.submitHist, err = meter.Float64Histogram("edgeship.submit.duration",
		metric.WithDescription("Time from submit to acknowledgement"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func streamAttr(stream string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("stream", stream))
}

func (m *Metrics) appended(stream string) {
	if m == nil {
		return
	}
	m.appendedCtr.Add(context.Background(), 1, streamAttr(stream))
}

func (m *Metrics) tick(stream string, online bool) {
	if m == nil {
		return
	}
	m.ticksCtr.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.Bool("online", online),
	))
}

func (m *Metrics) delivered(stream string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.deliveredCtr.Add(context.Background(), 1, streamAttr(stream))
	m.submitHist.Record(context.Background(), elapsed.Seconds(), streamAttr(stream))
}

func (m *Metrics) failed(stream, reason string) {
	if m == nil {
		return
	}
	m.failedCtr.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) skipped(stream string) {
	if m == nil {
		return
	}
	m.skippedCtr.Add(context.Background(), 1, streamAttr(stream))
}
