// Package metrics records reconciliation metrics through OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/kemeter/ring"

// OTLPConfig holds the exporter settings. An empty Endpoint disables export.
type OTLPConfig struct {
	Endpoint     string
	PushInterval time.Duration
	Insecure     bool
	Version      string
}

// NewProvider builds a meter provider. Without an endpoint the provider has
// no reader and measurements are dropped.
func NewProvider(ctx context.Context, cfg OTLPConfig) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", "ring"),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	if cfg.Endpoint == "" {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	interval := cfg.PushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	), nil
}

// Reconcile holds the instruments updated after every reconciliation pass.
// A nil *Reconcile is valid and records nothing.
type Reconcile struct {
	passes   metric.Int64Counter
	created  metric.Int64Counter
	removed  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func NewReconcile(mp metric.MeterProvider) (*Reconcile, error) {
	meter := mp.Meter(meterName)
	var (
		m   Reconcile
		err error
	)
	if m.passes, err = meter.Int64Counter("ring.reconcile.passes",
		metric.WithDescription("Reconciliation passes by outcome")); err != nil {
		return nil, err
	}
	if m.created, err = meter.Int64Counter("ring.instances.created",
		metric.WithDescription("Instances created")); err != nil {
		return nil, err
	}
	if m.removed, err = meter.Int64Counter("ring.instances.removed",
		metric.WithDescription("Instances stopped and removed")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("ring.instance.failures",
		metric.WithDescription("Failed instance create or remove operations")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("ring.reconcile.duration",
		metric.WithDescription("Duration of one reconciliation pass"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Pass is the outcome of one pass, as seen by metrics.
type Pass struct {
	DeploymentID string
	Namespace    string
	Created      int
	Removed      int
	Failures     int
	Duration     time.Duration
	Err          error
}

func (m *Reconcile) Record(ctx context.Context, p Pass) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("deployment.id", p.DeploymentID),
		attribute.String("namespace", p.Namespace),
	)
	outcome := "ok"
	switch {
	case p.Err != nil:
		outcome = "discovery_failed"
	case p.Failures > 0:
		outcome = "partial"
	}
	m.passes.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.created.Add(ctx, int64(p.Created), attrs)
	m.removed.Add(ctx, int64(p.Removed), attrs)
	m.failures.Add(ctx, int64(p.Failures), attrs)
	m.duration.Record(ctx, p.Duration.Seconds(), attrs)
}
