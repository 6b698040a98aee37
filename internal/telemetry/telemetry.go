// Package telemetry instruments the compute-coordination kernel with
// OpenTelemetry counters and a tracer, matching the teacher's own
// instrumentation posture (internal/hooks/hooks_otel.go attaches span
// events around hook execution; internal/storage/dolt/store.go wraps
// storage calls in spans). QCFractal applies the same idea one layer
// up: the orchestrator's tick is the operationally interesting
// boundary, so it is what gets counted rather than every SQL statement
// underneath.
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the counters spec §5/§7's "testable properties"
// make operationally relevant: claims issued, return_results outcomes,
// service iterations driven, and reaper/auto-reset sweep sizes.
// internal/orchestrator records ServiceIterations, ManagersReaped and
// RecordsAutoReset; TasksClaimed, ReturnsAccepted, ReturnsRejected and
// Tracer are created, but nothing in this module records to them.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider

	TasksClaimed      metric.Int64Counter
	ReturnsAccepted   metric.Int64Counter
	ReturnsRejected   metric.Int64Counter
	ServiceIterations metric.Int64Counter
	ManagersReaped    metric.Int64Counter
	RecordsAutoReset  metric.Int64Counter

	Tracer trace.Tracer
}

// New builds a Telemetry with stdout exporters, matching the teacher's
// default (no OTLP collector assumed without config — see DESIGN.md).
// Callers that want a real collector construct their own providers and
// call Wrap instead.
func New(ctx context.Context) (*Telemetry, error) {
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithoutTimestamps())
	if err != nil {
		mp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return Wrap(mp, tp)
}

// Wrap builds a Telemetry from caller-supplied providers (e.g. ones
// pointed at a real OTLP collector instead of stdout).
func Wrap(mp *sdkmetric.MeterProvider, tp *sdktrace.TracerProvider) (*Telemetry, error) {
	meter := mp.Meter("qcfractal.coordination")

	t := &Telemetry{
		meterProvider:  mp,
		tracerProvider: tp,
		Tracer:         tp.Tracer("qcfractal.coordination"),
	}

	var err error
	if t.TasksClaimed, err = meter.Int64Counter("qcfractal.tasks_claimed",
		metric.WithDescription("tasks handed out by ClaimTasks")); err != nil {
		return nil, err
	}
	if t.ReturnsAccepted, err = meter.Int64Counter("qcfractal.returns_accepted",
		metric.WithDescription("return_results entries accepted (complete or error)")); err != nil {
		return nil, err
	}
	if t.ReturnsRejected, err = meter.Int64Counter("qcfractal.returns_rejected",
		metric.WithDescription("return_results entries rejected (spec §7 ComputeManagerError)")); err != nil {
		return nil, err
	}
	if t.ServiceIterations, err = meter.Int64Counter("qcfractal.service_iterations",
		metric.WithDescription("service records driven through Engine.Iterate")); err != nil {
		return nil, err
	}
	if t.ManagersReaped, err = meter.Int64Counter("qcfractal.managers_reaped",
		metric.WithDescription("managers deactivated by the heartbeat reaper")); err != nil {
		return nil, err
	}
	if t.RecordsAutoReset, err = meter.Int64Counter("qcfractal.records_auto_reset",
		metric.WithDescription("errored records reset to waiting by the auto-reset sweep")); err != nil {
		return nil, err
	}
	return t, nil
}

// Shutdown flushes and closes the providers Telemetry owns. Safe to
// call on a Telemetry built with Wrap; it shuts down whatever providers
// were passed in, same as it would its own.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("telemetry: shutdown: %v", errs)
	}
	return nil
}
