package orchestrator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observer implements spec §4.8 step 5: phase durations are checked
// against PhaseBudgets and recorded as SLOBreach events, never as
// failures, alongside an OpenTelemetry span per phase and a Prometheus
// counter per breach. It owns its own sdktrace.TracerProvider (rather
// than relying on whatever global otel.Tracer happens to be installed)
// so every run's spans have a real, sampled trace ID even when the host
// process never calls otel.SetTracerProvider.
type Observer struct {
	Budgets        PhaseBudgets
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	breachCtr      *prometheus.CounterVec
	phaseGauge     *prometheus.HistogramVec
}

// NewObserver builds an Observer, registering its metrics on reg (pass
// prometheus.DefaultRegisterer for process-global metrics, or a fresh
// registry in tests).
func NewObserver(budgets PhaseBudgets, reg prometheus.Registerer) *Observer {
	breachCtr := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "slo_breach_total",
		Help:      "Count of orchestrator phases that exceeded their budget.",
	}, []string{"phase"})
	phaseGauge := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "phase_duration_ms",
		Help:      "Observed duration of each orchestrator phase, in milliseconds.",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"phase"})
	if reg != nil {
		reg.MustRegister(breachCtr, phaseGauge)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	return &Observer{
		Budgets:        budgets,
		tracerProvider: tp,
		tracer:         tp.Tracer("orchestrator"),
		breachCtr:      breachCtr,
		phaseGauge:     phaseGauge,
	}
}

// Shutdown flushes and releases the Observer's TracerProvider. Callers
// that build an Observer per run should defer this; a process-lifetime
// Observer can skip it.
func (o *Observer) Shutdown(ctx context.Context) error {
	return o.tracerProvider.Shutdown(ctx)
}

// Phase wraps fn in a span named for phase, records its duration against
// the Prometheus histogram, and, when the phase ran over budget, appends
// an SLOBreach to record.Breaches and increments the breach counter. fn's
// own error, if any, is recorded on the span but still returned verbatim
// — SLO breaches and phase failures are independent signals.
func (o *Observer) Phase(ctx context.Context, record *RunRecord, phase string, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, phase, trace.WithAttributes(attribute.String("orchestrator.run_id", record.RunID)))
	defer span.End()
	traceID := span.SpanContext().TraceID().String()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if record.PhaseDurations == nil {
		record.PhaseDurations = make(map[string]time.Duration)
	}
	record.PhaseDurations[phase] = elapsed
	o.phaseGauge.WithLabelValues(phase).Observe(float64(elapsed.Milliseconds()))
	span.SetAttributes(attribute.Int64("orchestrator.duration_ms", elapsed.Milliseconds()))

	event := TraceEvent{
		Sequence: len(record.Trace) + 1,
		AtMs:     elapsed.Milliseconds(),
		Phase:    phase,
		Message:  phase + " completed",
		Data: map[string]interface{}{
			"otel_trace_id": traceID,
			"duration_ms":   elapsed.Milliseconds(),
		},
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event.Message = phase + " failed"
		event.Data["error"] = err.Error()
		record.Trace = append(record.Trace, event)
		return err
	}

	if budget := o.budgetFor(phase); budget > 0 && elapsed.Milliseconds() > budget {
		breach := SLOBreach{Phase: phase, BudgetMs: budget, ActualMs: elapsed.Milliseconds()}
		record.Breaches = append(record.Breaches, breach)
		o.breachCtr.WithLabelValues(phase).Inc()
		span.AddEvent("slo-breach", trace.WithAttributes(
			attribute.Int64("orchestrator.budget_ms", budget),
			attribute.Int64("orchestrator.actual_ms", elapsed.Milliseconds()),
		))
		event.Data["slo_breach"] = true
	}
	span.SetStatus(codes.Ok, "")
	record.Trace = append(record.Trace, event)
	return nil
}

func (o *Observer) budgetFor(phase string) int64 {
	switch phase {
	case "bootstrap":
		return o.Budgets.BootstrapMs
	case "preflight":
		return o.Budgets.PreflightMs
	case "detect":
		return o.Budgets.DetectMs
	case "start":
		return o.Budgets.StartMs
	default:
		return 0
	}
}
