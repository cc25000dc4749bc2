package skitter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation mirrors vertex.go's package-level meter/tracer and its
// incoming/outgoing/errors/duration recorders, scoped to "skitter"
// instead of "machine".
var (
	meter         = global.Meter("skitter")
	tracer        = otel.GetTracerProvider().Tracer("skitter")
	inCounter     = metric.Must(meter).NewInt64ValueRecorder("skitter.incoming")
	outCounter    = metric.Must(meter).NewInt64ValueRecorder("skitter.outgoing")
	errorsCounter = metric.Must(meter).NewInt64ValueRecorder("skitter.errors")
	batchDuration = metric.Must(meter).NewInt64ValueRecorder("skitter.duration")
)

// instrumented wraps fn the way vertex.go wraps a vertex's handler:
// a span per call (closed and flagged on error), and in/out/error/duration
// counters keyed by the supplied attributes. kind distinguishes worker
// process loops, router deliveries, and deploy hooks in telemetry
// backends.
func instrumented(ctx context.Context, opt *Option, kind, id string, n int, fn func() error) error {
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("id", id),
	}

	var span trace.Span
	if opt == nil || opt.Span == nil || *opt.Span {
		runAttrs := append(append([]attribute.KeyValue{}, attrs...), attribute.String("run_id", uuid.NewString()))
		ctx, span = tracer.Start(ctx, kind+":"+id, trace.WithAttributes(runAttrs...))
		defer span.End()
	}

	recordMetrics := opt == nil || opt.Metrics == nil || *opt.Metrics
	if recordMetrics {
		inCounter.Record(ctx, int64(n), attrs...)
	}

	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if err != nil && span != nil {
		span.RecordError(err)
	}

	if recordMetrics {
		outCounter.Record(ctx, int64(n), attrs...)
		if err != nil {
			errorsCounter.Record(ctx, 1, attrs...)
		}
		batchDuration.Record(ctx, int64(duration), attrs...)
	}

	return err
}
