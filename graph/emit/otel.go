package emit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans.
//
// A job_start, job_resume or job_recover event opens a "meetgraph.run" span
// for the job. Every event is recorded as a zero-length child of the job's
// open run, or as a root span when none is open. The run ends with the job's
// next job_suspended, job_complete, job_failed or job_cancelled event, so one
// trace covers each stretch of execution between suspensions.
//
// Standard attributes:
//   - meetgraph.job_id
//   - meetgraph.step
//   - meetgraph.stage
//
// Meta entries become attributes. An "error" entry marks the span with
// codes.Error.
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	emitter := emit.NewOTelEmitter(tp.Tracer("meetgraph"))
type OTelEmitter struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]run
}

type run struct {
	ctx  context.Context
	span trace.Span
}

// NewOTelEmitter creates an OTelEmitter using tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer, runs: make(map[string]run)}
}

// Emit records the event.
func (o *OTelEmitter) Emit(event Event) {
	start := event.Time
	if start.IsZero() {
		start = time.Now()
	}

	parent := o.parent(event, start)

	_, span := o.tracer.Start(parent, event.Msg, trace.WithTimestamp(start))
	span.SetAttributes(eventAttributes(event)...)
	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
	span.End(trace.WithTimestamp(start))

	if ends(event.Msg) {
		o.finish(event, start)
	}
}

// parent returns the context of the job's open run, opening one when event
// starts execution.
func (o *OTelEmitter) parent(event Event, at time.Time) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()

	if r, ok := o.runs[event.JobID]; ok {
		return r.ctx
	}
	switch event.Msg {
	case MsgJobStart, MsgJobResume, MsgJobRecover:
	default:
		return context.Background()
	}

	ctx, span := o.tracer.Start(context.Background(), "meetgraph.run",
		trace.WithTimestamp(at),
		trace.WithAttributes(
			attribute.String("meetgraph.job_id", event.JobID),
			attribute.String("meetgraph.trigger", event.Msg),
		),
	)
	o.runs[event.JobID] = run{ctx: ctx, span: span}
	return ctx
}

func (o *OTelEmitter) finish(event Event, at time.Time) {
	o.mu.Lock()
	r, ok := o.runs[event.JobID]
	delete(o.runs, event.JobID)
	o.mu.Unlock()
	if !ok {
		return
	}

	r.span.SetAttributes(attribute.String("meetgraph.outcome", event.Msg))
	if event.Msg == MsgJobFailed {
		msg, _ := event.Meta["error"].(string)
		r.span.SetStatus(codes.Error, msg)
	}
	r.span.End(trace.WithTimestamp(at))
}

// Flush ends runs still open, such as those of jobs whose context was
// cancelled mid-stage, and reports how many it closed.
func (o *OTelEmitter) Flush(context.Context) int {
	o.mu.Lock()
	open := o.runs
	o.runs = make(map[string]run)
	o.mu.Unlock()

	for _, r := range open {
		r.span.SetAttributes(attribute.String("meetgraph.outcome", "interrupted"))
		r.span.End()
	}
	return len(open)
}

func ends(msg string) bool {
	switch msg {
	case MsgJobSuspended, MsgJobComplete, MsgJobFailed, MsgJobCancelled:
		return true
	}
	return false
}

func eventAttributes(event Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("meetgraph.job_id", event.JobID),
		attribute.Int("meetgraph.step", event.Step),
		attribute.String("meetgraph.stage", event.Stage),
	}
	for key, value := range event.Meta {
		attrKey := key
		switch key {
		case "attempt", "category", "delay_ms", "duration_ms", "status":
			attrKey = "meetgraph." + key
		case "model", "input_tokens", "output_tokens", "cost_usd":
			attrKey = "meetgraph.llm." + key
		}

		switch v := value.(type) {
		case string:
			attrs = append(attrs, attribute.String(attrKey, v))
		case int:
			attrs = append(attrs, attribute.Int(attrKey, v))
		case int64:
			attrs = append(attrs, attribute.Int64(attrKey, v))
		case float64:
			attrs = append(attrs, attribute.Float64(attrKey, v))
		case bool:
			attrs = append(attrs, attribute.Bool(attrKey, v))
		case time.Duration:
			attrs = append(attrs, attribute.Int64(attrKey, v.Milliseconds()))
		default:
			attrs = append(attrs, attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
	return attrs
}
