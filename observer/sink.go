package observer

import (
	"context"
	"time"

	caravan "github.com/nevindra/caravan"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Sink exports every sealed request trace as an OTEL span tree plus request
// and expert metrics. It implements caravan.TraceSink.
//
// Spans are reconstructed after the fact from the sealed record: the request
// span covers the measured wall time and each per-expert child span carries
// its own latency. Child spans start at the request start; exact launch
// offsets are not recorded in the trace.
type Sink struct {
	inst *Instruments
}

// NewSink creates a trace sink over the given instruments.
func NewSink(inst *Instruments) *Sink {
	return &Sink{inst: inst}
}

// Record exports one sealed trace.
func (s *Sink) Record(ctx context.Context, t caravan.Trace) error {
	end := t.StartedAt.Add(msToDuration(t.TotalLatencyMS))

	ctx, span := s.inst.Tracer.Start(ctx, "moe.request",
		trace.WithTimestamp(t.StartedAt),
		trace.WithAttributes(
			AttrRequestID.String(t.RequestID),
			AttrPath.String(string(t.Path)),
			AttrStrategy.String(t.SelectionStrategy),
			AttrFellOpen.Bool(t.FellOpen),
			AttrSynthesisUsed.Bool(t.SynthesisUsed),
			AttrPreservedBlocks.Int(t.PreservedBlockCount),
			attribute.StringSlice("moe.selected", t.Selected),
		))
	if t.Error != "" {
		span.SetStatus(codes.Error, string(t.Error))
		span.SetAttributes(AttrError.String(string(t.Error)))
	}

	for _, pe := range t.PerExpert {
		_, child := s.inst.Tracer.Start(ctx, "moe.expert",
			trace.WithTimestamp(t.StartedAt),
			trace.WithAttributes(
				AttrAgentID.String(pe.AgentID),
				AttrAgentStatus.String(string(pe.Status)),
			))
		if pe.ErrorKind != "" {
			child.SetAttributes(AttrErrorKind.String(string(pe.ErrorKind)))
			child.SetStatus(codes.Error, string(pe.ErrorKind))
		}
		child.End(trace.WithTimestamp(t.StartedAt.Add(msToDuration(pe.LatencyMS))))

		s.inst.ExpertOutcomes.Add(ctx, 1, metric.WithAttributes(
			AttrAgentID.String(pe.AgentID),
			AttrAgentStatus.String(string(pe.Status)),
		))
		s.inst.ExpertDuration.Record(ctx, float64(pe.LatencyMS), metric.WithAttributes(
			AttrAgentID.String(pe.AgentID),
		))
	}

	span.End(trace.WithTimestamp(end))

	s.inst.Requests.Add(ctx, 1, metric.WithAttributes(
		AttrPath.String(string(t.Path)),
		AttrStrategy.String(t.SelectionStrategy),
		attribute.String("error", string(t.Error)),
	))
	s.inst.RequestDuration.Record(ctx, float64(t.TotalLatencyMS), metric.WithAttributes(
		AttrPath.String(string(t.Path)),
	))

	// FellOpen is set only when the semantic selector failed on this request,
	// so capability-only engines never trip the outage signal.
	if t.FellOpen {
		s.inst.FallOpens.Add(ctx, 1)
	}

	return nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Compile-time interface check.
var _ caravan.TraceSink = (*Sink)(nil)
