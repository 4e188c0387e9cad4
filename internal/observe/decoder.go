package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
)

// DecoderObserver records decoder events as metrics and wraps every
// utterance in a span. One observer serves one decoder; it is not safe for
// concurrent use.
type DecoderObserver struct {
	ctx   context.Context
	m     *Metrics
	attrs []attribute.KeyValue
	span  trace.Span
}

var _ decoder.Observer = (*DecoderObserver)(nil)

// NewDecoderObserver returns an observer recording into m. Utterance spans
// are children of the span in ctx and carry attrs.
func NewDecoderObserver(ctx context.Context, m *Metrics, attrs ...attribute.KeyValue) *DecoderObserver {
	return &DecoderObserver{ctx: ctx, m: m, attrs: attrs}
}

func searchAttrs(search string, kind engine.Kind) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("search", search),
		attribute.String("kind", kind.String()),
	)
}

func (o *DecoderObserver) SearchActivated(name string, kind engine.Kind) {
	o.m.SearchActivations.Add(o.ctx, 1, searchAttrs(name, kind))
}

func (o *DecoderObserver) UtteranceStarted(search string, kind engine.Kind) {
	if o.span != nil {
		o.span.End()
	}
	_, o.span = StartSpan(o.ctx, "decoder.utterance",
		trace.WithAttributes(o.attrs...),
		trace.WithAttributes(
			attribute.String("search", search),
			attribute.String("kind", kind.String()),
		),
	)
}

func (o *DecoderObserver) UtteranceEnded(search string, kind engine.Kind, frames int, perf decoder.Performance, hypothesis bool) {
	result := "empty"
	if hypothesis {
		result = "hypothesis"
	}
	attrs := searchAttrs(search, kind)
	o.m.DecodeDuration.Record(o.ctx, perf.Wall.Seconds(), attrs)
	if rtf := perf.RealTimeFactor(); rtf > 0 {
		o.m.RealTimeFactor.Record(o.ctx, rtf, attrs)
	}
	o.m.FramesSearched.Add(o.ctx, int64(frames), metric.WithAttributes(attribute.String("search", search)))
	o.m.Utterances.Add(o.ctx, 1, metric.WithAttributes(
		attribute.String("search", search),
		attribute.String("kind", kind.String()),
		attribute.String("result", result),
	))

	if o.span == nil {
		return
	}
	o.span.SetAttributes(
		attribute.Int("frames", frames),
		attribute.Bool("hypothesis", hypothesis),
		attribute.Float64("rtf", perf.RealTimeFactor()),
	)
	if !hypothesis {
		o.span.SetStatus(codes.Unset, "no hypothesis")
	}
	o.span.End()
	o.span = nil
}
