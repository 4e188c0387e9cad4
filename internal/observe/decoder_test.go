package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/engine/mock"
	"github.com/mmende/pocketsphinx-go/pkg/params"
)

func TestDecoderObserver(t *testing.T) {
	m, reader := newTestMetrics(t)
	exp := installTracer(t)

	eng := mock.New()
	eng.Result = engine.Hypothesis{Text: "go forward"}
	p := params.New()
	if err := p.Set("hmm", "/models/en-us"); err != nil {
		t.Fatal(err)
	}
	dec, err := decoder.New(eng, p, decoder.WithObserver(NewDecoderObserver(context.Background(), m, Attr("session", "s1"))))
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if err := dec.AddKeyphrase("wake", "go forward"); err != nil {
		t.Fatal(err)
	}
	if err := dec.ActivateSearch("wake"); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := dec.StartUtt(); err != nil {
			t.Fatal(err)
		}
		if _, err := dec.ProcessRaw(make([]int16, 16000), false, false); err != nil {
			t.Fatal(err)
		}
		if err := dec.EndUtt(); err != nil {
			t.Fatal(err)
		}
	}

	rm := collect(t, reader)
	if got := sumWith(t, rm, "sphinx.search.activations", Attr("search", "wake")); got != 1 {
		t.Errorf("activations = %d, want 1", got)
	}
	if got := sumWith(t, rm, "sphinx.utterances", Attr("result", "hypothesis")); got != 2 {
		t.Errorf("utterances = %d, want 2", got)
	}
	if got := sumWith(t, rm, "sphinx.frames.searched", Attr("search", "wake")); got != 200 {
		t.Errorf("frames = %d, want 200", got)
	}
	met := findMetric(rm, "sphinx.decode.duration")
	if met == nil {
		t.Fatal("decode duration not recorded")
	}
	if hist := met.Data.(metricdata.Histogram[float64]); hist.DataPoints[0].Count != 2 {
		t.Errorf("decode duration count = %d, want 2", hist.DataPoints[0].Count)
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	var session, kind bool
	for _, a := range spans[0].Attributes {
		switch {
		case a.Key == "session" && a.Value.AsString() == "s1":
			session = true
		case a.Key == "kind" && a.Value.AsString() == "keyword_set":
			kind = true
		}
	}
	if spans[0].Name != "decoder.utterance" || !session || !kind {
		t.Errorf("span = %s %v", spans[0].Name, spans[0].Attributes)
	}
}

func TestDecoderObserver_RestartEndsSpan(t *testing.T) {
	m, _ := newTestMetrics(t)
	exp := installTracer(t)

	o := NewDecoderObserver(context.Background(), m)
	o.UtteranceStarted("a", engine.Grammar)
	o.UtteranceStarted("a", engine.Grammar)
	o.UtteranceEnded("a", engine.Grammar, 0, decoder.Performance{}, false)

	if n := len(exp.GetSpans()); n != 2 {
		t.Fatalf("spans = %d, want 2", n)
	}
}
