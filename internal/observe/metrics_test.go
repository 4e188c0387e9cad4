package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns metrics read back through a manual reader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumWith returns the value of the counter data point carrying attr, or of
// the first data point when attr has no key.
func sumWith(t *testing.T, rm metricdata.ResourceMetrics, name string, attr attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		if attr.Key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
			return dp.Value
		}
	}
	return 0
}

func TestMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordTransition(ctx, "speech_start")
	m.RecordTransition(ctx, "speech_end")
	m.RecordTransition(ctx, "speech_start")
	m.RecordStoreWrite(ctx, "sqlite", "ok")
	m.RecordStoreWrite(ctx, "postgres", "error")
	rm := collect(t, reader)

	tests := []struct {
		metric string
		attr   attribute.KeyValue
		want   int64
	}{
		{"sphinx.endpointer.transitions", Attr("type", "speech_start"), 2},
		{"sphinx.endpointer.transitions", Attr("type", "speech_end"), 1},
		{"sphinx.store.writes", Attr("status", "error"), 1},
		{"sphinx.store.writes", Attr("driver", "sqlite"), 1},
		{"sphinx.store.writes", Attr("driver", "mysql"), 0},
	}
	for _, tt := range tests {
		if got := sumWith(t, rm, tt.metric, tt.attr); got != tt.want {
			t.Errorf("%s{%s=%s} = %d, want %d", tt.metric, tt.attr.Key, tt.attr.Value.AsString(), got, tt.want)
		}
	}
}

func TestActiveStreams(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, 1)
	m.ActiveStreams.Add(ctx, -1)

	if got := sumWith(t, collect(t, reader), "sphinx.active_streams", attribute.KeyValue{}); got != 1 {
		t.Errorf("active streams = %d, want 1", got)
	}
}

func TestDefaultMetrics_Shared(t *testing.T) {
	if a, b := DefaultMetrics(), DefaultMetrics(); a == nil || a != b {
		t.Errorf("DefaultMetrics() = %p then %p", a, b)
	}
}
