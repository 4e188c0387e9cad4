package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mmende/pocketsphinx-go/internal/app"
	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/internal/health"
	"github.com/mmende/pocketsphinx-go/internal/observe"
	"github.com/mmende/pocketsphinx-go/internal/server"
	"github.com/mmende/pocketsphinx-go/pkg/audio"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/engine/mock"
	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

const frameSize = 480

// marker labels a frame as speech when its first sample is 1.
type marker struct{}

func (marker) Classify(frame []int16) (vad.Class, error) {
	if err := vad.CheckFrame(frame, frameSize); err != nil {
		return vad.Error, err
	}
	if frame[0] == 1 {
		return vad.Speech, nil
	}
	return vad.NotSpeech, nil
}
func (marker) FrameSize() int             { return frameSize }
func (marker) SampleRate() int            { return 16000 }
func (marker) FrameLength() time.Duration { return 30 * time.Millisecond }
func (marker) Close() error               { return nil }

// pcm builds little-endian audio from runs of frames: silence, speech, ...
func pcm(runs ...int) []byte {
	var out []int16
	for i, n := range runs {
		for range n {
			f := make([]int16, frameSize)
			if i%2 == 1 {
				f[0] = 1
			}
			out = append(out, f...)
		}
	}
	return audio.Int16ToBytes(out)
}

func newTestServer(t *testing.T, maxSessions int) *httptest.Server {
	t.Helper()
	eng := mock.New()
	eng.Result = engine.Hypothesis{Text: "go forward", Score: -500}
	eng.Words = []engine.Segment{{Word: "go", Start: 0, End: 9}, {Word: "forward", Start: 10, End: 49}}

	reg := config.NewRegistry()
	reg.RegisterEngine("mock", func(config.EngineConfig) (engine.Factory, func() error, error) {
		return mock.Factory(eng), eng.Release, nil
	})
	reg.RegisterClassifier("marker", func(config.EndpointerConfig, int) (vad.Classifier, error) {
		return marker{}, nil
	})
	cfg := &config.Config{
		Server: config.ServerConfig{MaxSessions: maxSessions},
		Engine: config.EngineConfig{
			Name:     "mock",
			Params:   map[string]any{"hmm": "/models/en-us"},
			Searches: []config.SearchConfig{{Name: "commands", Keyphrase: "go forward"}},
		},
		Endpointer: config.EndpointerConfig{Classifier: "marker"},
	}

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), cfg, reg, app.WithMetrics(m), app.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	srv := server.New(a.Sessions(),
		server.WithHealth(health.New(a.HealthChecks()...)),
		server.WithMetrics(m),
		server.WithLogger(log),
		server.WithScrapeHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "sphinx_up 1\n")
		})),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/listen" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

type message struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"session_id"`
	SampleRate int     `json:"sample_rate"`
	Search     string  `json:"search"`
	Text       string  `json:"text"`
	Score      int32   `json:"score"`
	Recognized bool    `json:"recognized"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Error      string  `json:"error"`
	Words      []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var m message
	if err := wsjson.Read(ctx, conn, &m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func write(t *testing.T, conn *websocket.Conn, typ websocket.MessageType, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, typ, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListen_PCM(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)
	conn := dial(t, ts, "")

	ready := read(t, conn)
	if ready.Type != "ready" || ready.SampleRate != 16000 || ready.Search != "commands" || ready.SessionID == "" {
		t.Fatalf("ready = %+v", ready)
	}

	write(t, conn, websocket.MessageBinary, pcm(20, 40, 30))
	if m := read(t, conn); m.Type != "speech_start" {
		t.Fatalf("first event = %+v", m)
	}
	final := read(t, conn)
	if final.Type != "final" || final.Text != "go forward" || !final.Recognized || final.Score != -500 {
		t.Fatalf("final = %+v", final)
	}
	if len(final.Words) != 2 || final.Words[1].Word != "forward" {
		t.Fatalf("words = %+v", final.Words)
	}
	if got := final.Words[1].End - final.Words[0].Start; got < 0.49 || got > 0.51 {
		t.Errorf("word span = %.3fs, want 0.5s", got)
	}
	if m := read(t, conn); m.Type != "speech_end" {
		t.Fatalf("last event = %+v", m)
	}

	write(t, conn, websocket.MessageText, []byte(`{"type":"finish"}`))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close = %v, want normal closure", err)
	}
}

func TestListen_FinishFinalizes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)
	conn := dial(t, ts, "?search=commands&encoding=pcm")
	read(t, conn)

	write(t, conn, websocket.MessageBinary, pcm(20, 40))
	if m := read(t, conn); m.Type != "speech_start" {
		t.Fatalf("event = %+v", m)
	}
	write(t, conn, websocket.MessageText, []byte(`{"type":"finish"}`))
	if m := read(t, conn); m.Type != "final" || m.Text != "go forward" {
		t.Fatalf("final = %+v", m)
	}
	if m := read(t, conn); m.Type != "speech_end" {
		t.Fatalf("event = %+v", m)
	}
}

func TestListen_UnknownControl(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)
	conn := dial(t, ts, "")
	read(t, conn)

	write(t, conn, websocket.MessageText, []byte(`{"type":"pause"}`))
	if m := read(t, conn); m.Type != "error" || !strings.Contains(m.Error, "pause") {
		t.Fatalf("reply = %+v", m)
	}
}

func TestListen_OddPCMClosesConnection(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)
	conn := dial(t, ts, "")
	read(t, conn)

	write(t, conn, websocket.MessageBinary, []byte{1, 2, 3})
	if m := read(t, conn); m.Type != "error" {
		t.Fatalf("reply = %+v", m)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusUnsupportedData {
		t.Errorf("close = %v", err)
	}
}

func TestListen_RejectedRequests(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 1)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"bad encoding", "?encoding=flac", http.StatusBadRequest},
		{"bad channels", "?encoding=opus&channels=6", http.StatusBadRequest},
		{"unknown search", "?search=nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + "/v1/listen" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	t.Run("capacity", func(t *testing.T) {
		conn := dial(t, ts, "")
		read(t, conn)
		resp, err := http.Get(ts.URL + "/v1/listen")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})
}

func TestSessionsAndProbes(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, 0)
	conn := dial(t, ts, "")
	ready := read(t, conn)

	resp, err := http.Get(ts.URL + "/v1/sessions")
	if err != nil {
		t.Fatal(err)
	}
	var sessions []struct {
		ID     string `json:"id"`
		Search string `json:"search"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(sessions) != 1 || sessions[0].ID != ready.SessionID || sessions[0].Search != "commands" {
		t.Errorf("sessions = %+v", sessions)
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s = %d", path, resp.StatusCode)
		}
	}
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	srv := server.New(app.NewSessionManager(app.SessionManagerConfig{}),
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0", nil) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return")
	}
}
