package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mmende/pocketsphinx-go/pkg/stream"
)

// Message types sent to streaming clients, in addition to the event
// types of [stream.EventType].
const (
	msgReady = "ready"
	msgError = "error"
)

// control is a text message from the client.
type control struct {
	// Type is "finish" to end the audio stream.
	Type string `json:"type"`
}

type readyJSON struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Search     string `json:"search,omitempty"`
}

type errorJSON struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type wordJSON struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Prob  int32   `json:"prob"`
}

// eventJSON carries one listener event. Times are seconds from stream
// start.
type eventJSON struct {
	Type       string     `json:"type"`
	Search     string     `json:"search,omitempty"`
	Start      float64    `json:"start"`
	End        float64    `json:"end,omitempty"`
	Text       string     `json:"text,omitempty"`
	Score      int32      `json:"score,omitempty"`
	Recognized bool       `json:"recognized,omitempty"`
	Words      []wordJSON `json:"words,omitempty"`
}

type sessionJSON struct {
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	StartedAt time.Time `json:"started_at"`
	Search    string    `json:"search"`
}

// toJSON converts ev. frameRate converts word frame indices to seconds.
func toJSON(ev stream.Event, frameRate int) eventJSON {
	out := eventJSON{
		Type:   ev.Type.String(),
		Search: ev.Search,
		Start:  ev.Start.Seconds(),
		End:    ev.End.Seconds(),
	}
	switch ev.Type {
	case stream.Partial, stream.Final:
		out.Text = ev.Hypothesis.Text
		out.Score = ev.Hypothesis.Score
		out.Recognized = ev.Recognized
	}
	if frameRate <= 0 {
		return out
	}
	frame := time.Second / time.Duration(frameRate)
	for _, w := range ev.Words {
		out.Words = append(out.Words, wordJSON{
			Word:  w.Word,
			Start: (ev.Start + time.Duration(w.Start)*frame).Seconds(),
			End:   (ev.Start + time.Duration(w.End+1)*frame).Seconds(),
			Prob:  w.Prob,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
