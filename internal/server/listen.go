package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mmende/pocketsphinx-go/internal/app"
	"github.com/mmende/pocketsphinx-go/internal/observe"
	"github.com/mmende/pocketsphinx-go/pkg/audio"
	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/stream"
)

// Audio encodings accepted on /v1/listen.
const (
	encodingPCM  = "pcm"
	encodingOpus = "opus"
)

// listen upgrades to a websocket and runs one recognition session.
//
// Query parameters: search (initial search), encoding (pcm or opus,
// default pcm) and channels (opus only, 1 or 2). PCM is 16-bit little
// endian mono at the sample rate announced in the ready message; Opus
// packets are 48 kHz and resampled. A text message {"type":"finish"} ends
// the stream: the running utterance is finalized and the server closes
// the connection.
func (s *Server) listen(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	encoding := q.Get("encoding")
	if encoding == "" {
		encoding = encodingPCM
	}
	if encoding != encodingPCM && encoding != encodingOpus {
		writeJSON(w, http.StatusBadRequest, errorJSON{Type: msgError, Error: fmt.Sprintf("unsupported encoding %q", encoding)})
		return
	}
	channels := 1
	if c := q.Get("channels"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 2 {
			writeJSON(w, http.StatusBadRequest, errorJSON{Type: msgError, Error: "channels must be 1 or 2"})
			return
		}
		channels = n
	}

	ctx := r.Context()
	log := observe.Logger(ctx, s.log)
	sess, err := s.sessions.Open(ctx, app.SessionOptions{Search: q.Get("search"), Remote: r.RemoteAddr})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, app.ErrCapacity), errors.Is(err, app.ErrClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, decoder.ErrSearchNotFound):
			status = http.StatusBadRequest
		}
		log.Warn("server: open session", "err", err)
		writeJSON(w, status, errorJSON{Type: msgError, Error: err.Error()})
		return
	}
	defer sess.Close()

	var opus *audio.OpusDecoder
	if encoding == encodingOpus {
		if opus, err = audio.NewOpusDecoder(channels, sess.SampleRate()); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorJSON{Type: msgError, Error: err.Error()})
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("server: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.readLimit)

	c := &streamConn{conn: conn, sess: sess, opus: opus}
	if err := c.run(ctx, encoding); err != nil {
		log.Info("server: stream ended", "session_id", sess.ID(), "err", err)
	}
}

type streamConn struct {
	conn *websocket.Conn
	sess *app.Session
	opus *audio.OpusDecoder
}

func (c *streamConn) run(ctx context.Context, encoding string) error {
	info := c.sess.Info()
	if err := wsjson.Write(ctx, c.conn, readyJSON{
		Type:       msgReady,
		SessionID:  info.ID.String(),
		SampleRate: c.sess.SampleRate(),
		Encoding:   encoding,
		Search:     info.Search,
	}); err != nil {
		return err
	}

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}

		if typ == websocket.MessageText {
			var msg control
			if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "finish" {
				if err := c.sendError(ctx, fmt.Sprintf("unknown control message %q", data)); err != nil {
					return err
				}
				continue
			}
			events, err := c.sess.Finish(ctx)
			if err := c.send(ctx, events); err != nil {
				return err
			}
			if err != nil {
				return c.fail(ctx, err)
			}
			return c.conn.Close(websocket.StatusNormalClosure, "finished")
		}

		samples, err := c.decode(data)
		if err != nil {
			_ = c.sendError(ctx, err.Error())
			return c.conn.Close(websocket.StatusUnsupportedData, "bad audio")
		}
		events, err := c.sess.Process(ctx, samples)
		if err := c.send(ctx, events); err != nil {
			return err
		}
		if err != nil {
			return c.fail(ctx, err)
		}
	}
}

func (c *streamConn) decode(data []byte) ([]int16, error) {
	if c.opus != nil {
		return c.opus.Decode(data)
	}
	return audio.BytesToInt16(data)
}

func (c *streamConn) send(ctx context.Context, events []stream.Event) error {
	rate := c.sess.FrameRate()
	for _, ev := range events {
		if err := wsjson.Write(ctx, c.conn, toJSON(ev, rate)); err != nil {
			return err
		}
	}
	return nil
}

func (c *streamConn) sendError(ctx context.Context, msg string) error {
	return wsjson.Write(ctx, c.conn, errorJSON{Type: msgError, Error: msg})
}

// fail reports a decoding error and closes the connection.
func (c *streamConn) fail(ctx context.Context, err error) error {
	_ = c.sendError(ctx, err.Error())
	_ = c.conn.Close(websocket.StatusInternalError, "decoding failed")
	return err
}
