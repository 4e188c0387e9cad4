package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmende/pocketsphinx-go/internal/observe"
	"github.com/mmende/pocketsphinx-go/internal/store"
	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/endpoint"
	"github.com/mmende/pocketsphinx-go/pkg/stream"
	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

// SessionInfo describes a running streaming session.
type SessionInfo struct {
	ID        uuid.UUID
	Remote    string
	StartedAt time.Time
	Search    string
}

// Session is one live audio stream: its own decoder, classifier,
// endpointer and listener. Audio goes in through Process; finals are
// persisted when a store is configured. A Session is not safe for
// concurrent use, except Close and Info.
type Session struct {
	id        uuid.UUID
	remote    string
	startedAt time.Time
	frameRate int

	dec *decoder.Decoder
	cls vad.Classifier
	ep  *endpoint.Endpointer
	lis *stream.Listener

	store   store.Store
	metrics *observe.Metrics
	log     *slog.Logger

	mu        sync.Mutex
	search    string
	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// FrameRate is the decoder's frames per second, the unit of word
// segment boundaries.
func (s *Session) FrameRate() int { return s.frameRate }

// SampleRate is the rate Process expects.
func (s *Session) SampleRate() int { return s.ep.SampleRate() }

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{ID: s.id, Remote: s.remote, StartedAt: s.startedAt, Search: s.search}
}

// Process feeds mono 16-bit samples and returns the resulting events.
func (s *Session) Process(ctx context.Context, samples []int16) ([]stream.Event, error) {
	events, err := s.lis.Process(samples)
	s.handle(ctx, events)
	return events, err
}

// Finish ends the audio stream, finalizing a running utterance.
func (s *Session) Finish(ctx context.Context) ([]stream.Event, error) {
	events, err := s.lis.Finish()
	s.handle(ctx, events)
	return events, err
}

func (s *Session) handle(ctx context.Context, events []stream.Event) {
	for _, ev := range events {
		switch ev.Type {
		case stream.SpeechStart:
			s.metrics.RecordTransition(ctx, "speech_start")
		case stream.SpeechEnd:
			s.metrics.RecordTransition(ctx, "speech_end")
		case stream.Final:
			s.persist(ctx, ev)
		}
	}
	if cur, err := s.dec.CurrentSearch(); err == nil {
		s.mu.Lock()
		s.search = cur
		s.mu.Unlock()
	}
}

func (s *Session) persist(ctx context.Context, ev stream.Event) {
	if s.store == nil || !ev.Recognized {
		return
	}
	words := make([]store.Word, 0, len(ev.Words))
	for _, w := range ev.Words {
		words = append(words, store.Word{Text: w.Word, Start: w.Start, End: w.End, Prob: w.Prob})
	}
	err := s.store.SaveUtterance(ctx, store.Utterance{
		SessionID: s.id,
		Search:    ev.Search,
		Text:      ev.Hypothesis.Text,
		Score:     ev.Hypothesis.Score,
		Start:     ev.Start,
		End:       ev.End,
		Words:     words,
	})
	if err != nil {
		s.log.Warn("app: persist utterance", "err", err)
	}
}

// Close releases the decoder and the classifier and frees the session's
// slot in the manager. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.dec.Close(), s.cls.Close())
		if s.onClose != nil {
			s.onClose()
		}
		s.log.Info("app: session closed", "duration", time.Since(s.startedAt))
	})
	return s.closeErr
}
