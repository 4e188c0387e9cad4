package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmende/pocketsphinx-go/internal/config"
	"github.com/mmende/pocketsphinx-go/internal/observe"
	"github.com/mmende/pocketsphinx-go/internal/store"
	"github.com/mmende/pocketsphinx-go/pkg/decoder"
	"github.com/mmende/pocketsphinx-go/pkg/endpoint"
	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/stream"
)

// ErrCapacity is returned by [SessionManager.Open] when MaxSessions
// sessions are already running.
var ErrCapacity = errors.New("app: session limit reached")

// ErrClosed is returned by [SessionManager.Open] after CloseAll.
var ErrClosed = errors.New("app: session manager closed")

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	// Engine creates one engine per session.
	Engine engine.Factory

	// Params configure every session's decoder.
	Params *params.Params

	// Searches are added to every session.
	Searches []config.SearchConfig

	Endpointer config.EndpointerConfig

	// Registry provides the voice activity classifiers.
	Registry *config.Registry

	// Store receives final utterances. Nil disables persistence.
	Store store.Store

	Metrics *observe.Metrics

	// MaxSessions bounds concurrent sessions; zero means unlimited.
	MaxSessions int

	Logger *slog.Logger
}

// SessionOptions are per-stream choices made by the client.
type SessionOptions struct {
	// Search overrides the search activated at start.
	Search string

	// Remote identifies the client in logs.
	Remote string
}

// SessionManager creates and tracks streaming sessions. All exported
// methods are safe for concurrent use.
type SessionManager struct {
	cfg SessionManagerConfig
	log *slog.Logger

	mu       sync.Mutex
	ep       config.EndpointerConfig
	sessions map[uuid.UUID]*Session
	closed   bool
}

// NewSessionManager returns a manager for cfg.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Params == nil {
		cfg.Params = params.New()
	}
	if cfg.Registry == nil {
		cfg.Registry = config.NewRegistry()
	}
	return &SessionManager{
		cfg:      cfg,
		log:      cfg.Logger,
		ep:       cfg.Endpointer,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// SetEndpointer replaces the endpointer tuning used by sessions opened
// from now on. Running sessions keep theirs.
func (sm *SessionManager) SetEndpointer(cfg config.EndpointerConfig) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.ep = cfg
}

// Open starts a session. The caller must Close it.
func (sm *SessionManager) Open(ctx context.Context, opts SessionOptions) (*Session, error) {
	id := uuid.New()
	sm.mu.Lock()
	switch {
	case sm.closed:
		sm.mu.Unlock()
		return nil, ErrClosed
	case sm.cfg.MaxSessions > 0 && len(sm.sessions) >= sm.cfg.MaxSessions:
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrCapacity, sm.cfg.MaxSessions)
	}
	// Reserve the slot while the session is built outside the lock.
	sm.sessions[id] = nil
	epCfg := sm.ep
	sm.mu.Unlock()

	s, err := sm.build(ctx, id, opts, epCfg)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err != nil {
		delete(sm.sessions, id)
		return nil, err
	}
	sm.sessions[id] = s
	sm.cfg.Metrics.ActiveStreams.Add(ctx, 1)
	return s, nil
}

func (sm *SessionManager) build(ctx context.Context, id uuid.UUID, opts SessionOptions, epCfg config.EndpointerConfig) (*Session, error) {
	log := observe.Logger(ctx, sm.log).With("session_id", id.String())

	eng, err := sm.cfg.Engine(sm.cfg.Params.Clone())
	if err != nil {
		return nil, fmt.Errorf("app: open session: create engine: %w", err)
	}
	dec, err := decoder.New(eng, sm.cfg.Params,
		decoder.WithLogger(log),
		decoder.WithObserver(observe.NewDecoderObserver(ctx, sm.cfg.Metrics, observe.Attr("session_id", id.String()))),
	)
	if err != nil {
		return nil, fmt.Errorf("app: open session: %w", err)
	}
	if err := sm.addSearches(dec, opts.Search, epCfg); err != nil {
		_ = dec.Close()
		return nil, fmt.Errorf("app: open session: %w", err)
	}

	rate := int(sm.cfg.Params.Int("samprate"))
	cls, err := sm.cfg.Registry.CreateClassifier(epCfg, rate)
	if err != nil {
		_ = dec.Close()
		return nil, fmt.Errorf("app: open session: classifier: %w", err)
	}
	ep, err := endpoint.New(cls,
		endpoint.WithWindow(epCfg.Window),
		endpoint.WithRatio(epCfg.Ratio),
		endpoint.WithLogger(log),
	)
	if err != nil {
		_ = errors.Join(dec.Close(), cls.Close())
		return nil, fmt.Errorf("app: open session: %w", err)
	}
	if ep.SampleRate() != rate {
		_ = errors.Join(dec.Close(), cls.Close())
		return nil, fmt.Errorf("app: open session: classifier runs at %d Hz, decoder at %d Hz", ep.SampleRate(), rate)
	}

	lisOpts := []stream.Option{stream.WithPartials(epCfg.Partials), stream.WithLogger(log)}
	if epCfg.KeywordSearch != "" && epCfg.CommandSearch != "" {
		lisOpts = append(lisOpts, stream.WithSwitcher(stream.KeyphraseSwitch(epCfg.KeywordSearch, epCfg.CommandSearch)))
	}
	s := &Session{
		id:        id,
		remote:    opts.Remote,
		startedAt: time.Now().UTC(),
		frameRate: int(sm.cfg.Params.Int("frate")),
		dec:       dec,
		cls:       cls,
		ep:        ep,
		lis:       stream.NewListener(ep, dec, lisOpts...),
		store:     sm.cfg.Store,
		metrics:   sm.cfg.Metrics,
		log:       log,
		onClose:   func() { sm.remove(id) },
	}
	s.search, _ = dec.CurrentSearch()
	log.Info("app: session opened", "remote", opts.Remote, "search", s.search, "sample_rate", rate)
	return s, nil
}

// addSearches registers the configured searches and activates, in order of
// preference: the client's choice, the keyword search, the search from the
// decoder parameters, the first configured search.
func (sm *SessionManager) addSearches(dec *decoder.Decoder, requested string, epCfg config.EndpointerConfig) error {
	for _, sc := range sm.cfg.Searches {
		if err := AddSearch(dec, sc); err != nil {
			return err
		}
	}
	var want string
	switch {
	case requested != "":
		want = requested
	case epCfg.KeywordSearch != "":
		want = epCfg.KeywordSearch
	default:
		if _, err := dec.CurrentSearch(); err == nil {
			return nil
		}
		if len(sm.cfg.Searches) == 0 {
			return nil
		}
		want = sm.cfg.Searches[0].Name
	}
	return dec.ActivateSearch(want)
}

// AddSearch registers the search described by sc with dec.
func AddSearch(dec *decoder.Decoder, sc config.SearchConfig) error {
	switch {
	case sc.FSG != "":
		return dec.AddFSGFile(sc.Name, sc.FSG)
	case sc.JSGF != "":
		return dec.AddJSGFFile(sc.Name, sc.JSGF)
	case sc.LM != "":
		return dec.AddLMFile(sc.Name, sc.LM)
	case sc.KWS != "":
		return dec.AddKeywordFile(sc.Name, sc.KWS)
	case sc.Keyphrase != "":
		return dec.AddKeyphrase(sc.Name, sc.Keyphrase)
	case sc.Allphone != "":
		return dec.AddPhoneLoopFile(sc.Name, sc.Allphone)
	}
	return fmt.Errorf("app: search %q has no source", sc.Name)
}

func (sm *SessionManager) remove(id uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[id]; ok {
		delete(sm.sessions, id)
		sm.cfg.Metrics.ActiveStreams.Add(context.Background(), -1)
	}
}

// Count returns the number of running sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Sessions returns a snapshot of the running sessions, oldest first.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	running := slices.Collect(maps.Values(sm.sessions))
	sm.mu.Unlock()

	out := make([]SessionInfo, 0, len(running))
	for _, s := range running {
		if s != nil {
			out = append(out, s.Info())
		}
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// CloseAll closes every running session and rejects new ones.
func (sm *SessionManager) CloseAll() error {
	sm.mu.Lock()
	sm.closed = true
	running := slices.Collect(maps.Values(sm.sessions))
	sm.mu.Unlock()

	var errs []error
	for _, s := range running {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}
