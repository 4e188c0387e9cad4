package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mmende/pocketsphinx-go/pkg/engine"
	"github.com/mmende/pocketsphinx-go/pkg/vad"
)

// ErrNotRegistered is returned when no factory has been registered under
// the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// EngineOpener loads the model described by an engine entry and returns a
// factory for per-session engines sharing it. release drops the opener's
// reference to the model; engines already created keep it alive.
type EngineOpener func(cfg EngineConfig) (factory engine.Factory, release func() error, err error)

// ClassifierFactory creates a voice activity classifier for one stream at
// the given sample rate.
type ClassifierFactory func(cfg EndpointerConfig, sampleRate int) (vad.Classifier, error)

// Registry maps names to engine openers and classifier factories. It is
// safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	engines     map[string]EngineOpener
	classifiers map[string]ClassifierFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		engines:     make(map[string]EngineOpener),
		classifiers: make(map[string]ClassifierFactory),
	}
}

// RegisterEngine registers an engine opener under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEngine(name string, open EngineOpener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = open
}

// RegisterClassifier registers a classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[name] = factory
}

// OpenEngine loads the engine registered under cfg.Name.
// Returns [ErrNotRegistered] if no opener has been registered for that name.
func (r *Registry) OpenEngine(cfg EngineConfig) (engine.Factory, func() error, error) {
	r.mu.RLock()
	open, ok := r.engines[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: engine/%q", ErrNotRegistered, cfg.Name)
	}
	return open(cfg)
}

// CreateClassifier instantiates the classifier registered under
// cfg.Classifier, "energy" when empty.
func (r *Registry) CreateClassifier(cfg EndpointerConfig, sampleRate int) (vad.Classifier, error) {
	name := cfg.Classifier
	if name == "" {
		name = "energy"
	}
	r.mu.RLock()
	factory, ok := r.classifiers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrNotRegistered, name)
	}
	return factory(cfg, sampleRate)
}

// Engines returns the registered engine names, sorted.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
