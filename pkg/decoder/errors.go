package decoder

import (
	"errors"

	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/resource"
)

var (
	// ErrInitialization is returned when the engine or a search could not be
	// created or configured.
	ErrInitialization = resource.ErrInitialization

	// ErrInvalidConfig is returned for parameters that fail validation.
	ErrInvalidConfig = params.ErrInvalidConfig

	// ErrSearchNotFound is returned when a named search is not registered.
	ErrSearchNotFound = errors.New("decoder: search not found")

	// ErrDuplicateSearch is returned when adding a search under a name that
	// is already registered.
	ErrDuplicateSearch = errors.New("decoder: search already registered")

	// ErrNoActiveSearch is returned when an operation needs an active search
	// and none is selected.
	ErrNoActiveSearch = errors.New("decoder: no active search")

	// ErrUsage is returned for calls made in the wrong utterance state or on
	// a closed decoder.
	ErrUsage = errors.New("decoder: invalid call sequence")

	// ErrIO is returned for file system failures while loading or saving
	// models, grammars and dictionaries.
	ErrIO = errors.New("decoder: i/o error")

	// ErrNoHypothesis is returned by operations that need a previous decode
	// result when there is none.
	ErrNoHypothesis = errors.New("decoder: no hypothesis")

	// ErrInvalidAlignment is returned by AlignmentTree.Validate.
	ErrInvalidAlignment = errors.New("decoder: invalid alignment")
)
