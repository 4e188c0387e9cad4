// Package engine defines the contract between a decoding session and the
// recognition engine that does the acoustic and linguistic work.
//
// The session package owns all lifecycle and ordering rules; an Engine only
// has to compile search definitions into searches, score audio against the
// search it was started with, and report results. Engines and searches are
// reference counted through [resource.Resource] so that sessions can share a
// loaded model or keep a search alive while an utterance is running.
//
// Implementations need not be safe for concurrent use. A session drives its
// engine from a single goroutine.
package engine

import (
	"errors"
	"fmt"

	"github.com/mmende/pocketsphinx-go/pkg/fsg"
	"github.com/mmende/pocketsphinx-go/pkg/params"
	"github.com/mmende/pocketsphinx-go/pkg/resource"
)

var (
	// ErrUnsupported is returned when an engine cannot compile a search kind.
	ErrUnsupported = errors.New("engine: unsupported search kind")

	// ErrUnavailable is returned by engines whose backend was not compiled
	// into the binary.
	ErrUnavailable = errors.New("engine: backend unavailable")
)

// FrameRate is the conventional number of frames per second used for
// segment and alignment timing.
const FrameRate = 100

// Kind identifies the type of a search.
type Kind int

const (
	Grammar Kind = iota
	LanguageModel
	KeywordSet
	PhoneLoop
	ForceAlign
	StateAlign
)

func (k Kind) String() string {
	switch k {
	case Grammar:
		return "grammar"
	case LanguageModel:
		return "language_model"
	case KeywordSet:
		return "keyword_set"
	case PhoneLoop:
		return "phone_loop"
	case ForceAlign:
		return "force_align"
	case StateAlign:
		return "state_align"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Aligns reports whether searches of this kind produce an alignment.
func (k Kind) Aligns() bool { return k == ForceAlign || k == StateAlign }

// Definition is the source a search is compiled from. Which fields are used
// depends on Kind:
//
//	Grammar        Grammar, or Path to an FSG file, or Text/Path holding JSGF (JSGF true)
//	LanguageModel  Path to an N-gram model
//	KeywordSet     Text with the keyphrases one per line and Keywords with
//	               their detection thresholds; Path names the list file if any
//	PhoneLoop      Path to a phone N-gram model
//	ForceAlign     Text with the words to align
//	StateAlign     Words from a previous word-level decode
type Definition struct {
	Kind    Kind
	Path    string
	Text    string
	JSGF    bool
	Grammar *fsg.Grammar
	Words   []Segment
	// Keywords holds the phrases of a keyword search in the order of Text.
	Keywords []Keyword
}

// Keyword is one phrase of a keyword search. Threshold is the detection
// threshold in the linear domain, from the phrase's /threshold/ suffix or
// the kws_threshold parameter; larger values trade misses for fewer false
// alarms.
type Keyword struct {
	Phrase    string
	Threshold float64
}

// Waiver is implemented by engines that do without some parameters marked
// required, such as an engine that loads no acoustic model.
type Waiver interface {
	WaivedParams() []string
}

// Waived returns the required parameters eng does without.
func Waived(eng Engine) []string {
	if w, ok := eng.(Waiver); ok {
		return w.WaivedParams()
	}
	return nil
}

// Search is a compiled search ready to be started.
type Search interface {
	resource.Resource
	Kind() Kind
	Definition() Definition
}

// Hypothesis is a recognition result.
type Hypothesis struct {
	Text string
	// Score is the log-domain path score.
	Score int32
	// Prob is the log-domain posterior probability, 0 when unknown.
	Prob int32
}

// Segment is one word of a hypothesis with its timing in frames.
type Segment struct {
	Word  string
	Start int
	End   int
	Ascr  int32
	Lscr  int32
	Lback int32
	Prob  int32
}

// AlignEntry is one node of a flat alignment. Parent and Child index into
// the level above and below; -1 means none. Child is the first child, the
// children of a node are contiguous.
type AlignEntry struct {
	Name     string
	Start    int
	Duration int
	Score    int32
	Parent   int
	Child    int
}

// AlignmentData holds the three levels of an alignment as flat vectors.
type AlignmentData struct {
	Words  []AlignEntry
	Phones []AlignEntry
	States []AlignEntry
}

// Engine is a recognition backend.
type Engine interface {
	resource.Resource

	// Configure applies decoder parameters. It is called once before any
	// other method and again on reinitialization, after which all
	// previously compiled searches are discarded by the session.
	Configure(p *params.Params) error

	// Compile builds a search from def. The returned search holds one
	// reference owned by the caller.
	Compile(def Definition) (Search, error)

	// Begin starts an utterance with s.
	Begin(s Search) error

	// Process scores samples and returns the number of frames searched.
	// With noSearch the audio is buffered and searched later. fullUtt
	// hints that samples hold the entire utterance.
	Process(samples []int16, noSearch, fullUtt bool) (int, error)

	// End finalizes the utterance, searching any buffered audio.
	End() error

	Hypothesis() (Hypothesis, bool)
	Segments() []Segment
	NBest(limit int) []Hypothesis
	Alignment() (*AlignmentData, bool)
	NFrames() int

	// ResetNoiseStats discards the noise estimate carried across
	// utterances.
	ResetNoiseStats()

	AddWord(word, phones string, update bool) error
	LookupWord(word string) (string, bool)
	LoadDict(path, fillerPath string) error
	SaveDict(path string) error
}

// Factory creates an engine. Factories for engines sharing a model return
// engines that retain it.
type Factory func(p *params.Params) (Engine, error)
