package decoder

import (
	"errors"
	"fmt"
	"iter"

	"github.com/mmende/pocketsphinx-go/pkg/engine"
)

// Level is the depth of a node in an alignment.
type Level int

const (
	LevelWord Level = iota
	LevelPhone
	LevelState
)

func (l Level) String() string {
	switch l {
	case LevelWord:
		return "word"
	case LevelPhone:
		return "phone"
	case LevelState:
		return "state"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// AlignmentTree is a word / phone / state time alignment. Every word owns an
// ordered run of phones and every phone an ordered run of states whose frame
// ranges partition the parent's range.
//
// Until a state-level pass has run (see [Decoder.SetAlignment]) the phone and
// state durations are estimates derived from the word durations.
type AlignmentTree struct {
	data      *engine.AlignmentData
	frameRate int
}

func newAlignmentTree(data *engine.AlignmentData, frameRate int) *AlignmentTree {
	if frameRate <= 0 {
		frameRate = engine.FrameRate
	}
	return &AlignmentTree{data: data, frameRate: frameRate}
}

func (t *AlignmentTree) entries(l Level) []engine.AlignEntry {
	switch l {
	case LevelWord:
		return t.data.Words
	case LevelPhone:
		return t.data.Phones
	case LevelState:
		return t.data.States
	}
	return nil
}

// Words yields the word nodes in time order. The sequence can be iterated
// more than once.
func (t *AlignmentTree) Words() iter.Seq[AlignmentNode] { return t.level(LevelWord) }

// Phones yields every phone node in time order.
func (t *AlignmentTree) Phones() iter.Seq[AlignmentNode] { return t.level(LevelPhone) }

// States yields every state node in time order.
func (t *AlignmentTree) States() iter.Seq[AlignmentNode] { return t.level(LevelState) }

func (t *AlignmentTree) level(l Level) iter.Seq[AlignmentNode] {
	return func(yield func(AlignmentNode) bool) {
		c := t.Cursor(l)
		for c.Next() {
			if !yield(c.Node()) {
				return
			}
		}
	}
}

// Len returns the number of nodes at a level.
func (t *AlignmentTree) Len(l Level) int { return len(t.entries(l)) }

// Validate checks that the children of every word and phone are contiguous,
// in order, and exactly cover the parent's frames.
func (t *AlignmentTree) Validate() error {
	var errs []error
	for _, l := range []Level{LevelWord, LevelPhone} {
		for n := range t.level(l) {
			if err := n.checkChildren(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// AlignmentNode is one word, phone or state of an alignment. Start and
// Duration are in frames.
type AlignmentNode struct {
	tree  *AlignmentTree
	index int

	Name     string
	Level    Level
	Start    int
	Duration int
	// Score is the log-domain acoustic score.
	Score int32
}

// End returns the first frame after the node.
func (n AlignmentNode) End() int { return n.Start + n.Duration }

// Time returns the start and end of the node in seconds.
func (n AlignmentNode) Time() (start, end float64) {
	rate := float64(n.tree.frameRate)
	return float64(n.Start) / rate, float64(n.End()) / rate
}

// Children yields the phones of a word or the states of a phone. It reports
// false for states.
func (n AlignmentNode) Children() (iter.Seq[AlignmentNode], bool) {
	if n.Level == LevelState {
		return nil, false
	}
	return func(yield func(AlignmentNode) bool) {
		c := n.childCursor()
		for c.Next() {
			if !yield(c.Node()) {
				return
			}
		}
	}, true
}

func (n AlignmentNode) childCursor() *Cursor {
	child := n.Level + 1
	entries := n.tree.entries(child)
	first := n.tree.entries(n.Level)[n.index].Child
	if first < 0 || first >= len(entries) {
		return &Cursor{tree: n.tree, level: child, pos: -1, state: CursorExhausted}
	}
	end := first
	for end < len(entries) && entries[end].Parent == n.index {
		end++
	}
	return &Cursor{tree: n.tree, level: child, lo: first, hi: end, pos: first - 1}
}

func (n AlignmentNode) checkChildren() error {
	c := n.childCursor()
	next, count := n.Start, 0
	for c.Next() {
		ch := c.Node()
		if ch.Start != next {
			return fmt.Errorf("%w: %s %q child %q starts at %d, want %d",
				ErrInvalidAlignment, n.Level, n.Name, ch.Name, ch.Start, next)
		}
		next = ch.End()
		count++
	}
	if count == 0 {
		return fmt.Errorf("%w: %s %q has no children", ErrInvalidAlignment, n.Level, n.Name)
	}
	if next != n.End() {
		return fmt.Errorf("%w: %s %q children end at %d, want %d",
			ErrInvalidAlignment, n.Level, n.Name, next, n.End())
	}
	return nil
}

// CursorState is the position of a Cursor.
type CursorState int

const (
	CursorBeforeFirst CursorState = iota
	CursorPositioned
	CursorExhausted
)

func (s CursorState) String() string {
	switch s {
	case CursorBeforeFirst:
		return "before-first"
	case CursorPositioned:
		return "positioned"
	case CursorExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("CursorState(%d)", int(s))
	}
}

// Cursor walks a contiguous run of alignment entries at one level. A new
// cursor is before the first entry; Next moves it forward and reports
// whether it is positioned on an entry.
type Cursor struct {
	tree   *AlignmentTree
	level  Level
	lo, hi int
	pos    int
	state  CursorState
}

// Cursor returns a cursor over all nodes of level l.
func (t *AlignmentTree) Cursor(l Level) *Cursor {
	return &Cursor{tree: t, level: l, hi: len(t.entries(l)), pos: -1}
}

// State returns the cursor position.
func (c *Cursor) State() CursorState { return c.state }

// Next advances the cursor. Once it returns false the cursor stays
// exhausted.
func (c *Cursor) Next() bool {
	if c.state == CursorExhausted {
		return false
	}
	if c.state == CursorBeforeFirst {
		c.pos = c.lo
	} else {
		c.pos++
	}
	if c.pos >= c.hi {
		c.state = CursorExhausted
		return false
	}
	c.state = CursorPositioned
	return true
}

// Node returns the node under the cursor. It panics unless the cursor is
// positioned.
func (c *Cursor) Node() AlignmentNode {
	if c.state != CursorPositioned {
		panic("decoder: alignment cursor is " + c.state.String())
	}
	e := c.tree.entries(c.level)[c.pos]
	return AlignmentNode{
		tree:     c.tree,
		index:    c.pos,
		Name:     e.Name,
		Level:    c.level,
		Start:    e.Start,
		Duration: e.Duration,
		Score:    e.Score,
	}
}
