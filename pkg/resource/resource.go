// Package resource provides reference-counted ownership handles for engine
// objects such as decoding sessions, search models and alignments.
//
// Every engine object that can be shared carries its own reference count and
// implements [Resource]. A [Handle] is a token over such an object: an owning
// handle holds exactly one reference and gives it back on Close, a borrowed
// handle holds none and never releases. Sharing is always explicit through
// [Handle.Retain], which adds a reference and returns a new owning handle.
//
// The invariant maintained across all handles of one object is that the
// object is freed exactly once, when the last owning handle is closed.
// Borrowed handles must not outlive the owning handle they were taken from.
package resource

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// ErrInitialization is returned when a resource could not be created, either
// because its constructor failed or because it produced no object.
var ErrInitialization = errors.New("resource: initialization failed")

// ErrOverRelease is returned by [RefCount.Release] when the count is already
// zero. It always indicates a bookkeeping bug in the caller.
var ErrOverRelease = errors.New("resource: released more often than retained")

// ErrClosed is returned by operations on a handle that has been closed.
var ErrClosed = errors.New("resource: handle closed")

// Resource is implemented by reference-counted engine objects.
type Resource interface {
	// Retain adds one reference.
	Retain()

	// Release drops one reference and frees the object when the count
	// reaches zero. The error reports a failure of the free itself.
	Release() error
}

// RefCount is a thread-safe reference counter that calls a free function
// exactly once when the count drops to zero. Engine objects embed a
// *RefCount to satisfy [Resource].
type RefCount struct {
	n     atomic.Int64
	freed atomic.Bool
	free  func() error
}

// NewRefCount returns a counter holding one reference. free may be nil.
func NewRefCount(free func() error) *RefCount {
	rc := &RefCount{free: free}
	rc.n.Store(1)
	return rc
}

// Retain adds one reference.
func (rc *RefCount) Retain() { rc.n.Add(1) }

// Release drops one reference and runs the free function when the count
// reaches zero.
func (rc *RefCount) Release() error {
	n := rc.n.Add(-1)
	switch {
	case n > 0:
		return nil
	case n < 0:
		rc.n.Add(1)
		return ErrOverRelease
	}
	if !rc.freed.CompareAndSwap(false, true) {
		return ErrOverRelease
	}
	if rc.free != nil {
		return rc.free()
	}
	return nil
}

// Count returns the current number of references.
func (rc *RefCount) Count() int64 { return rc.n.Load() }

// Freed reports whether the free function has run.
func (rc *RefCount) Freed() bool { return rc.freed.Load() }

// Handle is an ownership token over a [Resource].
//
// The zero value is not usable; construct handles with [New] or [Borrow].
// Close is safe to call more than once and from multiple goroutines.
type Handle[T Resource] struct {
	res    T
	owns   bool
	once   sync.Once
	closed atomic.Bool
	err    error
}

// New wraps the result of a constructor call in an owning handle. The handle
// takes over the single reference the constructor returned.
//
// It returns an error wrapping [ErrInitialization] if err is non-nil or res
// is nil.
func New[T Resource](res T, err error) (*Handle[T], error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if isNil(res) {
		return nil, fmt.Errorf("%w: constructor returned no object", ErrInitialization)
	}
	return &Handle[T]{res: res, owns: true}, nil
}

// Borrow returns a non-owning handle over res. Closing it never releases res.
// The caller guarantees that an owning handle outlives the returned one.
func Borrow[T Resource](res T) *Handle[T] {
	return &Handle[T]{res: res}
}

// Retain adds a reference to the underlying resource and returns a new owning
// handle for it. h keeps its own ownership state. Retaining a closed handle
// returns nil.
func (h *Handle[T]) Retain() *Handle[T] {
	if h.closed.Load() {
		return nil
	}
	h.res.Retain()
	return &Handle[T]{res: h.res, owns: true}
}

// Get returns the underlying resource.
func (h *Handle[T]) Get() T { return h.res }

// Owns reports whether closing h releases a reference.
func (h *Handle[T]) Owns() bool { return h.owns }

// Closed reports whether Close has been called.
func (h *Handle[T]) Closed() bool { return h.closed.Load() }

// Close gives back the reference held by an owning handle. Subsequent calls
// return the result of the first one.
func (h *Handle[T]) Close() error {
	h.once.Do(func() {
		h.closed.Store(true)
		if h.owns {
			h.err = h.res.Release()
		}
	})
	return h.err
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
