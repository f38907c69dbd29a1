// Package cell provides a write-once container for a single result.
//
// A Cell starts Empty and is settled exactly once, either Filled with a value
// or Failed with an error. Readers can poll with TryRead, block with Wait, or
// register an OnSettled callback. Settling closes an internal channel, so a
// write happens-before every read that observes it.
package cell

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTimeout is returned by bounded waits that expire before the cell settles.
var ErrTimeout = errors.New("timed out waiting for value")

// State is the lifecycle state of a Cell.
type State int32

const (
	Empty State = iota
	Filled
	Failed
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Filled:
		return "filled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// AlreadyFilledError reports a second write to a settled cell.
type AlreadyFilledError struct {
	State State
}

func (e *AlreadyFilledError) Error() string {
	return fmt.Sprintf("cell already settled (state %s)", e.State)
}

// Cell is a single-assignment container.
type Cell[T any] struct {
	state atomic.Int32
	done  chan struct{}

	mu      sync.Mutex
	value   T
	err     error
	waiters []func()
}

// New returns an empty cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// NewFilled returns a cell that already holds v.
func NewFilled[T any](v T) *Cell[T] {
	c := New[T]()
	c.MustFill(v)
	return c
}

// Fill stores v. It returns *AlreadyFilledError if the cell is not empty.
func (c *Cell[T]) Fill(v T) error {
	return c.settle(Filled, v, nil)
}

// Fail settles the cell with err. Readers receive err instead of a value.
func (c *Cell[T]) Fail(err error) error {
	if err == nil {
		return errors.New("cell: Fail called with nil error")
	}
	var zero T
	return c.settle(Failed, zero, err)
}

// MustFill is Fill for callers that guarantee single assignment by
// construction. A second write panics.
func (c *Cell[T]) MustFill(v T) {
	if err := c.Fill(v); err != nil {
		panic(err)
	}
}

// MustFail is the Fail counterpart of MustFill.
func (c *Cell[T]) MustFail(err error) {
	if e := c.Fail(err); e != nil {
		panic(e)
	}
}

func (c *Cell[T]) settle(s State, v T, err error) error {
	c.mu.Lock()
	if cur := State(c.state.Load()); cur != Empty {
		c.mu.Unlock()
		return &AlreadyFilledError{State: cur}
	}
	c.value = v
	c.err = err
	c.state.Store(int32(s))
	waiters := c.waiters
	c.waiters = nil
	close(c.done)
	c.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
	return nil
}

// State returns the current state without blocking.
func (c *Cell[T]) State() State {
	return State(c.state.Load())
}

// TryRead returns the value and true once the cell is filled, or the stored
// error once it has failed. It never blocks.
func (c *Cell[T]) TryRead() (T, bool, error) {
	switch c.State() {
	case Filled:
		return c.value, true, nil
	case Failed:
		var zero T
		return zero, true, c.err
	default:
		var zero T
		return zero, false, nil
	}
}

// Wait blocks until the cell settles or ctx is done. A context deadline is
// reported as ErrTimeout.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
	default:
		select {
		case <-c.done:
		case <-ctx.Done():
			var zero T
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			return zero, ctx.Err()
		}
	}
	v, _, err := c.TryRead()
	return v, err
}

// WaitTimeout is Wait bounded by d.
func (c *Cell[T]) WaitTimeout(d time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return c.Wait(ctx)
}

// Done returns a channel closed when the cell settles.
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// OnSettled runs fn once the cell has settled. If it already has, fn runs
// synchronously on the calling goroutine; otherwise it runs on the goroutine
// that settles the cell.
func (c *Cell[T]) OnSettled(fn func()) {
	c.mu.Lock()
	if c.State() != Empty {
		c.mu.Unlock()
		fn()
		return
	}
	c.waiters = append(c.waiters, fn)
	c.mu.Unlock()
}
