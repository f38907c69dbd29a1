package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when dispatching on a graph that is shutting down.
	ErrClosed = errors.New("graph is shut down")
	// ErrForeignNode is returned when a dispatch input was not created by the
	// graph it is dispatched on.
	ErrForeignNode = errors.New("node belongs to a different graph")
	// ErrDonated is returned when reading or reusing a node whose storage was
	// handed to an in-place operator.
	ErrDonated = errors.New("node storage was donated to an in-place operator")
)

// ComputeError is the root cause of a failed unit: its operator returned an
// error or panicked.
type ComputeError struct {
	Op   string
	Unit int64
	Err  error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("op %s (unit %d) failed: %v", e.Op, e.Unit, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

// UpstreamError is the failure of a unit that never ran because one of its
// inputs failed.
type UpstreamError struct {
	Op    string
	Unit  int64
	Input string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("op %s (unit %d) skipped due to upstream failure of node %s: %v", e.Op, e.Unit, e.Input, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
