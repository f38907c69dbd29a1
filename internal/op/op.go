// Package op defines the contract every operator kind satisfies and the
// operators shipped with the engine.
//
// A Kind is the static description used while the graph is being built: it
// fixes input and output arity and infers output metadata from input
// metadata, which is where type mismatches are caught. Kind.New instantiates
// an Operator for a single dispatch with its per-input configuration; the
// Operator's Compute runs exactly once on a worker.
package op

import (
	"fmt"

	"github.com/vk/flowgrad/internal/tensor"
)

// Config is the per-dispatch configuration of an operator instance. Both
// slices have one entry per input.
type Config struct {
	// RequiresGradient mirrors the requires-gradient flag of each input.
	RequiresGradient []bool
	// AllowInplace permits the operator to overwrite input i instead of
	// allocating output storage. The dispatcher only sets an entry when the
	// input is not visible to anyone else.
	AllowInplace []bool
}

// Inplace reports whether input i may be overwritten.
func (c Config) Inplace(i int) bool {
	return i < len(c.AllowInplace) && c.AllowInplace[i]
}

// Kind describes an operator type.
type Kind interface {
	// Name is the registry name of the kind, e.g. "cadd".
	Name() string
	NumInputs() int
	NumOutputs() int
	// Infer returns the metadata of every output for the given inputs, or a
	// *TypeMismatchError when the inputs cannot be combined.
	Infer(inputs []tensor.Meta) ([]tensor.Meta, error)
	// New instantiates the operator for one dispatch.
	New(cfg Config) Operator
}

// Operator is a configured operator instance.
type Operator interface {
	// Compute produces NumOutputs tensors from the resolved inputs. It must
	// not mutate an input unless the matching Config.AllowInplace entry is set.
	Compute(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// RequiresGradient is the propagation rule shared by all operators: an output
// requires a gradient if any input does.
func RequiresGradient(inputs []bool) bool {
	for _, rg := range inputs {
		if rg {
			return true
		}
	}
	return false
}

// ArityMismatchError is returned when a dispatch supplies the wrong number of
// inputs or in-place flags for a kind.
type ArityMismatchError struct {
	Op   string
	What string
	Want int
	Got  int
}

func (e *ArityMismatchError) Error() string {
	return fmt.Sprintf("op %s: expected %d %s, got %d", e.Op, e.Want, e.What, e.Got)
}

// TypeMismatchError is returned when input metadata is incompatible with the
// operator.
type TypeMismatchError struct {
	Op     string
	Inputs []tensor.Meta
	Reason string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("op %s: incompatible inputs %v: %s", e.Op, e.Inputs, e.Reason)
}

// CheckArity validates the number of inputs against the kind.
func CheckArity(k Kind, numInputs int) error {
	if numInputs != k.NumInputs() {
		return &ArityMismatchError{Op: k.Name(), What: "inputs", Want: k.NumInputs(), Got: numInputs}
	}
	return nil
}
