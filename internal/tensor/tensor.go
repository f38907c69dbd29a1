// Package tensor is the small dense tensor library the engine computes over.
// It covers creation, fill, raw data access and the scaled-add kernel used by
// the cadd operator. Storage is always a []float64; Float32 tensors round
// every stored element to float32 precision.
package tensor

import (
	"fmt"
	"strings"
)

// DType is a tensor element type.
type DType uint8

const (
	Float64 DType = iota
	Float32
)

// String returns a human-readable name for the type.
func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// ParseDType maps a dtype name back to its DType.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(s) {
	case "float64", "":
		return Float64, nil
	case "float32":
		return Float32, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// Shape is the dimension sizes of a tensor, e.g. [2, 3, 4].
type Shape []int

// NumElements returns the total number of elements (product of dimensions).
// A rank-0 shape holds a single scalar.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		if d <= 0 {
			return 0
		}
		n *= d
	}
	return n
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Validate rejects negative or zero dimensions.
func (s Shape) Validate() error {
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("invalid dimension %d at axis %d of shape %v", d, i, []int(s))
		}
	}
	return nil
}

func (s Shape) String() string {
	return fmt.Sprint([]int(s))
}

// Meta describes a tensor without its data. The dispatcher uses it to check
// operator inputs before anything runs.
type Meta struct {
	DType DType
	Shape Shape
}

func (m Meta) String() string {
	return fmt.Sprintf("%s%s", m.DType, m.Shape)
}

// Tensor is a dense, row-major tensor.
type Tensor struct {
	dtype DType
	shape Shape
	data  []float64
}

// New allocates a zero-filled tensor.
func New(dtype DType, shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	return &Tensor{
		dtype: dtype,
		shape: shape.Clone(),
		data:  make([]float64, shape.NumElements()),
	}, nil
}

// Full allocates a tensor with every element set to v.
func Full(dtype DType, shape Shape, v float64) (*Tensor, error) {
	t, err := New(dtype, shape)
	if err != nil {
		return nil, err
	}
	t.Fill(v)
	return t, nil
}

// FromSlice copies data into a new tensor of the given shape.
func FromSlice(dtype DType, shape Shape, data []float64) (*Tensor, error) {
	t, err := New(dtype, shape)
	if err != nil {
		return nil, err
	}
	if len(data) != len(t.data) {
		return nil, fmt.Errorf("data has %d elements, shape %v needs %d", len(data), shape, len(t.data))
	}
	for i, v := range data {
		t.data[i] = t.round(v)
	}
	return t, nil
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	v = t.round(v)
	for i := range t.data {
		t.data[i] = v
	}
}

func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

func (t *Tensor) Len() int { return len(t.data) }

// Meta returns the tensor's dtype and shape.
func (t *Tensor) Meta() Meta {
	return Meta{DType: t.dtype, Shape: t.shape.Clone()}
}

// Data exposes the underlying storage. Callers must not modify a tensor that
// has been published to the engine.
func (t *Tensor) Data() []float64 { return t.data }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	data := make([]float64, len(t.data))
	copy(data, t.data)
	return &Tensor{dtype: t.dtype, shape: t.shape.Clone(), data: data}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%s, shape=%v, data=%v)", t.dtype, t.shape, t.data)
}

func (t *Tensor) round(v float64) float64 {
	if t.dtype == Float32 {
		return float64(float32(v))
	}
	return v
}
