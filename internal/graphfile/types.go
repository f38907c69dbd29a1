package graphfile

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/flowgrad/internal/tensor"
	"github.com/zclconf/go-cty/cty"
)

// Reference roots accepted in op inputs.
const (
	RootTensor = "tensor"
	RootOp     = "op"
)

// File is a decoded and validated graph definition.
type File struct {
	Engine  Engine
	Tensors []*Tensor
	// Ops are sorted so that every op comes after the ops it references.
	Ops []*Op
}

// Engine holds the optional engine block. Zero values mean "not set".
type Engine struct {
	Workers     int
	ReadTimeout time.Duration
}

// Tensor is a source tensor declaration.
type Tensor struct {
	Name             string
	DType            tensor.DType
	Shape            tensor.Shape
	Fill             float64
	Data             []float64
	RequiresGradient bool
}

// Build materializes the declared tensor.
func (t *Tensor) Build() (*tensor.Tensor, error) {
	if t.Data != nil {
		return tensor.FromSlice(t.DType, t.Shape, t.Data)
	}
	return tensor.Full(t.DType, t.Shape, t.Fill)
}

// Op is an operator invocation.
type Op struct {
	Kind         string
	Name         string
	Inputs       []Ref
	AllowInplace []bool
	Params       map[string]cty.Value
	Range        hcl.Range
}

// Ref points at a tensor or at one output of an op.
type Ref struct {
	Root  string
	Name  string
	Index int
}

func (r Ref) String() string {
	if r.Root == RootOp && r.Index > 0 {
		return fmt.Sprintf("%s.%s[%d]", r.Root, r.Name, r.Index)
	}
	return r.Root + "." + r.Name
}

// Key identifies the referenced declaration, ignoring the output index.
func (r Ref) Key() string {
	return r.Root + "." + r.Name
}

// fileRoot is used to decode all top-level blocks of a graph file.
type fileRoot struct {
	Engine  *engineBlock   `hcl:"engine,block"`
	Tensors []*tensorBlock `hcl:"tensor,block"`
	Ops     []*opBlock     `hcl:"op,block"`
}

type engineBlock struct {
	Workers     *int    `hcl:"workers,optional"`
	ReadTimeout *string `hcl:"read_timeout,optional"`
}

type tensorBlock struct {
	Name             string    `hcl:"name,label"`
	Shape            []int     `hcl:"shape"`
	DType            *string   `hcl:"dtype,optional"`
	Fill             *float64  `hcl:"fill,optional"`
	Data             []float64 `hcl:"data,optional"`
	RequiresGradient *bool     `hcl:"requires_gradient,optional"`
}

type opBlock struct {
	Kind         string         `hcl:"kind,label"`
	Name         string         `hcl:"name,label"`
	Inputs       hcl.Expression `hcl:"inputs"`
	AllowInplace []bool         `hcl:"allow_inplace,optional"`
	Remain       hcl.Body       `hcl:",remain"`
}
