package op

import (
	"fmt"

	"github.com/vk/flowgrad/internal/tensor"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// CAddName is the registry name of the scaled-add operator.
const CAddName = "cadd"

// CAdd is the scaled add a + Alpha*b over two tensors of identical dtype and
// shape.
type CAdd struct {
	Alpha float64
}

// NewCAdd returns the kind with the conventional coefficient of 1.
func NewCAdd() *CAdd {
	return &CAdd{Alpha: 1}
}

func (k *CAdd) Name() string    { return CAddName }
func (k *CAdd) NumInputs() int  { return 2 }
func (k *CAdd) NumOutputs() int { return 1 }

func (k *CAdd) Infer(inputs []tensor.Meta) ([]tensor.Meta, error) {
	if err := CheckArity(k, len(inputs)); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if a.DType != b.DType {
		return nil, &TypeMismatchError{Op: k.Name(), Inputs: inputs, Reason: "dtypes differ"}
	}
	if !a.Shape.Equal(b.Shape) {
		return nil, &TypeMismatchError{Op: k.Name(), Inputs: inputs, Reason: "shapes differ"}
	}
	return []tensor.Meta{{DType: a.DType, Shape: a.Shape.Clone()}}, nil
}

func (k *CAdd) New(cfg Config) Operator {
	return &caddOp{alpha: k.Alpha, cfg: cfg}
}

type caddOp struct {
	alpha float64
	cfg   Config
}

func (o *caddOp) Compute(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 2 {
		return nil, &ArityMismatchError{Op: CAddName, What: "inputs", Want: 2, Got: len(inputs)}
	}
	a, b := inputs[0], inputs[1]

	var dst *tensor.Tensor
	switch {
	case o.cfg.Inplace(0):
		dst = a
	case o.cfg.Inplace(1):
		dst = b
	default:
		var err error
		if dst, err = tensor.New(a.DType(), a.Shape()); err != nil {
			return nil, err
		}
	}

	// Writing into b is safe: element i of the result only reads element i.
	if err := tensor.CAdd(dst, a, o.alpha, b); err != nil {
		return nil, fmt.Errorf("cadd: %w", err)
	}
	return []*tensor.Tensor{dst}, nil
}

// buildCAdd is the registry factory. The only parameter is alpha.
func buildCAdd(params map[string]cty.Value) (Kind, error) {
	k := NewCAdd()
	for name, v := range params {
		switch name {
		case "alpha":
			if err := gocty.FromCtyValue(v, &k.Alpha); err != nil {
				return nil, fmt.Errorf("cadd: invalid alpha: %w", err)
			}
		default:
			return nil, fmt.Errorf("cadd: unsupported parameter %q", name)
		}
	}
	return k, nil
}
