package graphfile

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/flowgrad/internal/ctxlog"
	"github.com/vk/flowgrad/internal/fsutil"
	"github.com/vk/flowgrad/internal/tensor"
	"github.com/zclconf/go-cty/cty"
)

// Load reads and decodes the graph at path. A directory is loaded as one
// graph made of every .hcl file below it.
func Load(ctx context.Context, path string) (*File, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading graph file.", "path", path)

	paths, err := fsutil.ResolvePath(path, ".hcl")
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(paths))

	parser := hclparse.NewParser()
	files := make([]*hcl.File, 0, len(paths))
	for _, p := range paths {
		hclFile, diags := parser.ParseHCLFile(p)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", p, diags)
		}
		files = append(files, hclFile)
	}
	return decode(ctx, path, hcl.MergeFiles(files))
}

// Parse decodes a graph definition held in memory. filename is only used in
// diagnostics.
func Parse(ctx context.Context, src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decode(ctx, filename, hclFile.Body)
}

func decode(ctx context.Context, filename string, body hcl.Body) (*File, error) {
	logger := ctxlog.FromContext(ctx)

	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	f := &File{}
	if root.Engine != nil {
		engine, err := translateEngine(root.Engine)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		f.Engine = engine
	}

	tensors := make(map[string]*Tensor, len(root.Tensors))
	for _, tb := range root.Tensors {
		if _, dup := tensors[tb.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate tensor %q", filename, tb.Name)
		}
		t, err := translateTensor(tb)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		tensors[t.Name] = t
		f.Tensors = append(f.Tensors, t)
	}

	ops := make([]*Op, 0, len(root.Ops))
	seen := make(map[string]bool, len(root.Ops))
	for _, ob := range root.Ops {
		if seen[ob.Name] {
			return nil, fmt.Errorf("%s: duplicate op %q", filename, ob.Name)
		}
		seen[ob.Name] = true
		o, diags := translateOp(ob)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode op %q in %s: %w", ob.Name, filename, diags)
		}
		ops = append(ops, o)
	}

	if err := checkRefs(tensors, ops); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	ordered, err := sortOps(ops)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	f.Ops = ordered

	logger.Debug("Graph file decoded.", "file", filename, "tensors", len(f.Tensors), "ops", len(f.Ops))
	return f, nil
}

func translateEngine(b *engineBlock) (Engine, error) {
	var e Engine
	if b.Workers != nil {
		if *b.Workers < 1 {
			return e, fmt.Errorf("engine: workers must be positive, got %d", *b.Workers)
		}
		e.Workers = *b.Workers
	}
	if b.ReadTimeout != nil {
		d, err := time.ParseDuration(*b.ReadTimeout)
		if err != nil {
			return e, fmt.Errorf("engine: invalid read_timeout: %w", err)
		}
		if d <= 0 {
			return e, fmt.Errorf("engine: read_timeout must be positive, got %s", d)
		}
		e.ReadTimeout = d
	}
	return e, nil
}

func translateTensor(b *tensorBlock) (*Tensor, error) {
	t := &Tensor{
		Name:  b.Name,
		Shape: tensor.Shape(b.Shape),
		Data:  b.Data,
	}
	if err := t.Shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor %q: %w", b.Name, err)
	}
	if b.DType != nil {
		dt, err := tensor.ParseDType(*b.DType)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", b.Name, err)
		}
		t.DType = dt
	}
	if b.Fill != nil && b.Data != nil {
		return nil, fmt.Errorf("tensor %q: fill and data are mutually exclusive", b.Name)
	}
	if b.Fill != nil {
		t.Fill = *b.Fill
	}
	if b.Data != nil && len(b.Data) != t.Shape.NumElements() {
		return nil, fmt.Errorf("tensor %q: data has %d elements, shape %s needs %d", b.Name, len(b.Data), t.Shape, t.Shape.NumElements())
	}
	if b.RequiresGradient != nil {
		t.RequiresGradient = *b.RequiresGradient
	}
	return t, nil
}

func translateOp(b *opBlock) (*Op, hcl.Diagnostics) {
	o := &Op{
		Kind:         b.Kind,
		Name:         b.Name,
		AllowInplace: b.AllowInplace,
		Params:       make(map[string]cty.Value),
		Range:        b.Inputs.Range(),
	}

	refs, diags := parseRefs(b.Inputs)
	o.Inputs = refs

	attrs, attrDiags := b.Remain.JustAttributes()
	diags = append(diags, attrDiags...)
	for name, attr := range attrs {
		val, valDiags := attr.Expr.Value(nil)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() {
			o.Params[name] = val
		}
	}
	return o, diags
}

// parseRefs turns a list expression of traversals into references.
func parseRefs(expr hcl.Expression) ([]Ref, hcl.Diagnostics) {
	exprs, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, diags
	}

	refs := make([]Ref, 0, len(exprs))
	for _, e := range exprs {
		traversal, travDiags := hcl.AbsTraversalForExpr(e)
		if travDiags.HasErrors() {
			diags = append(diags, travDiags...)
			continue
		}
		ref, ok := parseRef(traversal)
		if !ok {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid input reference",
				Detail:   fmt.Sprintf("Inputs must be tensor.<name>, op.<name> or op.<name>[index], got %s.", formatTraversal(traversal)),
				Subject:  e.Range().Ptr(),
			})
			continue
		}
		refs = append(refs, ref)
	}
	return refs, diags
}

func parseRef(traversal hcl.Traversal) (Ref, bool) {
	if len(traversal) < 2 || len(traversal) > 3 {
		return Ref{}, false
	}
	root := traversal.RootName()
	if root != RootTensor && root != RootOp {
		return Ref{}, false
	}
	nameAttr, ok := traversal[1].(hcl.TraverseAttr)
	if !ok {
		return Ref{}, false
	}
	ref := Ref{Root: root, Name: nameAttr.Name}

	if len(traversal) == 3 {
		indexer, ok := traversal[2].(hcl.TraverseIndex)
		if !ok || root != RootOp || indexer.Key.Type() != cty.Number {
			return Ref{}, false
		}
		bf := indexer.Key.AsBigFloat()
		if !bf.IsInt() || bf.Sign() < 0 {
			return Ref{}, false
		}
		i, _ := bf.Int64()
		ref.Index = int(i)
	}
	return ref, true
}

func checkRefs(tensors map[string]*Tensor, ops []*Op) error {
	byName := make(map[string]*Op, len(ops))
	for _, o := range ops {
		byName[o.Name] = o
	}
	for _, o := range ops {
		for i, ref := range o.Inputs {
			switch ref.Root {
			case RootTensor:
				if _, ok := tensors[ref.Name]; !ok {
					return fmt.Errorf("op %q: input %d refers to undeclared %s", o.Name, i, ref)
				}
			case RootOp:
				if _, ok := byName[ref.Name]; !ok {
					return fmt.Errorf("op %q: input %d refers to undeclared %s", o.Name, i, ref)
				}
			}
		}
	}
	return nil
}
