package graphfile

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// sortOps returns ops ordered so that each op follows every op it reads from,
// keeping declaration order where dependencies allow. It fails on cycles.
func sortOps(ops []*Op) ([]*Op, error) {
	byName := make(map[string]*Op, len(ops))
	for _, o := range ops {
		byName[o.Name] = o
	}

	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	sorted := make([]*Op, 0, len(ops))

	var visit func(o *Op) error
	visit = func(o *Op) error {
		visiting[o.Name] = true
		for _, ref := range o.Inputs {
			if ref.Root != RootOp {
				continue
			}
			if visiting[ref.Name] {
				return fmt.Errorf("cycle detected involving 'op.%s'", ref.Name)
			}
			if !visited[ref.Name] {
				if err := visit(byName[ref.Name]); err != nil {
					return err
				}
			}
		}
		delete(visiting, o.Name)
		visited[o.Name] = true
		sorted = append(sorted, o)
		return nil
	}

	for _, o := range ops {
		if !visited[o.Name] {
			if err := visit(o); err != nil {
				return nil, err
			}
		}
	}
	return sorted, nil
}

// formatTraversal converts an hcl.Traversal to a human-readable string.
func formatTraversal(t hcl.Traversal) string {
	var sb strings.Builder
	for _, part := range t {
		switch p := part.(type) {
		case hcl.TraverseRoot:
			sb.WriteString(p.Name)
		case hcl.TraverseAttr:
			sb.WriteRune('.')
			sb.WriteString(p.Name)
		case hcl.TraverseIndex:
			sb.WriteRune('[')
			switch p.Key.Type() {
			case cty.String:
				sb.WriteString(fmt.Sprintf("%q", p.Key.AsString()))
			case cty.Number:
				sb.WriteString(p.Key.AsBigFloat().Text('f', -1))
			default:
				sb.WriteString("...")
			}
			sb.WriteRune(']')
		default:
			sb.WriteString(".?")
		}
	}
	return sb.String()
}
