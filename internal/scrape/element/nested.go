package element

import (
	"fmt"

	"scrapekit/internal/scrape/document"
	"scrapekit/internal/scrape/filters"
)

func scopeOf(ctx filters.Context) (*Scope, error) {
	s, ok := ctx.(*Scope)
	if !ok {
		return nil, fmt.Errorf("nested element evaluated outside of an element (%T)", ctx)
	}
	return s, nil
}

// firstOf unwraps a node-set to its first node, other values are kept whole.
func firstOf(v any) any {
	if nodes, ok := v.([]document.Node); ok && len(nodes) > 0 {
		return nodes[0]
	}
	return v
}

// Nested runs item against the node selected by sel, or the current node when
// sel is nil, and evaluates to the object. A skipped nested item evaluates to
// filters.NotAvailable so the field keeps its initial value.
func Nested[T any](item *Item[T], sel filters.Filter) filters.Filter {
	return filters.Func(func(ctx filters.Context) (any, error) {
		s, err := scopeOf(ctx)
		if err != nil {
			return nil, err
		}
		node := s.node
		if sel != nil {
			v, err := sel.Apply(s)
			if err != nil {
				return nil, err
			}
			if filters.IsEmpty(v) {
				return filters.NotAvailable, nil
			}
			node = firstOf(v)
		}

		obj, ok, err := item.extract(node, s.src, s.env, s.columns)
		if err != nil {
			return nil, err
		}
		if !ok {
			return filters.NotAvailable, nil
		}
		return obj, nil
	})
}

// NestedList runs a collection with the current node, or the node selected by
// sel, as its document root and evaluates to the []T it extracts.
func NestedList[T any](c Collection[T], sel filters.Filter) filters.Filter {
	return filters.Func(func(ctx filters.Context) (any, error) {
		s, err := scopeOf(ctx)
		if err != nil {
			return nil, err
		}
		root := s.node
		if sel != nil {
			root, err = sel.Apply(s)
			if err != nil {
				return nil, err
			}
			root = firstOf(root)
		}

		res, err := c.Extract(rooted{Source: s.src, root: root}, s.env)
		if err != nil {
			return nil, err
		}
		if res.Items == nil {
			return []T{}, nil
		}
		return res.Items, nil
	})
}
