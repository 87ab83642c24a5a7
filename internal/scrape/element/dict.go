package element

import (
	"maps"
	"slices"

	"scrapekit/internal/scrape/filters"
)

// Wildcard in an item path expands every value of a list or mapping.
const Wildcard = "*"

// Dict is a List over a mapping document: ItemPath walks to the items instead
// of an XPath selecting them.
type Dict[T any] struct {
	List[T]
	ItemPath []string
}

func (d Dict[T]) Extract(src Source, env map[string]any) (Result[T], error) {
	return d.run(src, env, nil, func(root any) ([]any, error) {
		return walkItems(root, d.ItemPath), nil
	})
}

// walkItems returns the items found at path under v, in document order. Lists
// give their elements, mappings their values in key order. A missing key
// gives no items.
func walkItems(v any, path []string) []any {
	if len(path) == 0 {
		return children(v)
	}
	seg, rest := path[0], path[1:]
	if seg == Wildcard {
		if len(rest) == 0 {
			return children(v)
		}
		var out []any
		for _, child := range children(v) {
			out = append(out, walkItems(child, rest)...)
		}
		return out
	}
	next, ok := filters.Lookup(v, seg)
	if !ok {
		return nil
	}
	return walkItems(next, rest)
}

func children(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		keys := slices.Sorted(maps.Keys(t))
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = t[k]
		}
		return out
	case nil:
		return nil
	}
	return []any{v}
}
