package element

import (
	"errors"
	"fmt"

	"scrapekit/internal/components/assert"
	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/document"
	"scrapekit/internal/scrape/filters"
)

const (
	report_list_duplicate = "list.duplicate"
	report_list_items     = "list.items"
)

// ErrDuplicate is returned when two items of a list share the same key.
var ErrDuplicate = errors.New("duplicate item")

// Collection is anything that extracts an ordered set of T from a source.
type Collection[T any] interface {
	Extract(src Source, env map[string]any) (Result[T], error)
}

// Result is the output of one collection extraction.
type Result[T any] struct {
	Items []T
	// Next is the value of the NextPage rule, nil when there is no next page.
	Next any
}

// Store decides which objects a list emits.
type Store[T any] interface {
	// Add records obj and returns the objects to emit now.
	Add(obj T) ([]T, error)
	// Flush returns the objects held back until the end of the iteration.
	Flush() []T
}

// DedupStore emits objects as they come and drops, or rejects, those whose
// key was already seen. Objects with an empty key are never deduplicated.
type DedupStore[T any] struct {
	Key              func(obj T) string
	IgnoreDuplicates bool
	FlushAtEnd       bool

	tel     telemetry.API
	seen    map[string]bool
	pending []T
}

func (d *DedupStore[T]) Add(obj T) ([]T, error) {
	if d.Key != nil {
		key := d.Key(obj)
		if key != "" && d.seen[key] {
			if !d.IgnoreDuplicates {
				return nil, fmt.Errorf("%w: %q", ErrDuplicate, key)
			}
			telemetry.OrDefault(d.tel).ReportWarning(report_list_duplicate, key)
			return nil, nil
		}
		if key != "" {
			if d.seen == nil {
				d.seen = map[string]bool{}
			}
			d.seen[key] = true
		}
	}
	if d.FlushAtEnd {
		d.pending = append(d.pending, obj)
		return nil, nil
	}
	return []T{obj}, nil
}

func (d *DedupStore[T]) Flush() []T {
	out := d.pending
	d.pending = nil
	return out
}

// MergeStore accumulates objects by key and emits them, in order of first
// appearance, once the iteration is done. It serves lists where one logical
// entity is spread over several nodes.
type MergeStore[T any] struct {
	Key   func(obj T) string
	Merge func(existing, obj T) T

	order []string
	byKey map[string]T
}

func (m *MergeStore[T]) Add(obj T) ([]T, error) {
	key := m.Key(obj)
	if m.byKey == nil {
		m.byKey = map[string]T{}
	}
	existing, ok := m.byKey[key]
	if !ok {
		m.order = append(m.order, key)
		m.byKey[key] = obj
		return nil, nil
	}
	m.byKey[key] = m.Merge(existing, obj)
	return nil, nil
}

func (m *MergeStore[T]) Flush() []T {
	out := make([]T, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.byKey[key])
	}
	m.order = nil
	m.byKey = nil
	return out
}

// List extracts one object per node selected by ItemXPath.
type List[T any] struct {
	// ItemXPath selects the item nodes relative to the document root. Empty
	// means the root itself is a set of nodes.
	ItemXPath string
	Items     *Item[T]

	// Condition skips the whole list when it returns false.
	Condition func(s *Scope) (bool, error)
	// Parse runs once before the items, values it puts in the environment are
	// seen by every item.
	Parse func(s *Scope) error

	// Key identifies duplicates for the default store.
	Key              func(obj T) string
	IgnoreDuplicates bool
	FlushAtEnd       bool
	// Store creates the store of one extraction, it replaces the default one.
	Store func() Store[T]

	// NextPage evaluates to what the next page is, see Result.Next.
	NextPage filters.Filter
}

func (l List[T]) Extract(src Source, env map[string]any) (Result[T], error) {
	return l.run(src, env, nil, l.selectNodes)
}

func (l List[T]) selectNodes(root any) ([]any, error) {
	if l.ItemXPath == "" {
		switch t := root.(type) {
		case []document.Node:
			return toAny(t), nil
		case []any:
			return t, nil
		case nil:
			return nil, nil
		}
		return []any{root}, nil
	}

	node, ok := root.(document.Node)
	if !ok {
		return nil, fmt.Errorf("item xpath %q: %T is not a tree", l.ItemXPath, root)
	}
	nodes, err := node.Query(l.ItemXPath)
	if err != nil {
		return nil, fmt.Errorf("item xpath %q: %w", l.ItemXPath, err)
	}
	return toAny(nodes), nil
}

func toAny(nodes []document.Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}

func (l List[T]) newStore(tel telemetry.API) Store[T] {
	if l.Store != nil {
		return l.Store()
	}
	return &DedupStore[T]{
		Key:              l.Key,
		IgnoreDuplicates: l.IgnoreDuplicates,
		FlushAtEnd:       l.FlushAtEnd,
		tel:              tel,
	}
}

func (l List[T]) run(
	src Source,
	env map[string]any,
	columns map[string]int,
	selectNodes func(root any) ([]any, error),
) (Result[T], error) {
	assert.NotNil(l.Items)

	root := src.Doc()
	scope := newScope(root, src, env, columns)

	if l.Condition != nil {
		keep, err := l.Condition(scope)
		if err != nil && !errors.Is(err, ErrSkip) {
			return Result[T]{}, fmt.Errorf("%s list: condition: %w", l.Items.name, err)
		}
		if err != nil || !keep {
			return Result[T]{}, nil
		}
	}
	if l.Parse != nil {
		err := l.Parse(scope)
		if err != nil {
			return Result[T]{}, fmt.Errorf("%s list: parse: %w", l.Items.name, err)
		}
	}

	nodes, err := selectNodes(root)
	if err != nil {
		return Result[T]{}, err
	}

	store := l.newStore(scope.Telemetry())
	var items []T
	for _, node := range nodes {
		obj, ok, err := l.Items.extract(node, src, scope.env, columns)
		if err != nil {
			return Result[T]{}, err
		}
		if !ok {
			continue
		}
		emit, err := store.Add(obj)
		if err != nil {
			return Result[T]{}, fmt.Errorf("%s list: %w", l.Items.name, err)
		}
		items = append(items, emit...)
	}
	items = append(items, store.Flush()...)

	scope.Telemetry().ReportCount(report_list_items, int64(len(items)))

	next, err := nextPage(l.NextPage, scope)
	if err != nil {
		return Result[T]{}, fmt.Errorf("%s list: next page: %w", l.Items.name, err)
	}
	return Result[T]{Items: items, Next: next}, nil
}

// nextPage evaluates the next page rule, a missing link or attribute means the last page.
func nextPage(rule filters.Filter, scope *Scope) (any, error) {
	if rule == nil {
		return nil, nil
	}
	next, err := rule.Apply(scope)
	if errors.Is(err, filters.ErrNotFound) || errors.Is(err, filters.ErrAttributeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if filters.IsEmpty(next) {
		return nil, nil
	}
	if s, ok := next.(string); ok && s == "" {
		return nil, nil
	}
	return next, nil
}
