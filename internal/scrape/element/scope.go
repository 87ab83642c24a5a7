// Package element maps document nodes to Go values: one node to one object with
// Item, and sets of sibling nodes to ordered slices with List, Table and Dict.
package element

import (
	"errors"
	"fmt"
	"maps"
	"net/url"

	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/filters"
)

var (
	// ErrSkip can be returned by any rule to drop the current item without failing.
	ErrSkip = errors.New("skip item")
	// ErrCycle is returned when fields reference each other in a loop.
	ErrCycle = errors.New("field reference cycle")
)

// Source is what elements are extracted from, usually a browser page.
type Source interface {
	// Doc is the document root: a document.Node, or a mapping or row set.
	Doc() any
	URL() *url.URL
	Telemetry() telemetry.API
}

// Static is a Source over an already parsed document.
type Static struct {
	Root    any
	BaseURL *url.URL
	Tel     telemetry.API
}

func (s Static) Doc() any {
	return s.Root
}

func (s Static) URL() *url.URL {
	return s.BaseURL
}

func (s Static) Telemetry() telemetry.API {
	return telemetry.OrDefault(s.Tel)
}

// rooted is a Source whose document is a sub-node of another source.
type rooted struct {
	Source
	root any
}

func (r rooted) Doc() any {
	return r.root
}

type result struct {
	value any
	err   error
}

// Scope is an element bound to one node. It is the filters.Context every rule of
// the element is evaluated against.
type Scope struct {
	node    any
	src     Source
	env     map[string]any
	columns map[string]int

	rules      map[string]Rule
	values     map[string]result
	evaluating map[string]bool
}

func newScope(node any, src Source, env map[string]any, columns map[string]int) *Scope {
	return &Scope{
		node:       node,
		src:        src,
		env:        maps.Clone(env),
		columns:    columns,
		values:     map[string]result{},
		evaluating: map[string]bool{},
	}
}

func (s *Scope) Node() any {
	return s.node
}

func (s *Scope) Env(key string) (any, bool) {
	v, ok := s.env[key]
	return v, ok
}

// SetEnv adds a value to the environment of this item, it is visible to every
// rule evaluated after the call and to nested elements.
func (s *Scope) SetEnv(key string, value any) {
	if s.env == nil {
		s.env = map[string]any{}
	}
	s.env[key] = value
}

// Field evaluates (once) the rule of another field of the same item.
func (s *Scope) Field(name string) (any, error) {
	if r, ok := s.values[name]; ok {
		return r.value, r.err
	}
	rule, ok := s.rules[name]
	if !ok {
		return nil, &filters.ParseError{
			Filter: "Field",
			Path:   name,
			Err:    fmt.Errorf("%w: no such field", filters.ErrNotFound),
		}
	}
	if s.evaluating[name] {
		return nil, fmt.Errorf("%w: %s", ErrCycle, name)
	}

	s.evaluating[name] = true
	value, err := rule(s)
	delete(s.evaluating, name)

	s.values[name] = result{value: value, err: err}
	return value, err
}

func (s *Scope) Column(name string) (int, bool) {
	idx, ok := s.columns[name]
	return idx, ok
}

func (s *Scope) URL() *url.URL {
	return s.src.URL()
}

// Eval applies a filter to the bound node.
func (s *Scope) Eval(f filters.Filter) (any, error) {
	return f.Apply(s)
}

func (s *Scope) Source() Source {
	return s.src
}

func (s *Scope) Telemetry() telemetry.API {
	return telemetry.OrDefault(s.src.Telemetry())
}
