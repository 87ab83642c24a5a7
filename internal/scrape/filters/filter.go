// Package filters contains the chainable value extractors that elements use to
// turn document nodes into typed field values.
package filters

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"scrapekit/internal/scrape/document"

	"github.com/shopspring/decimal"
)

// Context is what a filter is evaluated against.
type Context interface {
	// Node is the current node: a document.Node, a mapping value, or a row.
	Node() any
	Env(key string) (any, bool)
	// Field returns the value of a sibling field of the enclosing element.
	Field(name string) (any, error)
	// Column returns the index of a logical table column.
	Column(name string) (int, bool)
	// URL is the URL of the page the node comes from.
	URL() *url.URL
}

// Filter turns a context into a value.
type Filter interface {
	Apply(ctx Context) (any, error)
}

// Func adapts a function to Filter.
type Func func(ctx Context) (any, error)

func (f Func) Apply(ctx Context) (any, error) {
	return f(ctx)
}

func (f Func) String() string {
	return "func"
}

// Fallback carries the default value of a filter.
type Fallback struct {
	Value any
}

// Default configures a filter to return v instead of failing.
func Default(v any) *Fallback {
	return &Fallback{Value: v}
}

type sentinel string

func (s sentinel) String() string {
	return string(s)
}

const (
	// NotAvailable marks a value the page does not provide.
	NotAvailable sentinel = "NotAvailable"
	// NotLoaded marks a value that has not been fetched yet.
	NotLoaded sentinel = "NotLoaded"
)

// IsSentinel reports whether v is NotAvailable or NotLoaded.
func IsSentinel(v any) bool {
	_, ok := v.(sentinel)
	return ok
}

// Static is a Context over a bare node, for evaluating filters outside of an element.
type Static struct {
	Root    any
	BaseURL *url.URL
	Vars    map[string]any
	Columns map[string]int
}

func (s Static) Node() any {
	return s.Root
}

func (s Static) Env(key string) (any, bool) {
	v, ok := s.Vars[key]
	return v, ok
}

func (s Static) Field(name string) (any, error) {
	return nil, fail("Field", name, ErrNotFound, "no element bound")
}

func (s Static) Column(name string) (int, bool) {
	idx, ok := s.Columns[name]
	return idx, ok
}

func (s Static) URL() *url.URL {
	return s.BaseURL
}

// Describe renders a filter for error messages.
func Describe(f Filter) string {
	if f == nil {
		return "."
	}
	if s, ok := f.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", f)
}

func resolve(ctx Context, src Filter) (any, error) {
	if src == nil {
		return ctx.Node(), nil
	}
	return src.Apply(ctx)
}

// IsEmpty reports whether v stands for "nothing was found".
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case sentinel:
		return true
	case []document.Node:
		return len(t) == 0
	}
	return false
}

// input resolves src and turns an empty result into a not-found error.
func input(ctx Context, name string, src Filter) (any, error) {
	v, err := resolve(ctx, src)
	if err != nil {
		return nil, err
	}
	if IsEmpty(v) {
		return nil, fail(name, Describe(src), ErrNotFound, "nothing selected")
	}
	return v, nil
}

// orDefault returns the configured default for extraction failures, other errors pass through.
func orDefault(def *Fallback, err error) (any, error) {
	var perr *ParseError
	if def != nil && errors.As(err, &perr) {
		return def.Value, nil
	}
	return nil, err
}

// TextOf renders v as cleaned text the way CleanText does with its defaults.
func TextOf(v any) string {
	return normalizeSpace(rawText(v, false), false)
}

func rawText(v any, ownText bool) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case document.Node:
		return nodeText(t, ownText)
	case []document.Node:
		parts := make([]string, 0, len(t))
		for _, n := range t {
			parts = append(parts, normalizeSpace(nodeText(n, ownText), false))
		}
		return strings.Join(parts, " ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, normalizeSpace(rawText(item, ownText), false))
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(t, " ")
	case json.Number:
		return t.String()
	case decimal.Decimal:
		return t.String()
	case fmt.Stringer:
		return t.String()
	}
	return fmt.Sprint(v)
}

func nodeText(n document.Node, ownText bool) string {
	if ownText {
		return strings.TrimSpace(n.OwnText())
	}
	parts := n.TextParts()
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed = append(trimmed, strings.TrimSpace(p))
	}
	return strings.Join(trimmed, " ")
}

// firstNode returns the first tree node of v.
func firstNode(v any) (document.Node, bool) {
	switch t := v.(type) {
	case document.Node:
		return t, true
	case []document.Node:
		if len(t) > 0 {
			return t[0], true
		}
	}
	return nil, false
}
