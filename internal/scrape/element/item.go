package element

import (
	"errors"
	"fmt"
	"slices"

	"scrapekit/internal/components/assert"
	"scrapekit/internal/scrape/filters"
)

const report_item_optional_field = "item.optional-field"

// Rule computes the value of one field.
type Rule func(s *Scope) (any, error)

// FilterRule evaluates f against the bound node.
func FilterRule(f filters.Filter) Rule {
	return func(s *Scope) (any, error) {
		return f.Apply(s)
	}
}

type fieldRule struct {
	name     string
	rule     Rule
	optional bool
}

// Item describes how one node becomes one T.
type Item[T any] struct {
	name      string
	fields    []fieldRule
	condition func(s *Scope) (bool, error)
	parse     func(s *Scope) error
	validate  func(obj *T) bool
	create    func() T
}

// NewItem starts an item description, name is used in errors and logs.
func NewItem[T any](name string) *Item[T] {
	assert.NotEmptyStr(name)
	return &Item[T]{name: name}
}

func (i *Item[T]) Name() string {
	return i.name
}

func (i *Item[T]) set(f fieldRule) *Item[T] {
	assert.NotEmptyStr(f.name)
	assert.NotNil(f.rule)
	idx := slices.IndexFunc(i.fields, func(existing fieldRule) bool {
		return existing.name == f.name
	})
	if idx >= 0 {
		i.fields[idx] = f
		return i
	}
	i.fields = append(i.fields, f)
	return i
}

// Field assigns the value of a filter to the named field. A failure aborts the extraction.
func (i *Item[T]) Field(name string, f filters.Filter) *Item[T] {
	assert.NotNil(f)
	return i.set(fieldRule{name: name, rule: FilterRule(f)})
}

// TryField is Field for values that only some variants of a page carry, a
// failure leaves the field at its initial value.
func (i *Item[T]) TryField(name string, f filters.Filter) *Item[T] {
	assert.NotNil(f)
	return i.set(fieldRule{name: name, rule: FilterRule(f), optional: true})
}

// Compute assigns the value returned by fn to the named field.
func (i *Item[T]) Compute(name string, fn Rule) *Item[T] {
	return i.set(fieldRule{name: name, rule: fn})
}

// TryCompute is Compute with the failure policy of TryField.
func (i *Item[T]) TryCompute(name string, fn Rule) *Item[T] {
	return i.set(fieldRule{name: name, rule: fn, optional: true})
}

// Condition skips the nodes for which fn returns false, before any field is computed.
func (i *Item[T]) Condition(fn func(s *Scope) (bool, error)) *Item[T] {
	i.condition = fn
	return i
}

// Parse runs before the fields, usually to put values shared by several fields in the environment.
func (i *Item[T]) Parse(fn func(s *Scope) error) *Item[T] {
	i.parse = fn
	return i
}

// Validate drops the objects for which fn returns false, after every field is computed.
func (i *Item[T]) Validate(fn func(obj *T) bool) *Item[T] {
	i.validate = fn
	return i
}

// New sets the function creating the initial object, whose values stay in
// place for fields that fail optionally or produce a sentinel.
func (i *Item[T]) New(fn func() T) *Item[T] {
	i.create = fn
	return i
}

// Extend copies the item so it can be specialized without touching the original.
func (i *Item[T]) Extend(name string) *Item[T] {
	assert.NotEmptyStr(name)
	return &Item[T]{
		name:      name,
		fields:    slices.Clone(i.fields),
		condition: i.condition,
		parse:     i.parse,
		validate:  i.validate,
		create:    i.create,
	}
}

// Has is a condition that holds when f selects something.
func Has(f filters.Filter) func(s *Scope) (bool, error) {
	return func(s *Scope) (bool, error) {
		v, err := filters.HasElement{Source: f}.Apply(s)
		if err != nil {
			return false, err
		}
		return v.(bool), nil
	}
}

// Extract builds the object for node. ok is false when the item was skipped.
func (i *Item[T]) Extract(node any, src Source, env map[string]any) (obj T, ok bool, err error) {
	return i.extract(node, src, env, nil)
}

func (i *Item[T]) extract(node any, src Source, env map[string]any, columns map[string]int) (T, bool, error) {
	var zero T

	s := newScope(node, src, env, columns)
	s.rules = make(map[string]Rule, len(i.fields))
	for _, f := range i.fields {
		s.rules[f.name] = f.rule
	}

	if i.condition != nil {
		keep, err := i.condition(s)
		if errors.Is(err, ErrSkip) || (err == nil && !keep) {
			return zero, false, nil
		}
		if err != nil {
			return zero, false, fmt.Errorf("%s: condition: %w", i.name, err)
		}
	}

	if i.parse != nil {
		err := i.parse(s)
		if errors.Is(err, ErrSkip) {
			return zero, false, nil
		}
		if err != nil {
			return zero, false, fmt.Errorf("%s: parse: %w", i.name, err)
		}
	}

	obj := zero
	if i.create != nil {
		obj = i.create()
	}

	for _, f := range i.fields {
		value, err := s.Field(f.name)
		if errors.Is(err, ErrSkip) {
			return zero, false, nil
		}
		if err != nil {
			if f.optional {
				s.Telemetry().ReportDebug(
					fmt.Sprintf("%s: %s.%s", report_item_optional_field, i.name, f.name),
					"err", err,
				)
				continue
			}
			return zero, false, fmt.Errorf("%s: field %s: %w", i.name, f.name, err)
		}
		if filters.IsSentinel(value) {
			continue
		}
		err = assign(&obj, f.name, value)
		if err != nil {
			return zero, false, fmt.Errorf("%s: field %s: %w", i.name, f.name, err)
		}
	}

	if i.validate != nil && !i.validate(&obj) {
		return zero, false, nil
	}
	return obj, true, nil
}
