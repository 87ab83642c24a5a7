package filters

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

func resolveArgs(ctx Context, args []Filter) ([]any, error) {
	values := make([]any, len(args))
	for i, arg := range args {
		v, err := arg.Apply(ctx)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Format combines the text of its arguments with a printf layout.
type Format struct {
	Layout  string
	Args    []Filter
	Default *Fallback
}

func (f Format) String() string {
	return fmt.Sprintf("Format(%q)", f.Layout)
}

func (f Format) Apply(ctx Context) (any, error) {
	values, err := resolveArgs(ctx, f.Args)
	if err != nil {
		return orDefault(f.Default, err)
	}
	for i, v := range values {
		if _, ok := asNodes(v); ok {
			values[i] = TextOf(v)
		}
	}
	return fmt.Sprintf(f.Layout, values...), nil
}

// Eval calls Func with the values of its arguments.
type Eval struct {
	Func    func(args ...any) (any, error)
	Args    []Filter
	Default *Fallback
}

func (f Eval) Apply(ctx Context) (any, error) {
	values, err := resolveArgs(ctx, f.Args)
	if err != nil {
		return orDefault(f.Default, err)
	}
	v, err := f.Func(values...)
	if err != nil {
		return orDefault(f.Default, err)
	}
	return v, nil
}

// Map translates the text of its input through Table.
type Map struct {
	Source  Filter
	Table   map[string]any
	Default *Fallback
}

func (f Map) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "Map", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	key := TextOf(v)
	if mapped, ok := f.Table[key]; ok {
		return mapped, nil
	}
	return orDefault(f.Default, fail("Map", Describe(f.Source), ErrNotInMap, "%q", key))
}

// Coalesce returns the first argument that produces a value.
type Coalesce struct {
	Args    []Filter
	Default *Fallback
}

func (f Coalesce) Apply(ctx Context) (any, error) {
	var last error = fail("Coalesce", "", ErrNotFound, "no arguments")
	for _, arg := range f.Args {
		v, err := arg.Apply(ctx)
		var perr *ParseError
		if errors.As(err, &perr) {
			last = err
			continue
		} else if err != nil {
			return nil, err
		}
		if IsEmpty(v) {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return v, nil
	}
	return orDefault(f.Default, last)
}

// Env reads a value of the extraction environment.
type Env struct {
	Name    string
	Default *Fallback
}

func (f Env) String() string {
	return "env:" + f.Name
}

func (f Env) Apply(ctx Context) (any, error) {
	if v, ok := ctx.Env(f.Name); ok {
		return v, nil
	}
	return orDefault(f.Default, fail("Env", f.Name, ErrNotFound, "not set"))
}

// Field reads the value of another field of the same element.
type Field struct {
	Name string
}

func (f Field) String() string {
	return "field:" + f.Name
}

func (f Field) Apply(ctx Context) (any, error) {
	return ctx.Field(f.Name)
}

// Path splits a slash separated mapping path.
func Path(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Dict walks a mapping document by keys and list indices.
type Dict struct {
	Source  Filter
	Path    []string
	Default *Fallback
}

func (f Dict) String() string {
	return strings.Join(f.Path, "/")
}

func (f Dict) Apply(ctx Context) (any, error) {
	v, err := resolve(ctx, f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	for i, seg := range f.Path {
		next, ok := Lookup(v, seg)
		if !ok {
			return orDefault(f.Default, fail(
				"Dict", f.String(), ErrNotFound,
				"no %q under %s", seg, strings.Join(f.Path[:i], "/"),
			))
		}
		v = next
	}
	if v == nil {
		return orDefault(f.Default, fail("Dict", f.String(), ErrNotFound, "null value"))
	}
	return v, nil
}

// Lookup reads one segment of a mapping path: a key of a map or an index of a list.
func Lookup(v any, seg string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		next, ok := t[seg]
		return next, ok
	case map[string]string:
		next, ok := t[seg]
		return next, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil {
			return nil, false
		}
		if idx < 0 {
			idx += len(t)
		}
		if idx < 0 || idx >= len(t) {
			return nil, false
		}
		return t[idx], true
	}
	return nil, false
}
