package element

import (
	"fmt"
	"regexp"
	"strings"

	"scrapekit/internal/scrape/document"
	"scrapekit/internal/scrape/filters"
)

// Column declares a logical table column and the header titles that name it.
type Column struct {
	Name     string
	Titles   []string
	Patterns []*regexp.Regexp
}

// Col declares a column found by any of the given header titles, compared
// case-insensitively once cleaned.
func Col(name string, titles ...string) Column {
	return Column{Name: name, Titles: titles}
}

// ColRegexp declares a column found by header titles matching any of the patterns.
func ColRegexp(name string, patterns ...string) Column {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(p)
	}
	return Column{Name: name, Patterns: compiled}
}

func (c Column) matches(title string) bool {
	for _, t := range c.Titles {
		if strings.EqualFold(filters.TextOf(t), title) {
			return true
		}
	}
	for _, p := range c.Patterns {
		if p.MatchString(title) {
			return true
		}
	}
	return false
}

// ResolveColumns maps every column to the index of the leftmost header that
// matches it. Header colspans shift the indexes of the following headers.
// Columns no header matches are left out.
func ResolveColumns(headers []document.Node, columns []Column) map[string]int {
	titles := make([]string, len(headers))
	positions := make([]int, len(headers))
	pos := 0
	for i, h := range headers {
		titles[i] = filters.TextOf(h)
		positions[i] = pos
		pos += filters.Colspan(h)
	}

	out := make(map[string]int, len(columns))
	for _, col := range columns {
		for i, title := range titles {
			if col.matches(title) {
				out[col.Name] = positions[i]
				break
			}
		}
	}
	return out
}

// Table is a List whose items read cells by logical column, see filters.TableCell.
type Table[T any] struct {
	List[T]
	// HeadXPath selects the header cells relative to the document root.
	HeadXPath string
	Columns   []Column
}

func (t Table[T]) Extract(src Source, env map[string]any) (Result[T], error) {
	columns, err := t.resolve(src.Doc())
	if err != nil {
		return Result[T]{}, err
	}
	return t.run(src, env, columns, t.selectNodes)
}

func (t Table[T]) resolve(root any) (map[string]int, error) {
	node, ok := root.(document.Node)
	if !ok {
		return nil, fmt.Errorf("head xpath %q: %T is not a tree", t.HeadXPath, root)
	}
	headers, err := node.Query(t.HeadXPath)
	if err != nil {
		return nil, fmt.Errorf("head xpath %q: %w", t.HeadXPath, err)
	}
	return ResolveColumns(headers, t.Columns), nil
}
