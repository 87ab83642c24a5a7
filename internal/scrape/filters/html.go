package filters

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"scrapekit/internal/scrape/document"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/microcosm-cc/bluemonday"
)

// XPath selects nodes relative to the current node, or to the node produced by Source.
// Scalar expressions (count(), string()) return their value as is.
type XPath struct {
	Source  Filter
	Expr    string
	Default *Fallback
}

func (f XPath) String() string {
	if f.Source == nil {
		return f.Expr
	}
	return fmt.Sprintf("%s/%s", Describe(f.Source), f.Expr)
}

func (f XPath) Apply(ctx Context) (any, error) {
	v, err := resolve(ctx, f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	node, ok := firstNode(v)
	if !ok {
		return orDefault(f.Default, fail("XPath", f.Expr, ErrNotFound, "no node to select from"))
	}

	value, err := node.Eval(f.Expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", f.Expr, err)
	}
	if nodes, ok := value.([]document.Node); ok && len(nodes) == 0 {
		return orDefault(f.Default, fail("XPath", f.Expr, ErrNotFound, "element not found"))
	}
	return value, nil
}

// CSS selects the descendants of the current HTML node matching Selector.
type CSS struct {
	Source   Filter
	Selector string
	Default  *Fallback
}

func (f CSS) String() string {
	return "css:" + f.Selector
}

func (f CSS) Apply(ctx Context) (any, error) {
	v, err := resolve(ctx, f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	node, ok := firstNode(v)
	if !ok {
		return orDefault(f.Default, fail("CSS", f.Selector, ErrNotFound, "no node to select from"))
	}
	h, ok := node.(document.HTMLNode)
	if !ok {
		return nil, fmt.Errorf("css %q: %T is not an html node", f.Selector, node)
	}

	nodes := h.Find(f.Selector)
	if len(nodes) == 0 {
		return orDefault(f.Default, fail("CSS", f.Selector, ErrNotFound, "element not found"))
	}
	return nodes, nil
}

// Const always returns Value.
type Const struct {
	Value any
}

func (f Const) Apply(Context) (any, error) {
	return f.Value, nil
}

// Attr reads an attribute of the first selected node.
type Attr struct {
	Source  Filter
	Name    string
	Default *Fallback
}

func (f Attr) String() string {
	return fmt.Sprintf("%s/@%s", Describe(f.Source), f.Name)
}

func (f Attr) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "Attr", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	node, ok := firstNode(v)
	if !ok {
		return orDefault(f.Default, fail("Attr", f.String(), ErrAttributeNotFound, "%T has no attributes", v))
	}
	value, ok := node.Attr(f.Name)
	if !ok {
		return orDefault(f.Default, fail("Attr", f.String(), ErrAttributeNotFound, "missing on <%s>", node.Tag()))
	}
	return value, nil
}

// Link reads the href of the first selected node.
type Link struct {
	Source  Filter
	Default *Fallback
}

func (f Link) Apply(ctx Context) (any, error) {
	return Attr{Source: f.Source, Name: "href", Default: f.Default}.Apply(ctx)
}

// AbsoluteLink is Link resolved against the URL of the page.
type AbsoluteLink struct {
	Source  Filter
	Default *Fallback
}

func (f AbsoluteLink) Apply(ctx Context) (any, error) {
	v, err := Link{Source: f.Source}.Apply(ctx)
	if err != nil {
		return orDefault(f.Default, err)
	}
	href := strings.TrimSpace(TextOf(v))
	base := ctx.URL()
	if base == nil {
		return href, nil
	}
	ref, err := base.Parse(href)
	if err != nil {
		return orDefault(f.Default, fail("AbsoluteLink", href, ErrFormat, "%v", err))
	}
	return ref.String(), nil
}

// HasElement returns Yes when Source selects something, No otherwise.
// With neither set it returns a bool.
type HasElement struct {
	Source Filter
	Yes    any
	No     any
}

func (f HasElement) Apply(ctx Context) (any, error) {
	yes, no := f.Yes, f.No
	if yes == nil && no == nil {
		yes, no = true, false
	}

	v, err := resolve(ctx, f.Source)
	var perr *ParseError
	if errors.As(err, &perr) {
		return no, nil
	} else if err != nil {
		return nil, err
	}
	if IsEmpty(v) {
		return no, nil
	}
	return yes, nil
}

var cleanHTMLPolicy = bluemonday.UGCPolicy()

// CleanHTML sanitizes the markup of the selected node and renders it as markdown.
type CleanHTML struct {
	Source  Filter
	Default *Fallback
}

func (f CleanHTML) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "CleanHTML", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}

	var markup string
	if nodes, ok := asNodes(v); ok {
		parts := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if h, ok := n.(document.HTMLNode); ok {
				parts = append(parts, h.InnerHTML())
			} else {
				parts = append(parts, n.OuterHTML())
			}
		}
		markup = strings.Join(parts, "\n")
	} else {
		markup = TextOf(v)
	}

	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(cleanHTMLPolicy.Sanitize(markup))
	if err != nil {
		return orDefault(f.Default, fail("CleanHTML", Describe(f.Source), ErrFormat, "%v", err))
	}
	return strings.TrimSpace(out), nil
}

// TableCell returns the cell of the current row under the first of Names the
// enclosing table resolved.
type TableCell struct {
	Names   []string
	Default *Fallback
}

func (f TableCell) String() string {
	return fmt.Sprintf("TableCell(%s)", strings.Join(f.Names, ", "))
}

func (f TableCell) Apply(ctx Context) (any, error) {
	idx := -1
	for _, name := range f.Names {
		if i, ok := ctx.Column(name); ok {
			idx = i
			break
		}
	}
	if idx < 0 {
		return orDefault(f.Default, fail(
			"TableCell", strings.Join(f.Names, ", "),
			ErrColumnNotFound, "unable to find column %s", strings.Join(f.Names, " or "),
		))
	}

	row, ok := firstNode(ctx.Node())
	if !ok {
		return orDefault(f.Default, fail("TableCell", f.String(), ErrNotFound, "no row"))
	}
	cells, err := row.Query("./*[self::td or self::th]")
	if err != nil {
		return nil, err
	}

	pos := 0
	for _, cell := range cells {
		span := Colspan(cell)
		if idx >= pos && idx < pos+span {
			return cell, nil
		}
		pos += span
	}
	return orDefault(f.Default, fail("TableCell", f.String(), ErrNotFound, "row has no cell %d", idx))
}

// Colspan returns the number of columns a header or data cell covers.
func Colspan(cell document.Node) int {
	raw, ok := cell.Attr("colspan")
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func asNodes(v any) ([]document.Node, bool) {
	switch t := v.(type) {
	case []document.Node:
		return t, true
	case document.Node:
		return []document.Node{t}, true
	}
	return nil, false
}
