// Package document holds the parsed forms a page can take (markup trees, mappings,
// rows) and the selector machinery that reads them.
package document

import (
	"strings"

	"scrapekit/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"
)

// Node is one node of a parsed markup tree.
type Node interface {
	// Tag is the element name, or the attribute name for attribute nodes.
	Tag() string
	Attr(name string) (string, bool)
	// Text is every descendant text concatenated.
	Text() string
	// TextParts is every descendant text node in document order.
	TextParts() []string
	// OwnText is the text that comes before the first child element.
	OwnText() string
	// Query evaluates an XPath node-set expression relative to this node.
	Query(expr string) ([]Node, error)
	// Eval evaluates any XPath expression, node-sets are returned as []Node,
	// other results as string, float64 or bool.
	Eval(expr string) (any, error)
	OuterHTML() string
}

// HTMLNode is a Node backed by golang.org/x/net/html.
type HTMLNode struct {
	node *html.Node
}

func NewHTMLNode(n *html.Node) HTMLNode {
	return HTMLNode{node: n}
}

// Raw returns the underlying node.
func (h HTMLNode) Raw() *html.Node {
	return h.node
}

func (h HTMLNode) Tag() string {
	if h.node.Type == html.DocumentNode {
		return ""
	}
	return h.node.Data
}

func (h HTMLNode) Attr(name string) (string, bool) {
	for _, a := range h.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func (h HTMLNode) Text() string {
	return htmlutil.GetText(h.node)
}

func (h HTMLNode) TextParts() []string {
	return htmlutil.TextParts(h.node)
}

func (h HTMLNode) OwnText() string {
	return htmlutil.OwnText(h.node)
}

func (h HTMLNode) Query(expr string) ([]Node, error) {
	compiled, err := compile(expr)
	if err != nil {
		return nil, err
	}
	return wrapHTML(htmlquery.QuerySelectorAll(h.node, compiled)), nil
}

func (h HTMLNode) Eval(expr string) (any, error) {
	compiled, err := compile(expr)
	if err != nil {
		return nil, err
	}
	value, err := evaluate(compiled, htmlquery.CreateXPathNavigator(h.node))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return wrapHTML(htmlquery.QuerySelectorAll(h.node, compiled)), nil
	}
	return value, nil
}

// Find evaluates a CSS selector against the descendants of this node.
func (h HTMLNode) Find(selector string) []Node {
	sel := goquery.NewDocumentFromNode(h.node).Find(selector)
	return wrapHTML(sel.Nodes)
}

// Selection exposes this node to goquery.
func (h HTMLNode) Selection() *goquery.Selection {
	return goquery.NewDocumentFromNode(h.node).Selection
}

func (h HTMLNode) OuterHTML() string {
	return htmlquery.OutputHTML(h.node, true)
}

// InnerHTML renders the children of this node.
func (h HTMLNode) InnerHTML() string {
	return htmlquery.OutputHTML(h.node, false)
}

func wrapHTML(nodes []*html.Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = HTMLNode{node: n}
	}
	return out
}

// XMLNode is a Node backed by github.com/antchfx/xmlquery.
type XMLNode struct {
	node *xmlquery.Node
}

func NewXMLNode(n *xmlquery.Node) XMLNode {
	return XMLNode{node: n}
}

func (x XMLNode) Raw() *xmlquery.Node {
	return x.node
}

func (x XMLNode) Tag() string {
	if x.node.Type == xmlquery.DocumentNode {
		return ""
	}
	return x.node.Data
}

func (x XMLNode) Attr(name string) (string, bool) {
	for _, a := range x.node.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (x XMLNode) Text() string {
	return x.node.InnerText()
}

func isXMLText(n *xmlquery.Node) bool {
	return n.Type == xmlquery.TextNode || n.Type == xmlquery.CharDataNode
}

func (x XMLNode) TextParts() []string {
	var parts []string
	var walk func(n *xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		if isXMLText(n) {
			parts = append(parts, n.Data)
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(x.node)
	return parts
}

func (x XMLNode) OwnText() string {
	if isXMLText(x.node) {
		return x.node.Data
	}
	var out strings.Builder
	for child := x.node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			break
		}
		if isXMLText(child) {
			out.WriteString(child.Data)
		}
	}
	return out.String()
}

func (x XMLNode) Query(expr string) ([]Node, error) {
	compiled, err := compile(expr)
	if err != nil {
		return nil, err
	}
	return wrapXML(xmlquery.QuerySelectorAll(x.node, compiled)), nil
}

func (x XMLNode) Eval(expr string) (any, error) {
	compiled, err := compile(expr)
	if err != nil {
		return nil, err
	}
	value, err := evaluate(compiled, xmlquery.CreateXPathNavigator(x.node))
	if err != nil {
		return nil, err
	}
	if value == nil {
		return wrapXML(xmlquery.QuerySelectorAll(x.node, compiled)), nil
	}
	return value, nil
}

func (x XMLNode) OuterHTML() string {
	return x.node.OutputXML(true)
}

func wrapXML(nodes []*xmlquery.Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = XMLNode{node: n}
	}
	return out
}
