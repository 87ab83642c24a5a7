package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"scrapekit/internal/scrape/document"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/net/html"
)

const report_form_submit = "form.submit"

var (
	ErrFormNotFound  = errors.New("form not found")
	ErrFormSubmitted = errors.New("form already submitted")
)

// FormQuery selects a form of a page. Every set criterion must hold, Nr picks
// among the forms that remain (0 is the first).
type FormQuery struct {
	XPath string
	Name  string
	Nr    int
	// Submit is an XPath, relative to the form, of the submit input or button to use.
	Submit string
}

func (q FormQuery) String() string {
	var parts []string
	if q.XPath != "" {
		parts = append(parts, "xpath="+q.XPath)
	}
	if q.Name != "" {
		parts = append(parts, "name="+q.Name)
	}
	parts = append(parts, fmt.Sprintf("nr=%d", q.Nr))
	return strings.Join(parts, " ")
}

// Form is an editable copy of the fields of one HTML form.
type Form struct {
	Method  string
	Action  *url.URL
	EncType string
	Header  http.Header

	page      *Page
	fields    *orderedmap.OrderedMap[string, string]
	submitted bool
}

// GetForm finds a form of the page and reads its fields.
func (p *Page) GetForm(q FormQuery) (*Form, error) {
	root, ok := p.Root()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a markup page", ErrFormNotFound, p.Name())
	}

	expr := "//form"
	if q.XPath != "" {
		expr = q.XPath
	}
	candidates, err := root.Query(expr)
	if err != nil {
		return nil, fmt.Errorf("form xpath %q: %w", expr, err)
	}

	var forms []document.Node
	for _, c := range candidates {
		if !strings.EqualFold(c.Tag(), "form") {
			continue
		}
		if q.Name != "" {
			name, _ := c.Attr("name")
			id, _ := c.Attr("id")
			if name != q.Name && id != q.Name {
				continue
			}
		}
		forms = append(forms, c)
	}
	if q.Nr < 0 || q.Nr >= len(forms) {
		return nil, fmt.Errorf("%w: %s on %s", ErrFormNotFound, q, p.URL())
	}

	return newForm(p, forms[q.Nr], q.Submit)
}

func newForm(p *Page, node document.Node, submitXPath string) (*Form, error) {
	method, _ := node.Attr("method")
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	actionRef, _ := node.Attr("action")
	action, err := p.AbsURL(strings.TrimSpace(actionRef))
	if err != nil {
		return nil, err
	}

	enctype, _ := node.Attr("enctype")

	var chosen *html.Node
	if submitXPath != "" {
		submits, err := node.Query(submitXPath)
		if err != nil {
			return nil, fmt.Errorf("submit xpath %q: %w", submitXPath, err)
		}
		if len(submits) == 0 {
			return nil, fmt.Errorf("%w: no submit %q", ErrFormNotFound, submitXPath)
		}
		if h, ok := submits[0].(document.HTMLNode); ok {
			chosen = h.Raw()
		}
	}

	controls, err := node.Query(".//*[self::input or self::button or self::select or self::textarea]")
	if err != nil {
		return nil, err
	}

	fields := orderedmap.New[string, string]()
	var submitNames []string
	for _, control := range controls {
		name, _ := control.Attr("name")
		if name == "" {
			continue
		}
		if _, disabled := control.Attr("disabled"); disabled {
			continue
		}

		notChosen := func() bool {
			if chosen == nil {
				return false
			}
			h, ok := control.(document.HTMLNode)
			return !ok || h.Raw() != chosen
		}

		switch strings.ToLower(control.Tag()) {
		case "button":
			buttonType, _ := control.Attr("type")
			buttonType = strings.ToLower(strings.TrimSpace(buttonType))
			if (buttonType != "" && buttonType != "submit") || notChosen() {
				continue
			}
			value, _ := control.Attr("value")
			submitNames = append(submitNames, name)
			fields.Set(name, value)
		case "select":
			fields.Set(name, selectValue(control))
		case "textarea":
			fields.Set(name, control.Text())
		default:
			inputType, _ := control.Attr("type")
			value, _ := control.Attr("value")
			switch strings.ToLower(inputType) {
			case "checkbox", "radio":
				if _, checked := control.Attr("checked"); !checked {
					continue
				}
				if value == "" {
					value = "on"
				}
			case "submit", "image":
				if notChosen() {
					continue
				}
				submitNames = append(submitNames, name)
			case "file", "reset", "button":
				continue
			}
			fields.Set(name, value)
		}
	}

	if chosen == nil && len(submitNames) > 1 {
		p.Telemetry().ReportWarning(
			report_form_submit,
			fmt.Errorf("form has %d submit inputs and none was chosen, the request is likely invalid", len(submitNames)),
			submitNames,
		)
	}

	return &Form{
		Method:  method,
		Action:  action,
		EncType: strings.ToLower(strings.TrimSpace(enctype)),
		Header:  http.Header{},
		page:    p,
		fields:  fields,
	}, nil
}

func selectValue(sel document.Node) string {
	options, err := sel.Query(".//option")
	if err != nil || len(options) == 0 {
		return ""
	}
	chosen := options[0]
	for _, opt := range options {
		if _, ok := opt.Attr("selected"); ok {
			chosen = opt
			break
		}
	}
	if value, ok := chosen.Attr("value"); ok {
		return value
	}
	return strings.TrimSpace(chosen.Text())
}

func (f *Form) Get(name string) (string, bool) {
	return f.fields.Get(name)
}

// Set changes a field, or adds it after the existing ones.
func (f *Form) Set(name, value string) {
	f.fields.Set(name, value)
}

func (f *Form) Delete(name string) {
	f.fields.Delete(name)
}

// Names lists the fields in document order.
func (f *Form) Names() []string {
	names := make([]string, 0, f.fields.Len())
	for pair := f.fields.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

// Map returns a copy of the fields.
func (f *Form) Map() map[string]string {
	out := make(map[string]string, f.fields.Len())
	for pair := f.fields.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

func (f *Form) Values() url.Values {
	out := url.Values{}
	for pair := f.fields.Oldest(); pair != nil; pair = pair.Next() {
		out.Add(pair.Key, pair.Value)
	}
	return out
}

// Request turns the form into the request a browser would send.
func (f *Form) Request() Request {
	header := f.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Referer") == "" && f.page.URL() != nil {
		header.Set("Referer", f.page.URL().String())
	}

	action := *f.Action
	if f.Method == http.MethodGet {
		query := action.Query()
		for key, values := range f.Values() {
			query[key] = values
		}
		action.RawQuery = query.Encode()
		return Request{Method: http.MethodGet, URL: action.String(), Header: header}
	}

	req := Request{Method: f.Method, URL: action.String(), Header: header}
	if f.EncType == "multipart/form-data" {
		req.Multipart = f.Values()
	} else {
		req.Form = f.Values()
	}
	return req
}

// Submit sends the form through the browser of its page. A form can only be submitted once.
func (f *Form) Submit(ctx context.Context) (*Page, error) {
	if f.submitted {
		return nil, ErrFormSubmitted
	}
	f.submitted = true
	return f.page.browser.Location(ctx, f.Request())
}
