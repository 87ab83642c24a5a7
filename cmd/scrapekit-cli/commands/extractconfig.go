package commands

import (
	"fmt"
	"regexp"
	"strings"

	"scrapekit/internal/scrape/browser"
	"scrapekit/internal/scrape/element"
	"scrapekit/internal/scrape/filters"
)

// Record is one extracted item of a declarative scrape.
type Record = map[string]any

type ColumnConfig struct {
	Name     string   `json:"name" yaml:"name"`
	Titles   []string `json:"titles" yaml:"titles"`
	Patterns []string `json:"patterns" yaml:"patterns"`
}

type FieldConfig struct {
	Name string `json:"name" yaml:"name"`
	// One of XPath, CSS or Column selects the input, the item node otherwise.
	XPath  string `json:"xpath" yaml:"xpath"`
	CSS    string `json:"css" yaml:"css"`
	Column string `json:"column" yaml:"column"`
	Attr   string `json:"attr" yaml:"attr"`
	Regexp string `json:"regexp" yaml:"regexp"`
	// Kind is one of text, decimal, int, date, link, html.
	Kind     string   `json:"kind" yaml:"kind"`
	Layouts  []string `json:"layouts" yaml:"layouts"`
	DayFirst bool     `json:"day_first" yaml:"day_first"`
	Default  *string  `json:"default" yaml:"default"`
	Optional bool     `json:"optional" yaml:"optional"`
}

type ExtractConfig struct {
	URL string `json:"url" yaml:"url"`
	// PageKind is one of html, xml, json, csv, auto.
	PageKind  string         `json:"page_kind" yaml:"page_kind"`
	ItemXPath string         `json:"item_xpath" yaml:"item_xpath"`
	HeadXPath string         `json:"head_xpath" yaml:"head_xpath"`
	Columns   []ColumnConfig `json:"columns" yaml:"columns"`
	Fields    []FieldConfig  `json:"fields" yaml:"fields"`
	// NextPage is an xpath to the link of the next page.
	NextPage string `json:"next_page" yaml:"next_page"`
	MaxPages int    `json:"max_pages" yaml:"max_pages"`
	// Key names the field used to drop duplicate items.
	Key string `json:"key" yaml:"key"`
}

func parseKind(name string) (browser.Kind, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return browser.Auto, nil
	case "html":
		return browser.HTML, nil
	case "xml":
		return browser.XML, nil
	case "json":
		return browser.JSON, nil
	case "csv":
		return browser.CSV, nil
	}
	return 0, fmt.Errorf("unknown page kind %q", name)
}

func (f FieldConfig) source() filters.Filter {
	var src filters.Filter
	switch {
	case f.Column != "":
		src = filters.TableCell{Names: []string{f.Column}}
	case f.XPath != "":
		src = filters.XPath{Expr: f.XPath}
	case f.CSS != "":
		src = filters.CSS{Selector: f.CSS}
	}
	if f.Attr != "" {
		src = filters.Attr{Source: src, Name: f.Attr}
	}
	return src
}

// Filter builds the filter reading the field.
func (f FieldConfig) Filter() (filters.Filter, error) {
	src := f.source()
	if f.Regexp != "" {
		pattern, err := regexp.Compile(f.Regexp)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		src = filters.Regexp{Source: src, Pattern: pattern}
	}

	var def *filters.Fallback
	if f.Default != nil {
		def = filters.Default(*f.Default)
	}

	switch strings.ToLower(f.Kind) {
	case "", "text":
		return filters.CleanText{Source: src, Default: def}, nil
	case "decimal":
		return filters.CleanDecimal{Source: src, Default: def}, nil
	case "int":
		return filters.Int{Source: src, Default: def}, nil
	case "date":
		return filters.Date{Source: src, Layouts: f.Layouts, DayFirst: f.DayFirst, Default: def}, nil
	case "link":
		if f.Attr != "" || f.Regexp != "" {
			return nil, fmt.Errorf("field %s: link fields read href themselves", f.Name)
		}
		return filters.AbsoluteLink{Source: src, Default: def}, nil
	case "html":
		return filters.CleanHTML{Source: src, Default: def}, nil
	}
	return nil, fmt.Errorf("field %s: unknown kind %q", f.Name, f.Kind)
}

func (c ExtractConfig) item() (*element.Item[Record], error) {
	if len(c.Fields) == 0 {
		return nil, fmt.Errorf("no fields configured")
	}
	item := element.NewItem[Record]("record").New(func() Record {
		return Record{}
	})
	for _, field := range c.Fields {
		if field.Name == "" {
			return nil, fmt.Errorf("field without a name")
		}
		filter, err := field.Filter()
		if err != nil {
			return nil, err
		}
		if field.Optional {
			item.TryField(field.Name, filter)
			continue
		}
		item.Field(field.Name, filter)
	}
	return item, nil
}

func (c ExtractConfig) columns() ([]element.Column, error) {
	out := make([]element.Column, len(c.Columns))
	for i, col := range c.Columns {
		out[i] = element.Column{Name: col.Name, Titles: col.Titles}
		for _, p := range col.Patterns {
			compiled, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
			out[i].Patterns = append(out[i].Patterns, compiled)
		}
	}
	return out, nil
}

// Collection builds a Table when a head xpath is configured, a List otherwise.
func (c ExtractConfig) Collection() (element.Collection[Record], error) {
	if c.ItemXPath == "" {
		return nil, fmt.Errorf("item_xpath is required")
	}
	item, err := c.item()
	if err != nil {
		return nil, err
	}

	list := element.List[Record]{
		ItemXPath: c.ItemXPath,
		Items:     item,
	}
	if c.NextPage != "" {
		list.NextPage = filters.XPath{Expr: c.NextPage}
	}
	if c.Key != "" {
		key := c.Key
		list.Key = func(r Record) string {
			return filters.TextOf(r[key])
		}
		list.IgnoreDuplicates = true
	}

	if c.HeadXPath == "" {
		if len(c.Columns) > 0 {
			return nil, fmt.Errorf("columns need a head_xpath")
		}
		return list, nil
	}
	columns, err := c.columns()
	if err != nil {
		return nil, err
	}
	return element.Table[Record]{List: list, HeadXPath: c.HeadXPath, Columns: columns}, nil
}
