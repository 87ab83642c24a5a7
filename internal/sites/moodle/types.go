package moodle

import (
	"net/url"
	"regexp"
	"strings"

	"scrapekit/internal/scrape/element"
	"scrapekit/internal/scrape/filters"
)

type ResourceType int

const (
	RESOURCE_GENERIC ResourceType = iota
	RESOURCE_FILE
	RESOURCE_BOOK
	RESOURCE_HTML_AREA
)

func (t ResourceType) String() string {
	switch t {
	case RESOURCE_FILE:
		return "file"
	case RESOURCE_BOOK:
		return "book"
	case RESOURCE_HTML_AREA:
		return "html"
	}
	return "generic"
}

func resourceTypeOf(link *url.URL) ResourceType {
	switch {
	case link == nil:
		return RESOURCE_GENERIC
	case strings.HasPrefix(link.Path, "/mod/resource"):
		return RESOURCE_FILE
	case strings.HasPrefix(link.Path, "/mod/book"):
		return RESOURCE_BOOK
	}
	return RESOURCE_GENERIC
}

type Course struct {
	Id   int64
	Name string
	Url  *url.URL
}

type Section struct {
	Name string
	Url  *url.URL
}

type Resource struct {
	Type ResourceType
	// Name is the markdown of the section summary for RESOURCE_HTML_AREA.
	Name string
	Url  *url.URL
}

type Chapter struct {
	Id   int64
	Name string
	Url  *url.URL
}

// hasClass is the xpath predicate matching one class of a class attribute.
func hasClass(name string) string {
	return `contains(concat(" ", normalize-space(@class), " "), " ` + name + ` ")`
}

var idParam = regexp.MustCompile(`[?&]id=(\d+)`)

// idFromUrl reads an id query parameter out of the url field, -1 when there is none.
func idFromUrl(param *regexp.Regexp) filters.Filter {
	return filters.Int{
		Source:  filters.Regexp{Source: filters.Field{Name: "url"}, Pattern: param},
		Default: filters.Default(int64(-1)),
	}
}

func anchorItem[T any](name string) *element.Item[T] {
	return element.NewItem[T](name).
		Condition(element.Has(filters.XPath{Expr: "@href"})).
		Field("name", filters.CleanText{}).
		Field("url", filters.AbsoluteLink{})
}

func urlKey[T any](get func(T) *url.URL) func(T) string {
	return func(obj T) string {
		u := get(obj)
		if u == nil {
			return ""
		}
		return u.String()
	}
}

var courseList = element.List[Course]{
	ItemXPath: `//ul[` + hasClass("unlist") + `]//a`,
	Items: anchorItem[Course]("course").
		Field("id", idFromUrl(idParam)),
	Key:              urlKey(func(c Course) *url.URL { return c.Url }),
	IgnoreDuplicates: true,
}

var sectionList = element.List[Section]{
	ItemXPath:        `//*[` + hasClass("course-content") + `]//a[` + hasClass("nav-link") + `]`,
	Items:            anchorItem[Section]("section"),
	Key:              urlKey(func(s Section) *url.URL { return s.Url }),
	IgnoreDuplicates: true,
}

var resourceList = element.List[Resource]{
	ItemXPath: `//li[` + hasClass("activity") + `]//a`,
	Items: anchorItem[Resource]("resource").
		Compute("type", func(s *element.Scope) (any, error) {
			v, err := s.Field("url")
			if err != nil {
				return nil, err
			}
			link, err := url.Parse(filters.TextOf(v))
			if err != nil {
				return RESOURCE_GENERIC, nil
			}
			return resourceTypeOf(link), nil
		}),
}

var sectionInfo = filters.CleanHTML{
	Source:  filters.XPath{Expr: `//div[@data-for="sectioninfo"]`},
	Default: filters.Default(""),
}

var chapterParam = regexp.MustCompile(`[?&]chapterid=(\d+)`)
