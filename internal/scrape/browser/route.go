package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"scrapekit/internal/components/assert"
)

// ErrNoPattern is returned by URL.Build when no pattern can be filled with the given params.
var ErrNoPattern = errors.New("no pattern matches the parameters")

type pattern struct {
	raw    string
	prefix string
	regex  *regexp.Regexp
	// query is set when the pattern matches the query string too.
	query bool
}

// URL routes responses to a page config by matching their URL against
// regular expressions. Named groups become the page params.
type URL struct {
	browser  *Browser
	cfg      PageConfig
	patterns []pattern
}

// Route registers a page config for the URLs matching any of patterns.
// Patterns starting with "/" are relative to the host of the base URL, other
// patterns without a scheme to the base URL itself. A pattern is matched
// against the whole URL, the query string is only included when the pattern
// contains an escaped "\?".
func (b *Browser) Route(cfg PageConfig, patterns ...string) *URL {
	assert.NotNil(b)
	if len(patterns) == 0 {
		panic("route needs at least one pattern")
	}

	u := &URL{browser: b, cfg: cfg}
	for _, raw := range patterns {
		prefix := ""
		switch {
		case strings.Contains(raw, "://"):
		case strings.HasPrefix(raw, "/"):
			prefix = b.BaseURL.Scheme + "://" + b.BaseURL.Host
		default:
			prefix = strings.TrimSuffix(b.BaseURL.String(), "/") + "/"
		}
		u.patterns = append(u.patterns, pattern{
			raw:    raw,
			prefix: prefix,
			regex:  regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + "(?:" + raw + ")$"),
			query:  strings.Contains(raw, `\?`),
		})
	}
	b.routes = append(b.routes, u)
	return u
}

func (u *URL) Config() PageConfig {
	return u.cfg
}

// Match returns the named groups of the first pattern matching target.
func (u *URL) Match(target *url.URL) (map[string]string, bool) {
	if target == nil {
		return nil, false
	}
	withQuery := *target
	withQuery.Fragment = ""
	withoutQuery := withQuery
	withoutQuery.RawQuery = ""

	for _, p := range u.patterns {
		candidate := withoutQuery.String()
		if p.query {
			candidate = withQuery.String()
		}
		m := p.regex.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}
		params := map[string]string{}
		for i, name := range p.regex.SubexpNames() {
			if name != "" && i < len(m) {
				params[name] = m[i]
			}
		}
		return params, true
	}
	return nil, false
}

var namedGroup = regexp.MustCompile(`\(\?P?<([A-Za-z_][A-Za-z0-9_]*)>`)

// Build returns the absolute URL of the first pattern that, filled with
// params, matches itself.
func (u *URL) Build(params map[string]string) (string, error) {
	for _, p := range u.patterns {
		filled, ok := fill(p.raw, params)
		if !ok {
			continue
		}
		candidate := p.prefix + filled
		target, err := url.Parse(candidate)
		if err != nil {
			continue
		}
		if _, ok := u.Match(target); ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrNoPattern, params)
}

// fill replaces every named group of pattern with its param and unescapes the
// remaining literal characters. It fails on groups without a param.
func fill(pattern string, params map[string]string) (string, bool) {
	var out strings.Builder
	rest := pattern
	for {
		loc := namedGroup.FindStringSubmatchIndex(rest)
		if loc == nil {
			out.WriteString(unescape(rest))
			break
		}
		name := rest[loc[2]:loc[3]]
		value, ok := params[name]
		if !ok {
			return "", false
		}
		end := groupEnd(rest, loc[1])
		if end < 0 {
			return "", false
		}
		out.WriteString(unescape(rest[:loc[0]]))
		out.WriteString(value)
		rest = rest[end:]
	}
	return out.String(), true
}

// groupEnd returns the index right after the parenthesis closing the group whose body starts at start.
func groupEnd(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

func unescape(s string) string {
	s = strings.TrimPrefix(s, "^")
	s = strings.TrimSuffix(s, "$")
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		out.WriteByte(s[i])
	}
	return out.String()
}

// Go navigates to the URL built from params.
func (u *URL) Go(ctx context.Context, params map[string]string) (*Page, error) {
	target, err := u.Build(params)
	if err != nil {
		return nil, err
	}
	return u.browser.Location(ctx, Get(target))
}

// Open fetches the URL built from params without changing the current page.
func (u *URL) Open(ctx context.Context, params map[string]string) (*Page, error) {
	target, err := u.Build(params)
	if err != nil {
		return nil, err
	}
	return u.browser.Open(ctx, Get(target))
}

// IsHere reports whether the current page was routed here.
func (u *URL) IsHere() bool {
	page := u.browser.page
	if page == nil {
		return false
	}
	if _, ok := u.Match(page.URL()); !ok {
		return false
	}
	return page.cfg.Name == u.cfg.Name && page.IsHere()
}

// StayOrGo returns the current page when it is already here, else it navigates.
func (u *URL) StayOrGo(ctx context.Context, params map[string]string) (*Page, error) {
	if u.IsHere() {
		return u.browser.page, nil
	}
	return u.Go(ctx, params)
}
