package filters

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	anySpace      = regexp.MustCompile(`[\s\p{Zs}]+`)
	inlineSpace   = regexp.MustCompile(`[\t\f\r\v\p{Zs}]+`)
	aroundNewline = regexp.MustCompile(`[\s\p{Zs}]*\n[\s\p{Zs}]*`)
)

func normalizeSpace(s string, keepNewlines bool) string {
	if keepNewlines {
		s = inlineSpace.ReplaceAllString(s, " ")
		s = aroundNewline.ReplaceAllString(s, "\n")
	} else {
		s = anySpace.ReplaceAllString(s, " ")
	}
	return norm.NFC.String(strings.TrimSpace(s))
}

// Replacement is one substitution applied by CleanText, in order.
type Replacement struct {
	Old string
	New string
}

type Case int

const (
	CaseKeep Case = iota
	CaseLower
	CaseUpper
	CaseTitle
)

// CleanText renders its input as text with whitespace collapsed and trimmed.
type CleanText struct {
	Source Filter
	// OwnText keeps only the node's own leading text, without descendant markup.
	OwnText bool
	// KeepNewlines collapses spaces but keeps line breaks.
	KeepNewlines bool
	// Symbols are removed from the result.
	Symbols string
	Replace []Replacement
	Case    Case
	Default *Fallback
}

func (f CleanText) String() string {
	return fmt.Sprintf("CleanText(%s)", Describe(f.Source))
}

func (f CleanText) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "CleanText", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	return f.clean(v), nil
}

func (f CleanText) clean(v any) string {
	txt := normalizeSpace(rawText(v, f.OwnText), f.KeepNewlines)
	if f.Symbols != "" {
		txt = strings.Map(func(r rune) rune {
			if strings.ContainsRune(f.Symbols, r) {
				return -1
			}
			return r
		}, txt)
	}
	for _, r := range f.Replace {
		txt = strings.ReplaceAll(txt, r.Old, r.New)
	}
	if f.Symbols != "" || len(f.Replace) > 0 {
		txt = normalizeSpace(txt, f.KeepNewlines)
	}
	switch f.Case {
	case CaseLower:
		txt = cases.Lower(language.Und).String(txt)
	case CaseUpper:
		txt = cases.Upper(language.Und).String(txt)
	case CaseTitle:
		txt = cases.Title(language.Und).String(txt)
	}
	return txt
}

// Join cleans every selected node and joins them with Sep.
type Join struct {
	Source  Filter
	Sep     string
	Default *Fallback
}

func (f Join) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "Join", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	var parts []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			parts = append(parts, TextOf(item))
		}
	default:
		if nodes, ok := asNodes(v); ok {
			for _, n := range nodes {
				parts = append(parts, TextOf(n))
			}
		} else {
			parts = append(parts, TextOf(v))
		}
	}
	return strings.Join(parts, f.Sep), nil
}

// All makes Regexp return every match.
const All = -1

// Regexp extracts a part of its input text.
type Regexp struct {
	Source  Filter
	Pattern *regexp.Regexp
	// Template is expanded with the match ($1, ${name}). When empty the first
	// participating group is returned, or the whole match without groups.
	Template string
	// Nth selects which match to use, All returns a []string of every match.
	Nth     int
	Default *Fallback
}

func (f Regexp) String() string {
	return fmt.Sprintf("Regexp(%s, %s)", Describe(f.Source), f.Pattern)
}

func (f Regexp) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "Regexp", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	txt := TextOf(v)

	matches := f.Pattern.FindAllStringSubmatchIndex(txt, -1)
	if len(matches) == 0 || (f.Nth != All && (f.Nth < 0 || f.Nth >= len(matches))) {
		return orDefault(f.Default, fail("Regexp", f.Pattern.String(), ErrNoMatch, "%q", txt))
	}

	if f.Nth == All {
		out := make([]string, len(matches))
		for i, m := range matches {
			out[i] = f.render(txt, m)
		}
		return out, nil
	}
	return f.render(txt, matches[f.Nth]), nil
}

func (f Regexp) render(txt string, m []int) string {
	if f.Template != "" {
		return string(f.Pattern.ExpandString(nil, f.Template, txt, m))
	}
	for g := 1; g*2 < len(m); g++ {
		if m[g*2] >= 0 {
			return txt[m[g*2]:m[g*2+1]]
		}
	}
	return txt[m[0]:m[1]]
}
