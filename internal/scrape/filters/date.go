package filters

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goodsign/monday"
)

var (
	isoLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02",
		"20060102",
		time.RFC1123Z,
		time.RFC1123,
	}
	dayFirstLayouts = []string{
		"02/01/2006 15:04:05",
		"02/01/2006 15:04",
		"02/01/2006",
		"2/1/2006",
		"02/01/06",
		"02-01-2006",
		"02.01.2006",
		"2 January 2006 15:04",
		"2 January 2006",
		"2 Jan 2006",
		"Monday 2 January 2006",
	}
	monthFirstLayouts = []string{
		"01/02/2006 15:04:05",
		"01/02/2006 15:04",
		"01/02/2006",
		"1/2/2006",
		"01/02/06",
		"01-02-2006",
		"January 2, 2006 15:04",
		"January 2, 2006",
		"Jan 2, 2006",
		"Monday, January 2, 2006",
	}
)

// Translation rewrites a fragment of a date before parsing, for wordings
// neither time nor the locale tables understand ("aujourd'hui", "1er").
type Translation struct {
	Pattern *regexp.Regexp
	Repl    string
}

// DateTime parses its input text into a time.Time.
type DateTime struct {
	Source Filter
	// Layouts are tried in order. When empty a list of common layouts is used,
	// ordered by DayFirst.
	Layouts  []string
	DayFirst bool
	// Locale parses month and weekday names in another language.
	Locale       monday.Locale
	Translations []Translation
	// Location is used for layouts without a zone, defaults to time.Local.
	Location *time.Location
	Default  *Fallback
}

func (f DateTime) String() string {
	return fmt.Sprintf("DateTime(%s)", Describe(f.Source))
}

func (f DateTime) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "DateTime", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	if t, ok := v.(time.Time); ok {
		return t, nil
	}

	txt := TextOf(v)
	t, err := f.parse(txt)
	if err != nil {
		return orDefault(f.Default, fail("DateTime", Describe(f.Source), ErrFormat, "%q", txt))
	}
	return t, nil
}

func (f DateTime) layouts() []string {
	if len(f.Layouts) > 0 {
		return f.Layouts
	}
	guesses := append([]string{}, isoLayouts...)
	if f.DayFirst {
		return append(guesses, dayFirstLayouts...)
	}
	return append(guesses, monthFirstLayouts...)
}

func (f DateTime) parse(txt string) (time.Time, error) {
	for _, tr := range f.Translations {
		txt = tr.Pattern.ReplaceAllString(txt, tr.Repl)
	}
	txt = strings.TrimSpace(txt)

	loc := f.Location
	if loc == nil {
		loc = time.Local
	}

	for _, layout := range f.layouts() {
		var (
			t   time.Time
			err error
		)
		if f.Locale != "" {
			t, err = monday.ParseInLocation(layout, txt, loc, f.Locale)
		} else {
			t, err = time.ParseInLocation(layout, txt, loc)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("no layout matches %q", txt)
}

// Date is DateTime truncated to midnight.
type Date DateTime

func (f Date) String() string {
	return fmt.Sprintf("Date(%s)", Describe(f.Source))
}

func (f Date) Apply(ctx Context) (any, error) {
	v, err := DateTime(f).Apply(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := v.(time.Time)
	if !ok {
		return v, nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
}

// Clock provides the current time to DateGuess.
type Clock interface {
	Now() time.Time
}

// DateGuess parses a day and month without year and picks the most recent
// year that does not put the date in the future.
type DateGuess struct {
	Source Filter
	// Layout defaults to "02/01" or "01/02" following DayFirst.
	Layout   string
	DayFirst bool
	Locale   monday.Locale
	Clock    Clock
	Default  *Fallback
}

func (f DateGuess) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "DateGuess", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}

	layout := f.Layout
	if layout == "" {
		layout = "01/02"
		if f.DayFirst {
			layout = "02/01"
		}
	}

	now := time.Now()
	if f.Clock != nil {
		now = f.Clock.Now()
	}

	txt := TextOf(v)
	parsed, err := DateTime{Layouts: []string{layout}, Locale: f.Locale, Location: now.Location()}.parse(txt)
	if err != nil {
		return orDefault(f.Default, fail("DateGuess", layout, ErrFormat, "%q", txt))
	}

	guess := time.Date(now.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, now.Location())
	if guess.After(now) {
		guess = guess.AddDate(-1, 0, 0)
	}
	return guess, nil
}
