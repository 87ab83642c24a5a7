package filters

import (
	"encoding/json"
	"errors"
	"net/url"
	"regexp"
	"testing"
	"time"

	"scrapekit/internal/scrape/document"

	"github.com/goodsign/monday"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const statement = `<html><body>
<table id="ops">
	<tr><th>Date</th><th colspan="2">Libellé</th><th>Montant</th></tr>
	<tr class="row"><td>01/02/2020</td><td>Paid <b>rent</b></td><td>CB</td><td class="amount">Total: 1,234.56 EUR</td></tr>
	<tr class="row"><td>03/02/2020</td><td><a href="/op/2">Salary</a></td><td>VIR</td><td class="amount">-3.00</td></tr>
</table>
<div id="note"><p>Hello <b>world</b><script>alert(1)</script></p></div>
</body></html>`

func parseStatement(t *testing.T) document.HTMLNode {
	t.Helper()
	root, err := document.ParseHTML([]byte(statement), "utf-8")
	require.NoError(t, err)
	return root
}

func rows(t *testing.T, root document.Node) []document.Node {
	t.Helper()
	nodes, err := root.Query(`//tr[@class="row"]`)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	return nodes
}

func requireDecimal(t *testing.T, expected string, v any) {
	t.Helper()
	d, ok := v.(decimal.Decimal)
	require.True(t, ok, "expected decimal, got %T", v)
	require.True(t, d.Equal(decimal.RequireFromString(expected)), "expected %s, got %s", expected, d)
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	var perr *ParseError
	require.True(t, errors.As(err, &perr), "expected a ParseError, got %v", err)
	require.ErrorIs(t, err, kind)
}

func TestCleanDecimal(t *testing.T) {
	cases := []struct {
		name     string
		filter   CleanDecimal
		expected string
	}{
		{name: "us", filter: DecimalUS(Const{"1,234.56"}), expected: "1234.56"},
		{name: "french", filter: DecimalFrench(Const{"1.234,56"}), expected: "1234.56"},
		{name: "french spaces", filter: DecimalFrench(Const{"1 234,56 €"}), expected: "1234.56"},
		{name: "si", filter: DecimalSI(Const{"1 234.5"}), expected: "1234.5"},
		{name: "auto us", filter: CleanDecimal{Source: Const{"1,234.56"}}, expected: "1234.56"},
		{name: "auto french", filter: CleanDecimal{Source: Const{"1.234,56"}}, expected: "1234.56"},
		{name: "auto thousands only", filter: CleanDecimal{Source: Const{"1,234,567"}}, expected: "1234567"},
		{name: "auto single comma", filter: CleanDecimal{Source: Const{"12,5"}}, expected: "12.5"},
		{name: "integer", filter: CleanDecimal{Source: Const{"42"}}, expected: "42"},
		{name: "unicode minus", filter: CleanDecimal{Source: Const{"−12.50"}}, expected: "-12.5"},
		{name: "json number", filter: CleanDecimal{Source: Const{json.Number("7.25")}}, expected: "7.25"},
		{name: "json exponent", filter: CleanDecimal{Source: Const{json.Number("1.5e2")}}, expected: "150"},
		{name: "trailing period", filter: CleanDecimal{Source: Const{"12.50 €."}}, expected: "12.5"},
		{name: "abbreviation", filter: CleanDecimal{Source: Const{"EUR 12.50 (approx.)"}}, expected: "12.5"},
		{name: "leading separator", filter: CleanDecimal{Source: Const{"Total: .75"}}, expected: "0.75"},
		{name: "spaced sign", filter: CleanDecimal{Source: Const{"- 1,234.50 USD"}}, expected: "-1234.5"},
		{
			name: "sign",
			filter: CleanDecimal{
				Source: Const{"42"},
				Sign:   func(string) int { return -1 },
			},
			expected: "-42",
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			v, err := test.filter.Apply(Static{})
			require.NoError(t, err)
			requireDecimal(t, test.expected, v)
		})
	}

	_, err := CleanDecimal{Source: Const{"n/a"}}.Apply(Static{})
	requireKind(t, err, ErrFormat)

	for _, text := range []string{"1,23,4", "1.234.56,7,8", "2 items for 12.50"} {
		_, err = CleanDecimal{Source: Const{text}}.Apply(Static{})
		requireKind(t, err, ErrFormat)
	}

	v, err := CleanDecimal{Source: Const{"n/a"}, Default: Default(NotAvailable)}.Apply(Static{})
	require.NoError(t, err)
	require.Equal(t, NotAvailable, v)

	n, err := Int{Source: Const{"1 234"}}.Apply(Static{})
	require.NoError(t, err)
	require.Equal(t, 1234, n)
}

func TestDefaults(t *testing.T) {
	ctx := Static{Root: parseStatement(t)}

	_, err := CleanText{Source: XPath{Expr: "//span[@id='missing']"}}.Apply(ctx)
	requireKind(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "//span[@id='missing']")

	v, err := CleanText{Source: XPath{Expr: "//span[@id='missing']"}, Default: Default("none")}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "none", v)

	v, err = CleanDecimal{
		Source:  CleanText{Source: XPath{Expr: "//span"}},
		Default: Default(decimal.Zero),
	}.Apply(ctx)
	require.NoError(t, err)
	requireDecimal(t, "0", v)

	// invalid expressions are not extraction failures
	_, err = CleanText{Source: XPath{Expr: "//tr["}, Default: Default("none")}.Apply(ctx)
	require.Error(t, err)
	var perr *ParseError
	require.False(t, errors.As(err, &perr))
}

func TestChaining(t *testing.T) {
	root := parseStatement(t)
	ctx := Static{Root: rows(t, root)[0]}

	amount := CleanDecimal{
		Source: Regexp{
			Source:  CleanText{Source: XPath{Expr: `./td[@class="amount"]`}},
			Pattern: regexp.MustCompile(`([\d,.]+)`),
		},
	}
	v, err := amount.Apply(ctx)
	require.NoError(t, err)
	requireDecimal(t, "1234.56", v)

	date := Date{Source: CleanText{Source: XPath{Expr: "./td[1]"}}, DayFirst: true, Location: time.UTC}
	v, err = date.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), v)
}

func TestCleanText(t *testing.T) {
	root := parseStatement(t)
	ctx := Static{Root: rows(t, root)[0]}
	label := XPath{Expr: "./td[2]"}

	cases := []struct {
		name     string
		filter   CleanText
		expected string
	}{
		{name: "descendants", filter: CleanText{Source: label}, expected: "Paid rent"},
		{name: "own text", filter: CleanText{Source: label, OwnText: true}, expected: "Paid"},
		{name: "upper", filter: CleanText{Source: label, Case: CaseUpper}, expected: "PAID RENT"},
		{name: "title", filter: CleanText{Source: Const{"hello  world"}, Case: CaseTitle}, expected: "Hello World"},
		{name: "symbols", filter: CleanText{Source: Const{"12 €*"}, Symbols: "€*"}, expected: "12"},
		{
			name:     "replace",
			filter:   CleanText{Source: Const{"Paid  rent"}, Replace: []Replacement{{Old: "Paid", New: "Due"}}},
			expected: "Due rent",
		},
		{name: "newlines", filter: CleanText{Source: Const{" a  \n\n  b "}, KeepNewlines: true}, expected: "a\nb"},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			v, err := test.filter.Apply(ctx)
			require.NoError(t, err)
			require.Equal(t, test.expected, v)
		})
	}

	v, err := Join{Source: XPath{Expr: "./td"}, Sep: "|"}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "01/02/2020|Paid rent|CB|Total: 1,234.56 EUR", v)
}

func TestRegexp(t *testing.T) {
	ctx := Static{}

	v, err := Regexp{Source: Const{"ref 12-34"}, Pattern: regexp.MustCompile(`(\d+)-(\d+)`), Template: "$2/$1"}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "34/12", v)

	v, err = Regexp{Source: Const{"a1 b2 c3"}, Pattern: regexp.MustCompile(`\d`), Nth: All}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2", "3"}, v)

	v, err = Regexp{Source: Const{"a1 b2 c3"}, Pattern: regexp.MustCompile(`[a-z](\d)`), Nth: 1}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", v)

	_, err = Regexp{Source: Const{"abc"}, Pattern: regexp.MustCompile(`\d+`)}.Apply(ctx)
	requireKind(t, err, ErrNoMatch)

	v, err = Regexp{Source: Const{"abc"}, Pattern: regexp.MustCompile(`\d+`), Default: Default("0")}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "0", v)

	_, err = Regexp{Source: Const{"a1 b2"}, Pattern: regexp.MustCompile(`\d`), Nth: -2}.Apply(ctx)
	requireKind(t, err, ErrNoMatch)

	_, err = Regexp{Source: Const{"a1 b2"}, Pattern: regexp.MustCompile(`\d`), Nth: 2}.Apply(ctx)
	requireKind(t, err, ErrNoMatch)
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time {
	return time.Time(c)
}

func TestDates(t *testing.T) {
	ctx := Static{}

	v, err := Date{Source: Const{"01/02/2020"}, Location: time.UTC}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), v)

	v, err = DateTime{Source: Const{"2020-03-04T10:11:12Z"}}.Apply(ctx)
	require.NoError(t, err)
	require.True(t, time.Date(2020, 3, 4, 10, 11, 12, 0, time.UTC).Equal(v.(time.Time)))

	v, err = Date{
		Source:   Const{"3 février 2020"},
		Layouts:  []string{"2 January 2006"},
		Locale:   monday.LocaleFrFR,
		Location: time.UTC,
	}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2020, 2, 3, 0, 0, 0, 0, time.UTC), v)

	v, err = Date{
		Source:       Const{"1er mars 2020"},
		Layouts:      []string{"2 January 2006"},
		Locale:       monday.LocaleFrFR,
		Translations: []Translation{{Pattern: regexp.MustCompile(`(\d+)er\b`), Repl: "$1"}},
		Location:     time.UTC,
	}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC), v)

	_, err = DateTime{Source: Const{"someday"}}.Apply(ctx)
	requireKind(t, err, ErrFormat)

	clock := fixedClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	v, err = DateGuess{Source: Const{"15/12"}, DayFirst: true, Clock: clock}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2023, 12, 15, 0, 0, 0, 0, time.UTC), v)

	v, err = DateGuess{Source: Const{"01/03"}, DayFirst: true, Clock: clock}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), v)
}

func TestDict(t *testing.T) {
	doc, err := document.ParseJSON([]byte(`{"a": {"b": [10, {"c": "x"}]}, "n": null}`), "")
	require.NoError(t, err)
	ctx := Static{Root: doc}

	v, err := Dict{Path: Path("a/b/1/c")}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "x", v)

	v, err = CleanDecimal{Source: Dict{Path: Path("a/b/0")}}.Apply(ctx)
	require.NoError(t, err)
	requireDecimal(t, "10", v)

	_, err = Dict{Path: Path("a/b/5")}.Apply(ctx)
	requireKind(t, err, ErrNotFound)

	_, err = Dict{Path: Path("a/z")}.Apply(ctx)
	requireKind(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "a/z")

	v, err = Dict{Path: Path("a/z"), Default: Default("fallback")}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "fallback", v)

	_, err = Dict{Path: Path("n")}.Apply(ctx)
	requireKind(t, err, ErrNotFound)
}

func TestCombinators(t *testing.T) {
	ctx := Static{Vars: map[string]any{"account": "FR76"}}

	v, err := Map{Source: Const{"CB"}, Table: map[string]any{"CB": "card"}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "card", v)

	_, err = Map{Source: Const{"CHQ"}, Table: map[string]any{"CB": "card"}}.Apply(ctx)
	requireKind(t, err, ErrNotInMap)

	v, err = Map{Source: Const{"CHQ"}, Table: map[string]any{"CB": "card"}, Default: Default("other")}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "other", v)

	v, err = Format{Layout: "%s-%s", Args: []Filter{Const{"2020"}, Const{"01"}}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "2020-01", v)

	sum := Eval{
		Func: func(args ...any) (any, error) {
			return args[0].(int) + args[1].(int), nil
		},
		Args: []Filter{Const{2}, Const{3}},
	}
	v, err = sum.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, v)

	v, err = Env{Name: "account"}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "FR76", v)

	_, err = Env{Name: "bank"}.Apply(ctx)
	requireKind(t, err, ErrNotFound)

	v, err = Coalesce{Args: []Filter{Env{Name: "bank"}, Const{""}, Env{Name: "account"}}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "FR76", v)

	_, err = Field{Name: "label"}.Apply(ctx)
	requireKind(t, err, ErrNotFound)
}

func TestMarkupFilters(t *testing.T) {
	root := parseStatement(t)
	base, err := url.Parse("https://bank.example/account/ops")
	require.NoError(t, err)
	ctx := Static{Root: root, BaseURL: base}

	v, err := Link{Source: XPath{Expr: "//a"}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "/op/2", v)

	v, err = AbsoluteLink{Source: XPath{Expr: "//a"}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "https://bank.example/op/2", v)

	_, err = Attr{Source: XPath{Expr: "//table"}, Name: "summary"}.Apply(ctx)
	requireKind(t, err, ErrAttributeNotFound)

	v, err = XPath{Expr: `count(//tr[@class="row"])`}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, float64(2), v)

	v, err = CleanText{Source: CSS{Selector: "tr.row a"}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "Salary", v)

	v, err = HasElement{Source: XPath{Expr: "//a"}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, true, v)

	v, err = HasElement{Source: XPath{Expr: "//form"}, Yes: "yes", No: "no"}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "no", v)

	v, err = CleanHTML{Source: XPath{Expr: `//div[@id="note"]`}}.Apply(ctx)
	require.NoError(t, err)
	require.Contains(t, v, "**world**")
	require.NotContains(t, v, "alert")
}

func TestTableCell(t *testing.T) {
	root := parseStatement(t)
	row := rows(t, root)[1]
	ctx := Static{Root: row, Columns: map[string]int{"label": 1, "amount": 3}}

	v, err := CleanText{Source: TableCell{Names: []string{"label"}}}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, "Salary", v)

	v, err = CleanDecimal{Source: TableCell{Names: []string{"amount"}}}.Apply(ctx)
	require.NoError(t, err)
	requireDecimal(t, "-3", v)

	_, err = TableCell{Names: []string{"a", "b"}}.Apply(ctx)
	requireKind(t, err, ErrColumnNotFound)
	require.Contains(t, err.Error(), "unable to find column a or b")

	v, err = TableCell{Names: []string{"a", "b"}, Default: Default(NotAvailable)}.Apply(ctx)
	require.NoError(t, err)
	require.Equal(t, NotAvailable, v)

	spanned, err := document.ParseHTML([]byte(`<table><tr><td colspan="2">x</td><td>y</td></tr></table>`), "utf-8")
	require.NoError(t, err)
	tr, err := spanned.Query("//tr")
	require.NoError(t, err)
	v, err = CleanText{Source: TableCell{Names: []string{"third"}}}.Apply(Static{Root: tr[0], Columns: map[string]int{"third": 2}})
	require.NoError(t, err)
	require.Equal(t, "y", v)
}
