package element

import (
	"testing"
	"time"

	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/document"
	"scrapekit/internal/scrape/filters"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type transaction struct {
	Date   time.Time
	Label  string
	Amount decimal.Decimal
}

const statement = `<html><body>
<table>
	<thead><tr><th>Date</th><th>Intitulé</th><th>Montant</th></tr></thead>
	<tbody>
		<tr><td>01/01/2020</td><td>Salaire</td><td>12,50</td></tr>
		<tr><td>01/02/2020</td><td>Loyer</td><td>-3,00</td></tr>
	</tbody>
</table>
<a rel="next" href="/ops?page=2">next</a>
</body></html>`

func parse(t *testing.T, content string) document.HTMLNode {
	t.Helper()
	root, err := document.ParseHTML([]byte(content), "utf-8")
	require.NoError(t, err)
	return root
}

func transactionItem() *Item[transaction] {
	return NewItem[transaction]("transaction").
		Field("date", filters.Date{
			Source:   filters.CleanText{Source: filters.TableCell{Names: []string{"date"}}},
			DayFirst: true,
			Location: time.UTC,
		}).
		Field("label", filters.CleanText{Source: filters.TableCell{Names: []string{"label"}}}).
		Field("amount", filters.CleanDecimal{Source: filters.TableCell{Names: []string{"amount"}}})
}

func TestResolveColumns(t *testing.T) {
	root := parse(t, `<table><tr>
		<th>Date</th><th colspan="2">Intitulé</th><th>Montant (EUR)</th><th>Date</th>
	</tr></table>`)
	headers, err := root.Query("//th")
	require.NoError(t, err)

	columns := ResolveColumns(headers, []Column{
		Col("date", "date"),
		Col("label", "Libellé", "Intitulé"),
		ColRegexp("amount", `^Montant`),
		Col("balance", "Solde"),
	})
	require.Equal(t, map[string]int{"date": 0, "label": 1, "amount": 3}, columns)

	plain := parse(t, `<table><tr><th>Date</th><th>Intitulé</th><th>Montant</th></tr></table>`)
	headers, err = plain.Query("//th")
	require.NoError(t, err)
	columns = ResolveColumns(headers, []Column{Col("label", "Libellé", "Intitulé")})
	require.Equal(t, 1, columns["label"])
}

func TestTable(t *testing.T) {
	root := parse(t, statement)

	table := Table[transaction]{
		List: List[transaction]{
			ItemXPath: "//tbody/tr",
			Items:     transactionItem(),
			NextPage:  filters.Link{Source: filters.XPath{Expr: `//a[@rel="next"]`}},
		},
		HeadXPath: "//thead//th",
		Columns: []Column{
			Col("date", "Date"),
			Col("label", "Libellé", "Intitulé"),
			Col("amount", "Montant"),
		},
	}

	res, err := table.Extract(Static{Root: root}, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)

	require.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), res.Items[0].Date)
	require.Equal(t, "Salaire", res.Items[0].Label)
	require.Equal(t, "12.50", res.Items[0].Amount.StringFixed(2))

	require.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), res.Items[1].Date)
	require.Equal(t, "-3.00", res.Items[1].Amount.StringFixed(2))

	require.Equal(t, "/ops?page=2", res.Next)

	missing := table
	missing.Columns = []Column{Col("date", "Date"), Col("label", "Libellé"), Col("amount", "Montant")}
	_, err = missing.Extract(Static{Root: root}, nil)
	require.ErrorIs(t, err, filters.ErrColumnNotFound)
}

func TestListNextPage(t *testing.T) {
	root := parse(t, `<ul><li>a</li></ul>`)
	list := List[map[string]any]{
		ItemXPath: "//li",
		Items:     NewItem[map[string]any]("letter").Field("v", filters.CleanText{}),
		NextPage:  filters.Link{Source: filters.XPath{Expr: `//a[@rel="next"]`}},
	}
	res, err := list.Extract(Static{Root: root}, nil)
	require.NoError(t, err)
	require.Nil(t, res.Next)
	require.Len(t, res.Items, 1)

	list.NextPage = filters.XPath{Expr: "//li["}
	_, err = list.Extract(Static{Root: root}, nil)
	require.Error(t, err)
}

func TestListStore(t *testing.T) {
	root := parse(t, `<ul><li>a</li><li>b</li><li>a</li><li>c</li></ul>`)
	item := NewItem[map[string]any]("letter").Field("v", filters.CleanText{})
	key := func(obj map[string]any) string { return obj["v"].(string) }

	list := List[map[string]any]{ItemXPath: "//li", Items: item, Key: key}
	_, err := list.Extract(Static{Root: root}, nil)
	require.ErrorIs(t, err, ErrDuplicate)

	rec := &telemetry.Recorder{}
	list.IgnoreDuplicates = true
	res, err := list.Extract(Static{Root: root, Tel: rec}, nil)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"v": "a"}, {"v": "b"}, {"v": "c"}}, res.Items)
	require.Len(t, rec.Reports("warning"), 1)
	require.Equal(t, report_list_duplicate, rec.Reports("warning")[0].ID)

	merged := List[map[string]any]{
		ItemXPath: "//li",
		Items:     item.Extend("counted").Compute("n", func(*Scope) (any, error) { return 1, nil }),
		Store: func() Store[map[string]any] {
			return &MergeStore[map[string]any]{
				Key: key,
				Merge: func(existing, obj map[string]any) map[string]any {
					existing["n"] = existing["n"].(int) + obj["n"].(int)
					return existing
				},
			}
		},
	}
	res, err = merged.Extract(Static{Root: root}, nil)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"v": "a", "n": 2}, {"v": "b", "n": 1}, {"v": "c", "n": 1}}, res.Items)
}

func TestListEnvironment(t *testing.T) {
	root := parse(t, `<div data-account="FR76"><p>a</p><p>b</p></div>`)
	item := NewItem[map[string]any]("row").
		Parse(func(s *Scope) error {
			_, seen := s.Env("row")
			s.SetEnv("row", seen)
			return nil
		}).
		Field("account", filters.Env{Name: "account"}).
		Field("leaked", filters.Env{Name: "row"})

	list := List[map[string]any]{
		ItemXPath: "//p",
		Items:     item,
		Parse: func(s *Scope) error {
			v, err := s.Eval(filters.Attr{Source: filters.XPath{Expr: "//div"}, Name: "data-account"})
			if err != nil {
				return err
			}
			s.SetEnv("account", v)
			return nil
		},
	}
	res, err := list.Extract(Static{Root: root}, map[string]any{"bank": "x"})
	require.NoError(t, err)
	require.Equal(t, []map[string]any{
		{"account": "FR76", "leaked": false},
		{"account": "FR76", "leaked": false},
	}, res.Items)

	list.Condition = func(s *Scope) (bool, error) {
		v, _ := s.Env("bank")
		return v == "y", nil
	}
	res, err = list.Extract(Static{Root: root}, map[string]any{"bank": "x"})
	require.NoError(t, err)
	require.Empty(t, res.Items)
}

func TestDictCollection(t *testing.T) {
	doc, err := document.ParseJSON([]byte(`{
		"accounts": {
			"b": {"id": "B", "ops": [{"amount": "2.5"}]},
			"a": {"id": "A", "ops": [{"amount": "1"}, {"amount": "-4"}]}
		}
	}`), "")
	require.NoError(t, err)

	accounts := Dict[map[string]any]{
		List: List[map[string]any]{
			Items: NewItem[map[string]any]("account").
				Field("id", filters.Dict{Path: filters.Path("id")}).
				Field("ops", NestedList[map[string]any](Dict[map[string]any]{
					List: List[map[string]any]{
						Items: NewItem[map[string]any]("op").Field("amount", filters.CleanDecimal{Source: filters.Dict{Path: filters.Path("amount")}}),
					},
					ItemPath: filters.Path("ops"),
				}, nil)),
		},
		ItemPath: filters.Path("accounts"),
	}
	res, err := accounts.Extract(Static{Root: doc}, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, "A", res.Items[0]["id"])
	require.Equal(t, "B", res.Items[1]["id"])
	require.Len(t, res.Items[0]["ops"], 2)

	ops := Dict[map[string]any]{
		List: List[map[string]any]{
			Items: NewItem[map[string]any]("op").Field("amount", filters.CleanText{Source: filters.Dict{Path: filters.Path("amount")}}),
		},
		ItemPath: []string{"accounts", Wildcard, "ops"},
	}
	res, err = ops.Extract(Static{Root: doc}, nil)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"amount": "1"}, {"amount": "-4"}, {"amount": "2.5"}}, res.Items)

	none := ops
	none.ItemPath = filters.Path("cards")
	res, err = none.Extract(Static{Root: doc}, nil)
	require.NoError(t, err)
	require.Empty(t, res.Items)
}

func TestTableDateAmount(t *testing.T) {
	root := parse(t, `<table>
		<tr><th>Date</th><th>Amount</th></tr>
		<tr><td>2020-01-01</td><td>12.50</td></tr>
		<tr><td>2020-02-01</td><td>-3.00</td></tr>
	</table>`)

	table := Table[transaction]{
		List: List[transaction]{
			ItemXPath: "//tr[td]",
			Items: NewItem[transaction]("transaction").
				Field("date", filters.Date{Source: filters.CleanText{Source: filters.TableCell{Names: []string{"date"}}}, Location: time.UTC}).
				Field("amount", filters.CleanDecimal{Source: filters.TableCell{Names: []string{"amount"}}}),
		},
		HeadXPath: "//tr[th]/th",
		Columns:   []Column{Col("date", "Date"), Col("amount", "Amount")},
	}

	res, err := table.Extract(Static{Root: root}, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	require.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), res.Items[0].Date)
	require.Equal(t, "12.50", res.Items[0].Amount.StringFixed(2))
	require.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), res.Items[1].Date)
	require.Equal(t, "-3.00", res.Items[1].Amount.StringFixed(2))
	require.Nil(t, res.Next)
}
