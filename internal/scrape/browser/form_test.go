package browser

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"scrapekit/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

const formPage = `<html><body>
<form id="search" action="/search?lang=en" method="get">
	<input name="q" value="shoes">
</form>
<form name="settings" action="/save" method="post">
	<input name="a" value="1">
	<input name="b">
	<input type="checkbox" name="c" value="yes" checked>
	<input type="checkbox" name="d" value="no">
	<input type="radio" name="r" checked>
	<input name="" value="unnamed">
	<input name="x" value="disabled" disabled>
	<select name="select">
		<option value="first">First</option>
		<option value="second">Second</option>
	</select>
	<select name="picked">
		<option>One</option>
		<option selected> Two </option>
	</select>
	<select name="empty"></select>
	<textarea name="notes">some notes</textarea>
	<input type="submit" name="save" value="Save">
</form>
<form name="double" action="/double" method="post" enctype="multipart/form-data">
	<input name="field" value="v">
	<input type="submit" name="ok" value="OK">
	<input type="submit" name="cancel" value="Cancel">
</form>
<form name="buttons" action="/buttons" method="post">
	<input name="field" value="v">
	<input type="submit" name="preview" value="Preview">
	<button type="button" name="toggle" value="t">Toggle</button>
	<button name="publish" value="now">Publish</button>
</form>
</body></html>`

func loadFormPage(t *testing.T, handler http.HandlerFunc) (*Page, *telemetry.Recorder) {
	t.Helper()
	b, rec := newTestBrowser(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/forms" {
			writeHTML(w, formPage)
			return
		}
		handler(w, r)
	}), Options{})
	page, err := b.Go(context.Background(), "/forms")
	require.NoError(t, err)
	return page, rec
}

func TestFormFields(t *testing.T) {
	page, _ := loadFormPage(t, nil)

	form, err := page.GetForm(FormQuery{Name: "settings"})
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, form.Method)
	require.Equal(t, "/save", form.Action.Path)

	require.Equal(t, map[string]string{
		"a":      "1",
		"b":      "",
		"c":      "yes",
		"r":      "on",
		"select": "first",
		"picked": "Two",
		"empty":  "",
		"notes":  "some notes",
		"save":   "Save",
	}, form.Map())
	require.Equal(t, []string{"a", "b", "c", "r", "select", "picked", "empty", "notes", "save"}, form.Names())

	_, ok := form.Get("d")
	require.False(t, ok)
	_, ok = form.Get("x")
	require.False(t, ok)
}

func TestGetFormQueries(t *testing.T) {
	page, _ := loadFormPage(t, nil)

	form, err := page.GetForm(FormQuery{})
	require.NoError(t, err)
	require.Equal(t, "/search", form.Action.Path)

	form, err = page.GetForm(FormQuery{Nr: 1})
	require.NoError(t, err)
	require.Equal(t, "/save", form.Action.Path)

	form, err = page.GetForm(FormQuery{Name: "search"})
	require.NoError(t, err)
	require.Equal(t, "/search", form.Action.Path)

	form, err = page.GetForm(FormQuery{XPath: `//form[@method="post"]`, Nr: 1})
	require.NoError(t, err)
	require.Equal(t, "/double", form.Action.Path)

	_, err = page.GetForm(FormQuery{Name: "missing"})
	require.ErrorIs(t, err, ErrFormNotFound)
	_, err = page.GetForm(FormQuery{Nr: 4})
	require.ErrorIs(t, err, ErrFormNotFound)
	_, err = page.GetForm(FormQuery{Name: "settings", Submit: `.//input[@name="nope"]`})
	require.ErrorIs(t, err, ErrFormNotFound)
}

func submitWarnings(rec *telemetry.Recorder) int {
	n := 0
	for _, r := range rec.Reports("warning") {
		if r.ID == "browser: "+report_form_submit {
			n++
		}
	}
	return n
}

func TestFormSubmitChoice(t *testing.T) {
	page, rec := loadFormPage(t, nil)

	form, err := page.GetForm(FormQuery{Name: "double"})
	require.NoError(t, err)
	require.Equal(t, "OK", form.Map()["ok"])
	require.Equal(t, "Cancel", form.Map()["cancel"])
	require.Equal(t, 1, submitWarnings(rec))

	form, err = page.GetForm(FormQuery{Name: "double", Submit: `.//input[@name="cancel"]`})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"field": "v", "cancel": "Cancel"}, form.Map())
	require.Equal(t, 1, submitWarnings(rec))

	_, err = page.GetForm(FormQuery{Name: "settings"})
	require.NoError(t, err)
	require.Equal(t, 1, submitWarnings(rec))
}

func TestFormSubmitButton(t *testing.T) {
	page, rec := loadFormPage(t, nil)

	form, err := page.GetForm(FormQuery{Name: "buttons", Submit: `.//button[@name="publish"]`})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"field": "v", "publish": "now"}, form.Map())
	require.Equal(t, 0, submitWarnings(rec))

	form, err = page.GetForm(FormQuery{Name: "buttons"})
	require.NoError(t, err)
	require.Equal(t, []string{"field", "preview", "publish"}, form.Names())
	require.Equal(t, 1, submitWarnings(rec))
}

func TestFormGetRequest(t *testing.T) {
	var got url.Values
	var referer string
	page, _ := loadFormPage(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		referer = r.Referer()
		writeHTML(w, "<p>results</p>")
	})

	form, err := page.GetForm(FormQuery{Name: "search"})
	require.NoError(t, err)
	form.Set("q", "boots")
	form.Set("page", "2")

	req := form.Request()
	require.Equal(t, http.MethodGet, req.Method)
	require.Nil(t, req.Form)

	result, err := form.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "/search", result.URL().Path)
	require.Equal(t, url.Values{"lang": {"en"}, "q": {"boots"}, "page": {"2"}}, got)
	require.Equal(t, page.URL().String(), referer)

	_, err = form.Submit(context.Background())
	require.ErrorIs(t, err, ErrFormSubmitted)
}

func TestFormPostRequest(t *testing.T) {
	var got url.Values
	page, _ := loadFormPage(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		writeHTML(w, "<p>saved</p>")
	})

	form, err := page.GetForm(FormQuery{Name: "settings"})
	require.NoError(t, err)
	form.Delete("notes")
	form.Set("b", "changed")
	form.Header.Set("Referer", "https://elsewhere.example/")

	req := form.Request()
	require.Equal(t, "https://elsewhere.example/", req.Header.Get("Referer"))

	_, err = form.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "changed", got.Get("b"))
	require.Equal(t, "yes", got.Get("c"))
	require.False(t, got.Has("notes"))
	require.False(t, got.Has("d"))
}

func TestFormMultipartRequest(t *testing.T) {
	var fields map[string]string
	page, _ := loadFormPage(t, func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data", mediaType)

		fields = map[string]string{}
		reader := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			value, err := io.ReadAll(part)
			require.NoError(t, err)
			fields[part.FormName()] = strings.TrimSpace(string(value))
		}
		writeHTML(w, "<p>done</p>")
	})

	form, err := page.GetForm(FormQuery{Name: "double", Submit: `.//input[@name="ok"]`})
	require.NoError(t, err)
	require.Equal(t, url.Values{"field": {"v"}, "ok": {"OK"}}, form.Request().Multipart)

	_, err = form.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"field": "v", "ok": "OK"}, fields)
}
