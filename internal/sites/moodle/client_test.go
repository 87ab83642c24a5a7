package moodle

import (
	"context"
	"embed"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/browser"

	"github.com/stretchr/testify/require"
)

//go:embed testdata/*.html
var fixtures embed.FS

func serveFixture(t *testing.T, w http.ResponseWriter, name string) {
	content, err := fixtures.ReadFile("testdata/" + name)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(content)
}

func newMoodle(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	loggedIn := func(r *http.Request) bool {
		cookie, err := r.Cookie("MoodleSession")
		return err == nil && cookie.Value == "s1"
	}
	guarded := func(fixture string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !loggedIn(r) {
				http.Redirect(w, r, "/login/index.php", http.StatusSeeOther)
				return
			}
			serveFixture(t, w, fixture)
		}
	}

	mux.HandleFunc("/login/index.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			serveFixture(t, w, "login.html")
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("logintoken") != "tok123" ||
			r.PostForm.Get("username") != "student" ||
			r.PostForm.Get("password") != "hunter2" {
			serveFixture(t, w, "login.html")
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "MoodleSession", Value: "s1", Path: "/"})
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
	mux.HandleFunc("/{$}", guarded("dashboard.html"))
	mux.HandleFunc("/index.php", guarded("dashboard.html"))
	mux.HandleFunc("/course/view.php", guarded("course.html"))
	mux.HandleFunc("/course/section.php", guarded("section.html"))
	mux.HandleFunc("/mod/book/view.php", guarded("book.html"))
	mux.HandleFunc("/mod/resource/view.php", guarded("workaround.html"))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, server *httptest.Server, password string) (*Client, *telemetry.Recorder) {
	t.Helper()
	rec := &telemetry.Recorder{}
	c, err := NewClient(Options{
		BaseURL:   server.URL,
		Username:  "student",
		Password:  password,
		RateLimit: 1000,
		Telemetry: rec,
	})
	require.NoError(t, err)
	return c, rec
}

func TestLogin(t *testing.T) {
	server := newMoodle(t)

	c, _ := newTestClient(t, server, "hunter2")
	require.NoError(t, c.Login(context.Background()))
	require.Equal(t, "abc123", c.Sesskey)
	require.Equal(t, "dashboard", c.Browser.Page().Name())

	bad, rec := newTestClient(t, server, "wrong")
	err := bad.Login(context.Background())
	require.ErrorIs(t, err, browser.ErrNotLoggedIn)
	require.Empty(t, bad.Sesskey)
	require.NotEmpty(t, rec.Reports("warning"))
}

func TestScrapeCourse(t *testing.T) {
	server := newMoodle(t)
	c, _ := newTestClient(t, server, "hunter2")
	ctx := context.Background()

	courses, err := c.Courses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.Equal(t, int64(12), courses[0].Id)
	require.Equal(t, "Algebra II", courses[0].Name)
	require.Equal(t, server.URL+"/course/view.php?id=12", courses[0].Url.String())
	require.Equal(t, "World History", courses[1].Name)

	link, err := c.CourseURL(12)
	require.NoError(t, err)
	require.Equal(t, courses[0].Url.String(), link.String())

	sections, err := c.Sections(ctx, courses[0])
	require.NoError(t, err)
	require.Equal(t, []string{"Week 1: Functions", "Week 2: Limits"}, []string{sections[0].Name, sections[1].Name})

	resources, err := c.Resources(ctx, sections[0])
	require.NoError(t, err)
	require.Len(t, resources, 4)

	require.Equal(t, RESOURCE_HTML_AREA, resources[0].Type)
	require.Contains(t, resources[0].Name, "**chapter 1**")
	require.NotContains(t, resources[0].Name, "alert")

	require.Equal(t, RESOURCE_FILE, resources[1].Type)
	require.Equal(t, "Syllabus", resources[1].Name)
	require.Equal(t, RESOURCE_BOOK, resources[2].Type)
	require.Equal(t, RESOURCE_GENERIC, resources[3].Type)
	require.Equal(t, "video.example.org", resources[3].Url.Host)

	chapters, err := c.Chapters(ctx, resources[2])
	require.NoError(t, err)
	require.Len(t, chapters, 2)
	require.Equal(t, Chapter{Id: 2, Name: "Limits", Url: chapters[0].Url}, chapters[0])
	require.Equal(t, int64(1), chapters[1].Id)
	require.Equal(t, "Introduction", chapters[1].Name)

	content, err := c.ChapterContent(ctx, chapters[1])
	require.NoError(t, err)
	require.Equal(t, "<p>Welcome to the book.</p>", content)
}

func TestResolveLink(t *testing.T) {
	server := newMoodle(t)
	c, _ := newTestClient(t, server, "hunter2")
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	link, err := url.Parse(server.URL + "/mod/resource/view.php?id=9")
	require.NoError(t, err)
	resolved, err := c.ResolveLink(ctx, link)
	require.NoError(t, err)
	require.Equal(t, server.URL+"/pluginfile.php/31/mod_resource/content/1/syllabus.pdf", resolved.String())

	external, err := url.Parse("https://video.example.org/watch?v=1")
	require.NoError(t, err)
	resolved, err = c.ResolveLink(ctx, external)
	require.NoError(t, err)
	require.Same(t, external, resolved)

	// ResolveLink does not navigate
	require.Equal(t, "dashboard", c.Browser.Page().Name())
}

func TestScrape(t *testing.T) {
	server := newMoodle(t)
	c, rec := newTestClient(t, server, "hunter2")

	courses, err := c.Scrape(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)
	require.Empty(t, rec.Reports("broken"))

	course := courses[0]
	require.Equal(t, "Algebra II", course.Name)
	require.Len(t, course.Sections, 2)

	resources := course.Sections[0].Resources
	require.Len(t, resources, 4)
	require.Equal(t, RESOURCE_HTML_AREA, resources[0].Type)

	require.Equal(t, RESOURCE_FILE, resources[1].Type)
	require.Equal(t, server.URL+"/pluginfile.php/31/mod_resource/content/1/syllabus.pdf", resources[1].Url.String())

	require.Equal(t, RESOURCE_BOOK, resources[2].Type)
	require.Len(t, resources[2].Chapters, 2)
	require.Equal(t, "Limits", resources[2].Chapters[0].Name)
	require.Equal(t, "<p>Welcome to the book.</p>", resources[2].Chapters[0].ContentHtml)

	require.Equal(t, "video.example.org", resources[3].Url.Host)
	require.Empty(t, resources[3].Chapters)
}
