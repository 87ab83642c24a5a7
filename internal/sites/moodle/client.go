// Package moodle scrapes a moodle instance: the courses of a user, their
// sections, the resources of a section and the chapters of books.
package moodle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"scrapekit/internal/components/assert"
	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/browser"
	"scrapekit/internal/scrape/document"
	"scrapekit/internal/scrape/filters"
	"scrapekit/pkg/htmlutil"
)

const (
	report_client_get_sesskey             = "client.get-sesskey"
	report_client_login_username_password = "client.login-username-password"
	report_client_get_courses             = "client.get-courses"
	report_client_get_sections            = "client.get-sections"
	report_client_get_resources           = "client.get-resources"
	report_client_get_chapters            = "client.get-chapters"
	report_client_get_chapter_content     = "client.get-chapter-content"
	report_client_resolve_link            = "client.resolve-link"
)

type Options struct {
	BaseURL  string
	Username string
	Password string
	// RateLimit is in requests per second, 2 when zero.
	RateLimit        float64
	CloudflareBypass bool
	Telemetry        telemetry.API
	Messages         telemetry.MessageOutput
}

type Client struct {
	Browser *browser.Browser
	Sesskey string

	tel      telemetry.API
	username string
	password string

	loginPage *browser.URL
	dashboard *browser.URL
	course    *browser.URL
	section   *browser.URL
	book      *browser.URL
}

func NewClient(opts Options) (*Client, error) {
	assert.NotEmptyStr(opts.BaseURL)

	tel := telemetry.NewScopedAPI("moodle_scraper", telemetry.OrDefault(opts.Telemetry))

	rateLimit := opts.RateLimit
	if rateLimit == 0 {
		rateLimit = 2
	}

	c := &Client{
		tel:      tel,
		username: opts.Username,
		password: opts.Password,
	}

	b, err := browser.New(browser.Options{
		BaseURL:           opts.BaseURL,
		RateLimit:         rateLimit,
		Burst:             2,
		CloudflareBypass:  opts.CloudflareBypass,
		RestrictRedirects: true,
		Login:             c.login,
		DefaultPage:       browser.PageConfig{Name: "other", Kind: browser.Auto},
		Telemetry:         tel,
		Messages:          opts.Messages,
	})
	if err != nil {
		return nil, err
	}
	c.Browser = b

	c.loginPage = b.Route(browser.PageConfig{Name: "login"}, `/login/index\.php`)
	c.dashboard = b.Route(browser.PageConfig{
		Name:   "dashboard",
		Logged: true,
		IsHere: `//span[` + hasClass("avatar") + ` and ` + hasClass("current") + `]`,
		OnLoad: func(_ context.Context, p *browser.Page) error {
			c.Sesskey = c.getSesskey(p)
			return nil
		},
	}, `/`, `/index\.php`, `/my/`)
	c.course = b.Route(
		browser.PageConfig{Name: "course", Logged: true},
		`/course/view\.php\?id=(?P<id>\d+)`,
		`/course/view\.php\?id=(?P<id>\d+)&section=(?P<section>\d+)`,
	)
	c.section = b.Route(browser.PageConfig{Name: "section", Logged: true}, `/course/section\.php\?id=(?P<id>\d+)`)
	c.book = b.Route(
		browser.PageConfig{Name: "book", Logged: true},
		`/mod/book/view\.php\?id=(?P<id>\d+)`,
		`/mod/book/view\.php\?id=(?P<id>\d+)&chapterid=(?P<chapterid>\d+)`,
		`/mod/book/view\.php\?chapterid=(?P<chapterid>\d+)&id=(?P<id>\d+)`,
	)

	return c, nil
}

var moodleConfigRegex = regexp.MustCompile(`(?m)M\.cfg *= *(.+?);`)

func (c *Client) getSesskey(p *browser.Page) string {
	root, ok := p.Root()
	if !ok {
		return ""
	}
	scripts, err := root.Query("//script")
	if err != nil {
		return ""
	}
	for _, script := range scripts {
		text := script.Text()
		if !strings.HasPrefix(strings.Trim(text, " \t\n"), "//<![CDATA") {
			continue
		}
		groups := moodleConfigRegex.FindStringSubmatch(text)
		if len(groups) < 2 {
			continue
		}

		var cfg struct {
			Sesskey string `json:"sesskey"`
		}
		err := json.Unmarshal([]byte(groups[1]), &cfg)
		if err != nil {
			c.tel.ReportBroken(
				report_client_get_sesskey,
				fmt.Errorf("unmarshal moodle config: %w", err),
			)
			return ""
		}
		return cfg.Sesskey
	}

	return ""
}

func (c *Client) login(ctx context.Context, b *browser.Browser) error {
	loginError := func(err error) error {
		return fmt.Errorf("moodle scraper: login failed: %w", err)
	}

	page, err := c.loginPage.Go(ctx, nil)
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("not-logged-in page request: %w", err),
		)
		return loginError(err)
	}

	form, err := page.GetForm(browser.FormQuery{XPath: `//form[.//input[@name="logintoken"]]`})
	if err != nil {
		err := fmt.Errorf("could not find login token: %w", err)
		c.tel.ReportBroken(report_client_login_username_password, err)
		return loginError(err)
	}
	form.Set("username", c.username)
	form.Set("password", c.password)

	_, err = form.Submit(ctx)
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("login request: %w", err),
		)
		return loginError(err)
	}

	page, err = c.dashboard.Go(ctx, nil)
	if err != nil {
		c.tel.ReportBroken(
			report_client_login_username_password,
			fmt.Errorf("request dashboard: %w", err),
		)
		return loginError(err)
	}
	if !page.Logged() {
		c.tel.ReportWarning(
			report_client_login_username_password,
			fmt.Errorf("test login: could not find span.avatar.current"),
		)
	}
	return nil
}

// Login authenticates the session unless it already is.
func (c *Client) Login(ctx context.Context) error {
	return c.Browser.EnsureLogin(ctx)
}

// visit navigates to link once logged in, and fails when the session got
// sent back to a page that does not require it.
func (c *Client) visit(ctx context.Context, id, link string) (*browser.Page, error) {
	err := c.Login(ctx)
	if err != nil {
		return nil, err
	}
	page, err := c.Browser.Go(ctx, link)
	if err != nil {
		c.tel.ReportBroken(id, fmt.Errorf("fetch: %w", err), link)
		return nil, err
	}
	if !page.Logged() {
		err := fmt.Errorf("%w: %s landed on %s", browser.ErrNotLoggedIn, link, page.URL())
		c.tel.ReportWarning(id, err)
		return nil, err
	}
	return page, nil
}

func (c *Client) Courses(ctx context.Context) ([]Course, error) {
	c.tel.ReportDebug("get courses")

	err := c.Login(ctx)
	if err != nil {
		return nil, err
	}
	page, err := c.dashboard.StayOrGo(ctx, nil)
	if err != nil {
		c.tel.ReportBroken(report_client_get_courses, fmt.Errorf("fetch: %w", err))
		return nil, err
	}

	res, err := courseList.Extract(page, nil)
	if err != nil {
		c.tel.ReportBroken(report_client_get_courses, fmt.Errorf("parse: %w", err))
		return nil, err
	}
	return res.Items, nil
}

// CourseURL is the url of the course with the given id.
func (c *Client) CourseURL(id int64) (*url.URL, error) {
	link, err := c.course.Build(map[string]string{"id": fmt.Sprint(id)})
	if err != nil {
		return nil, err
	}
	return url.Parse(link)
}

func (c *Client) Sections(ctx context.Context, course Course) ([]Section, error) {
	assert.NotNil(course.Url)

	endpoint := course.Url.String()
	c.tel.ReportDebug(report_client_get_sections, endpoint)

	page, err := c.visit(ctx, report_client_get_sections, endpoint)
	if err != nil {
		return nil, err
	}
	res, err := sectionList.Extract(page, nil)
	if err != nil {
		c.tel.ReportBroken(report_client_get_sections, fmt.Errorf("parse: %w", err), endpoint)
		return nil, err
	}
	return res.Items, nil
}

func (c *Client) Resources(ctx context.Context, section Section) ([]Resource, error) {
	assert.NotNil(section.Url)

	endpoint := section.Url.String()
	c.tel.ReportDebug(report_client_get_resources, endpoint)

	page, err := c.visit(ctx, report_client_get_resources, endpoint)
	if err != nil {
		return nil, err
	}

	res, err := resourceList.Extract(page, nil)
	if err != nil {
		c.tel.ReportBroken(report_client_get_resources, fmt.Errorf("parse: %w", err), endpoint)
		return nil, err
	}
	resources := res.Items

	root, _ := page.Root()
	info, err := sectionInfo.Apply(filters.Static{Root: root, BaseURL: page.URL()})
	if err != nil {
		c.tel.ReportBroken(
			report_client_get_resources,
			fmt.Errorf("serialize section info: %w", err),
			endpoint,
		)
	}
	if text, ok := info.(string); ok && text != "" {
		resources = append([]Resource{{
			Type: RESOURCE_HTML_AREA,
			Name: text,
		}}, resources...)
	}

	return resources, nil
}

func (c *Client) Chapters(ctx context.Context, resource Resource) ([]Chapter, error) {
	assert.NotNil(resource.Url)

	endpoint := resource.Url.String()
	c.tel.ReportDebug(report_client_get_chapters, endpoint)

	page, err := c.visit(ctx, report_client_get_chapters, endpoint)
	if err != nil {
		return nil, err
	}
	root, ok := page.Root()
	if !ok {
		return nil, fmt.Errorf("book %s is not an html page", endpoint)
	}
	doc := root.(document.HTMLNode).Selection()

	tableOfContents := htmlutil.GetAnchors(ctx, page.URL(), doc.Find("div.columnleft li a"))
	currentChapter := htmlutil.Normalize(doc.Find("div.columnleft li strong").Text())

	// the first chapter you click on doesn't give you its chapter id so you have to
	// rummage for it in the print link
	current := *resource.Url
	printUrl, exists := doc.Find("li[data-key=printchapter] a").First().Attr("href")
	if exists {
		parsed, err := url.Parse(printUrl)
		if err != nil {
			c.tel.ReportBroken(
				report_client_get_chapters,
				fmt.Errorf("parse chapter url: %w", err),
				endpoint,
			)
		} else {
			values := current.Query()
			values.Set("chapterid", parsed.Query().Get("chapterid"))
			current.RawQuery = values.Encode()
		}
	}

	anchors := tableOfContents
	if currentChapter != "" {
		anchors = append(anchors, htmlutil.Anchor{Url: &current, Name: currentChapter})
	}

	chapters := make([]Chapter, 0, len(anchors))
	for _, a := range anchors {
		if a.Url == nil {
			continue
		}
		id := int64(-1)
		m := chapterParam.FindStringSubmatch("?" + a.Url.RawQuery)
		if m != nil {
			id, _ = strconv.ParseInt(m[1], 10, 64)
		}
		chapters = append(chapters, Chapter{Id: id, Name: a.Name, Url: a.Url})
	}
	if len(chapters) == 0 {
		c.tel.ReportWarning(
			report_client_get_chapters,
			fmt.Errorf("get chapters: no chapters found in '%s' (%s)", resource.Name, endpoint),
		)
	}
	return chapters, nil
}

func (c *Client) ChapterContent(ctx context.Context, chapter Chapter) (string, error) {
	assert.NotNil(chapter.Url)

	endpoint := chapter.Url.String()
	c.tel.ReportDebug(report_client_get_chapter_content, endpoint)

	page, err := c.visit(ctx, report_client_get_chapter_content, endpoint)
	if err != nil {
		return "", err
	}
	root, _ := page.Root()
	boxes, err := filters.CSS{Selector: "div[role=main] div.box"}.Apply(filters.Static{Root: root})
	if err != nil {
		c.tel.ReportBroken(
			report_client_get_chapter_content,
			fmt.Errorf("serialize content: %w", err),
			endpoint,
		)
		return "", err
	}

	var out strings.Builder
	for _, box := range boxes.([]document.Node) {
		out.WriteString(box.(document.HTMLNode).InnerHTML())
	}
	return out.String(), nil
}

var workaroundLink = filters.Coalesce{Args: []filters.Filter{
	filters.AbsoluteLink{Source: filters.CSS{Selector: "div.resourceworkaround a"}},
	filters.AbsoluteLink{Source: filters.CSS{Selector: "div.urlworkaround a"}},
}}

// ResolveLink returns the target of the intermediate page moodle shows for
// files and external urls. Other links are returned as is.
func (c *Client) ResolveLink(ctx context.Context, link *url.URL) (*url.URL, error) {
	if link.Host != c.Browser.BaseURL.Host ||
		!(strings.HasPrefix(link.Path, "/mod/url") || strings.HasPrefix(link.Path, "/mod/resource")) {
		c.tel.ReportDebug("skipped workaround link resolution", link.String())
		return link, nil
	}

	page, err := c.Browser.Open(ctx, browser.Get(link.String()))
	if err != nil {
		// files are often served directly instead of through the workaround page
		var httpErr *browser.HTTPError
		if !errors.As(err, &httpErr) {
			c.tel.ReportBroken(report_client_resolve_link, fmt.Errorf("fetch: %w", err))
		}
		return nil, err
	}
	if page.URL().String() != link.String() {
		return page.URL(), nil
	}

	root, ok := page.Root()
	if !ok {
		return page.URL(), nil
	}
	target, err := workaroundLink.Apply(filters.Static{Root: root, BaseURL: page.URL()})
	if err != nil {
		err = fmt.Errorf("resolve workaround link: could not find target anchor for '%s': %w", link, err)
		c.tel.ReportWarning(report_client_resolve_link, err, link.String())
		return nil, err
	}
	c.tel.ReportDebug("resolved workaround link", target)
	return url.Parse(filters.TextOf(target))
}
