// Package browser is the session side of the framework: it fetches responses,
// turns them into pages and keeps track of the current one.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"scrapekit/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_browser_open     = "browser.open"
	report_browser_location = "browser.location"
	report_browser_refresh  = "browser.refresh"
	report_browser_login    = "browser.login"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
	defaultTimeout   = 30 * time.Second
	maxRefreshHops   = 10
)

var (
	// ErrNoPage is returned by operations that need a current page before any navigation.
	ErrNoPage = errors.New("no current page")
	// ErrNotLoggedIn is returned by EnsureLogin when the login did not land on a logged page.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrTooManyRefreshes is returned when meta refreshes keep chaining.
	ErrTooManyRefreshes = errors.New("too many refreshes")
)

type Options struct {
	// BaseURL resolves relative requests made before any page is loaded, and relative route patterns.
	BaseURL   string
	UserAgent string
	// Timeout of one request, 30 seconds when zero.
	Timeout time.Duration
	// RateLimit is the number of requests allowed per second, zero disables the limiter.
	RateLimit float64
	Burst     int
	// CloudflareBypass wraps the transport with a client fingerprint cloudflare lets through.
	CloudflareBypass bool
	// RestrictRedirects refuses redirects leaving the host of BaseURL.
	RestrictRedirects bool
	// Login authenticates the session, see EnsureLogin.
	Login func(ctx context.Context, b *Browser) error
	// DefaultPage configures responses no route matches.
	DefaultPage PageConfig
	Telemetry   telemetry.API
	// Messages receives the full text of every exchange when set.
	Messages telemetry.MessageOutput
}

// Browser is one scraping session. It is not safe for concurrent use.
type Browser struct {
	BaseURL *url.URL
	Http    *resty.Client

	opts   Options
	tel    telemetry.API
	routes []*URL
	page   *Page
}

// New creates a browser the way every site client is set up: cookie jar,
// browser user agent, rate limiter and request instrumentation.
func New(opts Options) (*Browser, error) {
	tel := telemetry.NewScopedAPI("browser", telemetry.OrDefault(opts.Telemetry))

	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	httpClient.SetHeader("user-agent", userAgent)

	if opts.RestrictRedirects && baseURL.Hostname() != "" {
		httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	httpClient.SetTimeout(timeout)

	if opts.RateLimit > 0 {
		// max burst >= 1 just means that no requests will be dropped
		burst := max(opts.Burst, 1)
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel, opts.Messages)

	return &Browser{
		BaseURL: baseURL,
		Http:    httpClient,
		opts:    opts,
		tel:     tel,
	}, nil
}

// Page is the current page, nil before the first navigation.
func (b *Browser) Page() *Page {
	return b.page
}

func (b *Browser) Telemetry() telemetry.API {
	return b.tel
}

// AbsURL resolves ref against the current page URL, or the base URL.
func (b *Browser) AbsURL(ref string) (*url.URL, error) {
	base := b.BaseURL
	if b.page != nil && b.page.URL() != nil {
		base = b.page.URL()
	}
	resolved, err := base.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return resolved, nil
}

// Do performs req and returns the raw response.
func (b *Browser) Do(ctx context.Context, req Request) (Response, error) {
	target, err := b.AbsURL(req.URL)
	if err != nil {
		return Response{}, err
	}

	r := b.Http.R().SetContext(ctx)
	for key, values := range req.Header {
		for _, v := range values {
			r.Header.Add(key, v)
		}
	}
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	switch {
	case len(req.Multipart) > 0:
		fields := make(map[string]string, len(req.Multipart))
		for key := range req.Multipart {
			fields[key] = req.Multipart.Get(key)
		}
		r.SetMultipartFormData(fields)
	case req.Form != nil:
		r.SetFormDataFromValues(req.Form)
	}

	res, err := r.Execute(req.method(), target.String())
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", req, err)
	}

	final := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL
	}

	if res.StatusCode() >= http.StatusBadRequest {
		return Response{}, &HTTPError{
			Method: req.method(),
			URL:    final.String(),
			Status: res.StatusCode(),
			Body:   res.Body(),
		}
	}

	return Response{
		URL:    final,
		Status: res.StatusCode(),
		Header: res.Header(),
		Body:   res.Body(),
	}, nil
}

// Open fetches req and builds its page without making it current and
// without running any page hook.
func (b *Browser) Open(ctx context.Context, req Request) (*Page, error) {
	res, err := b.Do(ctx, req)
	if err != nil {
		b.tel.ReportWarning(report_browser_open, err, req.String())
		return nil, err
	}

	page, err := b.pageFor(res)
	if err != nil {
		b.tel.ReportBroken(report_browser_open, fmt.Errorf("build page: %w", err), res.URL.String())
		return nil, err
	}
	return page, nil
}

// pageFor builds the response with the config of the first route matching
// its URL (and accepting its content), else with the default page config.
func (b *Browser) pageFor(res Response) (*Page, error) {
	for _, route := range b.routes {
		params, ok := route.Match(res.URL)
		if !ok {
			continue
		}
		page, err := NewPage(b, res, route.cfg, params, "")
		if err != nil {
			return nil, err
		}
		if !page.IsHere() {
			continue
		}
		return page, nil
	}
	return NewPage(b, res, b.opts.DefaultPage, nil, "")
}

// Location navigates: the current page is left, req is fetched and becomes
// the current page, meta refreshes are followed and the page is loaded. It
// returns the current page once every hook has run.
func (b *Browser) Location(ctx context.Context, req Request) (*Page, error) {
	return b.location(ctx, req, 0)
}

// Go is Location with a GET of u.
func (b *Browser) Go(ctx context.Context, u string) (*Page, error) {
	return b.Location(ctx, Get(u))
}

func (b *Browser) location(ctx context.Context, req Request, hops int) (*Page, error) {
	if b.page != nil && b.page.cfg.OnLeave != nil {
		b.page.cfg.OnLeave(b.page)
	}

	page, err := b.Open(ctx, req)
	if err != nil {
		return nil, err
	}
	b.page = page

	return b.load(ctx, page, hops)
}

func (b *Browser) load(ctx context.Context, page *Page, hops int) (*Page, error) {
	if target, ok := page.refreshTarget(); ok {
		if hops >= maxRefreshHops {
			b.tel.ReportBroken(report_browser_refresh, ErrTooManyRefreshes, page.URL().String())
			return nil, ErrTooManyRefreshes
		}
		b.tel.ReportDebug(report_browser_refresh, page.URL().String(), target)
		return b.location(ctx, Get(target), hops+1)
	}

	if page.cfg.OnLoad != nil {
		err := page.cfg.OnLoad(ctx, page)
		if err != nil {
			b.tel.ReportWarning(report_browser_location, fmt.Errorf("on load %s: %w", page.Name(), err))
			return nil, err
		}
	}
	return b.page, nil
}

// Logout drops the cookies and the current page.
func (b *Browser) Logout() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	b.Http.SetCookieJar(jar)
	b.page = nil
	return nil
}

// EnsureLogin runs the login unless the current page is one only a logged
// session can see.
func (b *Browser) EnsureLogin(ctx context.Context) error {
	if b.page != nil && b.page.cfg.Logged {
		return nil
	}
	if b.opts.Login == nil {
		return fmt.Errorf("%w: no login configured", ErrNotLoggedIn)
	}

	err := b.opts.Login(ctx, b)
	if err != nil {
		b.tel.ReportWarning(report_browser_login, err)
		return fmt.Errorf("login: %w", err)
	}
	if b.page == nil || !b.page.cfg.Logged {
		return ErrNotLoggedIn
	}
	return nil
}
