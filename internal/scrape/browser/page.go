package browser

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/document"

	"github.com/gabriel-vasile/mimetype"
)

const report_page_encoding = "page.encoding"

// Kind is the document model a page builds from its body.
type Kind int

const (
	HTML Kind = iota
	XML
	JSON
	CSV
	Raw
	// Auto picks the kind from the Content-Type header, then from the content.
	Auto
)

func (k Kind) String() string {
	switch k {
	case HTML:
		return "html"
	case XML:
		return "xml"
	case JSON:
		return "json"
	case CSV:
		return "csv"
	case Raw:
		return "raw"
	case Auto:
		return "auto"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// PageConfig is the fixed configuration shared by every page of one kind.
type PageConfig struct {
	Name string
	Kind Kind
	// Encoding forces the body encoding, ignoring declarations.
	Encoding string
	// Logged marks pages only an authenticated session can see.
	Logged bool
	// Refresh follows <meta http-equiv="refresh"> redirects whose delay is at most RefreshMax.
	Refresh    bool
	RefreshMax time.Duration
	CSV        document.CSVOptions
	// IsHere is an XPath that must select something for a routed response to
	// be built with this config.
	IsHere string
	// OnLoad runs when the page becomes the current page, it may navigate further.
	OnLoad func(ctx context.Context, p *Page) error
	// OnLeave runs when the browser navigates away from the page.
	OnLeave func(p *Page)
}

// Page is one response built into a document.
type Page struct {
	browser  *Browser
	cfg      PageConfig
	res      Response
	params   map[string]string
	kind     Kind
	encoding string
	doc      any
}

// NewPage builds the document of res. The encoding is, in order: the encoding
// argument, the config encoding, the response header charset, a guess from the
// content. Unless forced, a declaration inside the document that disagrees
// with the first guess triggers a second parse.
func NewPage(b *Browser, res Response, cfg PageConfig, params map[string]string, encoding string) (*Page, error) {
	p := &Page{
		browser: b,
		cfg:     cfg,
		res:     res,
		params:  params,
		kind:    cfg.Kind,
	}
	if p.kind == Auto {
		p.kind = detectKind(res)
	}

	forced := encoding
	if forced == "" {
		forced = cfg.Encoding
	}

	if forced != "" {
		name, ok := document.LookupEncoding(forced)
		if !ok {
			return nil, fmt.Errorf("unknown encoding %q", forced)
		}
		p.encoding = name
		err := p.build()
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	p.encoding = document.ContentTypeCharset(res.Header.Get("Content-Type"))
	if p.encoding == "" {
		p.encoding = p.guessEncoding()
	}
	err := p.build()
	if err != nil {
		return nil, err
	}

	declared := p.inBandEncoding()
	if declared != "" && declared != p.encoding {
		p.Telemetry().ReportDebug(report_page_encoding, res.URL.String(), p.encoding, declared)
		p.encoding = declared
		err = p.build()
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Page) guessEncoding() string {
	switch p.kind {
	case JSON:
		return "utf-8"
	case XML:
		if declared := document.XMLDeclCharset(p.res.Body); declared != "" {
			return declared
		}
	}
	return document.Sniff(p.res.Body)
}

func (p *Page) inBandEncoding() string {
	switch p.kind {
	case HTML:
		if root, ok := p.doc.(document.Node); ok {
			return document.MetaCharset(root)
		}
	case XML:
		return document.XMLDeclCharset(p.res.Body)
	}
	return ""
}

func (p *Page) build() error {
	var (
		doc any
		err error
	)
	switch p.kind {
	case HTML:
		doc, err = document.ParseHTML(p.res.Body, p.encoding)
	case XML:
		doc, err = document.ParseXML(p.res.Body, p.encoding)
	case JSON:
		doc, err = document.ParseJSON(p.res.Body, p.encoding)
	case CSV:
		doc, err = document.ParseCSV(p.res.Body, p.encoding, p.cfg.CSV)
	case Raw:
		doc = p.res.Body
	default:
		err = fmt.Errorf("unsupported page kind %s", p.kind)
	}
	if err != nil {
		return fmt.Errorf("build %s document of %s: %w", p.kind, p.res.URL, err)
	}
	p.doc = doc
	return nil
}

func detectKind(res Response) Kind {
	mediaType, _, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(res.Body).String()
		mediaType, _, _ = mime.ParseMediaType(mediaType)
	}
	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return HTML
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return JSON
	case mediaType == "text/xml" || mediaType == "application/xml" || strings.HasSuffix(mediaType, "+xml"):
		return XML
	case mediaType == "text/csv":
		return CSV
	}
	return Raw
}

var refreshContent = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*(?:[;,]\s*(?:url\s*=\s*)?['"]?([^'"]*)['"]?)?\s*$`)

// refreshTarget returns the URL of a meta refresh the page config accepts to follow.
func (p *Page) refreshTarget() (string, bool) {
	if !p.cfg.Refresh || p.kind != HTML {
		return "", false
	}
	root, ok := p.doc.(document.Node)
	if !ok {
		return "", false
	}
	metas, err := root.Query(`//head/meta[translate(@http-equiv, "REFSH", "refsh")="refresh"]`)
	if err != nil || len(metas) == 0 {
		return "", false
	}
	content, _ := metas[0].Attr("content")
	m := refreshContent.FindStringSubmatch(content)
	if m == nil || strings.TrimSpace(m[2]) == "" {
		return "", false
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return "", false
	}
	if time.Duration(seconds*float64(time.Second)) > p.cfg.RefreshMax {
		return "", false
	}
	target, err := p.AbsURL(strings.TrimSpace(m[2]))
	if err != nil {
		return "", false
	}
	return target.String(), true
}

func (p *Page) Name() string {
	return p.cfg.Name
}

func (p *Page) Config() PageConfig {
	return p.cfg
}

func (p *Page) Kind() Kind {
	return p.kind
}

// Doc is the built document: a document.Node for markup, plain values for
// JSON and CSV, the body bytes for raw pages.
func (p *Page) Doc() any {
	return p.doc
}

// Root is the document of markup pages.
func (p *Page) Root() (document.Node, bool) {
	root, ok := p.doc.(document.Node)
	return root, ok
}

func (p *Page) URL() *url.URL {
	return p.res.URL
}

func (p *Page) Encoding() string {
	return p.encoding
}

func (p *Page) Response() Response {
	return p.res
}

// Params are the named groups of the route pattern that matched the page URL.
func (p *Page) Params() map[string]string {
	return p.params
}

func (p *Page) Logged() bool {
	return p.cfg.Logged
}

func (p *Page) Browser() *Browser {
	return p.browser
}

func (p *Page) Telemetry() telemetry.API {
	if p.browser == nil {
		return telemetry.SlogAPI{}
	}
	return p.browser.tel
}

// AbsURL resolves a reference found in the page against the page URL.
func (p *Page) AbsURL(ref string) (*url.URL, error) {
	if p.res.URL == nil {
		return url.Parse(ref)
	}
	resolved, err := p.res.URL.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	return resolved, nil
}

// IsHere reports whether the config IsHere XPath selects something, pages
// without one always are here.
func (p *Page) IsHere() bool {
	if p.cfg.IsHere == "" {
		return true
	}
	root, ok := p.Root()
	if !ok {
		return false
	}
	nodes, err := root.Query(p.cfg.IsHere)
	return err == nil && len(nodes) > 0
}
