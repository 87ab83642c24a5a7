// Package vcsnet reads the events of the school calendar, one month page at a time.
package vcsnet

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strconv"
	"time"

	"scrapekit/internal/components/assert"
	"scrapekit/internal/components/chrono"
	"scrapekit/internal/components/telemetry"
	"scrapekit/internal/scrape/browser"
	"scrapekit/internal/scrape/element"
	"scrapekit/internal/scrape/filters"
)

const (
	report_client_parse_calendar = "client.parse-calendar"
)

const (
	defaultBaseURL   = "https://www.vcs.net"
	defaultElementID = "39337"
	defaultMonths    = 10
)

func GetYearRange(now time.Time) (int, int) {
	year := now.Year()
	month := now.Month()
	if month >= 8 && month <= 12 {
		return year, year + 1
	}
	return year - 1, year
}

type Options struct {
	BaseURL string
	// ElementID is the id of the calendar element of the site.
	ElementID string
	// Months is the number of month pages read, starting the month after the school year starts.
	Months    int
	Location  *time.Location
	RateLimit float64
	Time      chrono.TimeAPI
	Telemetry telemetry.API
}

type Client struct {
	browser   *browser.Browser
	calendar  string
	events    element.List[Event]
	elementID string
	months    int
	location  *time.Location
	time      chrono.TimeAPI
	tel       telemetry.API
}

func NewClient(opts Options) (*Client, error) {
	assert.NotNil(opts.Time)

	tel := telemetry.NewScopedAPI("vcsnet", telemetry.OrDefault(opts.Telemetry))

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	elementID := opts.ElementID
	if elementID == "" {
		elementID = defaultElementID
	}
	months := opts.Months
	if months <= 0 {
		months = defaultMonths
	}
	location := opts.Location
	if location == nil {
		var err error
		location, err = time.LoadLocation("America/Los_Angeles")
		if err != nil {
			return nil, err
		}
	}

	b, err := browser.New(browser.Options{
		BaseURL:   baseURL,
		RateLimit: opts.RateLimit,
		Burst:     2,
		Telemetry: tel,
	})
	if err != nil {
		return nil, err
	}

	calendar, err := b.Route(browser.PageConfig{Name: "calendar"}, `/fs/elements/(?P<element>\d+)`).
		Build(map[string]string{"element": elementID})
	if err != nil {
		return nil, fmt.Errorf("calendar element %q: %w", elementID, err)
	}

	return &Client{
		browser:   b,
		calendar:  calendar,
		events:    eventList(location),
		elementID: elementID,
		months:    months,
		location:  location,
		time:      opts.Time,
		tel:       tel,
	}, nil
}

type SchoolYear struct {
	StartYear int
	EndYear   int
	StartTime time.Time
}

// GetSchoolYear gets the current school year, or if on summer break, the previous school year
func (c *Client) GetSchoolYear() SchoolYear {
	now := c.time.Now().In(c.location)
	year := now.Year()
	month := now.Month()

	// encompasses S1
	if month >= 8 {
		return SchoolYear{
			StartYear: year,
			EndYear:   year + 1,
			StartTime: time.Date(year, 8, 1, 0, 0, 0, 0, c.location),
		}
	}

	// encompasses summer break & S2
	return SchoolYear{
		StartYear: year - 1,
		EndYear:   year,
		StartTime: time.Date(year-1, 8, 1, 0, 0, 0, 0, c.location),
	}
}

type Event struct {
	Name string
	Date time.Time
}

const calendarDay = `div[contains(concat(" ", normalize-space(@class), " "), " fsCalendarDate ")]`

func dayPart(attr string) filters.Filter {
	return filters.Int{Source: filters.Attr{
		Source: filters.XPath{Expr: `ancestor::*[` + calendarDay + `][1]/` + calendarDay},
		Name:   attr,
	}}
}

// eventList reads every event link of a month page, dated by the data-year,
// data-month and data-day attributes of its day cell.
func eventList(location *time.Location) element.List[Event] {
	return element.List[Event]{
		ItemXPath: `//` + calendarDay + `/..//a[contains(concat(" ", normalize-space(@class), " "), " fsCalendarEventLink ")]`,
		Items: element.NewItem[Event]("event").
			Field("name", filters.CleanText{}).
			Field("date", filters.Date{
				Source: filters.Format{
					Layout: "%04d-%02d-%02d",
					Args:   []filters.Filter{dayPart("data-year"), dayPart("data-month"), dayPart("data-day")},
				},
				Layouts:  []string{"2006-01-02"},
				Location: location,
			}),
	}
}

func (c *Client) monthRequest(year SchoolYear, month time.Time) browser.Request {
	query := url.Values{}
	query.Set("start_date", fmt.Sprintf("%04d-08-01", year.StartYear))
	query.Set("end_date", fmt.Sprintf("%04d-08-01", year.EndYear))
	query.Set("keywords", "")
	query.Set("is_draft", "false")
	query.Set("is_load_more", "true")
	query.Set("parent_id", c.elementID)
	query.Set("_", strconv.FormatInt(year.StartTime.Unix(), 10))
	query.Set("cal_date", month.Format("2006-01-02"))

	return browser.Request{URL: c.calendar, Query: query}
}

// Events reads the events of the current school year month by month.
func (c *Client) Events(ctx context.Context) iter.Seq2[Event, error] {
	schoolYear := c.GetSchoolYear()
	c.tel.ReportDebug("event bounds", schoolYear)

	first := schoolYear.StartTime.AddDate(0, 1, 0)
	last := first.AddDate(0, c.months-1, 0)
	start := c.monthRequest(schoolYear, first)

	return browser.Paginate(ctx, c.browser, &start, func(ctx context.Context, p *browser.Page) (browser.Step[Event], error) {
		c.tel.ReportDebug("parse calendar", p.URL().String())

		res, err := c.events.Extract(p, nil)
		if err != nil {
			c.tel.ReportBroken(report_client_parse_calendar, fmt.Errorf("parse: %w", err), p.URL().String())
			return browser.Step[Event]{}, err
		}

		current, err := time.ParseInLocation("2006-01-02", p.URL().Query().Get("cal_date"), c.location)
		if err != nil {
			c.tel.ReportBroken(report_client_parse_calendar, fmt.Errorf("parse cal_date: %w", err), p.URL().String())
			return browser.Step[Event]{}, err
		}
		next := current.AddDate(0, 1, 0)
		if next.After(last) {
			return browser.Done(res.Items), nil
		}
		return browser.Continue(res.Items, c.monthRequest(schoolYear, next)), nil
	})
}

// FetchEvents returns every event of the school year sorted by date.
func (c *Client) FetchEvents(ctx context.Context) ([]Event, error) {
	var result []Event
	for event, err := range c.Events(ctx) {
		if err != nil {
			return result, err
		}
		result = append(result, event)
	}

	slices.SortStableFunc(result, func(a, b Event) int {
		return a.Date.Compare(b.Date)
	})
	return result, nil
}
