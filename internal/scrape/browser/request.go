package browser

import (
	"fmt"
	"net/http"
	"net/url"
)

// Request describes one navigation.
type Request struct {
	Method string
	// URL is absolute, or relative to the current page (or the base URL when
	// there is no page yet).
	URL   string
	Query url.Values
	// Form is sent as an application/x-www-form-urlencoded body.
	Form url.Values
	// Multipart is sent as a multipart/form-data body, it takes precedence over Form.
	Multipart url.Values
	Header    http.Header
}

// Get is a GET request to u.
func Get(u string) Request {
	return Request{Method: http.MethodGet, URL: u}
}

// Post is a POST request to u with an urlencoded body.
func Post(u string, form url.Values) Request {
	return Request{Method: http.MethodPost, URL: u, Form: form}
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r Request) String() string {
	return fmt.Sprintf("%s %s", r.method(), r.URL)
}

// Response is a fetched HTTP response.
type Response struct {
	// URL is the final URL, after redirects.
	URL    *url.URL
	Status int
	Header http.Header
	Body   []byte
}

// HTTPError is returned for responses with a status of 400 or more.
type HTTPError struct {
	Method string
	URL    string
	Status int
	// Body is kept so that callers can classify site specific error pages.
	Body []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
}
