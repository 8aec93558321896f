// Package fetcher holds the types shared by the HTTP, colly and headless fetchers.
package fetcher

import (
	"net/http"
	"time"
)

// Page is a fetched document.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (p Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300
}
