// Package httpclient is the session HTTP client: logins, document and page
// image downloads. It keeps cookies in a jar shared with the page fetcher.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/edition-fetcher/internal/fetcher"
	"github.com/JakeFAU/edition-fetcher/internal/policy/ratelimit"
)

// Config controls the client.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// Limiter paces requests per host; nil disables pacing.
	Limiter *ratelimit.Limiter
}

// Client wraps a resty client with a cookie jar.
type Client struct {
	client *resty.Client
	jar    http.CookieJar
}

// New builds a Client with a fresh cookie jar.
func New(cfg Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := resty.New()
	c.SetTimeout(timeout)
	c.SetCookieJar(jar)
	if cfg.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Limiter != nil {
		limiter := cfg.Limiter
		c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context(), r.URL)
		})
	}
	return &Client{client: c, jar: jar}, nil
}

// Jar returns the cookie jar so other fetchers can share the session.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// SetBasicAuth sends HTTP basic credentials with every later request.
func (c *Client) SetBasicAuth(user, password string) {
	c.client.SetBasicAuth(user, password)
}

// Get fetches url into memory.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (fetcher.Page, error) {
	req := c.client.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	resp, err := req.Get(url)
	if err != nil {
		return fetcher.Page{}, fmt.Errorf("get %s: %w", url, err)
	}
	return toPage(url, resp), nil
}

// Post sends an empty-bodied POST, used by sources that serve documents on POST.
func (c *Client) Post(ctx context.Context, url string) (fetcher.Page, error) {
	resp, err := c.client.R().SetContext(ctx).Post(url)
	if err != nil {
		return fetcher.Page{}, fmt.Errorf("post %s: %w", url, err)
	}
	return toPage(url, resp), nil
}

// PostForm submits form as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, url string, form map[string]string) (fetcher.Page, error) {
	resp, err := c.client.R().SetContext(ctx).SetFormData(form).Post(url)
	if err != nil {
		return fetcher.Page{}, fmt.Errorf("post form %s: %w", url, err)
	}
	return toPage(url, resp), nil
}

// Download fetches url and writes the body to dst only on a 2xx response.
// It returns the response status either way.
func (c *Client) Download(ctx context.Context, url, dst string) (int, error) {
	page, err := c.Get(ctx, url, nil)
	if err != nil {
		return 0, err
	}
	if !page.OK() {
		return page.StatusCode, nil
	}
	if err := os.WriteFile(dst, page.Body, 0o644); err != nil {
		return page.StatusCode, fmt.Errorf("write %s: %w", dst, err)
	}
	return page.StatusCode, nil
}

func toPage(url string, resp *resty.Response) fetcher.Page {
	page := fetcher.Page{
		URL:        url,
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header(),
		Body:       resp.Body(),
		Duration:   resp.Time(),
	}
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		page.URL = resp.RawResponse.Request.URL.String()
	}
	return page
}
