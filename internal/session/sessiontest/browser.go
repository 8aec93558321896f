// Package sessiontest provides a scriptable in-memory browser.
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"sync"
	"time"
)

// ErrMissing is returned for selectors the current page does not contain.
var ErrMissing = errors.New("sessiontest: selector not on page")

// Page is one scripted document.
type Page struct {
	Status int
	Title  string
	HTML   string
	// Elements maps selectors to how many nodes they match.
	Elements map[string]int
	// Texts maps selectors to their text content.
	Texts map[string]string
}

// Browser replays scripted pages and records every action.
type Browser struct {
	mu sync.Mutex

	Pages map[string]*Page
	// Fail forces an error for a selector on any action.
	Fail map[string]error
	// OnClick runs after a successful click.
	OnClick func(selector string) error
	// OnScreenshot replaces the default PNG writer.
	OnScreenshot func(path string) error

	Actions     []string
	DownloadDir string
	Closed      bool

	url   string
	page  *Page
	frame string
}

// NewBrowser builds a Browser over pages keyed by URL.
func NewBrowser(pages map[string]*Page) *Browser {
	return &Browser{Pages: pages, Fail: map[string]error{}}
}

func (b *Browser) record(format string, args ...any) {
	b.Actions = append(b.Actions, fmt.Sprintf(format, args...))
}

func (b *Browser) lookup(selector string) (int, error) {
	if err := b.Fail[selector]; err != nil {
		return 0, err
	}
	if b.page == nil {
		return 0, fmt.Errorf("%q: %w", selector, ErrMissing)
	}
	return b.page.Elements[selector], nil
}

// Navigate implements session.Browser.
func (b *Browser) Navigate(ctx context.Context, url string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.record("navigate %s", url)
	b.url, b.frame = url, ""
	if err := b.Fail[url]; err != nil {
		return 0, err
	}
	page, ok := b.Pages[url]
	if !ok {
		b.page = &Page{Status: http.StatusNotFound, Title: "404 Not Found"}
		return http.StatusNotFound, nil
	}
	b.page = page
	if page.Status == 0 {
		return http.StatusOK, nil
	}
	return page.Status, nil
}

// HTML implements session.Browser.
func (b *Browser) HTML(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return "", ErrMissing
	}
	return b.page.HTML, nil
}

// Title implements session.Browser.
func (b *Browser) Title(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return "", nil
	}
	return b.page.Title, nil
}

// Location implements session.Browser.
func (b *Browser) Location(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url, nil
}

// Count implements session.Browser.
func (b *Browser) Count(_ context.Context, selector string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.lookup(selector)
	if errors.Is(err, ErrMissing) {
		return 0, nil
	}
	return n, err
}

// Exists implements session.Browser.
func (b *Browser) Exists(ctx context.Context, selector string) (bool, error) {
	n, err := b.Count(ctx, selector)
	return n > 0, err
}

// WaitVisible implements session.Browser.
func (b *Browser) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("wait %s", selector)
	n, err := b.lookup(selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", selector, ErrMissing)
	}
	return nil
}

// Click implements session.Browser.
func (b *Browser) Click(_ context.Context, selector string) error {
	b.mu.Lock()
	n, err := b.lookup(selector)
	if err == nil && n == 0 {
		err = fmt.Errorf("%q: %w", selector, ErrMissing)
	}
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.record("click %s", selector)
	hook := b.OnClick
	b.mu.Unlock()
	if hook != nil {
		return hook(selector)
	}
	return nil
}

// SendKeys implements session.Browser.
func (b *Browser) SendKeys(_ context.Context, selector, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.lookup(selector)
	if err == nil && n == 0 {
		err = fmt.Errorf("%q: %w", selector, ErrMissing)
	}
	if err != nil {
		return err
	}
	b.record("type %s=%s", selector, text)
	return nil
}

// PressEnter implements session.Browser.
func (b *Browser) PressEnter(_ context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.lookup(selector)
	if err == nil && n == 0 {
		err = fmt.Errorf("%q: %w", selector, ErrMissing)
	}
	if err != nil {
		return err
	}
	b.record("enter %s", selector)
	return nil
}

// Text implements session.Browser.
func (b *Browser) Text(_ context.Context, selector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.lookup(selector); err != nil {
		return "", err
	}
	text, ok := b.page.Texts[selector]
	if !ok {
		return "", fmt.Errorf("%q: %w", selector, ErrMissing)
	}
	return text, nil
}

// EnterFrame implements session.Browser.
func (b *Browser) EnterFrame(_ context.Context, selector string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.lookup(selector)
	if err == nil && n == 0 {
		err = fmt.Errorf("%q: %w", selector, ErrMissing)
	}
	if err != nil {
		return err
	}
	b.frame = selector
	b.record("frame %s", selector)
	return nil
}

// LeaveFrame implements session.Browser.
func (b *Browser) LeaveFrame() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame != "" {
		b.record("leave frame")
	}
	b.frame = ""
}

// Screenshot implements session.Browser. By default it writes a small PNG.
func (b *Browser) Screenshot(_ context.Context, path string) error {
	b.mu.Lock()
	b.record("screenshot %s", b.url)
	hook := b.OnScreenshot
	b.mu.Unlock()
	if hook != nil {
		return hook(path)
	}
	return WritePNG(path, 8, 12, color.RGBA{R: 200, G: 200, B: 200, A: 255})
}

// AllowDownloads implements session.Browser.
func (b *Browser) AllowDownloads(_ context.Context, dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DownloadDir = dir
	return nil
}

// Close implements session.Browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// Recorded returns a copy of the action log.
func (b *Browser) Recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.Actions...)
}

// WritePNG writes a w×h image filled with c.
func WritePNG(path string, w, h int, c color.Color) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
