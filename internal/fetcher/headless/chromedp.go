// Package headless drives a Chrome instance through chromedp for sources
// that need JavaScript, form logins, clicks, screenshots or browser downloads.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/JakeFAU/edition-fetcher/internal/markup"
)

// ErrNotFound is returned when a selector matches nothing before the wait expires.
var ErrNotFound = errors.New("headless: element not found")

// Config controls the browser.
type Config struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	// ElementTimeout bounds waits for elements to appear.
	ElementTimeout time.Duration
}

// Browser is one Chrome tab owned by a session.
type Browser struct {
	cfg         Config
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context
	meta        *responseMeta

	mu    sync.Mutex
	frame *cdp.Node
}

// Launch starts Chrome and opens a tab.
func Launch(cfg Config) (*Browser, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 15 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	b := &Browser{
		cfg:         cfg,
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		tab:         tab,
		meta:        newResponseMeta(),
	}
	chromedp.ListenTarget(tab, b.meta.captureEvent)
	if err := chromedp.Run(tab, b.networkSetupAction()); err != nil {
		b.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return b, nil
}

// Close shuts the tab and the browser process down.
func (b *Browser) Close() error {
	if b == nil {
		return nil
	}
	if b.tabCancel != nil {
		b.tabCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}

// run executes actions on the tab bounded by timeout and the caller's ctx.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(b.tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads url and returns the main document's HTTP status.
func (b *Browser) Navigate(ctx context.Context, url string) (int, error) {
	b.LeaveFrame()
	b.meta.reset()
	if err := b.run(ctx, b.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	status, _, _ := b.meta.snapshotWithFallbacks(url, "")
	return status, nil
}

// HTML returns the rendered document.
func (b *Browser) HTML(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, b.cfg.ElementTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Title returns the document title.
func (b *Browser) Title(ctx context.Context) (string, error) {
	var title string
	if err := b.run(ctx, b.cfg.ElementTimeout, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// Location returns the current URL.
func (b *Browser) Location(ctx context.Context) (string, error) {
	var loc string
	if err := b.run(ctx, b.cfg.ElementTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Count returns how many nodes match selector right now.
func (b *Browser) Count(ctx context.Context, selector string) (int, error) {
	var nodes []*cdp.Node
	opts := append(b.selectorOpts(selector), chromedp.AtLeast(0))
	if err := b.run(ctx, b.cfg.ElementTimeout, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return len(nodes), nil
}

// Exists reports whether selector matches at least one node right now.
func (b *Browser) Exists(ctx context.Context, selector string) (bool, error) {
	n, err := b.Count(ctx, selector)
	return n > 0, err
}

// WaitVisible waits up to timeout for selector to become visible.
func (b *Browser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = b.cfg.ElementTimeout
	}
	if err := b.run(ctx, timeout, chromedp.WaitVisible(selector, b.selectorOpts(selector)...)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%q: %w", selector, ErrNotFound)
		}
		return fmt.Errorf("wait %q: %w", selector, err)
	}
	return nil
}

// Click clicks the first node matching selector once it is visible.
func (b *Browser) Click(ctx context.Context, selector string) error {
	opts := append(b.selectorOpts(selector), chromedp.NodeVisible)
	if err := b.run(ctx, b.cfg.ElementTimeout, chromedp.Click(selector, opts...)); err != nil {
		return b.classify("click", selector, err)
	}
	return nil
}

// SendKeys types text into the node matching selector.
func (b *Browser) SendKeys(ctx context.Context, selector, text string) error {
	opts := append(b.selectorOpts(selector), chromedp.NodeVisible)
	if err := b.run(ctx, b.cfg.ElementTimeout, chromedp.SendKeys(selector, text, opts...)); err != nil {
		return b.classify("type into", selector, err)
	}
	return nil
}

// PressEnter sends the Enter key to the node matching selector.
func (b *Browser) PressEnter(ctx context.Context, selector string) error {
	return b.SendKeys(ctx, selector, kb.Enter)
}

// Text returns the text content of the first node matching selector.
func (b *Browser) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := b.run(ctx, b.cfg.ElementTimeout, chromedp.Text(selector, &text, b.selectorOpts(selector)...)); err != nil {
		return "", b.classify("read text of", selector, err)
	}
	return strings.TrimSpace(text), nil
}

// EnterFrame scopes later CSS lookups to the iframe matching selector.
func (b *Browser) EnterFrame(ctx context.Context, selector string) error {
	var nodes []*cdp.Node
	if err := b.run(ctx, b.cfg.ElementTimeout,
		chromedp.Nodes(selector, &nodes, append(b.selectorOpts(selector), chromedp.NodeReady)...),
	); err != nil {
		return b.classify("enter frame", selector, err)
	}
	if len(nodes) == 0 {
		return fmt.Errorf("enter frame %q: %w", selector, ErrNotFound)
	}
	b.mu.Lock()
	b.frame = nodes[0]
	b.mu.Unlock()
	return nil
}

// LeaveFrame returns lookups to the top document.
func (b *Browser) LeaveFrame() {
	b.mu.Lock()
	b.frame = nil
	b.mu.Unlock()
}

// Screenshot writes a PNG of the viewport to path.
func (b *Browser) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := b.run(ctx, b.cfg.NavigationTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// AllowDownloads sends browser downloads to dir under their suggested names.
func (b *Browser) AllowDownloads(ctx context.Context, dir string) error {
	action := browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
		WithDownloadPath(dir).
		WithEventsEnabled(true)
	if err := b.run(ctx, b.cfg.ElementTimeout, action); err != nil {
		return fmt.Errorf("set download dir: %w", err)
	}
	return nil
}

// selectorOpts picks XPath search for expressions that look like XPath and a
// CSS query otherwise. Inside a frame, CSS queries are rooted at the frame.
func (b *Browser) selectorOpts(selector string) []chromedp.QueryOption {
	if markup.IsXPath(selector) {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	b.mu.Lock()
	frame := b.frame
	b.mu.Unlock()
	if frame != nil {
		opts = append(opts, chromedp.FromNode(frame))
	}
	return opts
}

func (b *Browser) classify(verb, selector string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %q: %w", verb, selector, ErrNotFound)
	}
	return fmt.Errorf("%s %q: %w", verb, selector, err)
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status, m.headers, m.url = 0, http.Header{}, ""
	m.mu.Unlock()
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		// Keep the first document response; later ones are subframes.
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, m.headers.Clone(), m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}
