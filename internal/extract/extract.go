// Package extract locates and fetches a source's edition for the current day
// through per-root-source strategies, then validates and delivers the result.
package extract

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/JakeFAU/edition-fetcher/internal/clock/system"
	"github.com/JakeFAU/edition-fetcher/internal/retry"
)

// ErrUnavailable reports that today's edition does not exist at the source.
var ErrUnavailable = errors.New("edition not available")

// Artifact is a deliverable file in the job's staging directory.
type Artifact struct {
	Path string
	Name string
}

// Strategy fetches a source's edition into the job's staging directory.
type Strategy interface {
	Fetch(ctx context.Context, job *Job) ([]Artifact, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, job *Job) ([]Artifact, error)

// Fetch implements Strategy.
func (f StrategyFunc) Fetch(ctx context.Context, job *Job) ([]Artifact, error) {
	return f(ctx, job)
}

// Registry maps extract type tags to strategies.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register binds tag to s, replacing any earlier binding.
func (r *Registry) Register(tag string, s Strategy) {
	r.strategies[tag] = s
}

// Lookup returns the strategy for tag.
func (r *Registry) Lookup(tag string) (Strategy, bool) {
	s, ok := r.strategies[tag]
	return s, ok
}

// Tags lists registered tags in order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.strategies))
	for t := range r.strategies {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Strategy tags registered by Default.
const (
	TypeDirect           = "direct"
	TypeArchiveLink      = "archive_link"
	TypeMultipageRequest = "multipage_request"
	TypePageImages       = "page_images"
	TypeBrowserDownload  = "browser_download"
	TypeBrowserPaginated = "browser_paginated"
	TypeLayeredPages     = "layered_pages"
)

// Options tune the built-in strategies.
type Options struct {
	// MaxPages bounds every page loop unless a root source sets its own.
	MaxPages int
	// DownloadTimeout bounds the wait for a browser download.
	DownloadTimeout time.Duration
	PollInterval    time.Duration
	ElementTimeout  time.Duration
	Sleeper         retry.Sleeper
}

func (o Options) withDefaults() Options {
	if o.MaxPages <= 0 {
		o.MaxPages = 400
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 120 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = 15 * time.Second
	}
	if o.Sleeper == nil {
		o.Sleeper = system.New(nil)
	}
	return o
}

// Default returns a registry holding every built-in strategy.
func Default(opts Options) *Registry {
	opts = opts.withDefaults()
	r := NewRegistry()
	r.Register(TypeDirect, direct{})
	r.Register(TypeArchiveLink, archiveLink{})
	r.Register(TypeMultipageRequest, multipageRequest{opts: opts})
	r.Register(TypePageImages, pageImages{opts: opts})
	r.Register(TypeBrowserDownload, browserDownload{opts: opts})
	r.Register(TypeBrowserPaginated, browserPaginated{opts: opts})
	r.Register(TypeLayeredPages, layeredPages{opts: opts})
	return r
}
