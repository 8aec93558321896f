// Package catalog loads the YAML catalog of root sources and builds the
// domain objects the scheduler and orchestrator work on.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// ErrInvalid reports a catalog that parses but violates a structural rule.
var ErrInvalid = errors.New("catalog: invalid")

// File is the on-disk catalog document.
type File struct {
	RootSources []RootSpec `yaml:"root_sources"`
}

// RootSpec is one publisher entry.
type RootSpec struct {
	ID      string               `yaml:"id"`
	Name    string               `yaml:"name"`
	Active  *bool                `yaml:"active"`
	Login   domain.AuthConfig    `yaml:"login"`
	Extract domain.ExtractConfig `yaml:"extract"`
	Sources []SourceSpec         `yaml:"sources"`
}

// SourceSpec is one publication under a root.
type SourceSpec struct {
	Name      string `yaml:"name"`
	Weekdays  []int  `yaml:"weekdays"`
	Edition   string `yaml:"edition"`
	Frequency string `yaml:"frequency"`
	PeriodDay int    `yaml:"period_day"`
	StartAt   int    `yaml:"start_at"`
	Channel   string `yaml:"channel"`
	Locator   string `yaml:"locator"`
}

// Load reads the catalog at path and builds root sources for now.
func Load(path string, now time.Time) ([]*domain.RootSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data, now)
}

// Parse decodes catalog YAML, expands ${VAR} references in credentials and
// URLs, validates the result and derives dirnames and weekday relevance.
func Parse(data []byte, now time.Time) ([]*domain.RootSource, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return Build(file, now)
}

// Build validates a decoded catalog and converts it to domain objects.
func Build(file File, now time.Time) ([]*domain.RootSource, error) {
	seenRoots := make(map[string]struct{}, len(file.RootSources))
	seenSources := make(map[string]string)
	roots := make([]*domain.RootSource, 0, len(file.RootSources))

	for i, spec := range file.RootSources {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: root_sources[%d] has no name", ErrInvalid, i)
		}
		if _, dup := seenRoots[name]; dup {
			return nil, fmt.Errorf("%w: duplicate root source %q", ErrInvalid, name)
		}
		seenRoots[name] = struct{}{}

		auth := expandAuth(spec.Login)
		if auth.Type == "" {
			auth.Type = domain.AuthNone
		}
		extract := spec.Extract
		if extract.Type == "" {
			return nil, fmt.Errorf("%w: root source %q has no extract.type", ErrInvalid, name)
		}
		switch extract.MissingEdition {
		case "":
			extract.MissingEdition = domain.MissingUnavailable
		case domain.MissingUnavailable, domain.MissingFailed:
		default:
			return nil, fmt.Errorf("%w: root source %q: missing_edition %q", ErrInvalid, name, extract.MissingEdition)
		}
		extract.URL = os.ExpandEnv(extract.URL)

		root := &domain.RootSource{
			ID:      spec.ID,
			Name:    name,
			Dirname: domain.DirName(name),
			Active:  spec.Active == nil || *spec.Active,
			Auth:    auth,
			Extract: extract,
		}
		if root.ID == "" {
			root.ID = root.Dirname
		}

		for j, s := range spec.Sources {
			src, err := buildSource(s, now)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.sources[%d]: %v", ErrInvalid, name, j, err)
			}
			if owner, dup := seenSources[src.Name]; dup {
				return nil, fmt.Errorf("%w: source %q listed under %q and %q", ErrInvalid, src.Name, owner, name)
			}
			seenSources[src.Name] = name
			root.Sources = append(root.Sources, src)
		}
		roots = append(roots, root)
	}
	return roots, nil
}

func buildSource(s SourceSpec, now time.Time) (*domain.Source, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return nil, errors.New("source has no name")
	}
	recurrence := domain.Recurrence(strings.ToLower(strings.TrimSpace(s.Frequency)))
	switch recurrence {
	case "":
		recurrence = domain.Daily
	case domain.Daily, domain.Weekly, domain.Monthly:
	default:
		return nil, fmt.Errorf("source %q: unknown frequency %q", name, s.Frequency)
	}
	for _, wd := range s.Weekdays {
		if wd < 1 || wd > 7 {
			return nil, fmt.Errorf("source %q: weekday %d out of range 1-7", name, wd)
		}
	}
	if s.StartAt < 0 || s.StartAt > 23 {
		return nil, fmt.Errorf("source %q: start_at %d out of range 0-23", name, s.StartAt)
	}
	if s.PeriodDay < 0 || s.PeriodDay > 31 || (recurrence == domain.Weekly && s.PeriodDay > 7) {
		return nil, fmt.Errorf("source %q: period_day %d out of range", name, s.PeriodDay)
	}

	src := domain.NewSource(name, s.Weekdays, recurrence, now)
	src.Edition = s.Edition
	src.PeriodDay = s.PeriodDay
	src.StartAt = s.StartAt
	src.Channel = s.Channel
	src.Locator = s.Locator
	return src, nil
}

func expandAuth(a domain.AuthConfig) domain.AuthConfig {
	a.LoginURL = os.ExpandEnv(a.LoginURL)
	a.User = os.ExpandEnv(a.User)
	a.Password = os.ExpandEnv(a.Password)
	if len(a.Payload) > 0 {
		payload := make(map[string]string, len(a.Payload))
		for k, v := range a.Payload {
			payload[k] = os.ExpandEnv(v)
		}
		a.Payload = payload
	}
	return a
}

// AllSources flattens the sources of roots in catalog order. A name listed
// more than once is kept at its first occurrence.
func AllSources(roots []*domain.RootSource) []*domain.Source {
	var out []*domain.Source
	seen := make(map[string]struct{})
	for _, r := range roots {
		for _, s := range r.Sources {
			if _, dup := seen[s.Name]; dup {
				continue
			}
			seen[s.Name] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
