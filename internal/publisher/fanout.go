// Package publisher fans delivery events out to the configured sinks.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// EventDelivered is the event name attached to delivery notifications.
const EventDelivered = "edition.delivered"

// Named pairs a publisher with the name used in errors.
type Named struct {
	Name      string
	Publisher domain.Publisher
}

// Fanout dispatches events to every configured publisher.
type Fanout struct {
	publishers []Named
}

// NewFanout builds a dispatcher over pubs, skipping nil entries.
func NewFanout(pubs ...Named) *Fanout {
	cp := make([]Named, 0, len(pubs))
	for _, p := range pubs {
		if p.Publisher == nil {
			continue
		}
		cp = append(cp, p)
	}
	return &Fanout{publishers: cp}
}

// Publish forwards the event to every publisher and joins their message IDs.
// Failures do not stop later publishers.
func (f *Fanout) Publish(ctx context.Context, event string, payload any) (string, error) {
	if f == nil || len(f.publishers) == 0 {
		return "", nil
	}
	var (
		ids  []string
		errs []error
	)
	for _, p := range f.publishers {
		id, err := p.Publisher.Publish(ctx, event, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s publisher: %w", p.Name, err))
			continue
		}
		ids = append(ids, id)
	}
	return strings.Join(ids, ","), errors.Join(errs...)
}

// Size returns the number of active publishers.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.publishers)
}
