// Package memory records published events for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher keeps every publish in order. Setting Err makes later publishes
// fail without being recorded.
type Publisher struct {
	mu   sync.Mutex
	log  []PublishedMessage
	next int

	Err error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records payload under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.next++
	id := fmt.Sprintf("memory-%d", p.next)
	p.log = append(p.log, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.log...)
}

// Events returns the recorded payloads that are delivery events.
func (p *Publisher) Events() []domain.DeliveryEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.DeliveryEvent
	for _, m := range p.log {
		switch ev := m.Payload.(type) {
		case domain.DeliveryEvent:
			out = append(out, ev)
		case *domain.DeliveryEvent:
			out = append(out, *ev)
		}
	}
	return out
}
