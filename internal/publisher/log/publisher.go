// Package log emits delivery events as structured log lines, for runs
// without a message bus or for auditing alongside one.
package log

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/edition-fetcher/internal/domain"
)

// Publisher writes each event to a zap logger.
type Publisher struct {
	logger *zap.Logger
	seq    atomic.Int64
}

// New wires a zap logger to the publisher interface.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish logs the event and returns a sequence-based ID.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	fields := []zap.Field{zap.String("event", event)}
	if ev, ok := payload.(domain.DeliveryEvent); ok {
		var bytes int64
		paths := make([]string, 0, len(ev.Files))
		for _, f := range ev.Files {
			bytes += f.Bytes
			paths = append(paths, f.RemotePath)
		}
		fields = append(fields,
			zap.String("run_id", ev.RunID),
			zap.String("root_source", ev.Root),
			zap.String("source", ev.Source),
			zap.String("date", ev.Date),
			zap.Strings("files", paths),
			zap.Int64("bytes", bytes),
		)
	} else {
		fields = append(fields, zap.Any("payload", payload))
	}
	p.logger.Info("delivery event", fields...)
	return fmt.Sprintf("log-%d", p.seq.Add(1)), nil
}
