package domain

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher digests a delivered file, returning the hex digest and byte size.
type Hasher interface {
	HashFile(path string) (string, int64, error)
}

// Publisher pushes delivery events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// DeliveryEvent is published after a source's edition has been delivered.
type DeliveryEvent struct {
	RunID       string          `json:"run_id"`
	Root        string          `json:"root_source"`
	Source      string          `json:"source"`
	Channel     string          `json:"channel,omitempty"`
	Date        string          `json:"date"`
	DeliveredAt time.Time       `json:"delivered_at"`
	Files       []DeliveredFile `json:"files"`
}

// DeliveredFile describes one uploaded artifact.
type DeliveredFile struct {
	RemotePath string `json:"remote_path"`
	Bytes      int64  `json:"bytes"`
	SHA256     string `json:"sha256"`
}
