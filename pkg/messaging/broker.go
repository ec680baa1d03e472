package messaging

import (
	"context"
	"errors"
)

// ErrClosed is returned by a broker after Close.
var ErrClosed = errors.New("broker closed")

// Broker defines the interface for message brokers
type Broker interface {
	// Publish JSON-encodes message onto channel.
	Publish(ctx context.Context, channel string, message interface{}) error
	// Subscribe delivers raw payloads until ctx is done. The returned channel
	// is closed when the subscription ends, including on connection loss.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
