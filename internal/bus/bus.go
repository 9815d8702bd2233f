package bus

import (
	"context"
)

/*
Cross-instance fan-out

One process owns the replicas of the documents it serves. When several
instances serve the same document, accepted deltas are published on a
per-document channel so the other instances can merge them into their own
replica and rebroadcast to their local connections.
*/

// Message is a delta received from another instance.
type Message struct {
	DocumentID string
	Origin     string
	Payload    []byte
}

// Handler is called for every message published by another instance.
type Handler func(ctx context.Context, msg Message)

// Bus publishes accepted deltas and delivers those of other instances.
type Bus interface {
	Publish(ctx context.Context, documentID string, payload []byte) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}

// LocalBus is the single-process bus: nothing leaves the process.
type LocalBus struct{}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (LocalBus) Publish(context.Context, string, []byte) error { return nil }

func (LocalBus) Subscribe(context.Context, Handler) error { return nil }

func (LocalBus) Close() error { return nil }
