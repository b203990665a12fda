package events

import "context"

//go:generate mockgen -destination=mocks/mock_publisher.go -source=publisher.go

// Publisher delivers an event to one consumer channel.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emitter hands events off without blocking the caller.
type Emitter interface {
	Emit(e Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// NopEmitter discards every event.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}
