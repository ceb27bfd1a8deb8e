// Package eventbus decouples event producers from their consumers.
package eventbus

import "context"

// Handler consumes one published message.
type Handler[T any] func(ctx context.Context, msg T) error

// Bus publishes messages to every subscribed handler. Publish never waits
// for handlers to finish and never reports their errors.
type Bus[T any] interface {
	Publish(ctx context.Context, msg T) error
	Subscribe(h Handler[T]) (unsubscribe func())
}

type registry[T any] struct {
	next     uint64
	handlers map[uint64]Handler[T]
}

func (r *registry[T]) add(h Handler[T]) uint64 {
	if r.handlers == nil {
		r.handlers = make(map[uint64]Handler[T])
	}
	r.next++
	r.handlers[r.next] = h
	return r.next
}

func (r *registry[T]) snapshot() []Handler[T] {
	out := make([]Handler[T], 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}
