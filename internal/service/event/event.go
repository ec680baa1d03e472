package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/consentflow/consent-api/internal/model"
	"github.com/consentflow/consent-api/pkg/worker"
)

// HandlerFunc handles one outbox event type.
type HandlerFunc func(ctx context.Context, event *model.OutboxEvent) error

// Registry routes outbox events to the handler registered for their type.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

var _ worker.Dispatcher = (*Registry)(nil)

// Register panics on a duplicate type; registration happens at startup.
func (r *Registry) Register(eventType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[eventType]; ok {
		panic(fmt.Sprintf("event: handler for %q registered twice", eventType))
	}
	r.handlers[eventType] = h
}

func (r *Registry) Dispatch(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.RLock()
	h, ok := r.handlers[event.EventType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", worker.ErrUnknownEvent, event.EventType)
	}
	return h(ctx, event)
}
