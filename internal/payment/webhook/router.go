package webhook

import (
	"context"
	"fmt"

	"github.com/smallbiznis/creditline/internal/payment/domain"
)

type Handler func(ctx context.Context, event domain.Event) error

// Router dispatches typed events to exactly one handler per event type.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: map[string]Handler{}}
}

// Handle registers fn for eventType. The event passed at dispatch must be a T.
func Handle[T domain.Event](r *Router, eventType string, fn func(context.Context, T) error) {
	r.handlers[eventType] = func(ctx context.Context, event domain.Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("%w: %T for %s", domain.ErrInvalidEvent, event, eventType)
		}
		return fn(ctx, typed)
	}
}

func (r *Router) Handles(eventType string) bool {
	_, ok := r.handlers[eventType]
	return ok
}

func (r *Router) Dispatch(ctx context.Context, event domain.Event) error {
	handler, ok := r.handlers[event.EventType()]
	if !ok {
		return nil
	}
	return handler(ctx, event)
}
