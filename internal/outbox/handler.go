package outbox

import (
	"context"
	"fmt"
	"time"
)

// Disposition is what the dispatcher should do with an event after its
// handler ran.
type Disposition string

const (
	// DispositionProcessed finalizes the event, soft failure or not.
	DispositionProcessed Disposition = "processed"
	// DispositionRetry requeues after a failure; attempts is incremented.
	DispositionRetry Disposition = "retry"
	// DispositionDefer requeues for a business-time reason (quiet hours,
	// humanized pacing) without counting an attempt.
	DispositionDefer Disposition = "defer"
	// DispositionSkipped records a no-op: preconditions no longer hold.
	DispositionSkipped Disposition = "skipped"
)

// Outcome is a handler's verdict on one event.
type Outcome struct {
	Disposition   Disposition
	Detail        string     // recorded as last_error / skip reason
	NextAttemptAt *time.Time // explicit re-eligibility; nil lets the retry policy pick
}

// Processed finalizes the event successfully.
func Processed() Outcome {
	return Outcome{Disposition: DispositionProcessed}
}

// ProcessedWithError finalizes the event as a terminal soft failure: the
// detail lands in last_error and the event is never retried.
func ProcessedWithError(detail string) Outcome {
	return Outcome{Disposition: DispositionProcessed, Detail: detail}
}

// Skipped records that the event's preconditions no longer hold.
func Skipped(reason string) Outcome {
	return Outcome{Disposition: DispositionSkipped, Detail: reason}
}

// Retry requeues after a failure; the retry policy computes the backoff.
func Retry(detail string) Outcome {
	return Outcome{Disposition: DispositionRetry, Detail: detail}
}

// RetryAt requeues after a failure with an explicit re-eligibility time.
func RetryAt(at time.Time, detail string) Outcome {
	return Outcome{Disposition: DispositionRetry, Detail: detail, NextAttemptAt: &at}
}

// DeferUntil requeues for a business-time reason without burning an attempt.
func DeferUntil(at time.Time, reason string) Outcome {
	return Outcome{Disposition: DispositionDefer, Detail: reason, NextAttemptAt: &at}
}

// HandlerFunc processes one claimed event. A returned error is a handler
// crash: the dispatcher classifies it per event type rather than trusting
// the handler's own bookkeeping.
type HandlerFunc func(ctx context.Context, ev *Event) (Outcome, error)

// Registry is the closed map from event type to handler.
type Registry struct {
	handlers map[EventType]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[EventType]HandlerFunc)}
}

// Register binds a handler to an event type. Double registration is a
// wiring bug and fails loudly.
func (r *Registry) Register(t EventType, h HandlerFunc) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler already registered for %s", t)
	}
	r.handlers[t] = h
	return nil
}

// MustRegister is Register for static wiring.
func (r *Registry) MustRegister(t EventType, h HandlerFunc) {
	if err := r.Register(t, h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for an event type.
func (r *Registry) Resolve(t EventType) (HandlerFunc, bool) {
	h, ok := r.handlers[t]
	return h, ok
}
