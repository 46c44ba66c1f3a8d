package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Stats summarizes one dispatcher batch. Processed includes terminal soft
// failures; Skipped includes no-ops and business deferrals; Errors counts
// events that ended the pass requeued after a failure.
type Stats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Dispatcher drains the outbox. It is a fair FIFO scheduler over opaque
// handlers: all business logic lives behind the registry. The batch is
// processed strictly sequentially; nothing here starts per-event timers, so
// every delay survives a restart as an outbox due time.
type Dispatcher struct {
	store     Store
	registry  *Registry
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewDispatcher(store Store, registry *Registry, logger *zap.Logger, interval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		store:     store,
		registry:  registry,
		logger:    logger.Named("outbox.dispatcher"),
		interval:  interval,
		batchSize: batchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run polls the outbox on a fixed cadence until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	if _, err := d.ProcessBatch(ctx, d.batchSize); err != nil {
		d.logger.Error("outbox_initial_poll_failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.ProcessBatch(ctx, d.batchSize); err != nil {
				d.logger.Error("outbox_poll_failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch claims up to limit due events and runs each through its
// handler, persisting the outcome. No event is executed twice within a
// single batch.
func (d *Dispatcher) ProcessBatch(ctx context.Context, limit int) (Stats, error) {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	if limit <= 0 {
		limit = d.batchSize
	}

	events, err := d.store.ClaimDue(ctx, d.now(), limit)
	if err != nil {
		return Stats{}, fmt.Errorf("claim due events: %w", err)
	}

	stats := Stats{Total: len(events)}
	for _, ev := range events {
		outcome := d.processEvent(ctx, ev)
		eventsTotal.WithLabelValues(string(ev.EventType), string(outcome.Disposition)).Inc()

		switch outcome.Disposition {
		case DispositionProcessed:
			stats.Processed++
		case DispositionSkipped, DispositionDefer:
			stats.Skipped++
		case DispositionRetry:
			stats.Errors++
		}
	}

	return stats, nil
}

func (d *Dispatcher) processEvent(ctx context.Context, ev *Event) Outcome {
	outcome := d.handle(ctx, ev)
	if err := d.persistOutcome(ctx, ev, outcome); err != nil {
		d.logger.Error("outbox_persist_outcome_failed",
			zap.Error(err),
			zap.Int64("event_id", ev.ID),
			zap.String("event_type", string(ev.EventType)),
		)
	}
	return outcome
}

func (d *Dispatcher) handle(ctx context.Context, ev *Event) Outcome {
	if _, err := DecodePayload(ev); err != nil {
		d.logger.Warn("outbox_payload_invalid",
			zap.Error(err),
			zap.Int64("event_id", ev.ID),
			zap.String("event_type", string(ev.EventType)),
		)
		return ProcessedWithError(err.Error())
	}

	handler, ok := d.registry.Resolve(ev.EventType)
	if !ok {
		return ProcessedWithError(fmt.Sprintf("no handler for event type %s", ev.EventType))
	}

	outcome, err := d.invoke(ctx, handler, ev)
	if err != nil {
		return d.classifyFailure(ev, err)
	}
	return outcome
}

// invoke runs the handler with a panic guard; a panic is a failure, never a
// crashed batch.
func (d *Dispatcher) invoke(ctx context.Context, handler HandlerFunc, ev *Event) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			d.logger.Error("outbox_handler_panicked",
				zap.Any("panic", r),
				zap.Int64("event_id", ev.ID),
				zap.String("event_type", string(ev.EventType)),
			)
		}
	}()
	return handler(ctx, ev)
}

// classifyFailure maps a handler error to an outcome. Only the message-send
// handler earns a retry for an uncaught failure, and only under the attempt
// ceiling; every other type is terminal for the attempt.
func (d *Dispatcher) classifyFailure(ev *Event, err error) Outcome {
	detail := err.Error()
	if ev.EventType == TypeMessageSend && Retryable(detail) && ev.Attempts+1 < MaxSendAttempts {
		return Retry(detail)
	}
	return ProcessedWithError(detail)
}

func (d *Dispatcher) persistOutcome(ctx context.Context, ev *Event, outcome Outcome) error {
	switch outcome.Disposition {
	case DispositionProcessed, DispositionSkipped:
		return d.store.MarkProcessed(ctx, ev.ID, outcome.Detail)
	case DispositionRetry:
		attempts := ev.Attempts + 1
		next := d.now().Add(Backoff(attempts))
		if outcome.NextAttemptAt != nil {
			next = *outcome.NextAttemptAt
		}
		return d.store.MarkRetry(ctx, ev.ID, attempts, next, outcome.Detail)
	case DispositionDefer:
		if outcome.NextAttemptAt == nil {
			return fmt.Errorf("defer outcome without next attempt time")
		}
		return d.store.MarkDeferred(ctx, ev.ID, *outcome.NextAttemptAt)
	default:
		return fmt.Errorf("unknown disposition %q", outcome.Disposition)
	}
}
