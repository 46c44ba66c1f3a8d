// Package audit keeps the append-only activity log. Several outbox handlers
// read it as an idempotency oracle: "has this side effect already happened
// for this entity?"
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Well-known actions recorded by the outbox handlers.
const (
	ActionMessageSent          = "message.sent"
	ActionMessageFailed        = "message.failed"
	ActionEscalationCallPlaced = "sales.escalation.call.started"
	ActionCallLogged           = "crm.call.logged"
	ActionLeadAlertSent        = "lead.alert.sent"
	ActionStageChanged         = "pipeline.stage.changed"
	ActionReminderSent         = "estimate.reminder.sent"
	ActionTaskReminderQueued   = "crm.task.reminder.queued"
	ActionConversionSynced     = "meta.lead_event.synced"
)

// ActorSystem is recorded when the outbox processor itself is the actor.
const ActorSystem = "system"

// Event is one append-only audit record.
type Event struct {
	ID         int64           `json:"id,string"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id,string"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Repository persists audit events.
type Repository interface {
	Append(ctx context.Context, ev *Event) error

	// Exists reports whether any event matches (action, entityType, entityID).
	Exists(ctx context.Context, action, entityType string, entityID int64) (bool, error)

	// ExistsSince is Exists restricted to events after the given instant.
	ExistsSince(ctx context.Context, action, entityType string, entityID int64, since time.Time) (bool, error)

	// FindLast retrieves the newest matching event, (nil, nil) when absent.
	FindLast(ctx context.Context, action, entityType string, entityID int64) (*Event, error)
}

// Log records audit events and answers idempotency probes.
type Log struct {
	repo   Repository
	logger *zap.Logger
}

func NewLog(repo Repository, logger *zap.Logger) *Log {
	return &Log{repo: repo, logger: logger.Named("audit")}
}

// Record appends an event. Failures are logged but not propagated: the audit
// trail must never fail the business action it describes.
func (l *Log) Record(ctx context.Context, actor, action, entityType string, entityID int64, meta any) {
	var raw json.RawMessage
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			l.logger.Warn("audit_meta_marshal_failed", zap.Error(err), zap.String("action", action))
		} else {
			raw = b
		}
	}

	ev := &Event{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Meta:       raw,
		OccurredAt: time.Now().UTC(),
	}
	if err := l.repo.Append(ctx, ev); err != nil {
		l.logger.Error("audit_append_failed",
			zap.Error(err),
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.Int64("entity_id", entityID),
		)
	}
}

// Has reports whether the action was already recorded for the entity.
func (l *Log) Has(ctx context.Context, action, entityType string, entityID int64) (bool, error) {
	return l.repo.Exists(ctx, action, entityType, entityID)
}

// HasSince reports whether the action was recorded for the entity after the
// given instant.
func (l *Log) HasSince(ctx context.Context, action, entityType string, entityID int64, since time.Time) (bool, error) {
	return l.repo.ExistsSince(ctx, action, entityType, entityID, since)
}

// Last returns the newest matching event, (nil, nil) when absent.
func (l *Log) Last(ctx context.Context, action, entityType string, entityID int64) (*Event, error) {
	return l.repo.FindLast(ctx, action, entityType, entityID)
}
