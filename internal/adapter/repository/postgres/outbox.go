package postgres

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/pkg/snowflake"
)

// OutboxEventModel is the database DTO with Gorm tags.
type OutboxEventModel struct {
	ID            int64           `gorm:"primaryKey"`
	EventType     string          `gorm:"type:varchar(100);index:idx_outbox_pending,where:processed_at IS NULL"`
	Payload       json.RawMessage `gorm:"type:jsonb"`
	Attempts      int             `gorm:"type:int"`
	LastError     string          `gorm:"type:text"`
	LockedAt      *time.Time      `gorm:"index"`
	NextAttemptAt *time.Time      `gorm:"index"`
	ProcessedAt   *time.Time      `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OutboxEventModel) TableName() string {
	return "outbox_events"
}

// OutboxStore implements outbox.Store on postgres. Claiming uses
// FOR UPDATE SKIP LOCKED plus a locked_at marker so concurrent dispatchers
// never hand the same row to two handlers.
type OutboxStore struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewOutboxStore(db *gorm.DB, node *snowflake.Node) *OutboxStore {
	return &OutboxStore{db: db, node: node}
}

func (s *OutboxStore) Append(ctx context.Context, ev *outbox.Event) error {
	model := toOutboxModel(ev)
	if model.ID == 0 {
		model.ID = s.node.GenerateID()
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	ev.ID = model.ID
	return nil
}

func (s *OutboxStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Event, error) {
	var models []OutboxEventModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("processed_at IS NULL").
			Where("locked_at IS NULL").
			Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
			Order("created_at asc")
		if limit > 0 {
			query = query.Limit(limit)
		}
		if err := query.Find(&models).Error; err != nil {
			return err
		}
		if len(models) == 0 {
			return nil
		}

		ids := make([]int64, 0, len(models))
		for _, model := range models {
			ids = append(ids, model.ID)
		}
		if err := tx.Model(&OutboxEventModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"locked_at":  now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		for i := range models {
			lockedAt := now
			models[i].LockedAt = &lockedAt
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]*outbox.Event, 0, len(models))
	for _, model := range models {
		events = append(events, toOutboxDomain(model))
	}
	return events, nil
}

func (s *OutboxStore) MarkProcessed(ctx context.Context, id int64, lastError string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at":    now,
			"locked_at":       nil,
			"next_attempt_at": nil,
			"last_error":      lastError,
			"updated_at":      now,
		}).Error
}

func (s *OutboxStore) MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error {
	return s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"last_error":      lastError,
			"locked_at":       nil,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (s *OutboxStore) MarkDeferred(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	return s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"next_attempt_at": nextAttemptAt,
			"locked_at":       nil,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (s *OutboxStore) ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("processed_at IS NULL AND locked_at IS NOT NULL AND locked_at < ?", before).
		Updates(map[string]any{
			"locked_at":  nil,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (s *OutboxStore) DeletePendingByLead(ctx context.Context, t outbox.EventType, leadID int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("event_type = ? AND processed_at IS NULL", string(t)).
		Where("(payload->>'leadId')::bigint = ?", leadID).
		Delete(&OutboxEventModel{})
	return result.RowsAffected, result.Error
}

func (s *OutboxStore) DeletePendingByAppointment(ctx context.Context, t outbox.EventType, appointmentID int64) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("event_type = ? AND processed_at IS NULL", string(t)).
		Where("(payload->>'appointmentId')::bigint = ?", appointmentID).
		Delete(&OutboxEventModel{})
	return result.RowsAffected, result.Error
}

func (s *OutboxStore) HasPendingReminder(ctx context.Context, appointmentID int64, windowMinutes int) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("event_type = ? AND processed_at IS NULL", string(outbox.TypeEstimateReminder)).
		Where("(payload->>'appointmentId')::bigint = ?", appointmentID).
		Where("(payload->>'windowMinutes')::int = ?", windowMinutes).
		Count(&count).Error
	return count > 0, err
}

func (s *OutboxStore) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&OutboxEventModel{}).
		Where("processed_at IS NULL").
		Count(&count).Error
	return count, err
}

// Mappers

func toOutboxDomain(m OutboxEventModel) *outbox.Event {
	return &outbox.Event{
		ID:            m.ID,
		EventType:     outbox.EventType(m.EventType),
		Payload:       m.Payload,
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		LockedAt:      m.LockedAt,
		NextAttemptAt: m.NextAttemptAt,
		ProcessedAt:   m.ProcessedAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toOutboxModel(e *outbox.Event) OutboxEventModel {
	return OutboxEventModel{
		ID:            e.ID,
		EventType:     string(e.EventType),
		Payload:       e.Payload,
		Attempts:      e.Attempts,
		LastError:     e.LastError,
		LockedAt:      e.LockedAt,
		NextAttemptAt: e.NextAttemptAt,
		ProcessedAt:   e.ProcessedAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
