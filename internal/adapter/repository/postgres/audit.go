package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/pkg/snowflake"
)

// AuditEventModel is the database DTO with Gorm tags. The table is
// append-only; nothing updates or deletes rows.
type AuditEventModel struct {
	ID         int64           `gorm:"primaryKey"`
	Actor      string          `gorm:"type:varchar(100)"`
	Action     string          `gorm:"type:varchar(100);index:idx_audit_lookup"`
	EntityType string          `gorm:"type:varchar(50);index:idx_audit_lookup"`
	EntityID   int64           `gorm:"index:idx_audit_lookup"`
	Meta       json.RawMessage `gorm:"type:jsonb"`
	OccurredAt time.Time       `gorm:"index"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

type AuditRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewAuditRepository(db *gorm.DB, node *snowflake.Node) *AuditRepository {
	return &AuditRepository{db: db, node: node}
}

func (r *AuditRepository) Append(ctx context.Context, ev *audit.Event) error {
	model := toAuditModel(ev)
	if model.ID == 0 {
		model.ID = r.node.GenerateID()
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	ev.ID = model.ID
	return nil
}

func (r *AuditRepository) Exists(ctx context.Context, action, entityType string, entityID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AuditEventModel{}).
		Where("action = ? AND entity_type = ? AND entity_id = ?", action, entityType, entityID).
		Count(&count).Error
	return count > 0, err
}

func (r *AuditRepository) ExistsSince(ctx context.Context, action, entityType string, entityID int64, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&AuditEventModel{}).
		Where("action = ? AND entity_type = ? AND entity_id = ? AND occurred_at > ?",
			action, entityType, entityID, since).
		Count(&count).Error
	return count > 0, err
}

func (r *AuditRepository) FindLast(ctx context.Context, action, entityType string, entityID int64) (*audit.Event, error) {
	var model AuditEventModel
	err := r.db.WithContext(ctx).
		Where("action = ? AND entity_type = ? AND entity_id = ?", action, entityType, entityID).
		Order("occurred_at desc").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toAuditDomain(model), nil
}

// Mappers

func toAuditDomain(m AuditEventModel) *audit.Event {
	return &audit.Event{
		ID:         m.ID,
		Actor:      m.Actor,
		Action:     m.Action,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Meta:       m.Meta,
		OccurredAt: m.OccurredAt,
	}
}

func toAuditModel(d *audit.Event) AuditEventModel {
	return AuditEventModel{
		ID:         d.ID,
		Actor:      d.Actor,
		Action:     d.Action,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		Meta:       d.Meta,
		OccurredAt: d.OccurredAt,
	}
}
