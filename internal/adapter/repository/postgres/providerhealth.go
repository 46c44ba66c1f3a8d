package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doorstephq/doorstep-cloud/internal/providerhealth"
	"github.com/doorstephq/doorstep-cloud/pkg/snowflake"
)

// ProviderHealthModel is the database DTO with Gorm tags.
type ProviderHealthModel struct {
	ID       int64  `gorm:"primaryKey"`
	Provider string `gorm:"type:varchar(100);uniqueIndex"`

	SuccessCount int64
	FailureCount int64
	LastSuccess  *time.Time
	LastFailure  *time.Time
	LastDetail   string `gorm:"type:text"`

	UpdatedAt time.Time
}

func (ProviderHealthModel) TableName() string {
	return "provider_health"
}

type ProviderHealthRepository struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewProviderHealthRepository(db *gorm.DB, node *snowflake.Node) *ProviderHealthRepository {
	return &ProviderHealthRepository{db: db, node: node}
}

func (r *ProviderHealthRepository) IncrSuccess(ctx context.Context, provider string, at time.Time) error {
	model := ProviderHealthModel{
		ID:           r.node.GenerateID(),
		Provider:     provider,
		SuccessCount: 1,
		LastSuccess:  &at,
		UpdatedAt:    at,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}},
			DoUpdates: clause.Assignments(map[string]any{
				"success_count": gorm.Expr("provider_health.success_count + 1"),
				"last_success":  at,
				"updated_at":    at,
			}),
		}).
		Create(&model).Error
}

func (r *ProviderHealthRepository) IncrFailure(ctx context.Context, provider string, at time.Time, detail string) error {
	model := ProviderHealthModel{
		ID:           r.node.GenerateID(),
		Provider:     provider,
		FailureCount: 1,
		LastFailure:  &at,
		LastDetail:   detail,
		UpdatedAt:    at,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}},
			DoUpdates: clause.Assignments(map[string]any{
				"failure_count": gorm.Expr("provider_health.failure_count + 1"),
				"last_failure":  at,
				"last_detail":   detail,
				"updated_at":    at,
			}),
		}).
		Create(&model).Error
}

func (r *ProviderHealthRepository) List(ctx context.Context) ([]*providerhealth.Record, error) {
	var models []ProviderHealthModel
	if err := r.db.WithContext(ctx).Order("provider asc").Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]*providerhealth.Record, 0, len(models))
	for _, model := range models {
		items = append(items, toHealthDomain(model))
	}
	return items, nil
}

// Mappers

func toHealthDomain(m ProviderHealthModel) *providerhealth.Record {
	return &providerhealth.Record{
		ID:           m.ID,
		Provider:     m.Provider,
		SuccessCount: m.SuccessCount,
		FailureCount: m.FailureCount,
		LastSuccess:  m.LastSuccess,
		LastFailure:  m.LastFailure,
		LastDetail:   m.LastDetail,
		UpdatedAt:    m.UpdatedAt,
	}
}
