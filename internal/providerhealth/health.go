// Package providerhealth records rolling success/failure counters per
// external channel. The counters feed operational dashboards only; nothing
// in the processor gates on them.
package providerhealth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Record is the per-provider counter row.
type Record struct {
	ID       int64  `json:"id,string"`
	Provider string `json:"provider"`

	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastFailure  *time.Time `json:"last_failure,omitempty"`
	LastDetail   string     `json:"last_detail"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists provider health counters.
type Repository interface {
	// IncrSuccess bumps the success counter for a provider, creating the
	// row when absent.
	IncrSuccess(ctx context.Context, provider string, at time.Time) error

	// IncrFailure bumps the failure counter and records the detail string.
	IncrFailure(ctx context.Context, provider string, at time.Time, detail string) error

	List(ctx context.Context) ([]*Record, error)
}

// Tracker is the write-side facade used by handlers. Recording is advisory;
// errors are logged and swallowed so bookkeeping never fails a send.
type Tracker struct {
	repo   Repository
	logger *zap.Logger
}

func NewTracker(repo Repository, logger *zap.Logger) *Tracker {
	return &Tracker{repo: repo, logger: logger.Named("provider.health")}
}

func (t *Tracker) RecordSuccess(ctx context.Context, provider string) {
	if provider == "" {
		return
	}
	if err := t.repo.IncrSuccess(ctx, provider, time.Now().UTC()); err != nil {
		t.logger.Warn("provider_health_record_failed", zap.Error(err), zap.String("provider", provider))
	}
}

func (t *Tracker) RecordFailure(ctx context.Context, provider, detail string) {
	if provider == "" {
		return
	}
	if err := t.repo.IncrFailure(ctx, provider, time.Now().UTC(), detail); err != nil {
		t.logger.Warn("provider_health_record_failed", zap.Error(err), zap.String("provider", provider))
	}
}
