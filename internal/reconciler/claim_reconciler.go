// Package reconciler runs background repair loops. The claim reconciler
// requeues outbox events whose dispatcher died mid-batch, and re-arms an
// operator task reminder when a speed-to-lead task sits open past due.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/outbox"
)

// ClaimReconciler releases stale outbox claims. A claim is stale once its
// locked_at is older than the claim TTL; the row goes back to pending and
// the next batch picks it up.
type ClaimReconciler struct {
	store    outbox.Store
	logger   *zap.Logger
	interval time.Duration
	claimTTL time.Duration
}

func NewClaimReconciler(store outbox.Store, logger *zap.Logger, interval, claimTTL time.Duration) *ClaimReconciler {
	return &ClaimReconciler{
		store:    store,
		logger:   logger.Named("outbox.claims"),
		interval: interval,
		claimTTL: claimTTL,
	}
}

func (r *ClaimReconciler) Run(ctx context.Context) {
	if err := r.reconcile(ctx); err != nil {
		r.logger.Error("claim_reconcile_initial_failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				r.logger.Error("claim_reconcile_failed", zap.Error(err))
			}
		}
	}
}

func (r *ClaimReconciler) reconcile(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-r.claimTTL)
	released, err := r.store.ReleaseStaleClaims(ctx, cutoff)
	if err != nil {
		return err
	}
	if released > 0 {
		r.logger.Warn("stale_claims_released",
			zap.Int64("count", released),
			zap.Duration("claim_ttl", r.claimTTL),
		)
	}
	return nil
}
