package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
)

// TaskReconciler scans for open tasks past due and arms the team reminder
// text for each, once. The audit log is the once-guard: an armed task gets
// a queued marker, and the scan skips marked tasks.
type TaskReconciler struct {
	tasks    crm.TaskRepository
	store    outbox.Store
	auditLog *audit.Log
	logger   *zap.Logger

	interval  time.Duration
	batchSize int
}

func NewTaskReconciler(tasks crm.TaskRepository, store outbox.Store, auditLog *audit.Log, logger *zap.Logger, interval time.Duration) *TaskReconciler {
	return &TaskReconciler{
		tasks:     tasks,
		store:     store,
		auditLog:  auditLog,
		logger:    logger.Named("crm.tasks"),
		interval:  interval,
		batchSize: 50,
	}
}

func (r *TaskReconciler) Run(ctx context.Context) {
	if err := r.reconcile(ctx); err != nil {
		r.logger.Error("task_reconcile_initial_failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				r.logger.Error("task_reconcile_failed", zap.Error(err))
			}
		}
	}
}

func (r *TaskReconciler) reconcile(ctx context.Context) error {
	due, err := r.tasks.ListDueBefore(ctx, time.Now().UTC(), r.batchSize)
	if err != nil {
		return err
	}

	for _, task := range due {
		r.armReminder(ctx, task)
	}
	return nil
}

func (r *TaskReconciler) armReminder(ctx context.Context, task *crm.CrmTask) {
	queued, err := r.auditLog.Has(ctx, audit.ActionTaskReminderQueued, "task", task.ID)
	if err != nil {
		r.logger.Warn("task_reminder_check_failed", zap.Error(err), zap.Int64("task_id", task.ID))
		return
	}
	if queued {
		return
	}

	ev, err := outbox.NewEvent(outbox.TypeTaskReminderSMS, outbox.TaskReminderPayload{TaskID: task.ID})
	if err != nil {
		r.logger.Warn("task_reminder_build_failed", zap.Error(err), zap.Int64("task_id", task.ID))
		return
	}
	if err := r.store.Append(ctx, ev); err != nil {
		r.logger.Warn("task_reminder_append_failed", zap.Error(err), zap.Int64("task_id", task.ID))
		return
	}

	r.auditLog.Record(ctx, audit.ActorSystem, audit.ActionTaskReminderQueued, "task", task.ID, nil)
	r.logger.Info("task_reminder_armed", zap.Int64("task_id", task.ID), zap.Int64("lead_id", task.LeadID))
}
