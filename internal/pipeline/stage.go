// Package pipeline owns contact lifecycle transitions.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
)

// FollowupCanceler stops a lead's pending drip sequence.
type FollowupCanceler interface {
	Cancel(ctx context.Context, leadID int64) error
}

// Engine applies pipeline stage transitions. Transitions are idempotent:
// setting the current stage again is a no-op. Stages are not monotonic; a
// won lead can move back to qualified when a later event says so.
type Engine struct {
	leads     crm.LeadRepository
	store     outbox.Store
	followups FollowupCanceler
	logger    *zap.Logger
}

func NewEngine(leads crm.LeadRepository, store outbox.Store, followups FollowupCanceler, logger *zap.Logger) *Engine {
	return &Engine{leads: leads, store: store, followups: followups, logger: logger.Named("pipeline")}
}

// SetStage moves a lead to the target stage. Every actual transition
// appends a pipeline.stage.changed outbox event for reporting.
func (e *Engine) SetStage(ctx context.Context, leadID int64, target crm.Stage, reason string, meta map[string]string) error {
	if !target.Valid() {
		return fmt.Errorf("invalid pipeline stage %q", target)
	}

	lead, err := e.leads.FindByID(ctx, leadID)
	if err != nil {
		return fmt.Errorf("load lead: %w", err)
	}
	if lead == nil {
		return crm.ErrLeadNotFound
	}

	if lead.Stage == target {
		return nil
	}

	from := lead.Stage
	if err := e.leads.UpdateStage(ctx, leadID, target); err != nil {
		return fmt.Errorf("update stage: %w", err)
	}

	// A terminal stage ends nurturing. Pending drip steps are deleted and
	// the lead's automation state is stopped.
	if target == crm.StageWon || target == crm.StageLost {
		if err := e.followups.Cancel(ctx, leadID); err != nil {
			return fmt.Errorf("cancel followups: %w", err)
		}
	}

	ev, err := outbox.NewEvent(outbox.TypeStageChanged, outbox.StageChangedPayload{
		LeadID: leadID,
		From:   string(from),
		To:     string(target),
		Reason: reason,
		Meta:   meta,
	})
	if err != nil {
		return err
	}
	if err := e.store.Append(ctx, ev); err != nil {
		return fmt.Errorf("append stage change event: %w", err)
	}

	e.logger.Info("stage_changed",
		zap.Int64("lead_id", leadID),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("reason", reason),
	)
	return nil
}

// ApplyAppointmentStatus maps an appointment lifecycle status onto the
// pipeline: confirmed/requested lead to qualified, completed to won,
// no-show/canceled to lost.
func (e *Engine) ApplyAppointmentStatus(ctx context.Context, leadID int64, status crm.AppointmentStatus) error {
	stage := crm.StageFor(status)
	if stage == "" {
		return nil
	}
	return e.SetStage(ctx, leadID, stage, "appointment_"+string(status), nil)
}
