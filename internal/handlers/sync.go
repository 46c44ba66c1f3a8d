package handlers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
)

// handleMetaLeadEvent forwards a conversion signal to the ad platform.
// The platform dedupes on its side, so a replayed event is harmless.
func (s *Set) handleMetaLeadEvent(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.MetaLeadEventPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}

	lead, err := s.Leads.FindByID(ctx, p.LeadID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load lead: %w", err)
	}
	if lead == nil {
		return outbox.Skipped("lead not found"), nil
	}
	if lead.DoNotContact {
		return outbox.Skipped("lead opted out"), nil
	}

	signal := channel.LeadEvent{
		LeadID:    lead.ID,
		EventName: p.EventName,
		Email:     lead.Email,
		Phone:     lead.Phone,
		EventTime: time.Now().UTC(),
	}
	if err := s.Ads.SendLeadEvent(ctx, signal); err != nil {
		return outbox.Outcome{}, fmt.Errorf("send lead event %q: %w", p.EventName, err)
	}

	s.AuditLog.Record(ctx, audit.ActorSystem, audit.ActionConversionSynced, "lead", lead.ID, map[string]string{
		"eventName": p.EventName,
	})
	return outbox.Processed(), nil
}

// handleStageChanged is the reporting sink for stage transitions. The
// transition itself was already persisted by the stage engine; this
// records the audit trail entry other handlers consult.
func (s *Set) handleStageChanged(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.StageChangedPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}

	meta := map[string]string{"from": p.From, "to": p.To}
	if p.Reason != "" {
		meta["reason"] = p.Reason
	}
	for k, v := range p.Meta {
		meta[k] = v
	}
	s.AuditLog.Record(ctx, audit.ActorSystem, audit.ActionStageChanged, "lead", p.LeadID, meta)

	s.Logger.Info("stage changed",
		zap.Int64("lead_id", p.LeadID),
		zap.String("from", p.From),
		zap.String("to", p.To),
		zap.String("reason", p.Reason))
	return outbox.Processed(), nil
}
