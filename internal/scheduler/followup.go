package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
)

// Followups runs the drip sequence: it schedules the step events after a
// triggering moment (quote sent, unbooked lead) and executes each step when
// it fires. Eligibility is re-validated on every firing, so stale events
// no-op instead of sending.
type Followups struct {
	leads      crm.LeadRepository
	automation conversation.AutomationRepository
	outbound   *Outbound
	store      outbox.Store
	policies   *policy.Provider
	logger     *zap.Logger
}

func NewFollowups(
	leads crm.LeadRepository,
	automation conversation.AutomationRepository,
	outbound *Outbound,
	store outbox.Store,
	policies *policy.Provider,
	logger *zap.Logger,
) *Followups {
	return &Followups{
		leads:      leads,
		automation: automation,
		outbound:   outbound,
		store:      store,
		policies:   policies,
		logger:     logger.Named("scheduler.followup"),
	}
}

// Schedule starts a drip sequence for the lead anchored at the triggering
// instant. When no channel is eligible nothing is scheduled.
func (f *Followups) Schedule(ctx context.Context, leadID int64, anchor time.Time) error {
	cadence := f.policies.Cadence
	if cadence.Steps() == 0 {
		return nil
	}

	ch, state, err := f.resolveChannel(ctx, leadID)
	if err != nil {
		return err
	}
	if ch == "" {
		f.logger.Info("followup_no_eligible_channel", zap.Int64("lead_id", leadID))
		return nil
	}

	firstDue := cadence.DueAt(anchor, 0)
	if state == nil {
		now := time.Now().UTC()
		state = &conversation.AutomationState{
			LeadID:    leadID,
			Channel:   string(ch),
			CreatedAt: now,
		}
	}
	state.FollowupState = conversation.FollowupRunning
	state.FollowupStep = 0
	state.NextFollowupAt = &firstDue
	state.UpdatedAt = time.Now().UTC()
	if err := f.automation.Upsert(ctx, state); err != nil {
		return fmt.Errorf("upsert automation state: %w", err)
	}

	for step := 0; step < cadence.Steps(); step++ {
		dueAt := cadence.DueAt(anchor, step)
		ev, err := outbox.NewEventAt(outbox.TypeFollowupSend, outbox.FollowupSendPayload{
			LeadID:   leadID,
			Channel:  string(ch),
			Step:     step,
			AnchorAt: anchor,
		}, &dueAt)
		if err != nil {
			return err
		}
		if err := f.store.Append(ctx, ev); err != nil {
			return fmt.Errorf("append followup step %d: %w", step, err)
		}
	}

	f.logger.Info("followup_scheduled",
		zap.Int64("lead_id", leadID),
		zap.String("channel", string(ch)),
		zap.Int("steps", cadence.Steps()),
	)
	return nil
}

// Cancel removes every pending follow-up for the lead and stops its
// automation. Deleting the events (rather than flagging them) means a
// cancellation can never race a stale send.
func (f *Followups) Cancel(ctx context.Context, leadID int64) error {
	deleted, err := f.store.DeletePendingByLead(ctx, outbox.TypeFollowupSend, leadID)
	if err != nil {
		return fmt.Errorf("delete pending followups: %w", err)
	}
	if err := f.automation.StopAllForLead(ctx, leadID); err != nil {
		return fmt.Errorf("stop automation: %w", err)
	}
	if deleted > 0 {
		f.logger.Info("followup_canceled", zap.Int64("lead_id", leadID), zap.Int64("deleted", deleted))
	}
	return nil
}

// HandleStep executes one fired drip step.
func (f *Followups) HandleStep(ctx context.Context, p outbox.FollowupSendPayload) (outbox.Outcome, error) {
	lead, err := f.leads.FindByID(ctx, p.LeadID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load lead: %w", err)
	}
	if lead == nil {
		return outbox.Skipped("lead not found"), nil
	}
	if lead.Converted() {
		return outbox.Skipped("lead already converted"), nil
	}
	if lead.DoNotContact {
		return outbox.Skipped("lead opted out"), nil
	}

	ch := channel.Channel(p.Channel)
	state, err := f.automation.Find(ctx, p.LeadID, p.Channel)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load automation state: %w", err)
	}
	if state == nil || state.FollowupState != conversation.FollowupRunning {
		return outbox.Skipped("sequence not running"), nil
	}
	if !state.Eligible() || f.policies.DraftOnly[ch] {
		return outbox.Skipped("channel no longer eligible"), nil
	}

	body, ok := f.policies.Templates.Followup(ch, p.Step, map[string]string{
		"name": lead.DisplayName(),
	})
	if !ok {
		return outbox.ProcessedWithError(fmt.Sprintf("no template for %s step %d", p.Channel, p.Step)), nil
	}

	to := lead.ContactAddress(p.Channel)
	meta := map[string]string{
		conversation.MetaAutomated:    "true",
		conversation.MetaFollowupStep: strconv.Itoa(p.Step),
	}
	if _, err := f.outbound.Queue(ctx, lead.ID, p.Channel, to, body, meta); err != nil {
		return outbox.Outcome{}, fmt.Errorf("queue followup message: %w", err)
	}

	var nextAt *time.Time
	if p.Step+1 < f.policies.Cadence.Steps() {
		t := f.policies.Cadence.DueAt(p.AnchorAt, p.Step+1)
		nextAt = &t
	}
	state.Advance(f.policies.Cadence.Steps(), nextAt)
	if err := f.automation.Upsert(ctx, state); err != nil {
		return outbox.Outcome{}, fmt.Errorf("advance automation state: %w", err)
	}

	return outbox.Processed(), nil
}

// resolveChannel walks the preferred channel order and returns the first
// one whose automation state allows sending, along with any existing state
// row for it.
func (f *Followups) resolveChannel(ctx context.Context, leadID int64) (channel.Channel, *conversation.AutomationState, error) {
	for _, ch := range f.policies.Cadence.Channels {
		if f.policies.DraftOnly[ch] {
			continue
		}
		state, err := f.automation.Find(ctx, leadID, string(ch))
		if err != nil {
			return "", nil, fmt.Errorf("load automation state: %w", err)
		}
		if state != nil && !state.Eligible() {
			continue
		}
		return ch, state, nil
	}
	return "", nil, nil
}
