package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
)

// Escalation owns the speed-to-lead workflow: a first-touch task with an
// SLA, a team alert, and escalation calls that only fire when nobody has
// touched the lead yet.
type Escalation struct {
	tasks     crm.TaskRepository
	leads     crm.LeadRepository
	messages  conversation.MessageRepository
	store     outbox.Store
	dialer    channel.Dialer
	messenger channel.Messenger
	policies  *policy.Provider
	auditLog  *audit.Log
	logger    *zap.Logger

	teamNotifyPhone string
	now             func() time.Time
}

func NewEscalation(
	tasks crm.TaskRepository,
	leads crm.LeadRepository,
	messages conversation.MessageRepository,
	store outbox.Store,
	dialer channel.Dialer,
	messenger channel.Messenger,
	policies *policy.Provider,
	auditLog *audit.Log,
	teamNotifyPhone string,
	logger *zap.Logger,
) *Escalation {
	return &Escalation{
		tasks:           tasks,
		leads:           leads,
		messages:        messages,
		store:           store,
		dialer:          dialer,
		messenger:       messenger,
		policies:        policies,
		auditLog:        auditLog,
		teamNotifyPhone: teamNotifyPhone,
		logger:          logger.Named("scheduler.escalation"),
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// OnNewLead schedules the speed-to-lead work for a fresh qualifying lead:
// the call task due within the SLA, the queue-nudge alert, and (when
// enabled and a phone exists) the instant and at-deadline escalation calls.
func (e *Escalation) OnNewLead(ctx context.Context, lead *crm.Lead, alertRecipients []string) error {
	now := e.now()
	deadline := now.Add(e.policies.SpeedToLeadSLA)

	// An open speed-to-lead task means the lead is already armed; a
	// replayed intake must not double-book the calls.
	existing, err := e.tasks.FindOpenByLeadAndKind(ctx, lead.ID, crm.TaskSpeedToLead)
	if err != nil {
		return fmt.Errorf("check speed-to-lead task: %w", err)
	}
	if existing != nil {
		e.logger.Info("speed_to_lead_already_armed", zap.Int64("lead_id", lead.ID), zap.Int64("task_id", existing.ID))
		return nil
	}

	task := crm.NewSpeedToLeadTask(lead.ID, lead.AssignedTo, deadline)
	if err := e.tasks.Save(ctx, task); err != nil {
		return fmt.Errorf("create speed-to-lead task: %w", err)
	}

	alert, err := outbox.NewEvent(outbox.TypeLeadAlert, outbox.LeadAlertPayload{
		LeadID:     lead.ID,
		Recipients: alertRecipients,
	})
	if err != nil {
		return err
	}
	if err := e.store.Append(ctx, alert); err != nil {
		return fmt.Errorf("append lead alert: %w", err)
	}

	if !e.policies.EscalationEnabled || lead.Phone == "" {
		return nil
	}

	for _, call := range []struct {
		mode  string
		dueAt time.Time
	}{
		{outbox.EscalationModeInstant, now},
		{outbox.EscalationModeDue, deadline},
	} {
		dueAt := call.dueAt
		ev, err := outbox.NewEventAt(outbox.TypeEscalationCall, outbox.EscalationCallPayload{
			TaskID: task.ID,
			Mode:   call.mode,
		}, &dueAt)
		if err != nil {
			return err
		}
		if err := e.store.Append(ctx, ev); err != nil {
			return fmt.Errorf("append escalation call (%s): %w", call.mode, err)
		}
	}
	return nil
}

// HandleCall runs one escalation-call event through its guard chain and
// places the call only when every guard passes. The audit record written on
// success is what makes a re-fire a no-op.
func (e *Escalation) HandleCall(ctx context.Context, p outbox.EscalationCallPayload) (outbox.Outcome, error) {
	now := e.now()
	if !e.policies.SalesHours.Contains(now) {
		next := e.policies.SalesHours.NextStartAfter(now)
		return outbox.DeferUntil(next, "outside_sales_hours"), nil
	}

	task, err := e.tasks.FindByID(ctx, p.TaskID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load task: %w", err)
	}
	if task == nil || !task.Open() {
		return outbox.Skipped("task no longer open"), nil
	}

	placed, err := e.auditLog.Has(ctx, audit.ActionEscalationCallPlaced, "task", task.ID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("check prior escalation: %w", err)
	}
	if placed {
		return outbox.Skipped("escalation call already placed"), nil
	}

	called, err := e.auditLog.HasSince(ctx, audit.ActionCallLogged, "lead", task.LeadID, task.CreatedAt)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("check logged calls: %w", err)
	}
	if called {
		return outbox.Skipped("assignee already called the lead"), nil
	}

	manual, err := e.messages.CountManualOutboundSince(ctx, task.LeadID, task.CreatedAt)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("count manual outbound: %w", err)
	}
	if manual > 0 {
		return outbox.Skipped("assignee already messaged the lead"), nil
	}

	inbound, err := e.messages.CountInboundSince(ctx, task.LeadID, task.CreatedAt)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("count inbound: %w", err)
	}
	if inbound >= 2 {
		return outbox.Skipped("lead already engaged with a human"), nil
	}

	lead, err := e.leads.FindByID(ctx, task.LeadID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load lead: %w", err)
	}
	if lead == nil || lead.Phone == "" {
		return outbox.ProcessedWithError(outbox.DetailMissingRecipient), nil
	}

	result, err := e.dialer.PlaceCall(ctx, lead.Phone, map[string]string{
		"taskId": fmt.Sprintf("%d", task.ID),
		"mode":   p.Mode,
	})
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("place call: %w", err)
	}
	if !result.OK {
		detail := result.Detail
		if detail == "" {
			detail = "voice provider rejected call"
		}
		return outbox.ProcessedWithError(detail), nil
	}

	e.auditLog.Record(ctx, audit.ActorSystem, audit.ActionEscalationCallPlaced, "task", task.ID, map[string]string{
		"mode":     p.Mode,
		"provider": result.Provider,
	})
	e.logger.Info("escalation_call_placed",
		zap.Int64("task_id", task.ID),
		zap.Int64("lead_id", task.LeadID),
		zap.String("mode", p.Mode),
	)
	return outbox.Processed(), nil
}

// HandleTaskReminder texts the team line about a due task.
func (e *Escalation) HandleTaskReminder(ctx context.Context, p outbox.TaskReminderPayload) (outbox.Outcome, error) {
	task, err := e.tasks.FindByID(ctx, p.TaskID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load task: %w", err)
	}
	if task == nil || !task.Open() {
		return outbox.Skipped("task no longer open"), nil
	}
	if e.teamNotifyPhone == "" {
		return outbox.ProcessedWithError(outbox.DetailNotConfigured), nil
	}

	lead, err := e.leads.FindByID(ctx, task.LeadID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load lead: %w", err)
	}
	name := "unknown lead"
	if lead != nil {
		name = lead.DisplayName()
	}

	body, err := e.policies.Templates.Render("task.reminder", map[string]string{
		"title": task.Title,
		"name":  name,
		"due":   task.DueAt.Format("Jan 2 3:04 PM"),
	})
	if err != nil {
		return outbox.ProcessedWithError(err.Error()), nil
	}

	result, err := e.messenger.SendSMS(ctx, channel.Message{To: e.teamNotifyPhone, Body: body})
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("send task reminder: %w", err)
	}
	if !result.OK {
		return outbox.ProcessedWithError(result.Detail), nil
	}
	return outbox.Processed(), nil
}

// HandleLeadAlert nudges the team about a new lead. The sent-to set lives
// in the audit log so a replay with the same recipient list sends to each
// recipient at most once.
func (e *Escalation) HandleLeadAlert(ctx context.Context, p outbox.LeadAlertPayload) (outbox.Outcome, error) {
	lead, err := e.leads.FindByID(ctx, p.LeadID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load lead: %w", err)
	}
	if lead == nil {
		return outbox.Skipped("lead not found"), nil
	}

	sentTo := map[string]bool{}
	if last, err := e.auditLog.Last(ctx, audit.ActionLeadAlertSent, "lead", lead.ID); err != nil {
		return outbox.Outcome{}, fmt.Errorf("load alert history: %w", err)
	} else if last != nil {
		var meta struct {
			SentTo []string `json:"sentTo"`
		}
		if err := json.Unmarshal(last.Meta, &meta); err == nil {
			for _, addr := range meta.SentTo {
				sentTo[addr] = true
			}
		}
	}

	body, err := e.policies.Templates.Render("lead.alert", map[string]string{
		"name":   lead.DisplayName(),
		"source": string(lead.Source),
		"sla":    e.policies.SpeedToLeadSLA.String(),
	})
	if err != nil {
		return outbox.ProcessedWithError(err.Error()), nil
	}

	var delivered []string
	for _, addr := range p.Recipients {
		if addr == "" || sentTo[addr] {
			continue
		}
		result, err := e.messenger.SendSMS(ctx, channel.Message{To: addr, Body: body})
		if err != nil || !result.OK {
			e.logger.Warn("lead_alert_send_failed",
				zap.Error(err),
				zap.Int64("lead_id", lead.ID),
				zap.String("to", addr),
			)
			continue
		}
		sentTo[addr] = true
		delivered = append(delivered, addr)
	}

	if len(delivered) > 0 {
		all := make([]string, 0, len(sentTo))
		for addr := range sentTo {
			all = append(all, addr)
		}
		e.auditLog.Record(ctx, audit.ActorSystem, audit.ActionLeadAlertSent, "lead", lead.ID, map[string][]string{
			"sentTo": all,
		})
	}
	return outbox.Processed(), nil
}
