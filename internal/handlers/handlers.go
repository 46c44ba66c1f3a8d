// Package handlers binds the closed set of outbox event types to the
// components that execute them.
package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/delivery"
	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/notify"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/pipeline"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
	"github.com/doorstephq/doorstep-cloud/internal/scheduler"
)

// Set carries every component a handler needs. It exists so fx can build
// the registry in one place.
type Set struct {
	Delivery     *delivery.Pipeline
	Followups    *scheduler.Followups
	Reminders    *scheduler.Reminders
	Escalation   *scheduler.Escalation
	Builder      *notify.Builder
	Stages       *pipeline.Engine
	Outbound     *scheduler.Outbound
	Appointments crm.AppointmentRepository
	Calendar     channel.Calendar
	Ads          channel.AdsSink
	Leads        crm.LeadRepository
	Policies     *policy.Provider
	AuditLog     *audit.Log
	Logger       *zap.Logger
}

func NewSet(
	deliveryPipeline *delivery.Pipeline,
	followups *scheduler.Followups,
	reminders *scheduler.Reminders,
	escalation *scheduler.Escalation,
	builder *notify.Builder,
	stages *pipeline.Engine,
	outbound *scheduler.Outbound,
	appointments crm.AppointmentRepository,
	calendar channel.Calendar,
	ads channel.AdsSink,
	leads crm.LeadRepository,
	policies *policy.Provider,
	auditLog *audit.Log,
	logger *zap.Logger,
) *Set {
	return &Set{
		Delivery:     deliveryPipeline,
		Followups:    followups,
		Reminders:    reminders,
		Escalation:   escalation,
		Builder:      builder,
		Stages:       stages,
		Outbound:     outbound,
		Appointments: appointments,
		Calendar:     calendar,
		Ads:          ads,
		Leads:        leads,
		Policies:     policies,
		AuditLog:     auditLog,
		Logger:       logger.Named("handlers"),
	}
}

// BuildRegistry wires the closed event-type map. Adding an event type
// without a handler here is a startup failure, not a runtime surprise.
func BuildRegistry(s *Set) (*outbox.Registry, error) {
	r := outbox.NewRegistry()

	bindings := []struct {
		t EventType
		h outbox.HandlerFunc
	}{
		{outbox.TypeEstimateRequested, s.handleEstimateRequested},
		{outbox.TypeMessageSend, s.handleMessageSend},
		{outbox.TypeFollowupSend, s.handleFollowupSend},
		{outbox.TypeEstimateReminder, s.handleEstimateReminder},
		{outbox.TypeEscalationCall, s.handleEscalationCall},
		{outbox.TypeTaskReminderSMS, s.handleTaskReminder},
		{outbox.TypeLeadAlert, s.handleLeadAlert},
		{outbox.TypeMetaLeadEvent, s.handleMetaLeadEvent},
		{outbox.TypeStageChanged, s.handleStageChanged},
	}
	for _, b := range bindings {
		if err := r.Register(b.t, b.h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// EventType aliases the outbox type for the binding table above.
type EventType = outbox.EventType

func (s *Set) handleMessageSend(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.MessageSendPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}
	return s.Delivery.Deliver(ctx, p.MessageID, ev.Attempts)
}

func (s *Set) handleFollowupSend(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.FollowupSendPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}
	return s.Followups.HandleStep(ctx, p)
}

func (s *Set) handleEstimateReminder(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.EstimateReminderPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}
	return s.Reminders.HandleReminder(ctx, p)
}

func (s *Set) handleEscalationCall(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.EscalationCallPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}
	return s.Escalation.HandleCall(ctx, p)
}

func (s *Set) handleTaskReminder(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.TaskReminderPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}
	return s.Escalation.HandleTaskReminder(ctx, p)
}

func (s *Set) handleLeadAlert(ctx context.Context, ev *outbox.Event) (outbox.Outcome, error) {
	p, err := outbox.Decode[outbox.LeadAlertPayload](ev)
	if err != nil {
		return outbox.Outcome{}, err
	}
	return s.Escalation.HandleLeadAlert(ctx, p)
}
