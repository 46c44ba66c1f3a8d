package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/notify"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
)

// Reminders schedules appointment reminder events and executes them when
// they fire.
type Reminders struct {
	appointments crm.AppointmentRepository
	builder      *notify.Builder
	outbound     *Outbound
	store        outbox.Store
	policies     *policy.Provider
	auditLog     *audit.Log
	logger       *zap.Logger

	now func() time.Time
}

func NewReminders(
	appointments crm.AppointmentRepository,
	builder *notify.Builder,
	outbound *Outbound,
	store outbox.Store,
	policies *policy.Provider,
	auditLog *audit.Log,
	logger *zap.Logger,
) *Reminders {
	return &Reminders{
		appointments: appointments,
		builder:      builder,
		outbound:     outbound,
		store:        store,
		policies:     policies,
		auditLog:     auditLog,
		logger:       logger.Named("scheduler.reminder"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Schedule creates one reminder event per configured window whose fire
// time is still in the future. A window with an equivalent pending
// reminder is skipped, so scheduling twice is harmless.
func (r *Reminders) Schedule(ctx context.Context, appointmentID int64) error {
	appt, err := r.appointments.FindByID(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}
	if appt == nil {
		return crm.ErrAppointmentNotFound
	}
	if !appt.Active() {
		return nil
	}

	for _, window := range r.policies.ReminderWindows {
		fireAt := appt.StartAt.Add(-time.Duration(window) * time.Minute)
		if !fireAt.After(r.now()) {
			continue
		}

		exists, err := r.store.HasPendingReminder(ctx, appt.ID, window)
		if err != nil {
			return fmt.Errorf("check pending reminder: %w", err)
		}
		if exists {
			continue
		}

		ev, err := outbox.NewEventAt(outbox.TypeEstimateReminder, outbox.EstimateReminderPayload{
			AppointmentID: appt.ID,
			WindowMinutes: window,
		}, &fireAt)
		if err != nil {
			return err
		}
		if err := r.store.Append(ctx, ev); err != nil {
			return fmt.Errorf("append reminder event: %w", err)
		}
	}
	return nil
}

// Reschedule clears every pending reminder for the appointment and
// recomputes them against its current start time.
func (r *Reminders) Reschedule(ctx context.Context, appointmentID int64) error {
	if _, err := r.store.DeletePendingByAppointment(ctx, outbox.TypeEstimateReminder, appointmentID); err != nil {
		return fmt.Errorf("clear pending reminders: %w", err)
	}
	return r.Schedule(ctx, appointmentID)
}

// HandleReminder executes one fired reminder. Firing against an
// appointment that is no longer happening is a no-op.
func (r *Reminders) HandleReminder(ctx context.Context, p outbox.EstimateReminderPayload) (outbox.Outcome, error) {
	appt, err := r.appointments.FindByID(ctx, p.AppointmentID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load appointment: %w", err)
	}
	if appt == nil {
		return outbox.Skipped("appointment not found"), nil
	}
	if !appt.Active() {
		return outbox.Skipped("appointment no longer active"), nil
	}

	payload, err := r.builder.ForAppointment(ctx, appt.ID, notify.Overrides{})
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("build reminder payload: %w", err)
	}

	body, err := r.policies.Templates.Render("appointment.reminder", map[string]string{
		"name":           payload.CustomerName,
		"service":        payload.Service,
		"start":          payload.StartAt.Format("Monday, Jan 2 at 3:04 PM"),
		"reschedule_url": payload.RescheduleURL,
	})
	if err != nil {
		return outbox.ProcessedWithError(err.Error()), nil
	}

	meta := map[string]string{conversation.MetaAutomated: "true"}
	if _, err := r.outbound.Queue(ctx, payload.LeadID, "sms", payload.Phone, body, meta); err != nil {
		return outbox.Outcome{}, fmt.Errorf("queue reminder message: %w", err)
	}

	r.auditLog.Record(ctx, audit.ActorSystem, audit.ActionReminderSent, "appointment", appt.ID, map[string]int{
		"windowMinutes": p.WindowMinutes,
	})
	return outbox.Processed(), nil
}
