package outbox

import (
	"context"
	"time"
)

// Store is the persistence boundary of the outbox. The postgres adapter
// implements claiming with FOR UPDATE SKIP LOCKED plus a locked_at marker so
// a second dispatcher instance cannot double-process a row.
type Store interface {
	// Append inserts a new pending event.
	Append(ctx context.Context, ev *Event) error

	// ClaimDue atomically claims up to limit pending events that are due at
	// now, oldest first, and returns them. Claimed rows carry locked_at and
	// are invisible to other claimers until released or stale.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Event, error)

	// MarkProcessed finalizes an event: sets processed_at, clears the claim
	// and any next_attempt_at, and records lastError (soft failures keep
	// their detail while still counting as processed).
	MarkProcessed(ctx context.Context, id int64, lastError string) error

	// MarkRetry releases the claim and requeues the event: attempts is the
	// new post-increment count, nextAttemptAt the earliest re-eligibility.
	MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error

	// MarkDeferred releases the claim and requeues without touching
	// attempts; used for business-time deferrals (quiet hours, pacing).
	MarkDeferred(ctx context.Context, id int64, nextAttemptAt time.Time) error

	// ReleaseStaleClaims requeues events claimed before the given cutoff,
	// recovering work abandoned by a crashed dispatcher.
	ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error)

	// DeletePendingByLead removes not-yet-processed events of one type whose
	// payload references the lead. Cancellation is deletion, not flagging,
	// so a stale send cannot race its own cancellation.
	DeletePendingByLead(ctx context.Context, t EventType, leadID int64) (int64, error)

	// DeletePendingByAppointment removes not-yet-processed events of one
	// type whose payload references the appointment.
	DeletePendingByAppointment(ctx context.Context, t EventType, appointmentID int64) (int64, error)

	// HasPendingReminder reports whether a pending reminder already exists
	// for the appointment and window (schedule dedupe).
	HasPendingReminder(ctx context.Context, appointmentID int64, windowMinutes int) (bool, error)

	// PendingCount returns the current queue depth.
	PendingCount(ctx context.Context) (int64, error)
}
