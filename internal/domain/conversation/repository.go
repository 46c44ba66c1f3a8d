package conversation

import (
	"context"
	"time"
)

// ThreadRepository persists conversation threads.
type ThreadRepository interface {
	// FindByLeadAndChannel retrieves a thread, returning (nil, nil) when absent.
	FindByLeadAndChannel(ctx context.Context, leadID int64, ch string) (*Thread, error)

	Save(ctx context.Context, thread *Thread) error
}

// MessageRepository persists conversation messages.
type MessageRepository interface {
	FindByID(ctx context.Context, id int64) (*Message, error)

	Save(ctx context.Context, msg *Message) error

	// CountInboundSince counts inbound messages for a lead received after
	// the given instant; used as a human-engagement signal.
	CountInboundSince(ctx context.Context, leadID int64, since time.Time) (int, error)

	// CountManualOutboundSince counts outbound messages without the
	// automated metadata flag sent to the lead after the given instant,
	// i.e. messages a human operator wrote.
	CountManualOutboundSince(ctx context.Context, leadID int64, since time.Time) (int, error)
}

// AutomationRepository persists per lead+channel automation state.
type AutomationRepository interface {
	// Find retrieves state, returning (nil, nil) when absent.
	Find(ctx context.Context, leadID int64, ch string) (*AutomationState, error)

	// Upsert creates or replaces the state row for (lead, channel).
	Upsert(ctx context.Context, state *AutomationState) error

	// StopAllForLead marks every channel's sequence stopped for the lead.
	StopAllForLead(ctx context.Context, leadID int64) error
}
