package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
)

// Outbound queues a conversation message and the message.send event that
// will deliver it. Every scheduler funnels sends through here so the
// delivery pipeline is the only code path that touches providers.
type Outbound struct {
	threads  conversation.ThreadRepository
	messages conversation.MessageRepository
	store    outbox.Store
}

func NewOutbound(threads conversation.ThreadRepository, messages conversation.MessageRepository, store outbox.Store) *Outbound {
	return &Outbound{threads: threads, messages: messages, store: store}
}

// Queue creates the queued message on the lead's thread (creating the
// thread on first contact per channel) and appends its delivery event.
func (o *Outbound) Queue(ctx context.Context, leadID int64, ch, to, body string, meta map[string]string) (*conversation.Message, error) {
	thread, err := o.threads.FindByLeadAndChannel(ctx, leadID, ch)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if thread == nil {
		now := time.Now().UTC()
		thread = &conversation.Thread{
			LeadID:    leadID,
			Channel:   ch,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.threads.Save(ctx, thread); err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
	}

	msg := conversation.NewOutbound(thread.ID, leadID, ch, to, body, meta)
	if err := o.messages.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}

	ev, err := outbox.NewEvent(outbox.TypeMessageSend, outbox.MessageSendPayload{MessageID: msg.ID})
	if err != nil {
		return nil, err
	}
	if err := o.store.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("append send event: %w", err)
	}
	return msg, nil
}
