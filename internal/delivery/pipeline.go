// Package delivery turns a queued conversation message into a provider
// send. It applies quiet-hours deferral and the DM channel's humanized
// pacing before anything touches the wire.
package delivery

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
	"github.com/doorstephq/doorstep-cloud/internal/providerhealth"
)

const (
	minHumanDelay = 10 * time.Second
	maxHumanDelay = 30 * time.Second
)

// Pipeline executes the message-send algorithm for one queued message.
type Pipeline struct {
	messages  conversation.MessageRepository
	threads   conversation.ThreadRepository
	leads     crm.LeadRepository
	messenger channel.Messenger
	policies  *policy.Provider
	auditLog  *audit.Log
	health    *providerhealth.Tracker
	logger    *zap.Logger

	now      func() time.Time
	humanize func() time.Duration
}

func NewPipeline(
	messages conversation.MessageRepository,
	threads conversation.ThreadRepository,
	leads crm.LeadRepository,
	messenger channel.Messenger,
	policies *policy.Provider,
	auditLog *audit.Log,
	health *providerhealth.Tracker,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		messages:  messages,
		threads:   threads,
		leads:     leads,
		messenger: messenger,
		policies:  policies,
		auditLog:  auditLog,
		health:    health,
		logger:    logger.Named("delivery"),
		now:       func() time.Time { return time.Now().UTC() },
		humanize: func() time.Duration {
			return minHumanDelay + time.Duration(rand.Int63n(int64(maxHumanDelay-minHumanDelay)))
		},
	}
}

// Deliver runs one pass over a queued message. attempts is the event's
// failure count so far; the hard ceiling demotes retryable failures to
// terminal once reached.
func (p *Pipeline) Deliver(ctx context.Context, messageID int64, attempts int) (outbox.Outcome, error) {
	msg, err := p.messages.FindByID(ctx, messageID)
	if err != nil {
		return outbox.Outcome{}, fmt.Errorf("load message: %w", err)
	}
	if msg == nil {
		return outbox.Skipped("message not found"), nil
	}
	if msg.Status == conversation.StatusSent {
		return outbox.Skipped("already sent"), nil
	}
	if msg.Status == conversation.StatusFailed {
		return outbox.Skipped("already failed"), nil
	}
	if msg.Direction != conversation.Outbound {
		return outbox.Skipped("not an outbound message"), nil
	}

	ch := channel.Channel(msg.Channel)

	to, err := p.resolveRecipient(ctx, msg, ch)
	if err != nil {
		return outbox.Outcome{}, err
	}
	if to == "" {
		// Missing recipient never heals with time.
		return p.fail(ctx, msg, outbox.DetailMissingRecipient), nil
	}
	msg.ToAddress = to

	if msg.Automated() && msg.Meta(conversation.MetaQuietExempt) != "true" {
		if end, gated := p.policies.Quiet.EndFor(ch, p.now()); gated {
			return outbox.DeferUntil(end, "quiet_hours"), nil
		}
	}

	if ch == channel.DM && msg.Automated() && msg.Meta(conversation.MetaTypingStamp) == "" {
		return p.startHumanizedPacing(ctx, msg)
	}

	result, sendErr := p.send(ctx, ch, msg)
	if sendErr != nil {
		return p.classify(ctx, msg, attempts, sendErr.Error()), nil
	}
	if !result.OK {
		detail := result.Detail
		if detail == "" {
			detail = "provider rejected send"
		}
		return p.classify(ctx, msg, attempts, detail), nil
	}

	return p.succeed(ctx, ch, msg, result), nil
}

// resolveRecipient resolves the destination address: the message's own
// address, then the lead's channel-appropriate address, then (DM only) the
// most recent inbound participant on the thread.
func (p *Pipeline) resolveRecipient(ctx context.Context, msg *conversation.Message, ch channel.Channel) (string, error) {
	if msg.ToAddress != "" {
		return msg.ToAddress, nil
	}

	lead, err := p.leads.FindByID(ctx, msg.LeadID)
	if err != nil {
		return "", fmt.Errorf("load lead: %w", err)
	}
	if lead != nil {
		if addr := lead.ContactAddress(string(ch)); addr != "" {
			return addr, nil
		}
	}

	if ch == channel.DM {
		thread, err := p.threads.FindByLeadAndChannel(ctx, msg.LeadID, string(ch))
		if err != nil {
			return "", fmt.Errorf("load thread: %w", err)
		}
		if thread != nil && thread.ParticipantAddress != "" {
			return thread.ParticipantAddress, nil
		}
	}

	return "", nil
}

// startHumanizedPacing signals typing, stamps the message so the resumed
// pass skips this step, and defers the send by a human-looking delay.
func (p *Pipeline) startHumanizedPacing(ctx context.Context, msg *conversation.Message) (outbox.Outcome, error) {
	if err := p.messenger.SendDMTyping(ctx, msg.ToAddress, true); err != nil {
		// Typing is cosmetic; a failed indicator never blocks the send.
		p.logger.Warn("dm_typing_on_failed", zap.Error(err), zap.Int64("message_id", msg.ID))
	}

	delay := p.humanize()
	if raw := msg.Meta(conversation.MetaHumanDelayMS); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			delay = time.Duration(ms) * time.Millisecond
		}
	}

	now := p.now()
	msg.SetMeta(conversation.MetaTypingStamp, now.Format(time.RFC3339))
	if err := p.messages.Save(ctx, msg); err != nil {
		return outbox.Outcome{}, fmt.Errorf("stamp humanized delay: %w", err)
	}

	return outbox.DeferUntil(now.Add(delay), "humanized_delay"), nil
}

func (p *Pipeline) send(ctx context.Context, ch channel.Channel, msg *conversation.Message) (channel.SendResult, error) {
	out := channel.Message{To: msg.ToAddress, Body: msg.Body, Meta: msg.Metadata}
	switch ch {
	case channel.SMS:
		return p.messenger.SendSMS(ctx, out)
	case channel.Email:
		return p.messenger.SendEmail(ctx, out)
	case channel.DM:
		return p.messenger.SendDM(ctx, out)
	default:
		return channel.SendResult{Detail: outbox.DetailUnsupportedChannel}, nil
	}
}

func (p *Pipeline) succeed(ctx context.Context, ch channel.Channel, msg *conversation.Message, result channel.SendResult) outbox.Outcome {
	msg.MarkSent()
	if err := p.messages.Save(ctx, msg); err != nil {
		p.logger.Error("mark_sent_failed", zap.Error(err), zap.Int64("message_id", msg.ID))
	}

	if ch == channel.DM && msg.Meta(conversation.MetaTypingStamp) != "" {
		if err := p.messenger.SendDMTyping(ctx, msg.ToAddress, false); err != nil {
			p.logger.Warn("dm_typing_off_failed", zap.Error(err), zap.Int64("message_id", msg.ID))
		}
	}

	p.auditLog.Record(ctx, audit.ActorSystem, audit.ActionMessageSent, "message", msg.ID, map[string]string{
		"channel":  string(ch),
		"provider": result.Provider,
	})
	if ch == channel.SMS || ch == channel.Email {
		p.health.RecordSuccess(ctx, string(ch))
	}

	return outbox.Processed()
}

// classify decides retry vs terminal for a failed send.
func (p *Pipeline) classify(ctx context.Context, msg *conversation.Message, attempts int, detail string) outbox.Outcome {
	if outbox.Retryable(detail) && attempts+1 < outbox.MaxSendAttempts {
		// The record stays queued; the event carries the retry.
		return outbox.Retry(detail)
	}
	return p.fail(ctx, msg, detail)
}

func (p *Pipeline) fail(ctx context.Context, msg *conversation.Message, detail string) outbox.Outcome {
	msg.MarkFailed()
	if err := p.messages.Save(ctx, msg); err != nil {
		p.logger.Error("mark_failed_failed", zap.Error(err), zap.Int64("message_id", msg.ID))
	}

	p.auditLog.Record(ctx, audit.ActorSystem, audit.ActionMessageFailed, "message", msg.ID, map[string]string{
		"channel": msg.Channel,
		"detail":  detail,
	})
	p.health.RecordFailure(ctx, msg.Channel, detail)

	return outbox.ProcessedWithError(detail)
}
