// Package messaging binds the relay client to the domain messenger and
// dialer ports.
package messaging

import (
	"context"
	"strconv"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/pkg/relayclient"
)

// Port is the relay-backed side of the messenger and dialer ports.
type Port interface {
	channel.Messenger
	channel.Dialer
}

// NewPort selects the live adapter, or the not-configured fallback when the
// deployment has no relay account.
func NewPort(client *relayclient.Client) Port {
	if !client.Configured() {
		return NotConfigured{}
	}
	return NewAdapter(client)
}

type Adapter struct {
	client *relayclient.Client
}

func NewAdapter(client *relayclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) SendSMS(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	if res, blocked := a.channelBlocked(ctx, channel.SMS); blocked {
		return res, nil
	}
	resp, err := a.client.SendSMS(ctx, msg.To, msg.Body, msg.Meta)
	return a.toResult(resp, err)
}

func (a *Adapter) SendEmail(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	if res, blocked := a.channelBlocked(ctx, channel.Email); blocked {
		return res, nil
	}
	resp, err := a.client.SendEmail(ctx, msg.To, msg.Body, msg.Meta)
	return a.toResult(resp, err)
}

func (a *Adapter) SendDM(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	if res, blocked := a.channelBlocked(ctx, channel.DM); blocked {
		return res, nil
	}
	resp, err := a.client.SendDM(ctx, msg.To, msg.Body, msg.Meta)
	return a.toResult(resp, err)
}

func (a *Adapter) SendDMTyping(ctx context.Context, to string, on bool) error {
	return a.client.SetTyping(ctx, to, on)
}

func (a *Adapter) PlaceCall(ctx context.Context, to string, meta map[string]string) (channel.SendResult, error) {
	if res, blocked := a.channelBlocked(ctx, channel.Voice); blocked {
		return res, nil
	}
	resp, err := a.client.PlaceCall(ctx, to, meta)
	if err != nil {
		return channel.SendResult{Detail: detailOf(err)}, nil
	}
	return channel.SendResult{OK: true, Provider: resp.Provider, Detail: resp.Status}, nil
}

// channelBlocked fails a send terminally when the relay account does not
// carry the channel, so the event is not burned through retries. A failed
// channel lookup is advisory only; the send proceeds and the relay enforces.
func (a *Adapter) channelBlocked(ctx context.Context, ch channel.Channel) (channel.SendResult, bool) {
	statuses, err := a.client.ListChannels(ctx)
	if err != nil {
		return channel.SendResult{}, false
	}
	for _, s := range statuses {
		if s.Channel == string(ch) {
			if s.Enabled {
				return channel.SendResult{}, false
			}
			return channel.SendResult{Detail: outbox.DetailUnsupportedChannel}, true
		}
	}
	return channel.SendResult{Detail: outbox.DetailUnsupportedChannel}, true
}

// toResult flattens a relay response or error into the domain result. HTTP
// statuses become the failure detail so the retry policy can classify 4xx
// as terminal.
func (a *Adapter) toResult(resp *relayclient.SendMessageResponse, err error) (channel.SendResult, error) {
	if err != nil {
		return channel.SendResult{Detail: detailOf(err)}, nil
	}
	return channel.SendResult{OK: true, Provider: resp.Provider, Detail: resp.Detail}, nil
}

func detailOf(err error) string {
	if status := relayclient.StatusOf(err); status != 0 {
		return strconv.Itoa(status)
	}
	return err.Error()
}

// NotConfigured is a messenger for deployments without a relay account:
// every send fails terminally with the not-configured marker.
type NotConfigured struct{}

func (NotConfigured) SendSMS(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	return channel.SendResult{Detail: outbox.DetailNotConfigured}, nil
}

func (NotConfigured) SendEmail(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	return channel.SendResult{Detail: outbox.DetailNotConfigured}, nil
}

func (NotConfigured) SendDM(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	return channel.SendResult{Detail: outbox.DetailNotConfigured}, nil
}

func (NotConfigured) SendDMTyping(ctx context.Context, to string, on bool) error {
	return nil
}

func (NotConfigured) PlaceCall(ctx context.Context, to string, meta map[string]string) (channel.SendResult, error) {
	return channel.SendResult{Detail: outbox.DetailNotConfigured}, nil
}
