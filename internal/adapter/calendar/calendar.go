// Package calendar binds the calendar client to the domain calendar port.
package calendar

import (
	"context"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/pkg/calclient"
)

type Adapter struct {
	client *calclient.Client
}

func NewAdapter(client *calclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) CreateEvent(ctx context.Context, ev channel.CalendarEvent) (string, error) {
	return a.client.CreateEvent(ctx, toClientEvent(ev))
}

func (a *Adapter) UpdateEvent(ctx context.Context, ev channel.CalendarEvent) error {
	return a.client.UpdateEvent(ctx, toClientEvent(ev))
}

func toClientEvent(ev channel.CalendarEvent) calclient.Event {
	return calclient.Event{
		ID:          ev.ExternalID,
		Title:       ev.Title,
		Description: ev.Description,
		StartAt:     ev.StartAt,
		EndAt:       ev.EndAt,
		Attendees:   ev.Attendees,
	}
}
