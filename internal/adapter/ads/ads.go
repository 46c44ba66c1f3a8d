// Package ads binds the conversions client to the domain ads-sink port.
package ads

import (
	"context"
	"fmt"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/pkg/adsclient"
)

type Adapter struct {
	client *adsclient.Client
}

func NewAdapter(client *adsclient.Client) *Adapter {
	return &Adapter{client: client}
}

func (a *Adapter) SendLeadEvent(ctx context.Context, ev channel.LeadEvent) error {
	// lead+event name is the dedupe key, so replaying the same outbox
	// event cannot double-count a conversion.
	eventID := fmt.Sprintf("%d:%s", ev.LeadID, ev.EventName)
	return a.client.SendConversion(ctx, ev.EventName, eventID, ev.Email, ev.Phone, ev.EventTime)
}
