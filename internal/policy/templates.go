package policy

import (
	"fmt"
	"strings"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
)

// Templates renders outbound message bodies. Placeholders use {name} syntax
// so operators can edit copy without touching format verbs.
type Templates struct {
	followup map[channel.Channel][]string
	named    map[string]string
}

// DefaultTemplates returns the built-in copy set.
func DefaultTemplates() *Templates {
	return &Templates{
		followup: map[channel.Channel][]string{
			channel.SMS: {
				"Hi {name}, just checking in on your estimate from Doorstep. Any questions we can answer?",
				"Hi {name}, we still have openings this week if you'd like to get your project scheduled.",
				"Hi {name}, following up one more time on your estimate. Happy to adjust the quote if anything changed.",
				"Hi {name}, last note from us - reply anytime and we'll pick things right back up.",
			},
			channel.Email: {
				"Hi {name},\n\nJust checking in on the estimate we sent over. Let us know if you have any questions.\n\n- The Doorstep Team",
				"Hi {name},\n\nWe still have availability this week if you'd like to get scheduled.\n\n- The Doorstep Team",
				"Hi {name},\n\nFollowing up one more time on your estimate. Happy to revisit the details if anything changed.\n\n- The Doorstep Team",
				"Hi {name},\n\nThis is our last note - reply anytime and we'll pick things right back up.\n\n- The Doorstep Team",
			},
		},
		named: map[string]string{
			"appointment.confirmation": "Hi {name}, your {service} appointment is confirmed for {start}. Need to change it? Use this link: {reschedule_url}",
			"appointment.reminder":     "Hi {name}, a reminder about your {service} appointment on {start}. Reply here or use {reschedule_url} to make changes.",
			"task.reminder":            "Reminder: \"{title}\" for {name} is due {due}.",
			"lead.alert":               "New lead: {name} ({source}). First contact is due within {sla}.",
		},
	}
}

// Followup returns the body for a drip step on a channel, false when the
// channel or step has no copy configured.
func (t *Templates) Followup(ch channel.Channel, step int, vars map[string]string) (string, bool) {
	steps, ok := t.followup[ch]
	if !ok || step < 0 || step >= len(steps) {
		return "", false
	}
	return render(steps[step], vars), true
}

// Render renders a named template, erroring on unknown names so misconfigured
// handlers fail loudly instead of sending empty copy.
func (t *Templates) Render(name string, vars map[string]string) (string, error) {
	body, ok := t.named[name]
	if !ok {
		return "", fmt.Errorf("unknown template %q", name)
	}
	return render(body, vars), nil
}

func render(body string, vars map[string]string) string {
	for key, value := range vars {
		body = strings.ReplaceAll(body, "{"+key+"}", value)
	}
	return body
}
