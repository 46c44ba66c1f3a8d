// Package policy exposes the business policy read models: operating hours,
// quiet hours, follow-up cadence, reminder windows, message templates. The
// rest of the processor consumes these as read-only typed providers.
package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/doorstephq/doorstep-cloud/internal/config"
	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
)

// Window is a daily local-time window, possibly spanning midnight.
type Window struct {
	Start    ClockTime
	End      ClockTime
	Location *time.Location
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

func parseClock(s string) (ClockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// onDay anchors the clock time on the calendar day of ref.
func (c ClockTime) onDay(ref time.Time, loc *time.Location) time.Time {
	local := ref.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// Contains reports whether t falls inside the window. Windows where the end
// precedes the start span midnight (e.g. 21:00–08:00).
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.Location)
	start := w.Start.onDay(local, w.Location)
	end := w.End.onDay(local, w.Location)

	if !end.After(start) {
		// Overnight span: inside when after today's start or before today's end.
		return !local.Before(start) || local.Before(end)
	}
	return !local.Before(start) && local.Before(end)
}

// EndAfter returns the next window end at or after t, in UTC. Callers use
// this as the resume time for deferred sends.
func (w Window) EndAfter(t time.Time) time.Time {
	local := t.In(w.Location)
	end := w.End.onDay(local, w.Location)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end.UTC()
}

// NextStartAfter returns the next window start at or after t, in UTC.
func (w Window) NextStartAfter(t time.Time) time.Time {
	local := t.In(w.Location)
	start := w.Start.onDay(local, w.Location)
	if !start.After(local) {
		start = start.AddDate(0, 0, 1)
	}
	return start.UTC()
}

// QuietHours gates automated sends per channel.
type QuietHours struct {
	window   Window
	channels map[channel.Channel]bool
}

// Applies reports whether quiet hours gate the given channel.
func (q QuietHours) Applies(ch channel.Channel) bool {
	return q.channels[ch]
}

// EndFor returns (end, true) when quiet hours are in effect for the channel
// at t; the returned end is the UTC instant the window closes.
func (q QuietHours) EndFor(ch channel.Channel, t time.Time) (time.Time, bool) {
	if !q.Applies(ch) || !q.window.Contains(t) {
		return time.Time{}, false
	}
	return q.window.EndAfter(t), true
}

// FollowupCadence is the drip-sequence schedule.
type FollowupCadence struct {
	// StepOffsets are minutes from the triggering instant, one per step.
	StepOffsets []int
	// Channels is the preferred channel order for the sequence.
	Channels []channel.Channel
}

// Steps returns the number of configured steps.
func (c FollowupCadence) Steps() int { return len(c.StepOffsets) }

// DueAt computes the fire time for a step anchored at the trigger instant.
func (c FollowupCadence) DueAt(anchor time.Time, step int) time.Time {
	return anchor.Add(time.Duration(c.StepOffsets[step]) * time.Minute)
}

// Provider is the read-only policy surface handed to the processor.
type Provider struct {
	BusinessHours Window
	SalesHours    Window
	Quiet         QuietHours
	Cadence       FollowupCadence

	// ReminderWindows are minutes before appointment start.
	ReminderWindows   []int
	SpeedToLeadSLA    time.Duration
	EscalationEnabled bool

	// DraftOnly channels let automation draft copy for operator review but
	// never send; the drip scheduler skips them.
	DraftOnly map[channel.Channel]bool

	Templates *Templates
}

// NewProvider builds the policy provider from application config.
func NewProvider(cfg *config.Config) (*Provider, error) {
	loc, err := time.LoadLocation(cfg.BusinessTimezone)
	if err != nil {
		return nil, fmt.Errorf("load business timezone: %w", err)
	}

	business, err := parseWindow(cfg.BusinessHoursStart, cfg.BusinessHoursEnd, loc)
	if err != nil {
		return nil, fmt.Errorf("business hours: %w", err)
	}
	sales, err := parseWindow(cfg.SalesHoursStart, cfg.SalesHoursEnd, loc)
	if err != nil {
		return nil, fmt.Errorf("sales hours: %w", err)
	}
	quietWindow, err := parseWindow(cfg.QuietHoursStart, cfg.QuietHoursEnd, loc)
	if err != nil {
		return nil, fmt.Errorf("quiet hours: %w", err)
	}

	quietChannels := map[channel.Channel]bool{}
	for _, raw := range strings.Split(cfg.QuietHoursChannels, ",") {
		if ch := channel.Channel(strings.TrimSpace(raw)); ch != "" {
			quietChannels[ch] = true
		}
	}

	offsets, err := parseIntList(cfg.FollowupStepsMinutes)
	if err != nil {
		return nil, fmt.Errorf("followup steps: %w", err)
	}
	windows, err := parseIntList(cfg.ReminderWindows)
	if err != nil {
		return nil, fmt.Errorf("reminder windows: %w", err)
	}

	var followupChannels []channel.Channel
	for _, raw := range strings.Split(cfg.FollowupChannels, ",") {
		if ch := channel.Channel(strings.TrimSpace(raw)); ch != "" {
			followupChannels = append(followupChannels, ch)
		}
	}

	draftOnly := map[channel.Channel]bool{}
	for _, raw := range strings.Split(cfg.DraftOnlyChannels, ",") {
		if ch := channel.Channel(strings.TrimSpace(raw)); ch != "" {
			draftOnly[ch] = true
		}
	}

	return &Provider{
		BusinessHours: business,
		SalesHours:    sales,
		Quiet:         QuietHours{window: quietWindow, channels: quietChannels},
		Cadence: FollowupCadence{
			StepOffsets: offsets,
			Channels:    followupChannels,
		},
		ReminderWindows:   windows,
		SpeedToLeadSLA:    time.Duration(cfg.SpeedToLeadSLA) * time.Minute,
		EscalationEnabled: cfg.EscalationEnabled,
		DraftOnly:         draftOnly,
		Templates:         DefaultTemplates(),
	}, nil
}

func parseWindow(start, end string, loc *time.Location) (Window, error) {
	s, err := parseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e, Location: loc}, nil
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
