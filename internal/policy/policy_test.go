package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
)

func mustWindow(t *testing.T, start, end string) Window {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	w, err := parseWindow(start, end, loc)
	require.NoError(t, err)
	return w
}

// local builds an instant on a fixed summer day in the window's location.
func local(t *testing.T, w Window, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2026, 7, 14, hour, minute, 0, 0, w.Location)
}

func TestWindowContainsDaytime(t *testing.T) {
	w := mustWindow(t, "08:00", "18:00")

	assert.False(t, w.Contains(local(t, w, 7, 59)))
	assert.True(t, w.Contains(local(t, w, 8, 0)))
	assert.True(t, w.Contains(local(t, w, 12, 30)))
	assert.False(t, w.Contains(local(t, w, 18, 0)), "window end is exclusive")
	assert.False(t, w.Contains(local(t, w, 23, 0)))
}

func TestWindowContainsOvernight(t *testing.T) {
	w := mustWindow(t, "21:00", "08:00")

	assert.True(t, w.Contains(local(t, w, 21, 0)))
	assert.True(t, w.Contains(local(t, w, 23, 59)))
	assert.True(t, w.Contains(local(t, w, 2, 0)))
	assert.True(t, w.Contains(local(t, w, 7, 59)))
	assert.False(t, w.Contains(local(t, w, 8, 0)))
	assert.False(t, w.Contains(local(t, w, 12, 0)))
	assert.False(t, w.Contains(local(t, w, 20, 59)))
}

func TestWindowContainsConvertsZones(t *testing.T) {
	w := mustWindow(t, "21:00", "08:00")

	// 03:00 UTC is 22:00 the previous evening in Chicago during DST.
	utc := time.Date(2026, 7, 15, 3, 0, 0, 0, time.UTC)
	assert.True(t, w.Contains(utc))
}

func TestWindowEndAfterOvernight(t *testing.T) {
	w := mustWindow(t, "21:00", "08:00")

	// Late evening: the window ends tomorrow morning.
	evening := local(t, w, 22, 0)
	end := w.EndAfter(evening)
	assert.Equal(t, local(t, w, 8, 0).AddDate(0, 0, 1).UTC(), end)

	// Early morning: the window ends this morning.
	morning := local(t, w, 6, 0)
	end = w.EndAfter(morning)
	assert.Equal(t, local(t, w, 8, 0).UTC(), end)
}

func TestWindowNextStartAfter(t *testing.T) {
	w := mustWindow(t, "09:00", "19:00")

	beforeOpen := local(t, w, 7, 0)
	assert.Equal(t, local(t, w, 9, 0).UTC(), w.NextStartAfter(beforeOpen))

	afterOpen := local(t, w, 10, 0)
	assert.Equal(t, local(t, w, 9, 0).AddDate(0, 0, 1).UTC(), w.NextStartAfter(afterOpen))
}

func TestQuietHoursEndFor(t *testing.T) {
	q := QuietHours{
		window:   mustWindow(t, "21:00", "08:00"),
		channels: map[channel.Channel]bool{channel.SMS: true, channel.DM: true},
	}

	night := local(t, q.window, 23, 0)
	end, gated := q.EndFor(channel.SMS, night)
	assert.True(t, gated)
	assert.Equal(t, local(t, q.window, 8, 0).AddDate(0, 0, 1).UTC(), end)

	// Email is exempt even inside the window.
	_, gated = q.EndFor(channel.Email, night)
	assert.False(t, gated)

	// Outside the window nothing is gated.
	noon := local(t, q.window, 12, 0)
	_, gated = q.EndFor(channel.SMS, noon)
	assert.False(t, gated)
}

func TestFollowupCadenceDueAt(t *testing.T) {
	cadence := FollowupCadence{StepOffsets: []int{10, 1440, 4320}}
	anchor := time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, cadence.Steps())
	assert.Equal(t, anchor.Add(10*time.Minute), cadence.DueAt(anchor, 0))
	assert.Equal(t, anchor.Add(24*time.Hour), cadence.DueAt(anchor, 1))
	assert.Equal(t, anchor.Add(72*time.Hour), cadence.DueAt(anchor, 2))
}

func TestParseClockRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "8", "25:00", "08:61", "ab:cd"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}

	c, err := parseClock(" 08:30 ")
	require.NoError(t, err)
	assert.Equal(t, ClockTime{Hour: 8, Minute: 30}, c)
}

func TestParseIntList(t *testing.T) {
	out, err := parseIntList("1440, 120")
	require.NoError(t, err)
	assert.Equal(t, []int{1440, 120}, out)

	out, err = parseIntList("")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = parseIntList("10,oops")
	assert.Error(t, err)
}
