package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/config"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
	"github.com/doorstephq/doorstep-cloud/pkg/testhelper"
)

func testPolicies(t *testing.T) *policy.Provider {
	t.Helper()
	p, err := policy.NewProvider(&config.Config{
		BusinessTimezone:     "UTC",
		BusinessHoursStart:   "08:00",
		BusinessHoursEnd:     "18:00",
		SalesHoursStart:      "09:00",
		SalesHoursEnd:        "19:00",
		QuietHoursStart:      "21:00",
		QuietHoursEnd:        "08:00",
		QuietHoursChannels:   "sms,dm",
		FollowupStepsMinutes: "10,1440,4320,10080",
		FollowupChannels:     "sms,email",
		DraftOnlyChannels:    "dm",
		ReminderWindows:      "1440,120",
		SpeedToLeadSLA:       5,
		EscalationEnabled:    true,
	})
	require.NoError(t, err)
	return p
}

type followupFixture struct {
	followups  *Followups
	leads      *testhelper.MemoryLeadRepo
	automation *testhelper.MemoryAutomationRepo
	threads    *testhelper.MemoryThreadRepo
	messages   *testhelper.MemoryMessageRepo
	store      *testhelper.MemoryOutboxStore
}

func newFollowupFixture(t *testing.T) *followupFixture {
	t.Helper()
	f := &followupFixture{
		leads:      testhelper.NewMemoryLeadRepo(),
		automation: testhelper.NewMemoryAutomationRepo(),
		threads:    testhelper.NewMemoryThreadRepo(),
		messages:   testhelper.NewMemoryMessageRepo(),
		store:      testhelper.NewMemoryOutboxStore(),
	}
	outbound := NewOutbound(f.threads, f.messages, f.store)
	f.followups = NewFollowups(f.leads, f.automation, outbound, f.store, testPolicies(t), zap.NewNop())
	return f
}

func (f *followupFixture) addLead(t *testing.T, phone string) *crm.Lead {
	t.Helper()
	lead := crm.NewLead("Dana", "Smith", "dana@example.com", phone, crm.SourceWebForm)
	require.NoError(t, f.leads.Save(context.Background(), lead))
	return lead
}

func TestScheduleCreatesOneEventPerStep(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")
	anchor := time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC)

	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, anchor))

	pending := f.store.PendingOfType(outbox.TypeFollowupSend)
	require.Len(t, pending, 4)

	// Steps fire at the configured offsets from the anchor.
	wantOffsets := []time.Duration{10 * time.Minute, 24 * time.Hour, 72 * time.Hour, 168 * time.Hour}
	for i, ev := range pending {
		require.NotNil(t, ev.NextAttemptAt)
		assert.Equal(t, anchor.Add(wantOffsets[i]), *ev.NextAttemptAt, "step %d", i)
	}

	state, err := f.automation.Find(context.Background(), lead.ID, "sms")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, conversation.FollowupRunning, state.FollowupState)
	assert.Equal(t, 0, state.FollowupStep)
}

func TestSchedulePrefersFirstEligibleChannel(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")

	// SMS is paused for this lead; the sequence falls through to email.
	require.NoError(t, f.automation.Upsert(context.Background(), &conversation.AutomationState{
		LeadID:  lead.ID,
		Channel: "sms",
		Paused:  true,
	}))

	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, time.Now().UTC()))

	state, err := f.automation.Find(context.Background(), lead.ID, "email")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, conversation.FollowupRunning, state.FollowupState)
}

func TestScheduleNoEligibleChannelIsNoop(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")

	for _, ch := range []string{"sms", "email"} {
		require.NoError(t, f.automation.Upsert(context.Background(), &conversation.AutomationState{
			LeadID:       lead.ID,
			Channel:      ch,
			DoNotContact: true,
		}))
	}

	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, time.Now().UTC()))
	assert.Empty(t, f.store.PendingOfType(outbox.TypeFollowupSend))
}

func TestCancelDeletesPendingAndStopsSequence(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")
	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, time.Now().UTC()))
	require.Len(t, f.store.PendingOfType(outbox.TypeFollowupSend), 4)

	require.NoError(t, f.followups.Cancel(context.Background(), lead.ID))

	assert.Empty(t, f.store.PendingOfType(outbox.TypeFollowupSend))
	state, err := f.automation.Find(context.Background(), lead.ID, "sms")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, conversation.FollowupStopped, state.FollowupState)
	assert.Nil(t, state.NextFollowupAt)
}

func TestHandleStepQueuesMessageAndAdvances(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")
	anchor := time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, anchor))

	outcome, err := f.followups.HandleStep(context.Background(), outbox.FollowupSendPayload{
		LeadID:   lead.ID,
		Channel:  "sms",
		Step:     0,
		AnchorAt: anchor,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)

	// The step queued a message plus its delivery event.
	sends := f.store.PendingOfType(outbox.TypeMessageSend)
	require.Len(t, sends, 1)
	require.Len(t, f.messages.Messages, 1)
	for _, msg := range f.messages.Messages {
		assert.Equal(t, "+15550001111", msg.ToAddress)
		assert.Equal(t, "true", msg.Metadata[conversation.MetaAutomated])
		assert.Equal(t, "0", msg.Metadata[conversation.MetaFollowupStep])
		assert.Contains(t, msg.Body, "Dana")
	}

	state, err := f.automation.Find(context.Background(), lead.ID, "sms")
	require.NoError(t, err)
	assert.Equal(t, 1, state.FollowupStep)
	require.NotNil(t, state.NextFollowupAt)
	assert.Equal(t, anchor.Add(24*time.Hour), *state.NextFollowupAt)
}

func TestHandleStepLastStepCompletesSequence(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")
	anchor := time.Now().UTC()
	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, anchor))

	state, err := f.automation.Find(context.Background(), lead.ID, "sms")
	require.NoError(t, err)
	state.FollowupStep = 3
	require.NoError(t, f.automation.Upsert(context.Background(), state))

	outcome, err := f.followups.HandleStep(context.Background(), outbox.FollowupSendPayload{
		LeadID:   lead.ID,
		Channel:  "sms",
		Step:     3,
		AnchorAt: anchor,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)

	state, err = f.automation.Find(context.Background(), lead.ID, "sms")
	require.NoError(t, err)
	assert.Equal(t, conversation.FollowupCompleted, state.FollowupState)
	assert.Nil(t, state.NextFollowupAt)
}

func TestHandleStepSkipsWhenLeadConverted(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")
	anchor := time.Now().UTC()
	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, anchor))

	lead.Booked = true
	require.NoError(t, f.leads.Save(context.Background(), lead))

	outcome, err := f.followups.HandleStep(context.Background(), outbox.FollowupSendPayload{
		LeadID: lead.ID, Channel: "sms", Step: 0, AnchorAt: anchor,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
	assert.Empty(t, f.store.PendingOfType(outbox.TypeMessageSend))
}

func TestHandleStepSkipsWhenSequenceStopped(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")
	anchor := time.Now().UTC()
	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, anchor))
	require.NoError(t, f.automation.StopAllForLead(context.Background(), lead.ID))

	outcome, err := f.followups.HandleStep(context.Background(), outbox.FollowupSendPayload{
		LeadID: lead.ID, Channel: "sms", Step: 1, AnchorAt: anchor,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
}

func TestHandleStepSkipsOptedOutLead(t *testing.T) {
	f := newFollowupFixture(t)
	lead := f.addLead(t, "+15550001111")
	anchor := time.Now().UTC()
	require.NoError(t, f.followups.Schedule(context.Background(), lead.ID, anchor))

	lead.DoNotContact = true
	require.NoError(t, f.leads.Save(context.Background(), lead))

	outcome, err := f.followups.HandleStep(context.Background(), outbox.FollowupSendPayload{
		LeadID: lead.ID, Channel: "sms", Step: 0, AnchorAt: anchor,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
}

func TestOutboundQueueCreatesThreadOnFirstContact(t *testing.T) {
	f := newFollowupFixture(t)
	outbound := NewOutbound(f.threads, f.messages, f.store)

	msg, err := outbound.Queue(context.Background(), 42, "sms", "+15550009999", "hi", nil)
	require.NoError(t, err)
	require.NotZero(t, msg.ID)

	thread, err := f.threads.FindByLeadAndChannel(context.Background(), 42, "sms")
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, thread.ID, msg.ThreadID)

	// A second send on the same channel reuses the thread.
	msg2, err := outbound.Queue(context.Background(), 42, "sms", "+15550009999", "hi again", nil)
	require.NoError(t, err)
	assert.Equal(t, thread.ID, msg2.ThreadID)
	assert.Len(t, f.store.PendingOfType(outbox.TypeMessageSend), 2)
}
