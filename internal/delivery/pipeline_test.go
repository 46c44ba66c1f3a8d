package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/config"
	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/policy"
	"github.com/doorstephq/doorstep-cloud/internal/providerhealth"
	"github.com/doorstephq/doorstep-cloud/pkg/testhelper"
)

type pipelineFixture struct {
	pipeline  *Pipeline
	messages  *testhelper.MemoryMessageRepo
	threads   *testhelper.MemoryThreadRepo
	leads     *testhelper.MemoryLeadRepo
	messenger *testhelper.MockMessenger
	auditRepo *testhelper.MemoryAuditRepo
	health    *testhelper.MemoryHealthRepo
}

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

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		messages:  testhelper.NewMemoryMessageRepo(),
		threads:   testhelper.NewMemoryThreadRepo(),
		leads:     testhelper.NewMemoryLeadRepo(),
		messenger: &testhelper.MockMessenger{},
		auditRepo: testhelper.NewMemoryAuditRepo(),
		health:    testhelper.NewMemoryHealthRepo(),
	}
	logger := zap.NewNop()
	f.pipeline = NewPipeline(
		f.messages,
		f.threads,
		f.leads,
		f.messenger,
		testPolicies(t),
		audit.NewLog(f.auditRepo, logger),
		providerhealth.NewTracker(f.health, logger),
		logger,
	)
	return f
}

// freeze pins the pipeline clock to noon UTC, outside quiet hours.
func (f *pipelineFixture) freeze(hour int) time.Time {
	at := time.Date(2026, 7, 14, hour, 0, 0, 0, time.UTC)
	f.pipeline.now = func() time.Time { return at }
	return at
}

func (f *pipelineFixture) queueMessage(t *testing.T, ch, to string, meta map[string]string) *conversation.Message {
	t.Helper()
	msg := conversation.NewOutbound(1, 1, ch, to, "hello there", meta)
	require.NoError(t, f.messages.Save(context.Background(), msg))
	return msg
}

func TestDeliverSendsAndMarksSent(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)
	msg := f.queueMessage(t, "sms", "+15550001111", nil)

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Empty(t, outcome.Detail)

	saved, _ := f.messages.FindByID(context.Background(), msg.ID)
	assert.Equal(t, conversation.StatusSent, saved.Status)
	assert.NotNil(t, saved.SentAt)

	sent := f.messenger.LastSent()
	require.NotNil(t, sent)
	assert.Equal(t, channel.SMS, sent.Channel)
	assert.Equal(t, "+15550001111", sent.To)

	ok, _ := f.auditRepo.Exists(context.Background(), audit.ActionMessageSent, "message", msg.ID)
	assert.True(t, ok)
	assert.EqualValues(t, 1, f.health.Records["sms"].SuccessCount)
}

func TestDeliverSkipsAlreadySent(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)
	msg := f.queueMessage(t, "sms", "+15550001111", nil)
	msg.MarkSent()
	require.NoError(t, f.messages.Save(context.Background(), msg))

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
	assert.Empty(t, f.messenger.Sent)
}

func TestDeliverMissingMessageSkips(t *testing.T) {
	f := newPipelineFixture(t)

	outcome, err := f.pipeline.Deliver(context.Background(), 12345, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
	assert.Equal(t, "message not found", outcome.Detail)
}

func TestDeliverQuietHoursDefersAutomatedSMS(t *testing.T) {
	f := newPipelineFixture(t)
	at := f.freeze(23)
	msg := f.queueMessage(t, "sms", "+15550001111", map[string]string{
		conversation.MetaAutomated: "true",
	})

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionDefer, outcome.Disposition)
	assert.Equal(t, "quiet_hours", outcome.Detail)
	require.NotNil(t, outcome.NextAttemptAt)

	// Resumes exactly when the quiet window ends tomorrow morning.
	wantEnd := time.Date(2026, 7, 15, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, wantEnd, *outcome.NextAttemptAt)
	assert.Empty(t, f.messenger.Sent)

	// A retry counter is never involved in a deferral.
	assert.True(t, at.Before(*outcome.NextAttemptAt))
}

func TestDeliverQuietExemptBypassesDeferral(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(23)
	msg := f.queueMessage(t, "sms", "+15550001111", map[string]string{
		conversation.MetaAutomated:   "true",
		conversation.MetaQuietExempt: "true",
	})

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Len(t, f.messenger.Sent, 1)
}

func TestDeliverManualSendIgnoresQuietHours(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(23)
	msg := f.queueMessage(t, "sms", "+15550001111", nil)

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
}

func TestDeliverEmailExemptFromQuietHours(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(23)
	msg := f.queueMessage(t, "email", "dana@example.com", map[string]string{
		conversation.MetaAutomated: "true",
	})

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
}

func TestDeliverHumanizedPacingStampsAndDefers(t *testing.T) {
	f := newPipelineFixture(t)
	at := f.freeze(12)
	f.pipeline.humanize = func() time.Duration { return 20 * time.Second }
	msg := f.queueMessage(t, "dm", "@dana", map[string]string{
		conversation.MetaAutomated: "true",
	})

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionDefer, outcome.Disposition)
	assert.Equal(t, "humanized_delay", outcome.Detail)
	require.NotNil(t, outcome.NextAttemptAt)
	assert.Equal(t, at.Add(20*time.Second), *outcome.NextAttemptAt)

	// Typing was signalled, nothing was sent, and the stamp survives.
	assert.Equal(t, 1, f.messenger.TypingCalls)
	assert.Empty(t, f.messenger.Sent)
	saved, _ := f.messages.FindByID(context.Background(), msg.ID)
	assert.NotEmpty(t, saved.Meta(conversation.MetaTypingStamp))

	// The resumed pass skips pacing and sends.
	outcome, err = f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Len(t, f.messenger.Sent, 1)
	assert.Equal(t, 2, f.messenger.TypingCalls, "typing toggled off after the send")
}

func TestDeliverHumanizedPacingHonorsRequestedDelay(t *testing.T) {
	f := newPipelineFixture(t)
	at := f.freeze(12)
	msg := f.queueMessage(t, "dm", "@dana", map[string]string{
		conversation.MetaAutomated:    "true",
		conversation.MetaHumanDelayMS: "1500",
	})

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, outcome.NextAttemptAt)
	assert.Equal(t, at.Add(1500*time.Millisecond), *outcome.NextAttemptAt)
}

func TestDeliverMissingRecipientIsTerminal(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)
	msg := f.queueMessage(t, "sms", "", nil)

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Equal(t, outbox.DetailMissingRecipient, outcome.Detail)

	saved, _ := f.messages.FindByID(context.Background(), msg.ID)
	assert.Equal(t, conversation.StatusFailed, saved.Status)
	assert.EqualValues(t, 1, f.health.Records["sms"].FailureCount)
}

func TestDeliverResolvesRecipientFromLead(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)

	lead := crm.NewLead("Dana", "Smith", "dana@example.com", "+15550002222", crm.SourceWebForm)
	require.NoError(t, f.leads.Save(context.Background(), lead))

	msg := conversation.NewOutbound(1, lead.ID, "sms", "", "hello", nil)
	require.NoError(t, f.messages.Save(context.Background(), msg))

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Equal(t, "+15550002222", f.messenger.LastSent().To)
}

func TestDeliverResolvesDMRecipientFromThread(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)

	lead := crm.NewLead("Dana", "Smith", "", "", crm.SourceAds)
	require.NoError(t, f.leads.Save(context.Background(), lead))
	require.NoError(t, f.threads.Save(context.Background(), &conversation.Thread{
		LeadID:             lead.ID,
		Channel:            "dm",
		ParticipantAddress: "ig:dana.smith",
	}))

	msg := conversation.NewOutbound(1, lead.ID, "dm", "", "hello", nil)
	require.NoError(t, f.messages.Save(context.Background(), msg))

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Equal(t, "ig:dana.smith", f.messenger.LastSent().To)
}

func TestDeliverRetryableFailureUnderCeiling(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)
	f.messenger.FailDetail = "provider unavailable (status 503)"
	msg := f.queueMessage(t, "sms", "+15550001111", nil)

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionRetry, outcome.Disposition)

	// The message record stays queued while the event carries the retry.
	saved, _ := f.messages.FindByID(context.Background(), msg.ID)
	assert.Equal(t, conversation.StatusQueued, saved.Status)
}

func TestDeliverFailureAtCeilingIsTerminal(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)
	f.messenger.FailDetail = "provider unavailable (status 503)"
	msg := f.queueMessage(t, "sms", "+15550001111", nil)

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, outbox.MaxSendAttempts-1)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Equal(t, "provider unavailable (status 503)", outcome.Detail)

	saved, _ := f.messages.FindByID(context.Background(), msg.ID)
	assert.Equal(t, conversation.StatusFailed, saved.Status)

	ok, _ := f.auditRepo.Exists(context.Background(), audit.ActionMessageFailed, "message", msg.ID)
	assert.True(t, ok)
}

func TestDeliverClientErrorIsTerminalImmediately(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)
	f.messenger.FailDetail = "422"
	msg := f.queueMessage(t, "sms", "+15550001111", nil)

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)

	saved, _ := f.messages.FindByID(context.Background(), msg.ID)
	assert.Equal(t, conversation.StatusFailed, saved.Status)
}

func TestDeliverUnsupportedChannelIsTerminal(t *testing.T) {
	f := newPipelineFixture(t)
	f.freeze(12)
	msg := f.queueMessage(t, "fax", "+15550001111", nil)

	outcome, err := f.pipeline.Deliver(context.Background(), msg.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Equal(t, outbox.DetailUnsupportedChannel, outcome.Detail)
}
