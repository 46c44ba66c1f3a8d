package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/pkg/testhelper"
)

type escalationFixture struct {
	escalation *Escalation
	tasks      *testhelper.MemoryTaskRepo
	leads      *testhelper.MemoryLeadRepo
	messages   *testhelper.MemoryMessageRepo
	store      *testhelper.MemoryOutboxStore
	dialer     *testhelper.MockDialer
	messenger  *testhelper.MockMessenger
	auditLog   *audit.Log
	auditRepo  *testhelper.MemoryAuditRepo
	base       time.Time
}

func newEscalationFixture(t *testing.T) *escalationFixture {
	t.Helper()
	f := &escalationFixture{
		tasks:     testhelper.NewMemoryTaskRepo(),
		leads:     testhelper.NewMemoryLeadRepo(),
		messages:  testhelper.NewMemoryMessageRepo(),
		store:     testhelper.NewMemoryOutboxStore(),
		dialer:    &testhelper.MockDialer{},
		messenger: &testhelper.MockMessenger{},
		auditRepo: testhelper.NewMemoryAuditRepo(),
		// Noon is inside the 09:00-19:00 sales window.
		base: time.Date(2026, 7, 14, 12, 0, 0, 0, time.UTC),
	}
	logger := zap.NewNop()
	f.auditLog = audit.NewLog(f.auditRepo, logger)
	f.escalation = NewEscalation(
		f.tasks, f.leads, f.messages, f.store,
		f.dialer, f.messenger, testPolicies(t), f.auditLog,
		"+15559990000", logger,
	)
	f.escalation.now = func() time.Time { return f.base }
	return f
}

func (f *escalationFixture) addLead(t *testing.T, phone string) *crm.Lead {
	t.Helper()
	lead := crm.NewLead("Dana", "Smith", "dana@example.com", phone, crm.SourceAds)
	require.NoError(t, f.leads.Save(context.Background(), lead))
	return lead
}

func (f *escalationFixture) newLeadTask(t *testing.T, lead *crm.Lead) *crm.CrmTask {
	t.Helper()
	require.NoError(t, f.escalation.OnNewLead(context.Background(), lead, []string{"+15558887777"}))
	task, err := f.tasks.FindOpenByLeadAndKind(context.Background(), lead.ID, crm.TaskSpeedToLead)
	require.NoError(t, err)
	require.NotNil(t, task)
	return task
}

func TestOnNewLeadSchedulesTaskAlertAndCalls(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")

	task := f.newLeadTask(t, lead)
	assert.Equal(t, f.base.Add(5*time.Minute), task.DueAt)

	assert.Len(t, f.store.PendingOfType(outbox.TypeLeadAlert), 1)

	calls := f.store.PendingOfType(outbox.TypeEscalationCall)
	require.Len(t, calls, 2)
	require.NotNil(t, calls[0].NextAttemptAt)
	require.NotNil(t, calls[1].NextAttemptAt)
	assert.Equal(t, f.base, *calls[0].NextAttemptAt)
	assert.Equal(t, f.base.Add(5*time.Minute), *calls[1].NextAttemptAt)
}

func TestOnNewLeadReplayDoesNotRearm(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")

	f.newLeadTask(t, lead)
	require.NoError(t, f.escalation.OnNewLead(context.Background(), lead, []string{"+15558887777"}))

	assert.Len(t, f.store.PendingOfType(outbox.TypeLeadAlert), 1)
	assert.Len(t, f.store.PendingOfType(outbox.TypeEscalationCall), 2)
}

func TestOnNewLeadWithoutPhoneSkipsCalls(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "")

	f.newLeadTask(t, lead)

	assert.Len(t, f.store.PendingOfType(outbox.TypeLeadAlert), 1)
	assert.Empty(t, f.store.PendingOfType(outbox.TypeEscalationCall))
}

func TestHandleCallPlacesCallAndRecords(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	outcome, err := f.escalation.HandleCall(context.Background(), outbox.EscalationCallPayload{
		TaskID: task.ID,
		Mode:   outbox.EscalationModeInstant,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Equal(t, []string{"+15550001111"}, f.dialer.Calls)

	placed, _ := f.auditLog.Has(context.Background(), audit.ActionEscalationCallPlaced, "task", task.ID)
	assert.True(t, placed)
}

func TestHandleCallDefersOutsideSalesHours(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	f.base = time.Date(2026, 7, 14, 22, 0, 0, 0, time.UTC)

	outcome, err := f.escalation.HandleCall(context.Background(), outbox.EscalationCallPayload{
		TaskID: task.ID,
		Mode:   outbox.EscalationModeDue,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionDefer, outcome.Disposition)
	require.NotNil(t, outcome.NextAttemptAt)
	assert.Equal(t, time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC), *outcome.NextAttemptAt)
	assert.Empty(t, f.dialer.Calls)
}

func TestHandleCallSecondFireIsNoop(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)
	payload := outbox.EscalationCallPayload{TaskID: task.ID, Mode: outbox.EscalationModeInstant}

	_, err := f.escalation.HandleCall(context.Background(), payload)
	require.NoError(t, err)

	outcome, err := f.escalation.HandleCall(context.Background(), outbox.EscalationCallPayload{
		TaskID: task.ID,
		Mode:   outbox.EscalationModeDue,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
	assert.Len(t, f.dialer.Calls, 1, "at most one escalation call per task")
}

func TestHandleCallSkipsWhenAssigneeAlreadyCalled(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	f.auditLog.Record(context.Background(), "user:9", audit.ActionCallLogged, "lead", lead.ID, nil)

	outcome, err := f.escalation.HandleCall(context.Background(), outbox.EscalationCallPayload{
		TaskID: task.ID,
		Mode:   outbox.EscalationModeDue,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
	assert.Empty(t, f.dialer.Calls)
}

func TestHandleCallSkipsWhenHumanAlreadyMessaged(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	manual := conversation.NewOutbound(1, lead.ID, "sms", lead.Phone, "hey, saw your request", nil)
	manual.CreatedAt = task.CreatedAt.Add(time.Minute)
	require.NoError(t, f.messages.Save(context.Background(), manual))

	outcome, err := f.escalation.HandleCall(context.Background(), outbox.EscalationCallPayload{
		TaskID: task.ID,
		Mode:   outbox.EscalationModeDue,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
}

func TestHandleCallSkipsWhenLeadEngaged(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	for i := 0; i < 2; i++ {
		msg := &conversation.Message{
			LeadID:    lead.ID,
			Channel:   "sms",
			Direction: conversation.Inbound,
			Body:      "hello",
			CreatedAt: task.CreatedAt.Add(time.Duration(i+1) * time.Minute),
		}
		require.NoError(t, f.messages.Save(context.Background(), msg))
	}

	outcome, err := f.escalation.HandleCall(context.Background(), outbox.EscalationCallPayload{
		TaskID: task.ID,
		Mode:   outbox.EscalationModeDue,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
}

func TestHandleCallSkipsClosedTask(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	task.Status = crm.TaskCompleted
	require.NoError(t, f.tasks.Save(context.Background(), task))

	outcome, err := f.escalation.HandleCall(context.Background(), outbox.EscalationCallPayload{
		TaskID: task.ID,
		Mode:   outbox.EscalationModeInstant,
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
}

func TestHandleTaskReminderTextsTeamLine(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	outcome, err := f.escalation.HandleTaskReminder(context.Background(), outbox.TaskReminderPayload{TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)

	sent := f.messenger.LastSent()
	require.NotNil(t, sent)
	assert.Equal(t, "+15559990000", sent.To)
	assert.Contains(t, sent.Body, "Dana")
}

func TestHandleTaskReminderWithoutTeamPhoneIsTerminal(t *testing.T) {
	f := newEscalationFixture(t)
	f.escalation.teamNotifyPhone = ""
	lead := f.addLead(t, "+15550001111")
	task := f.newLeadTask(t, lead)

	outcome, err := f.escalation.HandleTaskReminder(context.Background(), outbox.TaskReminderPayload{TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Equal(t, outbox.DetailNotConfigured, outcome.Detail)
}

func TestHandleLeadAlertDeduplicatesRecipients(t *testing.T) {
	f := newEscalationFixture(t)
	lead := f.addLead(t, "+15550001111")
	payload := outbox.LeadAlertPayload{
		LeadID:     lead.ID,
		Recipients: []string{"+15551110001", "+15551110002"},
	}

	outcome, err := f.escalation.HandleLeadAlert(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Len(t, f.messenger.Sent, 2)

	// A replay with the same recipient list sends nothing new.
	outcome, err = f.escalation.HandleLeadAlert(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionProcessed, outcome.Disposition)
	assert.Len(t, f.messenger.Sent, 2)

	// A new recipient still gets the alert.
	payload.Recipients = append(payload.Recipients, "+15551110003")
	_, err = f.escalation.HandleLeadAlert(context.Background(), payload)
	require.NoError(t, err)
	assert.Len(t, f.messenger.Sent, 3)
	assert.Equal(t, "+15551110003", f.messenger.LastSent().To)
}

func TestHandleLeadAlertSkipsMissingLead(t *testing.T) {
	f := newEscalationFixture(t)

	outcome, err := f.escalation.HandleLeadAlert(context.Background(), outbox.LeadAlertPayload{
		LeadID:     777,
		Recipients: []string{"+15551110001"},
	})
	require.NoError(t, err)
	assert.Equal(t, outbox.DispositionSkipped, outcome.Disposition)
	assert.Empty(t, f.messenger.Sent)
}
