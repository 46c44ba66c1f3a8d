package testhelper

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/doorstephq/doorstep-cloud/internal/audit"
	"github.com/doorstephq/doorstep-cloud/internal/domain/conversation"
	"github.com/doorstephq/doorstep-cloud/internal/domain/crm"
	"github.com/doorstephq/doorstep-cloud/internal/outbox"
	"github.com/doorstephq/doorstep-cloud/internal/providerhealth"
)

// In-memory repository fakes. Each mirrors the contract of its postgres
// adapter, including the (nil, nil) not-found convention, so service tests
// exercise the same code paths they would against the database.

// MemoryOutboxStore is an in-memory implementation of outbox.Store.
type MemoryOutboxStore struct {
	mu     sync.Mutex
	nextID int64
	Events []*outbox.Event
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{}
}

func (s *MemoryOutboxStore) Append(ctx context.Context, ev *outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	cp := *ev
	s.Events = append(s.Events, &cp)
	return nil
}

func (s *MemoryOutboxStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*outbox.Event
	for _, ev := range s.Events {
		if ev.ProcessedAt != nil || ev.LockedAt != nil {
			continue
		}
		if ev.NextAttemptAt != nil && ev.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, ev)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*outbox.Event, 0, len(due))
	for _, ev := range due {
		at := now
		ev.LockedAt = &at
		cp := *ev
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (s *MemoryOutboxStore) MarkProcessed(ctx context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.find(id); ev != nil {
		now := time.Now().UTC()
		ev.ProcessedAt = &now
		ev.LockedAt = nil
		ev.NextAttemptAt = nil
		ev.LastError = lastError
	}
	return nil
}

func (s *MemoryOutboxStore) MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.find(id); ev != nil {
		ev.Attempts = attempts
		ev.NextAttemptAt = &nextAttemptAt
		ev.LastError = lastError
		ev.LockedAt = nil
	}
	return nil
}

func (s *MemoryOutboxStore) MarkDeferred(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.find(id); ev != nil {
		ev.NextAttemptAt = &nextAttemptAt
		ev.LockedAt = nil
	}
	return nil
}

func (s *MemoryOutboxStore) ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ev := range s.Events {
		if ev.ProcessedAt == nil && ev.LockedAt != nil && ev.LockedAt.Before(before) {
			ev.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *MemoryOutboxStore) DeletePendingByLead(ctx context.Context, t outbox.EventType, leadID int64) (int64, error) {
	return s.deletePending(t, func(p payloadRefs) bool { return p.LeadID == leadID })
}

func (s *MemoryOutboxStore) DeletePendingByAppointment(ctx context.Context, t outbox.EventType, appointmentID int64) (int64, error) {
	return s.deletePending(t, func(p payloadRefs) bool { return p.AppointmentID == appointmentID })
}

func (s *MemoryOutboxStore) HasPendingReminder(ctx context.Context, appointmentID int64, windowMinutes int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.Events {
		if ev.ProcessedAt != nil || ev.EventType != outbox.TypeEstimateReminder {
			continue
		}
		var p payloadRefs
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			continue
		}
		if p.AppointmentID == appointmentID && p.WindowMinutes == windowMinutes {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryOutboxStore) PendingCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ev := range s.Events {
		if ev.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

// PendingOfType returns pending events of one type, a common test assertion.
func (s *MemoryOutboxStore) PendingOfType(t outbox.EventType) []*outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*outbox.Event
	for _, ev := range s.Events {
		if ev.ProcessedAt == nil && ev.EventType == t {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

func (s *MemoryOutboxStore) Get(id int64) *outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.find(id); ev != nil {
		cp := *ev
		return &cp
	}
	return nil
}

type payloadRefs struct {
	LeadID        int64 `json:"leadId"`
	AppointmentID int64 `json:"appointmentId"`
	WindowMinutes int   `json:"windowMinutes"`
}

// SetLockedAt rewrites an event's claim timestamp, for staleness tests.
func (s *MemoryOutboxStore) SetLockedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.find(id); ev != nil {
		t := at
		ev.LockedAt = &t
	}
}

func (s *MemoryOutboxStore) deletePending(t outbox.EventType, match func(payloadRefs) bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*outbox.Event
	var n int64
	for _, ev := range s.Events {
		if ev.ProcessedAt == nil && ev.EventType == t {
			var p payloadRefs
			if err := json.Unmarshal(ev.Payload, &p); err == nil && match(p) {
				n++
				continue
			}
		}
		kept = append(kept, ev)
	}
	s.Events = kept
	return n, nil
}

func (s *MemoryOutboxStore) find(id int64) *outbox.Event {
	for _, ev := range s.Events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

// MemoryLeadRepo is an in-memory implementation of crm.LeadRepository.
type MemoryLeadRepo struct {
	mu     sync.Mutex
	nextID int64
	Leads  map[int64]*crm.Lead
}

func NewMemoryLeadRepo() *MemoryLeadRepo {
	return &MemoryLeadRepo{Leads: map[int64]*crm.Lead{}}
}

func (r *MemoryLeadRepo) FindByID(ctx context.Context, id int64) (*crm.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.Leads[id]
	if !ok {
		return nil, nil
	}
	cp := *lead
	return &cp, nil
}

func (r *MemoryLeadRepo) Save(ctx context.Context, lead *crm.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lead.ID == 0 {
		r.nextID++
		lead.ID = r.nextID
	}
	cp := *lead
	r.Leads[lead.ID] = &cp
	return nil
}

func (r *MemoryLeadRepo) UpdateStage(ctx context.Context, id int64, stage crm.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lead, ok := r.Leads[id]; ok {
		lead.Stage = stage
	}
	return nil
}

// MemoryAppointmentRepo is an in-memory implementation of crm.AppointmentRepository.
type MemoryAppointmentRepo struct {
	mu           sync.Mutex
	nextID       int64
	Appointments map[int64]*crm.Appointment
}

func NewMemoryAppointmentRepo() *MemoryAppointmentRepo {
	return &MemoryAppointmentRepo{Appointments: map[int64]*crm.Appointment{}}
}

func (r *MemoryAppointmentRepo) FindByID(ctx context.Context, id int64) (*crm.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	appt, ok := r.Appointments[id]
	if !ok {
		return nil, nil
	}
	cp := *appt
	return &cp, nil
}

func (r *MemoryAppointmentRepo) Save(ctx context.Context, appt *crm.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appt.ID == 0 {
		r.nextID++
		appt.ID = r.nextID
	}
	cp := *appt
	r.Appointments[appt.ID] = &cp
	return nil
}

func (r *MemoryAppointmentRepo) SetRescheduleToken(ctx context.Context, id int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appt, ok := r.Appointments[id]; ok && appt.RescheduleToken == "" {
		appt.RescheduleToken = token
	}
	return nil
}

// MemoryQuoteRepo is an in-memory implementation of crm.QuoteRepository.
type MemoryQuoteRepo struct {
	mu     sync.Mutex
	nextID int64
	Quotes map[int64]*crm.Quote
}

func NewMemoryQuoteRepo() *MemoryQuoteRepo {
	return &MemoryQuoteRepo{Quotes: map[int64]*crm.Quote{}}
}

func (r *MemoryQuoteRepo) FindByID(ctx context.Context, id int64) (*crm.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	quote, ok := r.Quotes[id]
	if !ok {
		return nil, nil
	}
	cp := *quote
	return &cp, nil
}

func (r *MemoryQuoteRepo) Save(ctx context.Context, quote *crm.Quote) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if quote.ID == 0 {
		r.nextID++
		quote.ID = r.nextID
	}
	cp := *quote
	r.Quotes[quote.ID] = &cp
	return nil
}

// MemoryTaskRepo is an in-memory implementation of crm.TaskRepository.
type MemoryTaskRepo struct {
	mu     sync.Mutex
	nextID int64
	Tasks  map[int64]*crm.CrmTask
}

func NewMemoryTaskRepo() *MemoryTaskRepo {
	return &MemoryTaskRepo{Tasks: map[int64]*crm.CrmTask{}}
}

func (r *MemoryTaskRepo) FindByID(ctx context.Context, id int64) (*crm.CrmTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.Tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *task
	return &cp, nil
}

func (r *MemoryTaskRepo) Save(ctx context.Context, task *crm.CrmTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == 0 {
		r.nextID++
		task.ID = r.nextID
	}
	cp := *task
	r.Tasks[task.ID] = &cp
	return nil
}

func (r *MemoryTaskRepo) FindOpenByLeadAndKind(ctx context.Context, leadID int64, kind crm.TaskKind) (*crm.CrmTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *crm.CrmTask
	for _, task := range r.Tasks {
		if task.LeadID != leadID || task.Kind != kind || task.Status != crm.TaskOpen {
			continue
		}
		if newest == nil || task.CreatedAt.After(newest.CreatedAt) {
			newest = task
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

func (r *MemoryTaskRepo) ListDueBefore(ctx context.Context, t time.Time, limit int) ([]*crm.CrmTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*crm.CrmTask
	for _, task := range r.Tasks {
		if task.Status == crm.TaskOpen && task.DueAt.Before(t) {
			cp := *task
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MemoryThreadRepo is an in-memory implementation of conversation.ThreadRepository.
type MemoryThreadRepo struct {
	mu      sync.Mutex
	nextID  int64
	Threads []*conversation.Thread
}

func NewMemoryThreadRepo() *MemoryThreadRepo {
	return &MemoryThreadRepo{}
}

func (r *MemoryThreadRepo) FindByLeadAndChannel(ctx context.Context, leadID int64, ch string) (*conversation.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, th := range r.Threads {
		if th.LeadID == leadID && th.Channel == ch {
			cp := *th
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryThreadRepo) Save(ctx context.Context, thread *conversation.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if thread.ID == 0 {
		r.nextID++
		thread.ID = r.nextID
	}
	for i, th := range r.Threads {
		if th.ID == thread.ID {
			cp := *thread
			r.Threads[i] = &cp
			return nil
		}
	}
	cp := *thread
	r.Threads = append(r.Threads, &cp)
	return nil
}

// MemoryMessageRepo is an in-memory implementation of conversation.MessageRepository.
type MemoryMessageRepo struct {
	mu       sync.Mutex
	nextID   int64
	Messages map[int64]*conversation.Message
}

func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{Messages: map[int64]*conversation.Message{}}
}

func (r *MemoryMessageRepo) FindByID(ctx context.Context, id int64) (*conversation.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.Messages[id]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (r *MemoryMessageRepo) Save(ctx context.Context, msg *conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID == 0 {
		r.nextID++
		msg.ID = r.nextID
	}
	cp := *msg
	r.Messages[msg.ID] = &cp
	return nil
}

func (r *MemoryMessageRepo) CountInboundSince(ctx context.Context, leadID int64, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msg := range r.Messages {
		if msg.LeadID == leadID && msg.Direction == conversation.Inbound && msg.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryMessageRepo) CountManualOutboundSince(ctx context.Context, leadID int64, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, msg := range r.Messages {
		if msg.LeadID != leadID || msg.Direction != conversation.Outbound || !msg.CreatedAt.After(since) {
			continue
		}
		if msg.Metadata[conversation.MetaAutomated] != "true" {
			n++
		}
	}
	return n, nil
}

// ByLead returns the lead's messages ordered by ID for assertions.
func (r *MemoryMessageRepo) ByLead(leadID int64) []*conversation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*conversation.Message
	for _, msg := range r.Messages {
		if msg.LeadID == leadID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryAutomationRepo is an in-memory implementation of conversation.AutomationRepository.
type MemoryAutomationRepo struct {
	mu     sync.Mutex
	nextID int64
	States []*conversation.AutomationState
}

func NewMemoryAutomationRepo() *MemoryAutomationRepo {
	return &MemoryAutomationRepo{}
}

func (r *MemoryAutomationRepo) Find(ctx context.Context, leadID int64, ch string) (*conversation.AutomationState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.States {
		if st.LeadID == leadID && st.Channel == ch {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryAutomationRepo) Upsert(ctx context.Context, state *conversation.AutomationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, st := range r.States {
		if st.LeadID == state.LeadID && st.Channel == state.Channel {
			state.ID = st.ID
			cp := *state
			r.States[i] = &cp
			return nil
		}
	}
	r.nextID++
	state.ID = r.nextID
	cp := *state
	r.States = append(r.States, &cp)
	return nil
}

func (r *MemoryAutomationRepo) StopAllForLead(ctx context.Context, leadID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.States {
		if st.LeadID == leadID && st.FollowupState == conversation.FollowupRunning {
			st.FollowupState = conversation.FollowupStopped
			st.NextFollowupAt = nil
		}
	}
	return nil
}

// MemoryAuditRepo is an in-memory implementation of audit.Repository.
type MemoryAuditRepo struct {
	mu     sync.Mutex
	nextID int64
	Events []*audit.Event
}

func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{}
}

func (r *MemoryAuditRepo) Append(ctx context.Context, ev *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ev.ID = r.nextID
	cp := *ev
	r.Events = append(r.Events, &cp)
	return nil
}

func (r *MemoryAuditRepo) Exists(ctx context.Context, action, entityType string, entityID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.Events {
		if ev.Action == action && ev.EntityType == entityType && ev.EntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAuditRepo) ExistsSince(ctx context.Context, action, entityType string, entityID int64, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.Events {
		if ev.Action == action && ev.EntityType == entityType && ev.EntityID == entityID && ev.OccurredAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAuditRepo) FindLast(ctx context.Context, action, entityType string, entityID int64) (*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *audit.Event
	for _, ev := range r.Events {
		if ev.Action != action || ev.EntityType != entityType || ev.EntityID != entityID {
			continue
		}
		if newest == nil || ev.OccurredAt.After(newest.OccurredAt) {
			newest = ev
		}
	}
	if newest == nil {
		return nil, nil
	}
	cp := *newest
	return &cp, nil
}

// MemoryHealthRepo is an in-memory implementation of providerhealth.Repository.
type MemoryHealthRepo struct {
	mu      sync.Mutex
	Records map[string]*providerhealth.Record
}

func NewMemoryHealthRepo() *MemoryHealthRepo {
	return &MemoryHealthRepo{Records: map[string]*providerhealth.Record{}}
}

func (r *MemoryHealthRepo) IncrSuccess(ctx context.Context, provider string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.record(provider)
	rec.SuccessCount++
	rec.LastSuccess = &at
	return nil
}

func (r *MemoryHealthRepo) IncrFailure(ctx context.Context, provider string, at time.Time, detail string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.record(provider)
	rec.FailureCount++
	rec.LastFailure = &at
	rec.LastDetail = detail
	return nil
}

func (r *MemoryHealthRepo) List(ctx context.Context) ([]*providerhealth.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.Records))
	for name := range r.Records {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*providerhealth.Record, 0, len(names))
	for _, name := range names {
		cp := *r.Records[name]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryHealthRepo) record(provider string) *providerhealth.Record {
	rec, ok := r.Records[provider]
	if !ok {
		rec = &providerhealth.Record{Provider: provider}
		r.Records[provider] = rec
	}
	return rec
}
