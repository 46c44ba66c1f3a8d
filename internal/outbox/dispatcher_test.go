package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is a minimal in-memory Store for dispatcher tests.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	events []*Event
}

func (s *memStore) Append(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return nil
}

func (s *memStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Event
	for _, ev := range s.events {
		if ev.ProcessedAt != nil || ev.LockedAt != nil {
			continue
		}
		if ev.NextAttemptAt != nil && ev.NextAttemptAt.After(now) {
			continue
		}
		at := now
		ev.LockedAt = &at
		cp := *ev
		due = append(due, &cp)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *memStore) MarkProcessed(ctx context.Context, id int64, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.get(id)
	now := time.Now().UTC()
	ev.ProcessedAt = &now
	ev.LockedAt = nil
	ev.NextAttemptAt = nil
	ev.LastError = lastError
	return nil
}

func (s *memStore) MarkRetry(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.get(id)
	ev.Attempts = attempts
	ev.NextAttemptAt = &nextAttemptAt
	ev.LastError = lastError
	ev.LockedAt = nil
	return nil
}

func (s *memStore) MarkDeferred(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.get(id)
	ev.NextAttemptAt = &nextAttemptAt
	ev.LockedAt = nil
	return nil
}

func (s *memStore) ReleaseStaleClaims(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ev := range s.events {
		if ev.ProcessedAt == nil && ev.LockedAt != nil && ev.LockedAt.Before(before) {
			ev.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) DeletePendingByLead(ctx context.Context, t EventType, leadID int64) (int64, error) {
	return 0, nil
}

func (s *memStore) DeletePendingByAppointment(ctx context.Context, t EventType, appointmentID int64) (int64, error) {
	return 0, nil
}

func (s *memStore) HasPendingReminder(ctx context.Context, appointmentID int64, windowMinutes int) (bool, error) {
	return false, nil
}

func (s *memStore) PendingCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ev := range s.events {
		if ev.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *memStore) get(id int64) *Event {
	for _, ev := range s.events {
		if ev.ID == id {
			return ev
		}
	}
	panic(fmt.Sprintf("memStore: no event %d", id))
}

func appendEvent(t *testing.T, store *memStore, typ EventType, payload any) *Event {
	t.Helper()
	ev, err := NewEvent(typ, payload)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), ev))
	return ev
}

func newTestDispatcher(store Store, registry *Registry) *Dispatcher {
	return NewDispatcher(store, registry, zap.NewNop(), time.Second, 10)
}

func TestProcessBatchMarksProcessed(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	var handled int
	registry.MustRegister(TypeMessageSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		handled++
		return Processed(), nil
	})

	ev := appendEvent(t, store, TypeMessageSend, MessageSendPayload{MessageID: 7})

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, handled)
	assert.Equal(t, Stats{Total: 1, Processed: 1}, stats)

	got := store.get(ev.ID)
	assert.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.LockedAt)
	assert.Zero(t, got.Attempts)
}

func TestProcessBatchRetryIncrementsAttempts(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	registry.MustRegister(TypeMessageSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		return Retry("provider timeout"), nil
	})

	ev := appendEvent(t, store, TypeMessageSend, MessageSendPayload{MessageID: 7})

	before := time.Now().UTC()
	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Errors: 1}, stats)

	got := store.get(ev.ID)
	assert.Nil(t, got.ProcessedAt)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "provider timeout", got.LastError)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.After(before.Add(Backoff(1)-time.Second)))
}

func TestProcessBatchDeferKeepsAttempts(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	resume := time.Now().UTC().Add(2 * time.Hour)
	registry.MustRegister(TypeMessageSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		return DeferUntil(resume, "quiet_hours"), nil
	})

	ev := appendEvent(t, store, TypeMessageSend, MessageSendPayload{MessageID: 7})
	store.get(ev.ID).Attempts = 2

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Skipped: 1}, stats)

	got := store.get(ev.ID)
	assert.Nil(t, got.ProcessedAt)
	assert.Equal(t, 2, got.Attempts, "deferral must not burn an attempt")
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(resume))
}

func TestProcessBatchUnknownTypeIsTerminal(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()

	raw, _ := json.Marshal(map[string]any{"leadId": 1})
	ev := &Event{EventType: EventType("mystery.event"), Payload: raw, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Append(context.Background(), ev))

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Processed: 1}, stats)

	got := store.get(ev.ID)
	assert.NotNil(t, got.ProcessedAt)
	assert.Contains(t, got.LastError, "unsupported event type")
}

func TestProcessBatchMalformedPayloadIsTerminal(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	registry.MustRegister(TypeMessageSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		t.Fatal("handler must not run for an invalid payload")
		return Processed(), nil
	})

	raw, _ := json.Marshal(map[string]any{"messageId": 0})
	ev := &Event{EventType: TypeMessageSend, Payload: raw, CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Append(context.Background(), ev))

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Processed: 1}, stats)

	got := store.get(ev.ID)
	assert.NotNil(t, got.ProcessedAt)
	assert.Contains(t, got.LastError, "messageId required")
}

func TestClassifyFailureRespectsAttemptCeiling(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	registry.MustRegister(TypeMessageSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		return Outcome{}, fmt.Errorf("gateway unreachable")
	})

	ev := appendEvent(t, store, TypeMessageSend, MessageSendPayload{MessageID: 7})
	store.get(ev.ID).Attempts = MaxSendAttempts - 1

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Processed: 1}, stats, "last attempt demotes a retryable failure to terminal")

	got := store.get(ev.ID)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "gateway unreachable", got.LastError)
}

func TestClassifyFailureNonSendTypesAreTerminal(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	registry.MustRegister(TypeFollowupSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		return Outcome{}, fmt.Errorf("gateway unreachable")
	})

	ev := appendEvent(t, store, TypeFollowupSend, FollowupSendPayload{
		LeadID: 3, Channel: "sms", Step: 0, AnchorAt: time.Now().UTC(),
	})

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Processed: 1}, stats)

	got := store.get(ev.ID)
	assert.NotNil(t, got.ProcessedAt)
	assert.Zero(t, got.Attempts)
}

func TestHandlerPanicDoesNotCrashBatch(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	registry.MustRegister(TypeMessageSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		panic("boom")
	})
	registry.MustRegister(TypeFollowupSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		return Processed(), nil
	})

	panicking := appendEvent(t, store, TypeMessageSend, MessageSendPayload{MessageID: 7})
	healthy := appendEvent(t, store, TypeFollowupSend, FollowupSendPayload{
		LeadID: 3, Channel: "sms", AnchorAt: time.Now().UTC(),
	})

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)

	// The panic becomes a retryable send failure; the healthy event completes.
	got := store.get(panicking.ID)
	assert.Nil(t, got.ProcessedAt)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "handler panic")

	assert.NotNil(t, store.get(healthy.ID).ProcessedAt)
}

func TestProcessBatchSkipsFutureEvents(t *testing.T) {
	store := &memStore{}
	registry := NewRegistry()
	registry.MustRegister(TypeMessageSend, func(ctx context.Context, ev *Event) (Outcome, error) {
		return Processed(), nil
	})

	future := time.Now().UTC().Add(1 * time.Hour)
	ev, err := NewEventAt(TypeMessageSend, MessageSendPayload{MessageID: 7}, &future)
	require.NoError(t, err)
	require.NoError(t, store.Append(context.Background(), ev))

	stats, err := newTestDispatcher(store, registry).ProcessBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Nil(t, store.get(ev.ID).ProcessedAt)
}

func TestRegistryRejectsDoubleRegistration(t *testing.T) {
	registry := NewRegistry()
	h := func(ctx context.Context, ev *Event) (Outcome, error) { return Processed(), nil }

	require.NoError(t, registry.Register(TypeMessageSend, h))
	assert.Error(t, registry.Register(TypeMessageSend, h))
	assert.Error(t, registry.Register(TypeFollowupSend, nil))
}
