package testhelper

import (
	"context"
	"fmt"
	"sync"

	"github.com/doorstephq/doorstep-cloud/internal/domain/channel"
)

// SentMessage records one send observed by MockMessenger.
type SentMessage struct {
	Channel channel.Channel
	To      string
	Body    string
	Meta    map[string]string
}

// MockMessenger is an in-memory implementation of channel.Messenger for testing.
// FailDetail, when set, makes every send report a soft provider failure with
// that detail. ShouldError makes sends return a hard transport error instead.
type MockMessenger struct {
	mu          sync.Mutex
	Sent        []SentMessage
	TypingCalls int
	FailDetail  string
	ShouldError bool
	Provider    string
}

func (m *MockMessenger) send(ch channel.Channel, msg channel.Message) (channel.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldError {
		return channel.SendResult{}, fmt.Errorf("mock messenger: %s transport failed", ch)
	}

	m.Sent = append(m.Sent, SentMessage{Channel: ch, To: msg.To, Body: msg.Body, Meta: msg.Meta})

	provider := m.Provider
	if provider == "" {
		provider = "mock"
	}
	if m.FailDetail != "" {
		return channel.SendResult{OK: false, Provider: provider, Detail: m.FailDetail}, nil
	}
	return channel.SendResult{OK: true, Provider: provider}, nil
}

func (m *MockMessenger) SendSMS(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	return m.send(channel.SMS, msg)
}

func (m *MockMessenger) SendEmail(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	return m.send(channel.Email, msg)
}

func (m *MockMessenger) SendDM(ctx context.Context, msg channel.Message) (channel.SendResult, error) {
	return m.send(channel.DM, msg)
}

func (m *MockMessenger) SendDMTyping(ctx context.Context, to string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TypingCalls++
	return nil
}

// LastSent returns the most recent send, or nil when nothing was sent.
func (m *MockMessenger) LastSent() *SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	last := m.Sent[len(m.Sent)-1]
	return &last
}

// MockDialer is an in-memory implementation of channel.Dialer for testing.
type MockDialer struct {
	mu          sync.Mutex
	Calls       []string
	FailDetail  string
	ShouldError bool
}

func (m *MockDialer) PlaceCall(ctx context.Context, to string, meta map[string]string) (channel.SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldError {
		return channel.SendResult{}, fmt.Errorf("mock dialer: call to %s failed", to)
	}

	m.Calls = append(m.Calls, to)
	if m.FailDetail != "" {
		return channel.SendResult{OK: false, Provider: "mock", Detail: m.FailDetail}, nil
	}
	return channel.SendResult{OK: true, Provider: "mock"}, nil
}

// MockCalendar is an in-memory implementation of channel.Calendar for testing.
type MockCalendar struct {
	mu         sync.Mutex
	Created    []channel.CalendarEvent
	Updated    []channel.CalendarEvent
	NextID     string
	ShouldFail bool
}

func (m *MockCalendar) CreateEvent(ctx context.Context, ev channel.CalendarEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return "", fmt.Errorf("mock calendar: create failed")
	}

	m.Created = append(m.Created, ev)
	if m.NextID != "" {
		return m.NextID, nil
	}
	return fmt.Sprintf("cal-%d", len(m.Created)), nil
}

func (m *MockCalendar) UpdateEvent(ctx context.Context, ev channel.CalendarEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return fmt.Errorf("mock calendar: update failed")
	}

	m.Updated = append(m.Updated, ev)
	return nil
}

// MockAdsSink is an in-memory implementation of channel.AdsSink for testing.
type MockAdsSink struct {
	mu         sync.Mutex
	Events     []channel.LeadEvent
	ShouldFail bool
}

func (m *MockAdsSink) SendLeadEvent(ctx context.Context, ev channel.LeadEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		return fmt.Errorf("mock ads sink: send failed")
	}

	m.Events = append(m.Events, ev)
	return nil
}
