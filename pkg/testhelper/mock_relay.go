package testhelper

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockRelayServer creates a mock message gateway for testing
type MockRelayServer struct {
	Server          *httptest.Server
	MessageRequests int
	CallRequests    int
	ChannelRequests int
	ShouldFailSend  bool
	FailStatus      int
}

// NewMockRelayServer creates a new mock gateway server
func NewMockRelayServer(t *testing.T) *MockRelayServer {
	mock := &MockRelayServer{FailStatus: http.StatusBadGateway}

	mux := http.NewServeMux()

	// Message send endpoint
	mux.HandleFunc("/api/messages", func(w http.ResponseWriter, r *http.Request) {
		mock.MessageRequests++
		if mock.ShouldFailSend {
			w.WriteHeader(mock.FailStatus)
			w.Write([]byte(`{"code":"provider_error","message":"send failed"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"id":"msg-1","status":"queued","provider":"mock-gw"}}`))
	})

	// Typing indicator endpoint
	mux.HandleFunc("/api/messages/typing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Voice call endpoint
	mux.HandleFunc("/api/calls", func(w http.ResponseWriter, r *http.Request) {
		mock.CallRequests++
		if mock.ShouldFailSend {
			w.WriteHeader(mock.FailStatus)
			w.Write([]byte(`{"code":"provider_error","message":"call failed"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"call_id":"call-1","status":"ringing","provider":"mock-gw"}}`))
	})

	// Channel listing endpoint
	mux.HandleFunc("/api/channels", func(w http.ResponseWriter, r *http.Request) {
		mock.ChannelRequests++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"channel":"sms","provider":"mock-gw","enabled":true},{"channel":"email","provider":"mock-gw","enabled":true},{"channel":"voice","provider":"mock-gw","enabled":true},{"channel":"dm","provider":"mock-gw","enabled":false}]}`))
	})

	mock.Server = httptest.NewServer(mux)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL returns the base URL of the mock server
func (m *MockRelayServer) URL() string {
	return m.Server.URL
}
