package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseJSONEvent(t *testing.T) {
	body := []byte(`{"event_type":"Permission","tool":"edit","session_id":"abc"}`)
	ev := Parse(body)
	if ev.Type != EventPermission {
		t.Fatalf("type = %q, want Permission", ev.Type)
	}
	if ev.Tool != "edit" {
		t.Fatalf("tool = %q", ev.Tool)
	}
	if ev.AssistantSessionID != "abc" {
		t.Fatalf("session id = %q", ev.AssistantSessionID)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("missing timestamp not filled")
	}
	if !bytes.Equal(ev.Raw, body) {
		t.Fatal("raw body not preserved")
	}
}

func TestParseRawTextWrapsAsStop(t *testing.T) {
	ev := Parse([]byte("task finished, going idle"))
	if ev.Type != EventStop {
		t.Fatalf("type = %q, want Stop", ev.Type)
	}
	if ev.RawStdin != "task finished, going idle" {
		t.Fatalf("raw_stdin = %q", ev.RawStdin)
	}
}

func TestParseUnrecognizedType(t *testing.T) {
	ev := Parse([]byte(`{"event_type":"FutureThing","payload":42}`))
	if ev.Type != EventUnknown {
		t.Fatalf("type = %q, want Unknown", ev.Type)
	}
	if !strings.Contains(string(ev.Raw), "FutureThing") {
		t.Fatal("raw body lost")
	}
}

func TestParseKeepsTimestamp(t *testing.T) {
	ev := Parse([]byte(`{"event_type":"Stop","timestamp":"2026-01-02T03:04:05Z"}`))
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", ev.Timestamp, want)
	}
}

type staticResolver struct {
	bindings map[string]Binding
}

func (s *staticResolver) Bind(agentID string) (Binding, error) {
	b, ok := s.bindings[agentID]
	if !ok {
		return Binding{}, ErrAgentNotFound
	}
	return b, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (d *recordingDispatcher) Dispatch(agentID string, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.events = append(d.events, ev)
	return nil
}

func newTestReceiver(dispatcher Dispatcher) *Receiver {
	resolver := &staticResolver{bindings: map[string]Binding{
		"agent-1": {AgentID: "agent-1", ProjectPath: "/tmp/demo", SessionID: "sess-1"},
	}}
	return NewReceiver(resolver, dispatcher, zap.NewNop())
}

func TestReceiverAcceptsAndStamps(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	srv := httptest.NewServer(newTestReceiver(dispatcher).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/agent-1", "application/json",
		strings.NewReader(`{"event_type":"SessionStart"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var rec receipt
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decoding receipt: %v", err)
	}
	if rec.Status != "accepted" || rec.EventType != EventSessionStart {
		t.Fatalf("receipt = %+v", rec)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.events) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(dispatcher.events))
	}
	ev := dispatcher.events[0]
	if ev.AgentID != "agent-1" || ev.ProjectPath != "/tmp/demo" || ev.OrkaSessionID != "sess-1" {
		t.Fatalf("stamping wrong: %+v", ev)
	}
}

func TestReceiverUnknownAgent(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	srv := httptest.NewServer(newTestReceiver(dispatcher).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/ghost", "application/json",
		strings.NewReader(`{"event_type":"Stop"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if len(dispatcher.events) != 0 {
		t.Fatal("event dispatched for unknown agent")
	}
}

func TestReceiverRawTextBody(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	srv := httptest.NewServer(newTestReceiver(dispatcher).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/agent-1", "text/plain",
		strings.NewReader("stopped without structure"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if dispatcher.events[0].Type != EventStop {
		t.Fatalf("type = %q, want Stop wrap", dispatcher.events[0].Type)
	}
}

func TestReceiverDispatchOrder(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	srv := httptest.NewServer(newTestReceiver(dispatcher).Router())
	defer srv.Close()

	// Sequential submissions must be dispatched in submission order.
	for i := 0; i < 100; i++ {
		body := fmt.Sprintf(`{"event_type":"Notification","message":"%d"}`, i)
		resp, err := http.Post(srv.URL+"/hooks/agent-1", "application/json",
			strings.NewReader(body))
		if err != nil {
			t.Fatalf("POST %d: %v", i, err)
		}
		resp.Body.Close()
	}

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	if len(dispatcher.events) != 100 {
		t.Fatalf("dispatched %d, want 100", len(dispatcher.events))
	}
	for i, ev := range dispatcher.events {
		if ev.Message != fmt.Sprintf("%d", i) {
			t.Fatalf("event %d out of order: message %q", i, ev.Message)
		}
	}
}

func TestReceiverDispatcherFull(t *testing.T) {
	dispatcher := &recordingDispatcher{err: fmt.Errorf("queue full")}
	srv := httptest.NewServer(newTestReceiver(dispatcher).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/agent-1", "application/json",
		strings.NewReader(`{"event_type":"Stop"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
