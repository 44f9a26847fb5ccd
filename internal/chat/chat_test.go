package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNotifySendsMessage(t *testing.T) {
	var mu sync.Mutex
	var gotPath string
	var gotBody sendMessageRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	n := NewTelegram(Credentials{BotToken: "tok", ChatID: "42"}, zap.NewNop(), WithHost(srv.URL))
	err := n.Notify(context.Background(), Message{
		Kind:  KindMilestone,
		Agent: "agent-1",
		Text:  "fork merged",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/bottok/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody.ChatID != "42" {
		t.Fatalf("chat id = %q", gotBody.ChatID)
	}
	if !strings.Contains(gotBody.Text, "milestone") || !strings.Contains(gotBody.Text, "fork merged") {
		t.Fatalf("text = %q", gotBody.Text)
	}
	if !strings.Contains(gotBody.Text, "agent-1") {
		t.Fatalf("text = %q, missing agent tag", gotBody.Text)
	}
}

func TestNotifyAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"ok":false,"description":"chat not found"}`)
	}))
	defer srv.Close()

	n := NewTelegram(Credentials{BotToken: "tok", ChatID: "42"}, zap.NewNop(), WithHost(srv.URL))
	err := n.Notify(context.Background(), Message{Kind: KindFailure, Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("err = %v", err)
	}
}

func TestNotifyUnconfigured(t *testing.T) {
	n := NewTelegram(Credentials{}, zap.NewNop())
	if err := n.Notify(context.Background(), Message{Kind: KindMilestone}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestThrottleSpacesMessages(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	n := NewTelegram(Credentials{BotToken: "tok", ChatID: "42"}, zap.NewNop(), WithHost(srv.URL))
	n.minInterval = 50 * time.Millisecond

	for i := 0; i < 3; i++ {
		if err := n.Notify(context.Background(), Message{Kind: KindNotification, Text: "m"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 3 {
		t.Fatalf("got %d posts", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 40*time.Millisecond {
			t.Fatalf("gap %d = %v, want >= ~50ms", i, gap)
		}
	}
}

func TestNopNotifier(t *testing.T) {
	if err := (Nop{}).Notify(context.Background(), Message{Kind: KindFailure}); err != nil {
		t.Fatalf("Nop.Notify: %v", err)
	}
}
