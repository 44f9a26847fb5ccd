// Package chat posts supervisor notifications to a chat bot. The default
// implementation targets the Telegram Bot API; the supervisor only sees
// the Notifier interface, so credentials stay opaque to the rest of the
// system.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind categorizes a notification for formatting and filtering.
type Kind string

const (
	KindSessionStart Kind = "session_start"
	KindMilestone    Kind = "milestone"
	KindNotification Kind = "notification"
	KindRejection    Kind = "rejection"
	KindHelpNeeded   Kind = "help_needed"
	KindFailure      Kind = "failure"
)

// Message is one notification.
type Message struct {
	Kind    Kind
	Agent   string
	Session string
	Text    string
}

// Notifier delivers supervisor notifications to a human.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// ErrNotConfigured means the notifier has no credentials.
var ErrNotConfigured = errors.New("chat notifier not configured")

// Credentials are the opaque bot credentials stored in the agent registry.
type Credentials struct {
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
}

// Configured reports whether both fields are present.
func (c Credentials) Configured() bool {
	return c.BotToken != "" && c.ChatID != ""
}

const telegramHost = "https://api.telegram.org"

// kindPrefixes map a kind to a short message prefix.
var kindPrefixes = map[Kind]string{
	KindSessionStart: "▶️ session started",
	KindMilestone:    "✅ milestone",
	KindNotification: "💬",
	KindRejection:    "⛔ permission rejected",
	KindHelpNeeded:   "🆘 needs attention",
	KindFailure:      "❌ failed",
}

// Telegram posts messages through the Telegram Bot API.
type Telegram struct {
	creds      Credentials
	host       string
	httpClient *http.Client
	logger     *zap.Logger

	// Bot APIs throttle around one message per second per chat.
	mu           sync.Mutex
	lastPostTime time.Time
	minInterval  time.Duration
}

// Option configures a Telegram notifier.
type Option func(*Telegram)

// WithHost overrides the API host (tests point this at a local server).
func WithHost(host string) Option {
	return func(t *Telegram) { t.host = host }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(t *Telegram) { t.httpClient.Timeout = d }
}

// NewTelegram creates a notifier for the given credentials.
func NewTelegram(creds Credentials, logger *zap.Logger, opts ...Option) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telegram{
		creds:       creds,
		host:        telegramHost,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		minInterval: time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Notify posts one message, rate-limited to the bot API's ceiling.
func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	if !t.creds.Configured() {
		return ErrNotConfigured
	}

	t.throttle(ctx)

	body, err := json.Marshal(sendMessageRequest{
		ChatID: t.creds.ChatID,
		Text:   format(msg),
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.host, t.creds.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting to chat: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed sendMessageResponse
	_ = json.Unmarshal(respBody, &parsed)
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return fmt.Errorf("chat API returned %d: %s", resp.StatusCode, parsed.Description)
	}

	t.logger.Debug("chat notification sent",
		zap.String("kind", string(msg.Kind)),
		zap.String("agent", msg.Agent))
	return nil
}

func (t *Telegram) throttle(ctx context.Context) {
	t.mu.Lock()
	now := time.Now()
	wait := t.lastPostTime.Add(t.minInterval).Sub(now)
	if wait < 0 {
		wait = 0
	}
	// Reserve the slot before sleeping so concurrent senders queue up.
	t.lastPostTime = now.Add(wait)
	t.mu.Unlock()

	if wait == 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func format(msg Message) string {
	prefix := kindPrefixes[msg.Kind]
	if prefix == "" {
		prefix = string(msg.Kind)
	}
	header := prefix
	if msg.Agent != "" {
		header = fmt.Sprintf("%s [%s]", prefix, msg.Agent)
	}
	if msg.Text == "" {
		return header
	}
	return header + "\n" + msg.Text
}

// Nop discards all notifications. Used when an agent has no chat
// credentials.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Message) error { return nil }
