// Package llm provides the decision fallback: when the deterministic fast
// path cannot classify an event, the supervisor asks an external language
// model for a structured verdict.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/util"
)

// Action is what the supervisor should do with the session.
type Action string

const (
	ActionRespond     Action = "respond"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionWait        Action = "wait"
	ActionRequestHelp Action = "request_help"
	ActionCompact     Action = "compact"
	ActionClear       Action = "clear"
	ActionEscape      Action = "escape"
)

var validActions = map[Action]bool{
	ActionRespond:     true,
	ActionApprove:     true,
	ActionReject:      true,
	ActionWait:        true,
	ActionRequestHelp: true,
	ActionCompact:     true,
	ActionClear:       true,
	ActionEscape:      true,
}

// Request is the structured case submitted to the model.
type Request struct {
	// Event is the triggering hook payload, serialized as JSON.
	Event json.RawMessage `json:"event"`
	// TerminalText is the captured tail of the session's pane.
	TerminalText string `json:"terminalText"`
	// History is the agent's recent decision log, oldest first.
	History []string `json:"history,omitempty"`
}

// Decision is the structured verdict.
type Decision struct {
	Action   Action `json:"action"`
	Response string `json:"response,omitempty"`
	Reason   string `json:"reason"`
}

// Decider produces a decision for an ambiguous supervisor case.
type Decider interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

// ErrNoAPIKey means the client was constructed without credentials.
var ErrNoAPIKey = errors.New("missing LLM API key")

// ErrBadVerdict means the model replied with something that is not one of
// the allowed actions.
var ErrBadVerdict = errors.New("model returned an invalid verdict")

const (
	defaultHost         = "https://api.anthropic.com"
	defaultModel        = "claude-3-5-haiku-latest"
	defaultTimeout      = 20 * time.Second
	anthropicAPIVersion = "2023-06-01"
)

const systemPrompt = `You supervise an interactive CLI coding assistant running in a terminal.
Given a lifecycle event and the terminal's recent output, decide the single next step.
Reply with JSON only, no prose: {"action": "...", "response": "...", "reason": "..."}.
action must be one of: respond, approve, reject, wait, request_help, compact, clear, escape.
Use "respond" with a short response string when the assistant asked a question you can answer.
Use "wait" when the assistant is working and needs nothing.
Use "request_help" when a human must intervene.`

// Client calls the Anthropic Messages API for decisions.
type Client struct {
	host       string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHost overrides the API host (tests point this at a local server).
func WithHost(host string) Option {
	return func(c *Client) { c.host = strings.TrimRight(host, "/") }
}

// WithModel overrides the decision model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a decision client. The key falls back to the
// ANTHROPIC_API_KEY environment variable.
func NewClient(apiKey string, logger *zap.Logger, opts ...Option) *Client {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		host:       defaultHost,
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Error   *apiError      `json:"error,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Decide submits the case and parses the verdict. Transient network
// failures get exactly one retry with jittered backoff; HTTP 4xx and
// malformed verdicts are permanent.
func (c *Client) Decide(ctx context.Context, req Request) (Decision, error) {
	if c.apiKey == "" {
		return Decision{}, ErrNoAPIKey
	}

	userContent, err := json.Marshal(req)
	if err != nil {
		return Decision{}, fmt.Errorf("encoding request: %w", err)
	}

	cfg := util.RetryConfig{
		MaxAttempts:  2,
		InitialDelay: 500 * time.Millisecond,
		Jitter:       true,
		// Everything not explicitly marked permanent (4xx, malformed
		// verdicts) is a transient network condition worth one retry.
		IsRetryable: func(err error) bool { return !util.IsPermanent(err) },
	}
	return util.Retry(ctx, cfg, func() (Decision, error) {
		return c.decideOnce(ctx, userContent)
	})
}

func (c *Client) decideOnce(ctx context.Context, userContent []byte) (Decision, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: 512,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: string(userContent)}},
	})
	if err != nil {
		return Decision{}, util.MarkPermanent(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return Decision{}, util.MarkPermanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Decision{}, fmt.Errorf("calling model: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Decision{}, fmt.Errorf("reading model response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Decision{}, fmt.Errorf("model returned %d: %s",
			resp.StatusCode, truncate(respBody, 200))
	}
	if resp.StatusCode != http.StatusOK {
		return Decision{}, util.MarkPermanent(
			fmt.Errorf("model returned %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Decision{}, util.MarkPermanent(fmt.Errorf("decoding model response: %w", err))
	}
	if parsed.Error != nil {
		return Decision{}, util.MarkPermanent(
			fmt.Errorf("model error %s: %s", parsed.Error.Type, parsed.Error.Message))
	}

	text := ""
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	decision, err := parseDecision(text)
	if err != nil {
		return Decision{}, util.MarkPermanent(err)
	}
	c.logger.Debug("llm verdict",
		zap.String("action", string(decision.Action)),
		zap.String("reason", decision.Reason))
	return decision, nil
}

// parseDecision extracts the JSON verdict from the model's text, tolerating
// a fenced code block around it.
func parseDecision(text string) (Decision, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			text = text[start : end+1]
		}
	}

	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBadVerdict, err)
	}
	if !validActions[d.Action] {
		return Decision{}, fmt.Errorf("%w: action %q", ErrBadVerdict, d.Action)
	}
	return d, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
