// Package orchestrator owns the lifecycle of sessions, forks, and panes:
// creating tmux sessions, launching the assistant CLI with pre-generated
// conversation ids, recovering after host restarts, and driving the fork
// export/merge protocol. All state mutations round-trip through the state
// store; the orchestrator never writes files itself except export artifacts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/bridge"
	"github.com/enruana/claude-orka/internal/state"
)

// Common errors
var (
	ErrSessionNotActive = errors.New("session is not active")
	ErrBranchNotFound   = errors.New("branch not found")
	// ErrActiveChildExists is the store's sentinel: the final check runs
	// under its write lock, not against the snapshot taken here.
	ErrActiveChildExists = state.ErrActiveChildExists
	ErrNoExport          = errors.New("fork has no export")
	ErrLaunch            = errors.New("failed to launch assistant")
	ErrUnavailable       = errors.New("terminal multiplexer unavailable")
)

// Multiplexer is the subset of the tmux adapter the orchestrator uses.
// *tmux.Tmux satisfies it; tests supply a fake.
type Multiplexer interface {
	CheckInstalled() error
	HasSession(name string) (bool, error)
	NewSession(name, dir string) error
	KillSession(name string) error
	SourceFile(path string) error
	MainPane(session string) (string, error)
	ListPanes(session string) ([]string, error)
	GetActivePane(session string) (string, error)
	SplitPane(target string, vertical bool) (string, error)
	KillPane(paneID string) error
	SelectPane(paneID string) error
	SetPaneTitle(paneID, title string) error
	SendKeys(paneID, text string) error
	SendEnter(paneID string) error
	CapturePane(paneID string, lines int) (string, error)
}

// BridgeLauncher manages the optional web-terminal bridge process.
type BridgeLauncher interface {
	Start(tmuxSession string) (*bridge.Bridge, error)
	Stop(b *bridge.Bridge) error
	Healthy(b *bridge.Bridge) bool
}

// Manager orchestrates sessions and forks across all registered projects.
type Manager struct {
	states  *state.Manager
	mux     Multiplexer
	bridges BridgeLauncher
	logger  *zap.Logger

	// assistant is the CLI used to run conversations.
	assistant AssistantCommand

	// paneMu guards sendKeys+sendEnter pairs per pane so concurrent
	// producers cannot interleave half-typed lines.
	paneMu    sync.Mutex
	paneLocks map[string]*sync.Mutex

	// waitMu tracks cancelable waits (auto-merge sleeps) per session.
	waitMu      sync.Mutex
	waitSeq     int
	waitCancels map[string]map[int]context.CancelFunc
}

// NewManager creates a session orchestrator.
func NewManager(states *state.Manager, mux Multiplexer, bridges BridgeLauncher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		states:      states,
		mux:         mux,
		bridges:     bridges,
		logger:      logger,
		assistant:   DefaultAssistantCommand(),
		paneLocks:   make(map[string]*sync.Mutex),
		waitCancels: make(map[string]map[int]context.CancelFunc),
	}
}

// SetAssistantCommand overrides the assistant CLI invocation (tests, or an
// alternate assistant binary).
func (m *Manager) SetAssistantCommand(cmd AssistantCommand) {
	m.assistant = cmd
}

// store returns the state store for a project.
func (m *Manager) store(projectRoot string) (*state.Store, error) {
	return m.states.Store(projectRoot)
}

// paneLock returns the mutex serializing injections for one pane.
func (m *Manager) paneLock(paneID string) *sync.Mutex {
	m.paneMu.Lock()
	defer m.paneMu.Unlock()
	if mu, ok := m.paneLocks[paneID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	m.paneLocks[paneID] = mu
	return mu
}

// InjectLine types text into a pane and presses Enter as one indivisible
// operation from the point of view of other producers for that pane.
func (m *Manager) InjectLine(paneID, text string) error {
	mu := m.paneLock(paneID)
	mu.Lock()
	defer mu.Unlock()

	if err := m.mux.SendKeys(paneID, text); err != nil {
		return fmt.Errorf("sending keys: %w", err)
	}
	if err := m.mux.SendEnter(paneID); err != nil {
		return fmt.Errorf("sending enter: %w", err)
	}
	return nil
}

// tmuxSessionName derives the multiplexer session name from a session id.
func tmuxSessionName(sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return "orka-" + short
}

// newID allocates a fresh uuid string.
func newID() string {
	return uuid.NewString()
}

// waitForShell polls the pane until a shell prompt appears, bounded by
// timeout. Best-effort: a slow shell just means the assistant command is
// typed a little early into a buffering tty.
func (m *Manager) waitForShell(paneID string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		out, err := m.mux.CapturePane(paneID, 5)
		if err == nil {
			for _, line := range strings.Split(out, "\n") {
				trimmed := strings.TrimSpace(line)
				if strings.HasSuffix(trimmed, "$") || strings.HasSuffix(trimmed, "%") ||
					strings.HasSuffix(trimmed, "❯") || strings.HasSuffix(trimmed, ">") {
					return
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// registerWait records a cancelable wait bound to a session. Closing the
// session cancels it.
func (m *Manager) registerWait(parent context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	m.waitMu.Lock()
	m.waitSeq++
	token := m.waitSeq
	if m.waitCancels[sessionID] == nil {
		m.waitCancels[sessionID] = make(map[int]context.CancelFunc)
	}
	m.waitCancels[sessionID][token] = cancel
	m.waitMu.Unlock()

	release := func() {
		cancel()
		m.waitMu.Lock()
		delete(m.waitCancels[sessionID], token)
		m.waitMu.Unlock()
	}
	return ctx, release
}

// cancelWaits cancels all pending waits for a session.
func (m *Manager) cancelWaits(sessionID string) {
	m.waitMu.Lock()
	cancels := m.waitCancels[sessionID]
	delete(m.waitCancels, sessionID)
	m.waitMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
