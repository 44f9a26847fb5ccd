// Package supervisor runs one autonomous daemon per agent: a serial event
// loop fed by the hook receiver and a watchdog timer, a deterministic fast
// path over parsed terminal state, and an LLM fallback for everything
// ambiguous. Actions are written back into the session's pane through the
// orchestrator's pane-serialized injector.
package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/agents"
	"github.com/enruana/claude-orka/internal/chat"
	"github.com/enruana/claude-orka/internal/config"
	"github.com/enruana/claude-orka/internal/hooks"
	"github.com/enruana/claude-orka/internal/llm"
	"github.com/enruana/claude-orka/internal/state"
)

// Common errors
var (
	ErrAgentRunning    = errors.New("agent already running")
	ErrAgentNotRunning = errors.New("agent not running")
	ErrQueueFull       = errors.New("agent event queue full")
)

// queueDepth bounds the inbound queue per agent. Hooks beyond it are
// rejected so the receiver can signal backpressure instead of blocking.
// Sized above the largest burst a single assistant session produces
// (tool-use storms run to ~1000 events back to back).
const queueDepth = 1024

// stopDeadline bounds how long Stop waits for the loop to drain.
const stopDeadline = 10 * time.Second

// Terminal is the pane access the supervisor needs. *tmux.Tmux satisfies
// it.
type Terminal interface {
	CapturePane(paneID string, lines int) (string, error)
	SendEscape(paneID string) error
}

// Injector types a line into a pane and submits it, serialized per pane.
// *orchestrator.Manager satisfies it.
type Injector interface {
	InjectLine(paneID, text string) error
}

// NotifierFactory builds a chat notifier from an agent's credentials.
type NotifierFactory func(creds chat.Credentials) chat.Notifier

func defaultNotifierFactory(logger *zap.Logger) NotifierFactory {
	return func(creds chat.Credentials) chat.Notifier {
		if !creds.Configured() {
			return chat.Nop{}
		}
		return chat.NewTelegram(creds, logger)
	}
}

// Manager owns the per-agent runtimes. It implements hooks.Dispatcher so
// the receiver can hand events straight to it.
type Manager struct {
	registry *agents.Registry
	states   *state.Manager
	term     Terminal
	injector Injector
	decider  llm.Decider
	logger   *zap.Logger

	notifiers NotifierFactory

	mu       sync.Mutex
	runtimes map[string]*runtime
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifierFactory overrides how chat notifiers are built (tests).
func WithNotifierFactory(f NotifierFactory) Option {
	return func(m *Manager) { m.notifiers = f }
}

// NewManager creates a supervisor manager.
func NewManager(registry *agents.Registry, states *state.Manager, term Terminal,
	injector Injector, decider llm.Decider, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		registry:  registry,
		states:    states,
		term:      term,
		injector:  injector,
		decider:   decider,
		logger:    logger,
		notifiers: defaultNotifierFactory(logger),
		runtimes:  make(map[string]*runtime),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the agent's event loop and watchdog.
func (m *Manager) Start(agentID string) error {
	agent, err := m.registry.Get(agentID)
	if err != nil {
		return err
	}
	policy, err := config.LoadPolicy(agent.ProjectPath)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runtimes[agentID]; ok {
		return fmt.Errorf("%w: %s", ErrAgentRunning, agentID)
	}

	rt := newRuntime(m, agent, policy, m.notifiers(agent.Chat))
	m.runtimes[agentID] = rt
	rt.start()

	if err := m.registry.SetRunning(agentID, true); err != nil {
		m.logger.Warn("marking agent running", zap.Error(err))
	}
	m.logger.Info("agent started",
		zap.String("agent", agentID),
		zap.String("session", agent.SessionID))
	return nil
}

// Stop cancels the agent's in-flight work, tears down its watchdog, and
// drains the queue. Returns once the loop has exited or the deadline
// passes.
func (m *Manager) Stop(agentID string) error {
	m.mu.Lock()
	rt, ok := m.runtimes[agentID]
	if ok {
		delete(m.runtimes, agentID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotRunning, agentID)
	}

	rt.stop(stopDeadline)

	if err := m.registry.SetRunning(agentID, false); err != nil {
		m.logger.Warn("marking agent stopped", zap.Error(err))
	}
	m.logger.Info("agent stopped", zap.String("agent", agentID))
	return nil
}

// StopAll stops every running agent (process shutdown).
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// Dispatch implements hooks.Dispatcher: enqueue for the agent's serial
// loop. Rejected when the agent is not running or its queue is full.
func (m *Manager) Dispatch(agentID string, ev hooks.Event) error {
	m.mu.Lock()
	rt, ok := m.runtimes[agentID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotRunning, agentID)
	}
	return rt.enqueue(ev)
}

// Running reports whether the agent has a live runtime.
func (m *Manager) Running(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runtimes[agentID]
	return ok
}

// Log returns the agent's recent decision log, oldest first.
func (m *Manager) Log(agentID string) ([]LogEntry, error) {
	m.mu.Lock()
	rt, ok := m.runtimes[agentID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRunning, agentID)
	}
	return rt.log.Entries(), nil
}
