// Package agents manages the global agent registry at
// ~/.orka-agents/agents.json. An agent is the supervisor configuration for
// one session: what events it reacts to, its watchdog cadence, and the
// chat credentials used for notifications. Agents are global, not part of
// any project's session state.
package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/enruana/claude-orka/internal/chat"
	"github.com/enruana/claude-orka/internal/hooks"
	"github.com/enruana/claude-orka/internal/util"
)

// Common errors
var (
	ErrAgentExists   = errors.New("agent already bound to session")
	ErrAgentNotFound = errors.New("agent not found")
)

// DefaultEnabledEvents is the hook set new agents react to.
var DefaultEnabledEvents = []hooks.EventType{
	hooks.EventSessionStart,
	hooks.EventStop,
	hooks.EventNotification,
	hooks.EventPreToolUse,
	hooks.EventPostToolUse,
	hooks.EventPreCompact,
	hooks.EventPermission,
	hooks.EventError,
}

// Agent is one persisted agent configuration.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProjectPath string `json:"projectPath"`
	SessionID   string `json:"sessionId"`

	// Chat holds opaque chat-bot credentials; empty means no notifications.
	Chat chat.Credentials `json:"chat,omitempty"`

	// EnabledEvents is the hook allow-list; events outside it are dropped.
	EnabledEvents []hooks.EventType `json:"enabledEvents"`

	// WatchdogIntervalSecs overrides the project policy cadence when > 0.
	WatchdogIntervalSecs int `json:"watchdogIntervalSecs,omitempty"`

	Running   bool      `json:"running"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EventEnabled reports whether the agent reacts to an event type.
// Synthetic watchdog ticks are always enabled.
func (a *Agent) EventEnabled(t hooks.EventType) bool {
	if t == hooks.EventWatchdogTick {
		return true
	}
	for _, e := range a.EnabledEvents {
		if e == t {
			return true
		}
	}
	return false
}

type document struct {
	Agents      []*Agent  `json:"agents"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Registry provides thread-safe access to the agents file.
type Registry struct {
	path string

	mu  sync.Mutex
	doc *document
}

// DefaultPath returns ~/.orka-agents/agents.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".orka-agents", "agents.json"), nil
}

// NewRegistry loads (or initializes) the registry at path.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.doc = &document{Agents: []*Agent{}}
		return r.persist()
	}
	if err != nil {
		return fmt.Errorf("reading agents file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing agents file: %w", err)
	}
	// Running flags are runtime state; a restarted process supervises
	// nothing until agents are started again.
	for _, a := range doc.Agents {
		a.Running = false
	}
	r.doc = &doc
	return nil
}

func (r *Registry) persist() error {
	r.doc.LastUpdated = time.Now().UTC()
	return util.AtomicWriteJSON(r.path, r.doc)
}

// AddOptions configures agent creation.
type AddOptions struct {
	Name                 string
	ProjectPath          string
	SessionID            string
	Chat                 chat.Credentials
	EnabledEvents        []hooks.EventType
	WatchdogIntervalSecs int
}

// Add registers a new agent. One agent per session.
func (r *Registry) Add(opts AddOptions) (*Agent, error) {
	abs, err := filepath.Abs(opts.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.doc.Agents {
		if a.SessionID == opts.SessionID {
			return nil, fmt.Errorf("%w: %s has %s", ErrAgentExists, opts.SessionID, a.ID)
		}
	}

	events := opts.EnabledEvents
	if len(events) == 0 {
		events = append([]hooks.EventType(nil), DefaultEnabledEvents...)
	}
	now := time.Now().UTC()
	agent := &Agent{
		ID:                   uuid.NewString(),
		Name:                 opts.Name,
		ProjectPath:          abs,
		SessionID:            opts.SessionID,
		Chat:                 opts.Chat,
		EnabledEvents:        events,
		WatchdogIntervalSecs: opts.WatchdogIntervalSecs,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if agent.Name == "" {
		agent.Name = "agent-" + agent.ID[:8]
	}

	r.doc.Agents = append(r.doc.Agents, agent)
	if err := r.persist(); err != nil {
		r.doc.Agents = r.doc.Agents[:len(r.doc.Agents)-1]
		return nil, err
	}
	copied := *agent
	return &copied, nil
}

// Remove deletes an agent.
func (r *Registry) Remove(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, a := range r.doc.Agents {
		if a.ID == agentID {
			r.doc.Agents = append(r.doc.Agents[:i], r.doc.Agents[i+1:]...)
			return r.persist()
		}
	}
	return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
}

// Get returns a copy of an agent.
func (r *Registry) Get(agentID string) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.doc.Agents {
		if a.ID == agentID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
}

// List returns copies of all agents.
func (r *Registry) List() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Agent, 0, len(r.doc.Agents))
	for _, a := range r.doc.Agents {
		copied := *a
		out = append(out, &copied)
	}
	return out
}

// SetRunning flips the runtime flag.
func (r *Registry) SetRunning(agentID string, running bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.doc.Agents {
		if a.ID == agentID {
			a.Running = running
			a.UpdatedAt = time.Now().UTC()
			return r.persist()
		}
	}
	return fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
}

// Bind implements hooks.Resolver over the registry.
func (r *Registry) Bind(agentID string) (hooks.Binding, error) {
	a, err := r.Get(agentID)
	if err != nil {
		return hooks.Binding{}, fmt.Errorf("%w: %s", hooks.ErrAgentNotFound, agentID)
	}
	return hooks.Binding{
		AgentID:     a.ID,
		ProjectPath: a.ProjectPath,
		SessionID:   a.SessionID,
	}, nil
}
