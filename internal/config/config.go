// Package config manages the user-level configuration document at
// ~/.orka/config.json: registered projects and reserved ports. The document
// is small and rewritten atomically on every change.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/enruana/claude-orka/internal/util"
)

// Common errors
var (
	ErrProjectExists   = errors.New("project already registered")
	ErrProjectNotFound = errors.New("project not registered")
)

// Defaults for reserved ports.
const (
	DefaultServerPort     = 4520
	DefaultHookPort       = 4521
	DefaultBridgeBasePort = 7800
)

// ProjectEntry is one registered project.
type ProjectEntry struct {
	Path       string     `json:"path"`
	Name       string     `json:"name"`
	AddedAt    time.Time  `json:"addedAt"`
	LastOpened *time.Time `json:"lastOpened,omitempty"`
}

// Config is the persisted user-level document.
type Config struct {
	Projects       []ProjectEntry `json:"projects"`
	ServerPort     int            `json:"serverPort"`
	HookPort       int            `json:"hookPort"`
	BridgeBasePort int            `json:"bridgeBasePort"`
	LastUpdated    time.Time      `json:"lastUpdated"`
}

// Manager provides thread-safe access to the user config file.
type Manager struct {
	path string

	mu  sync.Mutex
	cfg *Config
}

// DefaultPath returns ~/.orka/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".orka", "config.json"), nil
}

// NewManager loads (or initializes) the config file at path.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.cfg = &Config{
			Projects:       []ProjectEntry{},
			ServerPort:     DefaultServerPort,
			HookPort:       DefaultHookPort,
			BridgeBasePort: DefaultBridgeBasePort,
		}
		return m.persist()
	}
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = DefaultServerPort
	}
	if cfg.HookPort == 0 {
		cfg.HookPort = DefaultHookPort
	}
	if cfg.BridgeBasePort == 0 {
		cfg.BridgeBasePort = DefaultBridgeBasePort
	}
	m.cfg = &cfg
	return nil
}

func (m *Manager) persist() error {
	m.cfg.LastUpdated = time.Now().UTC()
	return util.AtomicWriteJSON(m.path, m.cfg)
}

// Get returns a copy of the current config.
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := *m.cfg
	cfg.Projects = append([]ProjectEntry(nil), m.cfg.Projects...)
	return cfg
}

// AddProject registers a project path. The path must exist and be a directory.
func (m *Manager) AddProject(path, name string) (ProjectEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ProjectEntry{}, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return ProjectEntry{}, fmt.Errorf("project path: %w", err)
	}
	if !info.IsDir() {
		return ProjectEntry{}, fmt.Errorf("project path is not a directory: %s", abs)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.cfg.Projects {
		if p.Path == abs {
			return ProjectEntry{}, fmt.Errorf("%w: %s", ErrProjectExists, abs)
		}
	}

	entry := ProjectEntry{Path: abs, Name: name, AddedAt: time.Now().UTC()}
	m.cfg.Projects = append(m.cfg.Projects, entry)
	if err := m.persist(); err != nil {
		m.cfg.Projects = m.cfg.Projects[:len(m.cfg.Projects)-1]
		return ProjectEntry{}, err
	}
	return entry, nil
}

// RemoveProject deregisters a project. Files on disk are never deleted.
func (m *Manager) RemoveProject(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.cfg.Projects {
		if p.Path == abs {
			m.cfg.Projects = append(m.cfg.Projects[:i], m.cfg.Projects[i+1:]...)
			return m.persist()
		}
	}
	return fmt.Errorf("%w: %s", ErrProjectNotFound, abs)
}

// Project returns the entry for a registered path.
func (m *Manager) Project(path string) (ProjectEntry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ProjectEntry{}, fmt.Errorf("resolving path: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.cfg.Projects {
		if p.Path == abs {
			return p, nil
		}
	}
	return ProjectEntry{}, fmt.Errorf("%w: %s", ErrProjectNotFound, abs)
}

// TouchProject records that a project was opened.
func (m *Manager) TouchProject(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.cfg.Projects {
		if m.cfg.Projects[i].Path == abs {
			now := time.Now().UTC()
			m.cfg.Projects[i].LastOpened = &now
			return m.persist()
		}
	}
	return fmt.Errorf("%w: %s", ErrProjectNotFound, abs)
}
