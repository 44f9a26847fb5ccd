package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/eventbus"
)

// ErrProjectNotFound is returned for unregistered project paths.
var ErrProjectNotFound = errors.New("project not registered")

// Manager owns one Store per registered project. Stores are created lazily
// on first access and shared for the life of the process; construction is
// explicit at the entry point, never a lazy global.
type Manager struct {
	bus    *eventbus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a store manager publishing changes to bus.
func NewManager(bus *eventbus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		bus:    bus,
		logger: logger,
		stores: make(map[string]*Store),
	}
}

// Bus returns the change bus shared by all stores.
func (m *Manager) Bus() *eventbus.Bus { return m.bus }

// Store returns the store for a project root, creating it on first use.
func (m *Manager) Store(projectRoot string) (*Store, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving project path: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[abs]; ok {
		return store, nil
	}
	store, err := NewStore(abs, m.bus, m.logger)
	if err != nil {
		return nil, err
	}
	m.stores[abs] = store
	return store, nil
}

// Forget drops the cached store for a project (used on deregistration).
// On-disk files are left untouched.
func (m *Manager) Forget(projectRoot string) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, abs)
}
