package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/agents"
	"github.com/enruana/claude-orka/internal/bridge"
	"github.com/enruana/claude-orka/internal/config"
	"github.com/enruana/claude-orka/internal/eventbus"
	"github.com/enruana/claude-orka/internal/exitcode"
	"github.com/enruana/claude-orka/internal/orchestrator"
	"github.com/enruana/claude-orka/internal/state"
	"github.com/enruana/claude-orka/internal/tmux"
)

// toolchain bundles the managers a command needs. One-shot commands build
// it, act, and exit; serve keeps it alive for the process lifetime.
type toolchain struct {
	cfg      *config.Manager
	bus      *eventbus.Bus
	states   *state.Manager
	mux      *tmux.Tmux
	orch     *orchestrator.Manager
	registry *agents.Registry
}

// newToolchain constructs the local managers against the user config.
func newToolchain(logger *zap.Logger) (*toolchain, error) {
	cfgPath, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}
	cfg, err := config.NewManager(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	bus := eventbus.New()
	states := state.NewManager(bus, logger)
	mux := tmux.NewTmux()
	bridges := bridge.NewLauncher(cfg.Get().BridgeBasePort, logger)
	orch := orchestrator.NewManager(states, mux, bridges, logger)

	agentsPath, err := agents.DefaultPath()
	if err != nil {
		return nil, err
	}
	registry, err := agents.NewRegistry(agentsPath)
	if err != nil {
		return nil, fmt.Errorf("loading agent registry: %w", err)
	}

	return &toolchain{
		cfg:      cfg,
		bus:      bus,
		states:   states,
		mux:      mux,
		orch:     orch,
		registry: registry,
	}, nil
}

// requireTmux refuses to proceed without a usable tmux binary.
func (tc *toolchain) requireTmux() error {
	if err := tc.mux.CheckInstalled(); err != nil {
		return exitcode.Precondition("tmux is required", err)
	}
	return nil
}

// resolveProject returns the absolute project root from the --project flag
// or the working directory, and requires it to be registered.
func (tc *toolchain) resolveProject(flag string) (string, error) {
	path := flag
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolving working directory: %w", err)
		}
		path = cwd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving project path: %w", err)
	}
	if _, err := tc.cfg.Project(abs); err != nil {
		return "", exitcode.Precondition(
			fmt.Sprintf("project not registered: %s (run 'orka project add')", abs), err)
	}
	return abs, nil
}

// coded reclassifies refused-invariant errors as precondition failures so
// the process exits 2 instead of 1.
func coded(err error) error {
	if err == nil {
		return nil
	}
	for _, refusal := range []error{
		orchestrator.ErrActiveChildExists,
		orchestrator.ErrNoExport,
		orchestrator.ErrSessionNotActive,
		config.ErrProjectExists,
		config.ErrProjectNotFound,
		agents.ErrAgentExists,
	} {
		if errors.Is(err, refusal) {
			return exitcode.Precondition(err.Error(), nil)
		}
	}
	return err
}
