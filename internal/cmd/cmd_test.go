package cmd

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/agents"
	"github.com/enruana/claude-orka/internal/config"
	"github.com/enruana/claude-orka/internal/eventbus"
	"github.com/enruana/claude-orka/internal/exitcode"
	"github.com/enruana/claude-orka/internal/orchestrator"
	"github.com/enruana/claude-orka/internal/state"
)

func testToolchain(t *testing.T) (*toolchain, string) {
	t.Helper()
	home := t.TempDir()
	project := t.TempDir()

	cfg, err := config.NewManager(filepath.Join(home, "config.json"))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	registry, err := agents.NewRegistry(filepath.Join(home, "agents.json"))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return &toolchain{
		cfg:      cfg,
		bus:      bus,
		states:   state.NewManager(bus, zap.NewNop()),
		registry: registry,
	}, project
}

func seedSession(t *testing.T, tc *toolchain, project, id, name string) {
	t.Helper()
	store, err := tc.states.Store(project)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	sess := &state.Session{
		ID:          id,
		Name:        name,
		Status:      state.StatusActive,
		TmuxSession: "orka-" + id[:8],
		Main:        state.Branch{AssistantSessionID: id, Status: state.StatusActive},
	}
	if err := store.AddSession(sess); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
}

func TestMatchSession(t *testing.T) {
	tc, project := testToolchain(t)
	seedSession(t, tc, project, "aaaa1111-0000-0000-0000-000000000000", "alpha")
	seedSession(t, tc, project, "bbbb2222-0000-0000-0000-000000000000", "beta")

	if id, err := matchSession(tc, project, "alpha"); err != nil || id[:4] != "aaaa" {
		t.Errorf("by name: id=%q err=%v", id, err)
	}
	if id, err := matchSession(tc, project, "bbbb2222"); err != nil || id[:4] != "bbbb" {
		t.Errorf("by prefix: id=%q err=%v", id, err)
	}
	if _, err := matchSession(tc, project, "ghost"); !errors.Is(err, state.ErrSessionNotFound) {
		t.Errorf("unknown ref: err=%v", err)
	}
}

func TestMatchSessionAmbiguousPrefix(t *testing.T) {
	tc, project := testToolchain(t)
	seedSession(t, tc, project, "cccc1111-0000-0000-0000-000000000000", "one")
	seedSession(t, tc, project, "cccc2222-0000-0000-0000-000000000000", "two")

	if _, err := matchSession(tc, project, "cccc"); err == nil {
		t.Error("ambiguous prefix should be rejected")
	}
}

func TestResolveProjectRequiresRegistration(t *testing.T) {
	tc, project := testToolchain(t)

	if _, err := tc.resolveProject(project); !exitcode.Is(err, exitcode.ErrPrecondition) {
		t.Errorf("unregistered project: exit code = %d, want %d",
			exitcode.Code(err), exitcode.ErrPrecondition)
	}

	if _, err := tc.cfg.AddProject(project, ""); err != nil {
		t.Fatalf("registering project: %v", err)
	}
	got, err := tc.resolveProject(project)
	if err != nil {
		t.Fatalf("registered project refused: %v", err)
	}
	if got == "" {
		t.Error("empty resolved path")
	}
}

func TestCodedMapsRefusals(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{orchestrator.ErrActiveChildExists, exitcode.ErrPrecondition},
		{orchestrator.ErrNoExport, exitcode.ErrPrecondition},
		{config.ErrProjectNotFound, exitcode.ErrPrecondition},
		{errors.New("disk on fire"), exitcode.ErrGeneral},
		{nil, exitcode.Success},
	}
	for _, c := range cases {
		if got := exitcode.Code(coded(c.err)); got != c.want {
			t.Errorf("coded(%v) exit = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestMatchAgent(t *testing.T) {
	tc, project := testToolchain(t)
	seedSession(t, tc, project, "dddd1111-0000-0000-0000-000000000000", "main")
	agent, err := tc.registry.Add(agents.AddOptions{
		Name:        "watcher",
		ProjectPath: project,
		SessionID:   "dddd1111-0000-0000-0000-000000000000",
	})
	if err != nil {
		t.Fatalf("adding agent: %v", err)
	}

	if got, err := matchAgent(tc, "watcher"); err != nil || got.ID != agent.ID {
		t.Errorf("by name: %+v err=%v", got, err)
	}
	if got, err := matchAgent(tc, agent.ID); err != nil || got.ID != agent.ID {
		t.Errorf("by id: %+v err=%v", got, err)
	}
	if _, err := matchAgent(tc, "nobody"); !errors.Is(err, agents.ErrAgentNotFound) {
		t.Errorf("unknown agent: err=%v", err)
	}
}
