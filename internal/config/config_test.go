package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerDefaults(t *testing.T) {
	m := newTestManager(t)
	cfg := m.Get()
	if cfg.ServerPort != DefaultServerPort {
		t.Errorf("ServerPort = %d, want %d", cfg.ServerPort, DefaultServerPort)
	}
	if cfg.HookPort != DefaultHookPort {
		t.Errorf("HookPort = %d, want %d", cfg.HookPort, DefaultHookPort)
	}
	if cfg.BridgeBasePort != DefaultBridgeBasePort {
		t.Errorf("BridgeBasePort = %d, want %d", cfg.BridgeBasePort, DefaultBridgeBasePort)
	}
}

func TestAddRemoveProject(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	entry, err := m.AddProject(dir, "")
	if err != nil {
		t.Fatalf("AddProject: %v", err)
	}
	if entry.Name != filepath.Base(dir) {
		t.Errorf("Name = %q, want directory basename", entry.Name)
	}

	if _, err := m.AddProject(dir, "dup"); !errors.Is(err, ErrProjectExists) {
		t.Errorf("duplicate add err = %v, want ErrProjectExists", err)
	}

	if err := m.RemoveProject(dir); err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	if _, err := m.Project(dir); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("Project after remove err = %v, want ErrProjectNotFound", err)
	}

	// Deregistration never deletes files.
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("project dir disappeared: %v", err)
	}
}

func TestAddProjectRejectsMissingPath(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.AddProject(filepath.Join(t.TempDir(), "missing"), ""); err == nil {
		t.Error("expected error for nonexistent path")
	}
}

func TestConfigPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if _, err := m.AddProject(dir, "demo"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entry, err := reloaded.Project(dir)
	if err != nil {
		t.Fatalf("Project after reload: %v", err)
	}
	if entry.Name != "demo" {
		t.Errorf("Name = %q, want demo", entry.Name)
	}
}

func TestLoadPolicyDefaults(t *testing.T) {
	policy, err := LoadPolicy(t.TempDir())
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if policy.WatchdogIntervalSecs != 30 || policy.VerdictQuorum != 2 {
		t.Errorf("unexpected defaults: %+v", policy)
	}
	if !policy.ToolApproved("edit") {
		t.Error("edit should be auto-approved by default")
	}
	if policy.ToolApproved("bash") {
		t.Error("bash should not be auto-approved by default")
	}
}

func TestLoadPolicyFromFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".orka"), 0755); err != nil {
		t.Fatal(err)
	}
	content := `
auto_approve_tools = ["edit"]
deny_tools = ["bash"]
watchdog_interval_secs = 10
auto_merge_wait_secs = 5
`
	if err := os.WriteFile(PolicyPath(root), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	policy, err := LoadPolicy(root)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if policy.WatchdogIntervalSecs != 10 {
		t.Errorf("WatchdogIntervalSecs = %d, want 10", policy.WatchdogIntervalSecs)
	}
	if !policy.ToolDenied("bash") {
		t.Error("bash should be denied")
	}
	if policy.ToolApproved("write") {
		t.Error("write should not be approved once the file overrides the list")
	}
	// Unset fields keep defaults.
	if policy.VerdictQuorum != 2 {
		t.Errorf("VerdictQuorum = %d, want default 2", policy.VerdictQuorum)
	}
}

func TestLoadPolicyMalformed(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".orka"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(PolicyPath(root), []byte("not toml ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(root); err == nil {
		t.Error("expected error for malformed orka.toml")
	}
}
