package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/enruana/claude-orka/internal/eventbus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func testSession(id string) *Session {
	return &Session{
		ID:          id,
		Name:        "test-" + id,
		CreatedAt:   time.Now().UTC(),
		Status:      StatusActive,
		TmuxSession: "orka-" + id,
		Main: Branch{
			AssistantSessionID: "asst-" + id,
			PaneID:             "%1",
			Status:             StatusActive,
		},
	}
}

func TestNewStoreInitializesLayout(t *testing.T) {
	root := t.TempDir()
	if _, err := NewStore(root, nil, nil); err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for _, path := range []string{
		StatePath(root),
		ExportsDir(root),
		UploadsDir(root),
		ThemePath(root),
	} {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing %s: %v", path, err)
		}
	}
}

func TestAddGetSession(t *testing.T) {
	store := newTestStore(t)

	sess := testSession("s1")
	if err := store.AddSession(sess); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	got, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Main.AssistantSessionID != "asst-s1" {
		t.Errorf("assistant session id = %q, want asst-s1", got.Main.AssistantSessionID)
	}

	// GetSession must return a copy, not the stored row.
	got.Name = "mutated"
	again, _ := store.GetSession("s1")
	if again.Name == "mutated" {
		t.Error("GetSession leaked a reference to the stored session")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetSession("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestWithWriteRollbackOnError(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddSession(testSession("s1")); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	wantErr := errors.New("boom")
	err := store.WithWrite(func(p *Project) error {
		p.Sessions = nil
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want boom", err)
	}

	if got := store.Snapshot(); len(got.Sessions) != 1 {
		t.Errorf("sessions = %d after rollback, want 1", len(got.Sessions))
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, nil, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	sess := testSession("s1")
	fork := &Fork{
		ID:                 "f1",
		Name:               "planets",
		ParentID:           MainBranchID,
		AssistantSessionID: "asst-f1",
		Status:             StatusActive,
		CreatedAt:          time.Now().UTC(),
	}
	sess.Forks = append(sess.Forks, fork)
	if err := store.AddSession(sess); err != nil {
		t.Fatalf("AddSession: %v", err)
	}

	// A second store over the same root simulates a restart.
	reloaded, err := NewStore(root, nil, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, err := reloaded.GetFork("s1", "f1")
	if err != nil {
		t.Fatalf("GetFork after reload: %v", err)
	}
	if got.AssistantSessionID != "asst-f1" {
		t.Errorf("fork assistant id = %q, want asst-f1 (pre-generated ids must survive restarts)", got.AssistantSessionID)
	}
}

func TestCorruptStateMovedAside(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(OrkaDir(root), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(StatePath(root), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(root, nil, nil)
	if err != nil {
		t.Fatalf("NewStore on corrupt file: %v", err)
	}
	if n := len(store.Snapshot().Sessions); n != 0 {
		t.Errorf("sessions = %d, want 0 after reinit", n)
	}

	entries, err := os.ReadDir(OrkaDir(root))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "state.json.corrupt-") {
			found = true
		}
	}
	if !found {
		t.Error("corrupt file was not moved aside")
	}
}

func TestVersionMismatchKeepsSessions(t *testing.T) {
	root := t.TempDir()
	store, err := NewStore(root, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.AddSession(testSession("s1")); err != nil {
		t.Fatal(err)
	}

	// Rewrite with a stale version tag and remove the theme file.
	data, err := os.ReadFile(StatePath(root))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	doc["version"] = 1
	data, _ = json.Marshal(doc)
	if err := os.WriteFile(StatePath(root), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(ThemePath(root)); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewStore(root, nil, nil)
	if err != nil {
		t.Fatalf("reload with stale version: %v", err)
	}
	if n := len(reloaded.Snapshot().Sessions); n != 1 {
		t.Errorf("sessions = %d after migration, want 1 (rows must survive)", n)
	}
	if _, err := os.Stat(ThemePath(root)); err != nil {
		t.Error("theme.conf was not refreshed on migration")
	}
	if got := reloaded.Snapshot().Version; got != SchemaVersion {
		t.Errorf("version = %d, want %d", got, SchemaVersion)
	}
}

func TestActiveChildInvariantHelpers(t *testing.T) {
	sess := testSession("s1")
	sess.Forks = []*Fork{
		{ID: "f1", ParentID: MainBranchID, Status: StatusActive},
		{ID: "f2", ParentID: MainBranchID, Status: StatusSaved},
		{ID: "f3", ParentID: "f1", Status: StatusActive},
	}

	if got := sess.ActiveChild(MainBranchID); got == nil || got.ID != "f1" {
		t.Errorf("ActiveChild(main) = %v, want f1", got)
	}
	if got := sess.ActiveChild("f1"); got == nil || got.ID != "f3" {
		t.Errorf("ActiveChild(f1) = %v, want f3", got)
	}
	if got := sess.ActiveChild("f2"); got != nil {
		t.Errorf("ActiveChild(f2) = %v, want nil", got)
	}
}

func TestChangeBusPublishes(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	store, err := NewStore(t.TempDir(), bus, nil)
	if err != nil {
		t.Fatal(err)
	}

	ch, unsub := bus.Subscribe()
	defer unsub()

	if err := store.AddSession(testSession("s1")); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-ch:
		if c.Op != eventbus.OpSessionCreated || c.SessionID != "s1" {
			t.Errorf("change = %+v, want session_created/s1", c)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published for AddSession")
	}
}

func TestDeleteFork(t *testing.T) {
	store := newTestStore(t)
	sess := testSession("s1")
	sess.Forks = []*Fork{{ID: "f1", ParentID: MainBranchID, Status: StatusActive}}
	if err := store.AddSession(sess); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteFork("s1", "f1"); err != nil {
		t.Fatalf("DeleteFork: %v", err)
	}
	if _, err := store.GetFork("s1", "f1"); !errors.Is(err, ErrForkNotFound) {
		t.Errorf("err = %v, want ErrForkNotFound", err)
	}
}

func TestStatePathLayout(t *testing.T) {
	if got := StatePath("/tmp/demo"); got != filepath.Join("/tmp/demo", ".orka", "state.json") {
		t.Errorf("StatePath = %q", got)
	}
}

func TestAddForkEnforcesSingleActiveChild(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddSession(testSession("s1")); err != nil {
		t.Fatal(err)
	}

	if err := store.AddFork("s1", &Fork{ID: "f1", ParentID: MainBranchID, Status: StatusActive}); err != nil {
		t.Fatalf("first fork: %v", err)
	}
	err := store.AddFork("s1", &Fork{ID: "f2", ParentID: MainBranchID, Status: StatusActive})
	if !errors.Is(err, ErrActiveChildExists) {
		t.Fatalf("second active fork err = %v, want ErrActiveChildExists", err)
	}
	if _, err := store.GetFork("s1", "f2"); !errors.Is(err, ErrForkNotFound) {
		t.Errorf("refused fork was persisted: err = %v", err)
	}

	// Non-active rows and other parents are not competing children.
	if err := store.AddFork("s1", &Fork{ID: "f3", ParentID: MainBranchID, Status: StatusClosed}); err != nil {
		t.Fatalf("closed fork refused: %v", err)
	}
	if err := store.AddFork("s1", &Fork{ID: "f4", ParentID: "f1", Status: StatusActive}); err != nil {
		t.Fatalf("fork under f1 refused: %v", err)
	}
}
