package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/eventbus"
	"github.com/enruana/claude-orka/internal/util"
)

// Common errors
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrForkNotFound      = errors.New("fork not found")
	ErrActiveChildExists = errors.New("parent branch already has an active fork")
)

// OrkaDirName is the per-project private directory.
const OrkaDirName = ".orka"

// OrkaDir returns the project's private directory.
func OrkaDir(projectRoot string) string {
	return filepath.Join(projectRoot, OrkaDirName)
}

// StatePath returns the state.json path for a project.
func StatePath(projectRoot string) string {
	return filepath.Join(OrkaDir(projectRoot), "state.json")
}

// ExportsDir returns the directory holding fork export artifacts.
func ExportsDir(projectRoot string) string {
	return filepath.Join(OrkaDir(projectRoot), "exports")
}

// UploadsDir returns the directory holding user uploads.
func UploadsDir(projectRoot string) string {
	return filepath.Join(OrkaDir(projectRoot), "uploads")
}

// ThemePath returns the tmux appearance file for a project.
func ThemePath(projectRoot string) string {
	return filepath.Join(OrkaDir(projectRoot), "theme.conf")
}

// defaultTheme is written to theme.conf on (re)initialization. Sessions
// source it so orka-managed tmux sessions are visually distinct.
const defaultTheme = `# orka tmux theme (regenerated on initialize; edits are overwritten)
set -g status-style "bg=colour236,fg=colour250"
set -g status-left "#[bold] orka:#S "
set -g status-right " %H:%M "
set -g pane-border-style "fg=colour238"
set -g pane-active-border-style "fg=colour110"
set -g pane-border-status top
set -g pane-border-format " #{pane_title} "
`

// Store provides thread-safe access to a single project's state document.
// There is exactly one writer per project: all mutations go through
// WithWrite, which persists by atomic rename before releasing the lock.
type Store struct {
	projectRoot string
	logger      *zap.Logger
	bus         *eventbus.Bus

	mu      sync.Mutex
	project *Project
}

// NewStore creates a store for the given project root and loads (or
// initializes) its state document.
func NewStore(projectRoot string, bus *eventbus.Bus, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		projectRoot: projectRoot,
		logger:      logger.With(zap.String("project", projectRoot)),
		bus:         bus,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// ProjectRoot returns the project root path this store owns.
func (s *Store) ProjectRoot() string { return s.projectRoot }

// load reads state.json, handling first-run, corruption, and schema drift.
func (s *Store) load() error {
	path := StatePath(s.projectRoot)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.project = s.emptyProject()
		return s.initialize()
	}
	if err != nil {
		return fmt.Errorf("reading state file: %w", err)
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		// Availability over durability of the broken file: rename it aside
		// and start fresh rather than refusing to run.
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, aside); renameErr != nil {
			return fmt.Errorf("state file corrupt and could not be moved aside: %w", renameErr)
		}
		s.logger.Error("state file corrupt, moved aside and reinitialized",
			zap.String("backup", aside), zap.Error(err))
		s.project = s.emptyProject()
		return s.initialize()
	}

	if p.ProjectPath == "" {
		p.ProjectPath = s.projectRoot
	}
	s.project = &p

	if p.Version != SchemaVersion {
		s.logger.Info("state schema version changed, refreshing auxiliary files",
			zap.Int("found", p.Version), zap.Int("want", SchemaVersion))
		s.project.Version = SchemaVersion
		return s.initialize()
	}
	return nil
}

// emptyProject returns a fresh document for this project.
func (s *Store) emptyProject() *Project {
	return &Project{
		Version:     SchemaVersion,
		ProjectPath: s.projectRoot,
		Sessions:    []*Session{},
		LastUpdated: time.Now().UTC(),
	}
}

// initialize creates the .orka directory tree, refreshes the theme file,
// and persists the current document. Session rows are never discarded here.
func (s *Store) initialize() error {
	for _, dir := range []string{OrkaDir(s.projectRoot), ExportsDir(s.projectRoot), UploadsDir(s.projectRoot)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := util.AtomicWriteFile(ThemePath(s.projectRoot), []byte(defaultTheme), 0644); err != nil {
		return fmt.Errorf("writing theme: %w", err)
	}
	return s.persist()
}

// persist writes the document atomically. Caller must hold s.mu or be in
// single-threaded initialization.
func (s *Store) persist() error {
	s.project.LastUpdated = time.Now().UTC()
	if err := util.AtomicWriteJSON(StatePath(s.projectRoot), s.project); err != nil {
		return fmt.Errorf("persisting state: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current document. Readers never see
// partial updates.
func (s *Store) Snapshot() *Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project.Clone()
}

// WithWrite runs fn under the project mutex and persists the result by
// atomic rename before the lock is released. If fn returns an error the
// in-memory document is rolled back and nothing is written.
func (s *Store) WithWrite(fn func(*Project) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.project.Clone()
	if err := fn(s.project); err != nil {
		s.project = backup
		return err
	}
	if err := s.persist(); err != nil {
		s.project = backup
		return err
	}
	return nil
}

// publish emits a change event for subscribers (no-op without a bus).
func (s *Store) publish(op eventbus.Op, sessionID string, data interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Change{
		Op:          op,
		ProjectPath: s.projectRoot,
		SessionID:   sessionID,
		Data:        data,
	})
}

// AddSession appends a new session row.
func (s *Store) AddSession(sess *Session) error {
	err := s.WithWrite(func(p *Project) error {
		p.Sessions = append(p.Sessions, sess)
		return nil
	})
	if err == nil {
		s.publish(eventbus.OpSessionCreated, sess.ID, sess.Clone())
	}
	return err
}

// ReplaceSession swaps the stored row for the session with the same id.
func (s *Store) ReplaceSession(sess *Session) error {
	err := s.WithWrite(func(p *Project) error {
		for i, existing := range p.Sessions {
			if existing.ID == sess.ID {
				p.Sessions[i] = sess
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sess.ID)
	})
	if err == nil {
		s.publish(eventbus.OpSessionUpdated, sess.ID, sess.Clone())
	}
	return err
}

// UpdateSession mutates a session row in place under the write lock.
func (s *Store) UpdateSession(sessionID string, fn func(*Session) error) error {
	err := s.WithWrite(func(p *Project) error {
		sess := p.Session(sessionID)
		if sess == nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return fn(sess)
	})
	if err == nil {
		s.publish(eventbus.OpSessionUpdated, sessionID, nil)
	}
	return err
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(sessionID string) error {
	err := s.WithWrite(func(p *Project) error {
		for i, sess := range p.Sessions {
			if sess.ID == sessionID {
				p.Sessions = append(p.Sessions[:i], p.Sessions[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	})
	if err == nil {
		s.publish(eventbus.OpSessionDeleted, sessionID, nil)
	}
	return err
}

// GetSession returns a deep copy of a session row.
func (s *Store) GetSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.project.Session(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.Clone(), nil
}

// ListFilter narrows ListSessions results.
type ListFilter struct {
	// Status limits results to sessions with the given status ("" = all).
	Status Status
}

// ListSessions returns deep copies of session rows matching the filter.
func (s *Store) ListSessions(filter ListFilter) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Session
	for _, sess := range s.project.Sessions {
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		out = append(out, sess.Clone())
	}
	return out
}

// AddFork appends a fork to a session. The one-active-child-per-parent
// invariant is re-checked here, under the write lock: callers validate
// against a snapshot, and two concurrent creates can both pass that check.
func (s *Store) AddFork(sessionID string, fork *Fork) error {
	return s.UpdateSession(sessionID, func(sess *Session) error {
		if fork.Status == StatusActive {
			if child := sess.ActiveChild(fork.ParentID); child != nil {
				return fmt.Errorf("%w: %s has active child %s",
					ErrActiveChildExists, fork.ParentID, child.ID)
			}
		}
		sess.Forks = append(sess.Forks, fork)
		sess.Touch()
		return nil
	})
}

// UpdateFork mutates a fork row in place under the write lock.
func (s *Store) UpdateFork(sessionID, forkID string, fn func(*Fork) error) error {
	return s.UpdateSession(sessionID, func(sess *Session) error {
		fork := sess.Fork(forkID)
		if fork == nil {
			return fmt.Errorf("%w: %s", ErrForkNotFound, forkID)
		}
		sess.Touch()
		return fn(fork)
	})
}

// DeleteFork removes a fork row.
func (s *Store) DeleteFork(sessionID, forkID string) error {
	return s.UpdateSession(sessionID, func(sess *Session) error {
		for i, f := range sess.Forks {
			if f.ID == forkID {
				sess.Forks = append(sess.Forks[:i], sess.Forks[i+1:]...)
				sess.Touch()
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrForkNotFound, forkID)
	})
}

// GetFork returns a copy of a fork row.
func (s *Store) GetFork(sessionID, forkID string) (*Fork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.project.Session(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	fork := sess.Fork(forkID)
	if fork == nil {
		return nil, fmt.Errorf("%w: %s", ErrForkNotFound, forkID)
	}
	cp := *fork
	return &cp, nil
}
