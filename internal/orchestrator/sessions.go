package orchestrator

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/bridge"
	"github.com/enruana/claude-orka/internal/state"
)

// shellStartupTimeout bounds the wait for a fresh pane's shell prompt.
const shellStartupTimeout = 5 * time.Second

// CreateSessionOptions configures session creation.
type CreateSessionOptions struct {
	// Name is the human-readable session name. Defaults to the short id.
	Name string
	// ContinueFrom resumes an existing assistant conversation instead of
	// starting a fresh one.
	ContinueFrom string
}

// CreateSession creates a tmux session in the project root, launches the
// assistant with a pre-generated conversation id, starts the bridge
// best-effort, and persists the new session row as active.
func (m *Manager) CreateSession(projectRoot string, opts CreateSessionOptions) (*state.Session, error) {
	store, err := m.store(projectRoot)
	if err != nil {
		return nil, err
	}
	if err := m.mux.CheckInstalled(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	sessionID := newID()
	tmuxName := tmuxSessionName(sessionID)
	name := opts.Name
	if name == "" {
		name = tmuxName
	}

	if err := m.mux.NewSession(tmuxName, projectRoot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := m.applyTheme(projectRoot); err != nil {
		m.logger.Debug("theme apply failed", zap.Error(err))
	}

	mainPane, err := m.mux.MainPane(tmuxName)
	if err != nil {
		_ = m.mux.KillSession(tmuxName)
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	m.waitForShell(mainPane, shellStartupTimeout)

	if err := m.mux.SetPaneTitle(mainPane, "MAIN"); err != nil {
		m.logger.Debug("pane title failed", zap.Error(err))
	}

	// The assistant-session id is fixed before the process starts, so no
	// post-launch detection is ever needed.
	assistantID := opts.ContinueFrom
	command := ""
	if assistantID != "" {
		command = m.assistant.Resume(assistantID)
	} else {
		assistantID = newID()
		command = m.assistant.New(assistantID)
	}
	if err := m.launchAssistant(mainPane, command); err != nil {
		_ = m.mux.KillSession(tmuxName)
		return nil, err
	}

	now := time.Now().UTC()
	sess := &state.Session{
		ID:           sessionID,
		Name:         name,
		CreatedAt:    now,
		LastActivity: now,
		Status:       state.StatusActive,
		TmuxSession:  tmuxName,
		Main: state.Branch{
			AssistantSessionID: assistantID,
			PaneID:             mainPane,
			Status:             state.StatusActive,
		},
		Forks:        []*state.Fork{},
		ActiveBranch: state.MainBranchID,
	}

	m.startBridge(sess)

	if err := store.AddSession(sess); err != nil {
		_ = m.mux.KillSession(tmuxName)
		return nil, err
	}

	m.logger.Info("session created",
		zap.String("session", sessionID),
		zap.String("tmux", tmuxName),
		zap.String("assistantSession", assistantID))
	return sess, nil
}

// startBridge launches the web-terminal bridge best-effort and records its
// endpoint on the session. Failures are logged and swallowed; the bridge is
// independent of correctness.
func (m *Manager) startBridge(sess *state.Session) {
	if m.bridges == nil {
		return
	}
	b, err := m.bridges.Start(sess.TmuxSession)
	if err != nil {
		m.logger.Warn("bridge start failed",
			zap.String("session", sess.ID), zap.Error(err))
		return
	}
	sess.BridgePort = b.Port
	sess.BridgePID = b.PID
}

// applyTheme sources the project theme file into the tmux server.
func (m *Manager) applyTheme(projectRoot string) error {
	return m.mux.SourceFile(state.ThemePath(projectRoot))
}

// ResumeSession brings a saved session back to active. If the tmux session
// survived (host never restarted) it reattaches; otherwise it recreates the
// session and relaunches every non-terminal branch from its stored
// assistant-session id. Calling resume on a live session is idempotent.
func (m *Manager) ResumeSession(projectRoot, sessionID string) (*state.Session, error) {
	store, err := m.store(projectRoot)
	if err != nil {
		return nil, err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	exists, err := m.mux.HasSession(sess.TmuxSession)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if exists {
		if err := m.reattachSession(sess); err != nil {
			return nil, err
		}
	} else {
		if err := m.recoverSession(projectRoot, sess); err != nil {
			return nil, err
		}
	}

	sess.Status = state.StatusActive
	sess.Main.Status = state.StatusActive
	if sess.ActiveBranch == "" {
		sess.ActiveBranch = state.MainBranchID
	}
	sess.Touch()
	if err := store.ReplaceSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// reattachSession refreshes pane ids against a still-running tmux session
// and restarts missing pieces (bridge, fork panes).
func (m *Manager) reattachSession(sess *state.Session) error {
	mainPane, err := m.mux.MainPane(sess.TmuxSession)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sess.Main.PaneID = mainPane

	livePanes, err := m.mux.ListPanes(sess.TmuxSession)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	alive := make(map[string]bool, len(livePanes))
	for _, p := range livePanes {
		alive[p] = true
	}

	for _, fork := range sess.Forks {
		if fork.Terminal() {
			continue
		}
		if fork.PaneID != "" && alive[fork.PaneID] {
			fork.Status = state.StatusActive
			continue
		}
		if err := m.relaunchFork(sess, fork); err != nil {
			m.logger.Warn("fork relaunch failed",
				zap.String("fork", fork.ID), zap.Error(err))
		}
	}

	m.ensureBridge(sess)
	return nil
}

// recoverSession rebuilds a tmux session from persisted state after a host
// restart. Pre-generated assistant-session ids make this deterministic.
func (m *Manager) recoverSession(projectRoot string, sess *state.Session) error {
	if err := m.mux.CheckInstalled(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := m.mux.NewSession(sess.TmuxSession, projectRoot); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := m.applyTheme(projectRoot); err != nil {
		m.logger.Debug("theme apply failed", zap.Error(err))
	}

	mainPane, err := m.mux.MainPane(sess.TmuxSession)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	m.waitForShell(mainPane, shellStartupTimeout)
	_ = m.mux.SetPaneTitle(mainPane, "MAIN")

	sess.Main.PaneID = mainPane
	if err := m.launchAssistant(mainPane, m.assistant.Resume(sess.Main.AssistantSessionID)); err != nil {
		return err
	}

	for _, fork := range sess.Forks {
		if fork.Terminal() {
			continue
		}
		if err := m.relaunchFork(sess, fork); err != nil {
			m.logger.Warn("fork recovery failed",
				zap.String("fork", fork.ID), zap.Error(err))
		}
	}

	m.ensureBridge(sess)
	return nil
}

// relaunchFork re-creates a pane for a non-terminal fork and resumes its
// own conversation (the fork already exists on the assistant side, so this
// is a plain resume, not a re-fork).
func (m *Manager) relaunchFork(sess *state.Session, fork *state.Fork) error {
	parentPane := sess.BranchPane(fork.ParentID)
	if parentPane == "" {
		parentPane = sess.Main.PaneID
	}
	pane, err := m.mux.SplitPane(parentPane, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = m.mux.SetPaneTitle(pane, fork.Name)
	m.waitForShell(pane, shellStartupTimeout)

	if err := m.launchAssistant(pane, m.assistant.Resume(fork.AssistantSessionID)); err != nil {
		_ = m.mux.KillPane(pane)
		return err
	}
	fork.PaneID = pane
	fork.Status = state.StatusActive
	return nil
}

// ensureBridge health-checks the recorded bridge and restarts it if dead.
// Never starts a second bridge for a healthy session.
func (m *Manager) ensureBridge(sess *state.Session) {
	if m.bridges == nil {
		return
	}
	if sess.BridgePort != 0 {
		if m.bridges.Healthy(&bridge.Bridge{Port: sess.BridgePort, PID: sess.BridgePID}) {
			return
		}
	}
	m.startBridge(sess)
}

// CloseSession closes every active fork, stops the bridge, kills the tmux
// session, and marks the session and main branch saved.
func (m *Manager) CloseSession(projectRoot, sessionID string) (*state.Session, error) {
	store, err := m.store(projectRoot)
	if err != nil {
		return nil, err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	m.cancelWaits(sessionID)

	// Close active forks iteratively until none remain; a fork close can in
	// principle reveal another active child on the same parent.
	for {
		closed := false
		for _, fork := range sess.Forks {
			if fork.Status != state.StatusActive {
				continue
			}
			if fork.PaneID != "" {
				_ = m.mux.KillPane(fork.PaneID)
			}
			fork.PaneID = ""
			fork.Status = state.StatusSaved
			closed = true
		}
		if !closed {
			break
		}
	}

	if sess.BridgePort != 0 || sess.BridgePID != 0 {
		if m.bridges != nil {
			b := &bridge.Bridge{Port: sess.BridgePort, PID: sess.BridgePID}
			if err := m.bridges.Stop(b); err != nil {
				m.logger.Warn("bridge stop failed", zap.Error(err))
			}
		}
		sess.BridgePort = 0
		sess.BridgePID = 0
	}

	if exists, _ := m.mux.HasSession(sess.TmuxSession); exists {
		if err := m.mux.KillSession(sess.TmuxSession); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	sess.Status = state.StatusSaved
	sess.Main.Status = state.StatusSaved
	sess.Main.PaneID = ""
	sess.Touch()

	if err := store.ReplaceSession(sess); err != nil {
		return nil, err
	}
	m.logger.Info("session closed", zap.String("session", sessionID))
	return sess, nil
}

// DeleteSession closes the session if active, then removes the row.
// Export artifacts on disk are left untouched.
func (m *Manager) DeleteSession(projectRoot, sessionID string) error {
	store, err := m.store(projectRoot)
	if err != nil {
		return err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.Status == state.StatusActive {
		if _, err := m.CloseSession(projectRoot, sessionID); err != nil {
			return err
		}
	}
	return store.DeleteSession(sessionID)
}

// SelectBranch focuses a branch's pane and records it as the active branch.
func (m *Manager) SelectBranch(projectRoot, sessionID, branchID string) error {
	store, err := m.store(projectRoot)
	if err != nil {
		return err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if !sess.HasBranch(branchID) {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branchID)
	}
	pane := sess.BranchPane(branchID)
	if pane == "" {
		return fmt.Errorf("%w: branch %s has no pane", ErrSessionNotActive, branchID)
	}
	if err := m.mux.SelectPane(pane); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return store.UpdateSession(sessionID, func(s *state.Session) error {
		s.ActiveBranch = branchID
		s.Touch()
		return nil
	})
}

// ActiveBranch returns the focused branch id for a session.
func (m *Manager) ActiveBranch(projectRoot, sessionID string) (string, error) {
	store, err := m.store(projectRoot)
	if err != nil {
		return "", err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	if sess.ActiveBranch == "" {
		return state.MainBranchID, nil
	}
	return sess.ActiveBranch, nil
}

// RecoverProject resumes every session that was active when the process
// last stopped. Per-session failures are logged, not fatal; one dead
// session must not block the rest of the project.
func (m *Manager) RecoverProject(projectRoot string) error {
	store, err := m.store(projectRoot)
	if err != nil {
		return err
	}
	for _, sess := range store.ListSessions(state.ListFilter{Status: state.StatusActive}) {
		if _, err := m.ResumeSession(projectRoot, sess.ID); err != nil {
			m.logger.Warn("session recovery failed",
				zap.String("project", projectRoot),
				zap.String("session", sess.ID),
				zap.Error(err))
		}
	}
	return nil
}
