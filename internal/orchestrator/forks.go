package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/config"
	"github.com/enruana/claude-orka/internal/state"
)

// CreateForkOptions configures fork creation.
type CreateForkOptions struct {
	// Name is the human-readable fork name. Defaults to the short fork id.
	Name string
	// ParentID is "main" or another fork id. Defaults to "main".
	ParentID string
	// Vertical stacks the new pane below the parent instead of beside it.
	Vertical bool
}

// CreateFork splits the parent branch's pane and launches a branched
// continuation of the parent conversation under a pre-generated child id.
// Each parent may have at most one active child fork; violations are
// rejected before any pane is touched.
func (m *Manager) CreateFork(projectRoot, sessionID string, opts CreateForkOptions) (*state.Fork, error) {
	store, err := m.store(projectRoot)
	if err != nil {
		return nil, err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != state.StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotActive, sessionID)
	}

	parentID := opts.ParentID
	if parentID == "" {
		parentID = state.MainBranchID
	}
	if !sess.HasBranch(parentID) {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, parentID)
	}
	if child := sess.ActiveChild(parentID); child != nil {
		return nil, fmt.Errorf("%w: %s has active child %s", ErrActiveChildExists, parentID, child.ID)
	}
	parentPane := sess.BranchPane(parentID)
	if parentPane == "" {
		return nil, fmt.Errorf("%w: parent %s has no pane", ErrSessionNotActive, parentID)
	}
	parentAssistantID := sess.BranchAssistantSessionID(parentID)
	if parentAssistantID == "" {
		return nil, fmt.Errorf("%w: parent %s has no assistant session", ErrBranchNotFound, parentID)
	}

	// Both ids exist before the multiplexer is touched; a crash after this
	// point can always be recovered from persisted state.
	forkID := newID()
	forkAssistantID := newID()
	name := opts.Name
	if name == "" {
		name = "fork-" + forkID[:8]
	}

	pane, err := m.mux.SplitPane(parentPane, opts.Vertical)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	_ = m.mux.SetPaneTitle(pane, name)
	m.waitForShell(pane, shellStartupTimeout)

	if err := m.launchAssistant(pane, m.assistant.Fork(parentAssistantID, forkAssistantID)); err != nil {
		_ = m.mux.KillPane(pane)
		return nil, err
	}

	fork := &state.Fork{
		ID:                 forkID,
		Name:               name,
		ParentID:           parentID,
		AssistantSessionID: forkAssistantID,
		PaneID:             pane,
		Status:             state.StatusActive,
		CreatedAt:          time.Now().UTC(),
	}
	if err := store.AddFork(sessionID, fork); err != nil {
		_ = m.mux.KillPane(pane)
		return nil, err
	}

	m.logger.Info("fork created",
		zap.String("session", sessionID),
		zap.String("fork", forkID),
		zap.String("parent", parentID),
		zap.String("assistantSession", forkAssistantID))
	return fork, nil
}

// CloseFork kills the fork's pane and marks it closed (terminal).
func (m *Manager) CloseFork(projectRoot, sessionID, forkID string) error {
	store, err := m.store(projectRoot)
	if err != nil {
		return err
	}
	fork, err := store.GetFork(sessionID, forkID)
	if err != nil {
		return err
	}
	if fork.PaneID != "" {
		_ = m.mux.KillPane(fork.PaneID)
	}
	return store.UpdateFork(sessionID, forkID, func(f *state.Fork) error {
		f.PaneID = ""
		f.Status = state.StatusClosed
		return nil
	})
}

// DeleteFork kills the fork's pane if present and removes the row.
func (m *Manager) DeleteFork(projectRoot, sessionID, forkID string) error {
	store, err := m.store(projectRoot)
	if err != nil {
		return err
	}
	fork, err := store.GetFork(sessionID, forkID)
	if err != nil {
		return err
	}
	if fork.PaneID != "" {
		_ = m.mux.KillPane(fork.PaneID)
	}
	return store.DeleteFork(sessionID, forkID)
}

// exportFileName builds the timestamped artifact name for a fork.
func exportFileName(forkName string, now time.Time) string {
	ts := now.UTC().Format("2006-01-02T15-04-05Z")
	return fmt.Sprintf("fork-%s-%s.md", slugify(forkName), ts)
}

// slugify reduces a fork name to a filesystem-safe token.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "fork"
	}
	return slug
}

// ExportFork injects the export prompt into the fork's pane and records the
// target path. The artifact is written asynchronously by the assistant; the
// returned relative path may not exist yet and the caller must wait before
// merging.
func (m *Manager) ExportFork(projectRoot, sessionID, forkID string) (string, error) {
	store, err := m.store(projectRoot)
	if err != nil {
		return "", err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	fork := sess.Fork(forkID)
	if fork == nil {
		return "", fmt.Errorf("%w: %s", state.ErrForkNotFound, forkID)
	}
	if fork.PaneID == "" || fork.Status != state.StatusActive {
		return "", fmt.Errorf("%w: fork %s", ErrSessionNotActive, forkID)
	}

	fileName := exportFileName(fork.Name, time.Now())
	absPath := filepath.Join(state.ExportsDir(projectRoot), fileName)
	relPath := filepath.Join(state.OrkaDirName, "exports", fileName)

	if err := m.InjectLine(fork.PaneID, exportPrompt(absPath)); err != nil {
		return "", fmt.Errorf("injecting export prompt: %w", err)
	}

	if err := store.UpdateFork(sessionID, forkID, func(f *state.Fork) error {
		f.ContextPath = relPath
		return nil
	}); err != nil {
		return "", err
	}

	m.logger.Info("fork export requested",
		zap.String("session", sessionID),
		zap.String("fork", forkID),
		zap.String("path", relPath))
	return relPath, nil
}

// resolveExport locates a fork's export artifact. If the recorded path is
// gone (the assistant wrote a differently-timestamped file, or the user
// renamed it) the newest sibling matching fork-<name>-*.md is adopted.
func (m *Manager) resolveExport(projectRoot string, fork *state.Fork) (string, error) {
	if fork.ContextPath == "" {
		return "", fmt.Errorf("%w: fork %s was never exported", ErrNoExport, fork.ID)
	}

	recorded := filepath.Join(projectRoot, fork.ContextPath)
	if info, err := os.Stat(recorded); err == nil && info.Size() > 0 {
		return recorded, nil
	}

	// The glob alone is too loose: a sibling fork named "feature-2" also
	// matches "fork-feature-*". The timestamp tail anchors the slug.
	slug := slugify(fork.Name)
	pattern := filepath.Join(state.ExportsDir(projectRoot), fmt.Sprintf("fork-%s-*.md", slug))
	candidates, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: no artifact matching %s", ErrNoExport, pattern)
	}
	tail := regexp.MustCompile(`^fork-` + regexp.QuoteMeta(slug) +
		`-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}Z\.md$`)
	var matches []string
	for _, c := range candidates {
		if tail.MatchString(filepath.Base(c)) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no artifact matching %s", ErrNoExport, pattern)
	}

	// Newest by modification time wins.
	sort.Slice(matches, func(i, j int) bool {
		ii, ierr := os.Stat(matches[i])
		jj, jerr := os.Stat(matches[j])
		if ierr != nil || jerr != nil {
			return matches[i] > matches[j]
		}
		return ii.ModTime().After(jj.ModTime())
	})
	for _, candidate := range matches {
		if info, err := os.Stat(candidate); err == nil && info.Size() > 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: artifacts exist but are empty", ErrNoExport)
}

// MergeFork injects the merge prompt into the parent branch, kills the
// fork's pane, and marks the fork merged. Refused (never retried) if the
// fork is already terminal or no export artifact can be found.
func (m *Manager) MergeFork(projectRoot, sessionID, forkID string) error {
	store, err := m.store(projectRoot)
	if err != nil {
		return err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return err
	}
	fork := sess.Fork(forkID)
	if fork == nil {
		return fmt.Errorf("%w: %s", state.ErrForkNotFound, forkID)
	}
	if fork.Terminal() {
		return fmt.Errorf("%w: fork %s is already %s", ErrSessionNotActive, forkID, fork.Status)
	}

	absPath, err := m.resolveExport(projectRoot, fork)
	if err != nil {
		return err
	}
	relPath, relErr := filepath.Rel(projectRoot, absPath)
	if relErr != nil {
		relPath = fork.ContextPath
	}

	parentPane := sess.BranchPane(fork.ParentID)
	if parentPane == "" {
		return fmt.Errorf("%w: parent %s has no pane", ErrSessionNotActive, fork.ParentID)
	}
	if err := m.InjectLine(parentPane, mergePrompt(fork.Name, relPath)); err != nil {
		return fmt.Errorf("injecting merge prompt: %w", err)
	}

	if fork.PaneID != "" {
		_ = m.mux.KillPane(fork.PaneID)
	}

	now := time.Now().UTC()
	if err := store.UpdateFork(sessionID, forkID, func(f *state.Fork) error {
		f.PaneID = ""
		f.Status = state.StatusMerged
		f.ContextPath = relPath
		f.MergedAt = &now
		return nil
	}); err != nil {
		return err
	}

	m.logger.Info("fork merged",
		zap.String("session", sessionID),
		zap.String("fork", forkID),
		zap.String("export", relPath))
	return nil
}

// AutoMerge exports a fork, waits for the assistant to materialize the
// artifact, then merges. The wait is cancelable by closing the session or
// canceling ctx; cancellation is not an error surfaced to the user.
func (m *Manager) AutoMerge(ctx context.Context, projectRoot, sessionID, forkID string) error {
	policy, err := config.LoadPolicy(projectRoot)
	if err != nil {
		return err
	}

	if _, err := m.ExportFork(projectRoot, sessionID, forkID); err != nil {
		return err
	}

	waitCtx, release := m.registerWait(ctx, sessionID)
	defer release()

	select {
	case <-waitCtx.Done():
		m.logger.Info("auto-merge canceled",
			zap.String("session", sessionID), zap.String("fork", forkID))
		return waitCtx.Err()
	case <-time.After(policy.AutoMergeWait()):
	}

	return m.MergeFork(projectRoot, sessionID, forkID)
}
