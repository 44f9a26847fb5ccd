// Package tmux wraps the tmux CLI with stateless operations on sessions and
// panes. The adapter retains no state between calls; callers own sequencing
// and locking. Any terminal multiplexer with detached sessions, addressable
// panes, send-keys, and capture-pane could back the same surface.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/enruana/claude-orka/internal/util"
)

// Common errors
var (
	// ErrTmuxNotFound means the tmux binary is not installed. Fatal at
	// startup; never retried.
	ErrTmuxNotFound = errors.New("tmux binary not found")

	ErrSessionNotFound = errors.New("tmux session not found")
	ErrPaneNotFound    = errors.New("tmux pane not found")
)

// DefaultCommandTimeout bounds every tmux invocation.
const DefaultCommandTimeout = 5 * time.Second

// Tmux is a stateless adapter over the tmux CLI.
type Tmux struct {
	// binary is the tmux executable name or path.
	binary string
	// timeout bounds each invocation.
	timeout time.Duration
}

// NewTmux creates a tmux adapter using "tmux" from PATH.
func NewTmux() *Tmux {
	return &Tmux{binary: "tmux", timeout: DefaultCommandTimeout}
}

// CheckInstalled verifies the tmux binary is available.
// Returns a permanent ErrTmuxNotFound if not.
func (t *Tmux) CheckInstalled() error {
	if _, err := exec.LookPath(t.binary); err != nil {
		return util.MarkPermanent(fmt.Errorf("%w: install tmux and ensure it is on PATH", ErrTmuxNotFound))
	}
	return nil
}

// run executes a tmux command and returns trimmed stdout.
func (t *Tmux) run(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", util.MarkPermanent(fmt.Errorf("%w: %v", ErrTmuxNotFound, err))
		}
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "no server running") ||
			strings.Contains(msg, "session not found") ||
			strings.Contains(msg, "can't find session") {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, msg)
		}
		if strings.Contains(msg, "can't find pane") {
			return "", fmt.Errorf("%w: %s", ErrPaneNotFound, msg)
		}
		return "", fmt.Errorf("tmux %s: %v: %s", args[0], err, msg)
	}
	return strings.TrimSpace(string(out)), nil
}

// runRetry executes a read-only tmux command with transient-failure retries.
// Key-sending writes never go through here: a retried send could deliver
// keystrokes twice.
func (t *Tmux) runRetry(args ...string) (string, error) {
	return util.RetryWithContext(context.Background(), func() (string, error) {
		return t.run(args...)
	})
}

// HasSession reports whether a session with the given name exists.
func (t *Tmux) HasSession(name string) (bool, error) {
	_, err := t.run("has-session", "-t", exactTarget(name))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		if util.IsPermanent(err) {
			return false, err
		}
		// has-session exits non-zero for unknown sessions with varying
		// messages across tmux versions; treat any non-fatal failure as
		// "not present".
		return false, nil
	}
	return true, nil
}

// NewSession creates a detached session rooted at dir.
func (t *Tmux) NewSession(name, dir string) error {
	_, err := t.run("new-session", "-d", "-s", name, "-c", dir)
	return err
}

// KillSession terminates a session and all its panes.
func (t *Tmux) KillSession(name string) error {
	_, err := t.run("kill-session", "-t", exactTarget(name))
	return err
}

// SourceFile loads a tmux configuration file into the server (theming).
func (t *Tmux) SourceFile(path string) error {
	_, err := t.run("source-file", path)
	return err
}

// MainPane returns the pane id of the session's first (top-left) pane.
func (t *Tmux) MainPane(session string) (string, error) {
	out, err := t.runRetry("list-panes", "-t", exactTarget(session), "-F", "#{pane_id}")
	if err != nil {
		return "", err
	}
	panes := strings.Fields(out)
	if len(panes) == 0 {
		return "", fmt.Errorf("%w: session %s has no panes", ErrPaneNotFound, session)
	}
	return panes[0], nil
}

// ListPanes returns all pane ids in a session.
func (t *Tmux) ListPanes(session string) ([]string, error) {
	out, err := t.runRetry("list-panes", "-s", "-t", exactTarget(session), "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Fields(out), nil
}

// GetActivePane returns the currently focused pane id in a session.
func (t *Tmux) GetActivePane(session string) (string, error) {
	out, err := t.runRetry("display-message", "-p", "-t", exactTarget(session), "#{pane_id}")
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("%w: no active pane in %s", ErrPaneNotFound, session)
	}
	return out, nil
}

// SplitPane splits the target pane and returns the new pane's id.
// vertical=true stacks the new pane below; false places it to the right.
func (t *Tmux) SplitPane(target string, vertical bool) (string, error) {
	direction := "-h"
	if vertical {
		direction = "-v"
	}
	out, err := t.run("split-window", direction, "-t", target, "-P", "-F", "#{pane_id}")
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("split-window returned no pane id")
	}
	return out, nil
}

// KillPane closes a single pane.
func (t *Tmux) KillPane(paneID string) error {
	_, err := t.run("kill-pane", "-t", paneID)
	return err
}

// SelectPane focuses a pane.
func (t *Tmux) SelectPane(paneID string) error {
	_, err := t.run("select-pane", "-t", paneID)
	return err
}

// SetPaneTitle sets the title shown in the pane border.
func (t *Tmux) SetPaneTitle(paneID, title string) error {
	_, err := t.run("select-pane", "-t", paneID, "-T", title)
	return err
}

// SendKeys sends literal text to a pane without a trailing Enter.
// Never retried: a duplicate delivery is worse than a failed one.
func (t *Tmux) SendKeys(paneID, text string) error {
	_, err := t.run("send-keys", "-t", paneID, "-l", text)
	return err
}

// SendEnter sends the Enter key to a pane.
func (t *Tmux) SendEnter(paneID string) error {
	_, err := t.run("send-keys", "-t", paneID, "Enter")
	return err
}

// SendEscape sends the Escape key to a pane.
func (t *Tmux) SendEscape(paneID string) error {
	_, err := t.run("send-keys", "-t", paneID, "Escape")
	return err
}

// CapturePane returns the last lines of a pane's visible content.
func (t *Tmux) CapturePane(paneID string, lines int) (string, error) {
	if lines <= 0 {
		lines = 50
	}
	out, err := t.runRetry("capture-pane", "-p", "-t", paneID, "-S", fmt.Sprintf("-%d", lines))
	if err != nil {
		return "", err
	}
	return out, nil
}

// exactTarget prefixes a session name with "=" so tmux does not treat the
// name as a prefix match.
func exactTarget(name string) string {
	return "=" + name
}
