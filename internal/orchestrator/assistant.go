package orchestrator

import (
	"fmt"
	"strings"
)

// AssistantCommand builds the CLI invocations that start or resume assistant
// conversations. The conversation id is always chosen by the orchestrator
// and passed down, so there is never a race between process start and
// session-id detection.
type AssistantCommand struct {
	// Binary is the assistant CLI name (default "claude").
	Binary string
	// ExtraArgs are appended to every invocation.
	ExtraArgs []string
}

// DefaultAssistantCommand returns the claude CLI invocation.
func DefaultAssistantCommand() AssistantCommand {
	return AssistantCommand{Binary: "claude"}
}

// New returns the command line starting a fresh conversation with a
// pre-generated id.
func (a AssistantCommand) New(assistantSessionID string) string {
	return a.join(a.Binary, "--session-id", assistantSessionID)
}

// Resume returns the command line resuming an existing conversation.
func (a AssistantCommand) Resume(assistantSessionID string) string {
	return a.join(a.Binary, "--resume", assistantSessionID)
}

// Fork returns the command line branching a parent conversation into a new
// one under a pre-generated child id.
func (a AssistantCommand) Fork(parentAssistantSessionID, childAssistantSessionID string) string {
	return a.join(a.Binary,
		"--resume", parentAssistantSessionID,
		"--fork-session",
		"--session-id", childAssistantSessionID,
	)
}

func (a AssistantCommand) join(parts ...string) string {
	all := append(parts, a.ExtraArgs...)
	return strings.Join(all, " ")
}

// launchAssistant types an assistant command into a pane and submits it.
func (m *Manager) launchAssistant(paneID, command string) error {
	if err := m.InjectLine(paneID, command); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}
	return nil
}
