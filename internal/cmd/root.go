// Package cmd provides the CLI commands for the orka tool.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enruana/claude-orka/internal/exitcode"
	"github.com/enruana/claude-orka/internal/style"
)

// Version is the CLI version, overridable at link time.
var Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:     "orka",
	Short:   "Orchestrate assistant sessions under tmux",
	Version: Version,
	Long: `orka manages long-lived interactive assistant sessions: tmux panes,
conversation forks with export/merge, autonomous hook-driven agents, and a
local control surface for the web UI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command group IDs used to organize help output.
const (
	GroupSessions = "sessions"
	GroupAgents   = "agents"
	GroupServices = "services"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: GroupSessions, Title: "Sessions:"},
		&cobra.Group{ID: GroupAgents, Title: "Agents:"},
		&cobra.Group{ID: GroupServices, Title: "Services:"},
	)
	rootCmd.SetHelpCommandGroupID(GroupServices)
	rootCmd.SetCompletionCommandGroupID(GroupServices)
}

// Execute runs the root command and returns the process exit code:
// 0 success, 1 general failure, 2 refused precondition.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
		return exitcode.Code(err)
	}
	return exitcode.Success
}
