package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/orchestrator"
	"github.com/enruana/claude-orka/internal/state"
	"github.com/enruana/claude-orka/internal/style"
)

var (
	sessionProject      string
	sessionContinueFrom string
)

var sessionCmd = &cobra.Command{
	Use:     "session",
	Short:   "Manage assistant sessions",
	GroupID: GroupSessions,
}

var sessionNewCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a session and launch the assistant in a tmux pane",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		if err := tc.requireTmux(); err != nil {
			return err
		}
		project, err := tc.resolveProject(sessionProject)
		if err != nil {
			return err
		}
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		sess, err := tc.orch.CreateSession(project, orchestrator.CreateSessionOptions{
			Name:         name,
			ContinueFrom: sessionContinueFrom,
		})
		if err != nil {
			return coded(err)
		}
		_ = tc.cfg.TouchProject(project)
		fmt.Printf("%s Session %s created\n", style.SuccessPrefix, style.Bold.Render(sess.Name))
		fmt.Printf("  %s\n", style.Dim.Render("attach: tmux attach -t "+sess.TmuxSession))
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions for a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		project, err := tc.resolveProject(sessionProject)
		if err != nil {
			return err
		}
		store, err := tc.states.Store(project)
		if err != nil {
			return err
		}
		sessions := store.ListSessions(state.ListFilter{})
		if len(sessions) == 0 {
			fmt.Println(style.Dim.Render("No sessions. Run 'orka session new'."))
			return nil
		}
		tbl := style.NewTable(
			style.Column{Name: "ID", Width: 8},
			style.Column{Name: "NAME", Width: 20},
			style.Column{Name: "STATUS", Width: 8},
			style.Column{Name: "FORKS", Width: 5, Align: style.AlignRight},
			style.Column{Name: "TMUX", Width: 14},
		)
		for _, sess := range sessions {
			tbl.AddRow(shortID(sess.ID), sess.Name, renderStatus(sess.Status),
				fmt.Sprintf("%d", len(sess.Forks)), sess.TmuxSession)
		}
		fmt.Print(tbl.Render())
		return nil
	},
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume <session>",
	Short: "Bring a saved session back to life",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		if err := tc.requireTmux(); err != nil {
			return err
		}
		project, err := tc.resolveProject(sessionProject)
		if err != nil {
			return err
		}
		id, err := matchSession(tc, project, args[0])
		if err != nil {
			return err
		}
		sess, err := tc.orch.ResumeSession(project, id)
		if err != nil {
			return coded(err)
		}
		_ = tc.cfg.TouchProject(project)
		fmt.Printf("%s Session %s resumed\n", style.SuccessPrefix, style.Bold.Render(sess.Name))
		fmt.Printf("  %s\n", style.Dim.Render("attach: tmux attach -t "+sess.TmuxSession))
		return nil
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <session>",
	Short: "Save and close a session (resumable later)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		project, err := tc.resolveProject(sessionProject)
		if err != nil {
			return err
		}
		id, err := matchSession(tc, project, args[0])
		if err != nil {
			return err
		}
		sess, err := tc.orch.CloseSession(project, id)
		if err != nil {
			return coded(err)
		}
		fmt.Printf("%s Session %s saved\n", style.SuccessPrefix, style.Bold.Render(sess.Name))
		return nil
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <session>",
	Short: "Delete a session and its tmux state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		project, err := tc.resolveProject(sessionProject)
		if err != nil {
			return err
		}
		id, err := matchSession(tc, project, args[0])
		if err != nil {
			return err
		}
		if err := tc.orch.DeleteSession(project, id); err != nil {
			return coded(err)
		}
		fmt.Printf("%s Session deleted\n", style.SuccessPrefix)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionNewCmd, sessionListCmd, sessionResumeCmd,
		sessionCloseCmd, sessionDeleteCmd)
	sessionCmd.PersistentFlags().StringVarP(&sessionProject, "project", "p", "",
		"project root (default: working directory)")
	sessionNewCmd.Flags().StringVar(&sessionContinueFrom, "continue-from", "",
		"assistant session id to continue from")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func renderStatus(s state.Status) string {
	switch s {
	case state.StatusActive:
		return style.Success.Render(string(s))
	case state.StatusSaved:
		return style.Warning.Render(string(s))
	default:
		return style.Dim.Render(string(s))
	}
}

// matchSession resolves a session name, full id, or unique id prefix.
func matchSession(tc *toolchain, project, ref string) (string, error) {
	store, err := tc.states.Store(project)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, sess := range store.ListSessions(state.ListFilter{}) {
		if sess.ID == ref {
			return sess.ID, nil
		}
		if sess.Name == ref || (len(ref) >= 4 && len(sess.ID) >= len(ref) && sess.ID[:len(ref)] == ref) {
			matches = append(matches, sess.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("%w: %s", state.ErrSessionNotFound, ref)
	default:
		return "", fmt.Errorf("ambiguous session %q (%d matches)", ref, len(matches))
	}
}
