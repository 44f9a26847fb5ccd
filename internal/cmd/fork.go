package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/orchestrator"
	"github.com/enruana/claude-orka/internal/state"
	"github.com/enruana/claude-orka/internal/style"
)

var (
	forkProject  string
	forkParent   string
	forkVertical bool
	forkAuto     bool
)

var forkCmd = &cobra.Command{
	Use:     "fork",
	Short:   "Branch, export, and merge conversation forks",
	GroupID: GroupSessions,
}

var forkNewCmd = &cobra.Command{
	Use:   "new <session> [name]",
	Short: "Fork the conversation into a new pane",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		if err := tc.requireTmux(); err != nil {
			return err
		}
		project, err := tc.resolveProject(forkProject)
		if err != nil {
			return err
		}
		sessionID, err := matchSession(tc, project, args[0])
		if err != nil {
			return err
		}
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		fork, err := tc.orch.CreateFork(project, sessionID, orchestrator.CreateForkOptions{
			Name:     name,
			ParentID: forkParent,
			Vertical: forkVertical,
		})
		if err != nil {
			return coded(err)
		}
		fmt.Printf("%s Fork %s created (parent %s)\n", style.SuccessPrefix,
			style.Bold.Render(fork.Name), fork.ParentID)
		return nil
	},
}

var forkExportCmd = &cobra.Command{
	Use:   "export <session> <fork>",
	Short: "Ask the fork to write its context summary to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, project, sessionID, forkID, err := resolveFork(args)
		if err != nil {
			return err
		}
		path, err := tc.orch.ExportFork(project, sessionID, forkID)
		if err != nil {
			return coded(err)
		}
		fmt.Printf("%s Export requested: %s\n", style.SuccessPrefix, style.Dim.Render(path))
		fmt.Println(style.Dim.Render("  The assistant writes the file asynchronously; merge once it exists."))
		return nil
	},
}

var forkMergeCmd = &cobra.Command{
	Use:   "merge <session> <fork>",
	Short: "Merge an exported fork back into its parent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, project, sessionID, forkID, err := resolveFork(args)
		if err != nil {
			return err
		}
		if forkAuto {
			if err := tc.orch.AutoMerge(context.Background(), project, sessionID, forkID); err != nil {
				return coded(err)
			}
		} else if err := tc.orch.MergeFork(project, sessionID, forkID); err != nil {
			return coded(err)
		}
		fmt.Printf("%s Fork merged\n", style.SuccessPrefix)
		return nil
	},
}

var forkCloseCmd = &cobra.Command{
	Use:   "close <session> <fork>",
	Short: "Close a fork without merging (terminal)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, project, sessionID, forkID, err := resolveFork(args)
		if err != nil {
			return err
		}
		if err := tc.orch.CloseFork(project, sessionID, forkID); err != nil {
			return coded(err)
		}
		fmt.Printf("%s Fork closed\n", style.SuccessPrefix)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(forkCmd)
	forkCmd.AddCommand(forkNewCmd, forkExportCmd, forkMergeCmd, forkCloseCmd)
	forkCmd.PersistentFlags().StringVarP(&forkProject, "project", "p", "",
		"project root (default: working directory)")
	forkNewCmd.Flags().StringVar(&forkParent, "parent", "", "parent branch id (default: main)")
	forkNewCmd.Flags().BoolVar(&forkVertical, "vertical", false, "stack the pane below the parent")
	forkMergeCmd.Flags().BoolVar(&forkAuto, "auto", false,
		"export first and wait for the artifact before merging")
}

// resolveFork resolves <session> <fork> args to ids, matching fork by id,
// id prefix, or name.
func resolveFork(args []string) (*toolchain, string, string, string, error) {
	tc, err := newToolchain(zap.NewNop())
	if err != nil {
		return nil, "", "", "", err
	}
	project, err := tc.resolveProject(forkProject)
	if err != nil {
		return nil, "", "", "", err
	}
	sessionID, err := matchSession(tc, project, args[0])
	if err != nil {
		return nil, "", "", "", err
	}
	store, err := tc.states.Store(project)
	if err != nil {
		return nil, "", "", "", err
	}
	sess, err := store.GetSession(sessionID)
	if err != nil {
		return nil, "", "", "", err
	}

	ref := args[1]
	var matches []string
	for _, fork := range sess.Forks {
		if fork.ID == ref {
			return tc, project, sessionID, fork.ID, nil
		}
		if fork.Name == ref || (len(ref) >= 4 && len(fork.ID) >= len(ref) && fork.ID[:len(ref)] == ref) {
			matches = append(matches, fork.ID)
		}
	}
	switch len(matches) {
	case 1:
		return tc, project, sessionID, matches[0], nil
	case 0:
		return nil, "", "", "", fmt.Errorf("%w: %s", state.ErrForkNotFound, ref)
	default:
		return nil, "", "", "", fmt.Errorf("ambiguous fork %q (%d matches)", ref, len(matches))
	}
}
