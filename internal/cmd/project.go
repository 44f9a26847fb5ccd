package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/state"
	"github.com/enruana/claude-orka/internal/style"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Short:   "Manage registered projects",
	GroupID: GroupSessions,
}

var projectAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register a project directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		entry, err := tc.cfg.AddProject(path, projectName)
		if err != nil {
			return coded(err)
		}
		// Initialize .orka/ immediately so hooks and exports have a home.
		if _, err := tc.states.Store(entry.Path); err != nil {
			return err
		}
		fmt.Printf("%s Registered %s (%s)\n", style.SuccessPrefix, entry.Name,
			style.Dim.Render(entry.Path))
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		projects := tc.cfg.Get().Projects
		if len(projects) == 0 {
			fmt.Println(style.Dim.Render("No projects registered. Run 'orka project add <path>'."))
			return nil
		}
		tbl := style.NewTable(
			style.Column{Name: "NAME", Width: 20},
			style.Column{Name: "SESSIONS", Width: 8, Align: style.AlignRight},
			style.Column{Name: "PATH", Width: 48},
		)
		for _, p := range projects {
			count := 0
			if store, err := tc.states.Store(p.Path); err == nil {
				count = len(store.ListSessions(state.ListFilter{}))
			}
			tbl.AddRow(p.Name, fmt.Sprintf("%d", count), p.Path)
		}
		fmt.Print(tbl.Render())
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "remove <path>",
	Short: "Deregister a project (files are untouched)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		if err := tc.cfg.RemoveProject(args[0]); err != nil {
			return coded(err)
		}
		fmt.Printf("%s Removed %s\n", style.SuccessPrefix, args[0])
		return nil
	},
}

var projectName string

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectAddCmd, projectListCmd, projectRemoveCmd)
	projectAddCmd.Flags().StringVar(&projectName, "name", "", "display name (default: directory name)")
}
