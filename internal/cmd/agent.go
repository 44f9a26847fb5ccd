package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/agents"
	"github.com/enruana/claude-orka/internal/chat"
	"github.com/enruana/claude-orka/internal/exitcode"
	"github.com/enruana/claude-orka/internal/style"
)

var (
	agentProject  string
	agentName     string
	agentBotToken string
	agentChatID   string
	agentInterval int
)

var agentCmd = &cobra.Command{
	Use:     "agent",
	Short:   "Manage autonomous agents attached to sessions",
	GroupID: GroupAgents,
}

var agentAddCmd = &cobra.Command{
	Use:   "add <session>",
	Short: "Attach an agent to a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		project, err := tc.resolveProject(agentProject)
		if err != nil {
			return err
		}
		sessionID, err := matchSession(tc, project, args[0])
		if err != nil {
			return err
		}
		agent, err := tc.registry.Add(agents.AddOptions{
			Name:        agentName,
			ProjectPath: project,
			SessionID:   sessionID,
			Chat: chat.Credentials{
				BotToken: agentBotToken,
				ChatID:   agentChatID,
			},
			WatchdogIntervalSecs: agentInterval,
		})
		if err != nil {
			return coded(err)
		}
		fmt.Printf("%s Agent %s attached to session %s\n", style.SuccessPrefix,
			style.Bold.Render(agent.Name), shortID(sessionID))
		fmt.Printf("  %s\n", style.Dim.Render("start it with: orka agent start "+agent.Name))
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newToolchain(zap.NewNop())
		if err != nil {
			return err
		}
		list := tc.registry.List()
		if len(list) == 0 {
			fmt.Println(style.Dim.Render("No agents. Run 'orka agent add <session>'."))
			return nil
		}
		tbl := style.NewTable(
			style.Column{Name: "ID", Width: 8},
			style.Column{Name: "NAME", Width: 20},
			style.Column{Name: "SESSION", Width: 8},
			style.Column{Name: "STATE", Width: 8},
			style.Column{Name: "PROJECT", Width: 40},
		)
		for _, a := range list {
			st := style.Dim.Render("stopped")
			if a.Running {
				st = style.Success.Render("running")
			}
			tbl.AddRow(shortID(a.ID), a.Name, shortID(a.SessionID), st, a.ProjectPath)
		}
		fmt.Print(tbl.Render())
		return nil
	},
}

var agentStartCmd = &cobra.Command{
	Use:   "start <agent>",
	Short: "Start an agent (requires 'orka serve' running)",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return agentLifecycle(args[0], "start") },
}

var agentStopCmd = &cobra.Command{
	Use:   "stop <agent>",
	Short: "Stop a running agent",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return agentLifecycle(args[0], "stop") },
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentAddCmd, agentListCmd, agentStartCmd, agentStopCmd)
	agentCmd.PersistentFlags().StringVarP(&agentProject, "project", "p", "",
		"project root (default: working directory)")
	agentAddCmd.Flags().StringVar(&agentName, "name", "", "agent name (default: generated)")
	agentAddCmd.Flags().StringVar(&agentBotToken, "bot-token", "", "chat bot token for notifications")
	agentAddCmd.Flags().StringVar(&agentChatID, "chat-id", "", "chat id for notifications")
	agentAddCmd.Flags().IntVar(&agentInterval, "interval", 0,
		"watchdog interval in seconds (default: project policy)")
}

// agentLifecycle drives start/stop through the running daemon's REST
// surface; agent loops live in the serve process, not in one-shot CLI
// invocations.
func agentLifecycle(ref, verb string) error {
	tc, err := newToolchain(zap.NewNop())
	if err != nil {
		return err
	}
	agent, err := matchAgent(tc, ref)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/api/agents/%s/%s",
		tc.cfg.Get().ServerPort, agent.ID, verb)
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Post(url, "application/json", strings.NewReader("{}"))
	if err != nil {
		return exitcode.Precondition("orka serve is not running", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Detail string `json:"detail"`
		}
		body, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(body, &envelope)
		if envelope.Detail == "" {
			envelope.Detail = strings.TrimSpace(string(body))
		}
		if resp.StatusCode == http.StatusConflict {
			return exitcode.Precondition(envelope.Detail, nil)
		}
		return fmt.Errorf("%s agent: %s", verb, envelope.Detail)
	}
	past := "started"
	if verb == "stop" {
		past = "stopped"
	}
	fmt.Printf("%s Agent %s %s\n", style.SuccessPrefix, style.Bold.Render(agent.Name), past)
	return nil
}

// matchAgent resolves an agent by id, id prefix, or name.
func matchAgent(tc *toolchain, ref string) (*agents.Agent, error) {
	var matches []*agents.Agent
	for _, a := range tc.registry.List() {
		if a.ID == ref {
			return a, nil
		}
		if a.Name == ref || (len(ref) >= 4 && len(a.ID) >= len(ref) && a.ID[:len(ref)] == ref) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("%w: %s", agents.ErrAgentNotFound, ref)
	default:
		return nil, fmt.Errorf("ambiguous agent %q (%d matches)", ref, len(matches))
	}
}
