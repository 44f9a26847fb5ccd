package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/enruana/claude-orka/internal/exitcode"
	"github.com/enruana/claude-orka/internal/hooks"
	"github.com/enruana/claude-orka/internal/llm"
	"github.com/enruana/claude-orka/internal/server"
	"github.com/enruana/claude-orka/internal/style"
	"github.com/enruana/claude-orka/internal/supervisor"
)

var (
	servePort     int
	serveHookPort int
	serveVerbose  bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the control surface, hook receiver, and agent supervisor",
	GroupID: GroupServices,
	Long: `Run the orka daemon: the REST/WebSocket control surface, the hook
receiver that assistant-side hooks POST into, and the supervisor that
drives autonomous agents. One instance per user; a file lock prevents
concurrent daemons.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "control surface port (default from config)")
	serveCmd.Flags().IntVar(&serveHookPort, "hook-port", 0, "hook receiver port (default from config)")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "debug logging")
}

func serveLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !serveVerbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := serveLogger()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tc, err := newToolchain(logger)
	if err != nil {
		return err
	}
	if err := tc.requireTmux(); err != nil {
		return err
	}

	// One daemon per user. The lock closes the TOCTOU window where two
	// concurrent starts both pass a port probe.
	cfgPath, err := configDir()
	if err != nil {
		return err
	}
	fileLock := flock.New(filepath.Join(cfgPath, "orka.lock"))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return exitcode.Precondition("orka serve already running (lock held)", nil)
	}
	defer func() { _ = fileLock.Unlock() }()

	port := servePort
	if port == 0 {
		port = tc.cfg.Get().ServerPort
	}
	hookPort := serveHookPort
	if hookPort == 0 {
		hookPort = tc.cfg.Get().HookPort
	}

	decider := llm.NewClient(os.Getenv("ANTHROPIC_API_KEY"), logger)
	sup := supervisor.NewManager(tc.registry, tc.states, tc.mux, tc.orch, decider, logger)
	defer sup.StopAll()

	receiver := hooks.NewReceiver(tc.registry, sup, logger)
	surface := server.New(tc.cfg, tc.states, tc.orch, tc.registry, sup, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Recover sessions that were active before the last shutdown or host
	// restart so their panes come back before traffic arrives.
	for _, p := range tc.cfg.Get().Projects {
		if err := tc.orch.RecoverProject(p.Path); err != nil {
			logger.Warn("recovering project", zap.String("project", p.Path), zap.Error(err))
		}
	}

	fmt.Printf("%s control surface on http://127.0.0.1:%d, hooks on %d\n",
		style.SuccessPrefix, port, hookPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return surface.Serve(gctx, port) })
	g.Go(func() error { return receiver.Serve(gctx, hookPort) })
	return g.Wait()
}

// configDir returns ~/.orka, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".orka")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}
