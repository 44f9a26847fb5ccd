// Package bridge manages the optional web-terminal bridge: an external
// process (ttyd) exposing a tmux session over WebSocket for the browser.
// The bridge is best-effort; sessions are fully functional without it.
package bridge

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Common errors
var (
	ErrBridgeNotInstalled = errors.New("ttyd binary not found")
	ErrNoFreePort         = errors.New("no free bridge port")
)

const (
	// portScanLimit bounds the upward scan from the base port.
	portScanLimit = 100

	// healthTimeout bounds the liveness probe used on resume.
	healthTimeout = 2 * time.Second
)

// Bridge describes a running web-terminal bridge process.
type Bridge struct {
	Port int
	PID  int
}

// Launcher starts and stops bridge processes.
type Launcher struct {
	binary   string
	basePort int
	logger   *zap.Logger
}

// NewLauncher creates a bridge launcher scanning ports upward from basePort.
func NewLauncher(basePort int, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{binary: "ttyd", basePort: basePort, logger: logger}
}

// Start launches a bridge attached to the given tmux session. It scans
// upward from the base port and claims the first unused one; a concurrent
// claimant losing the race simply retries on the next port.
func (l *Launcher) Start(tmuxSession string) (*Bridge, error) {
	if _, err := exec.LookPath(l.binary); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBridgeNotInstalled, err)
	}

	for port := l.basePort; port < l.basePort+portScanLimit; port++ {
		if !portFree(port) {
			continue
		}
		cmd := exec.Command(l.binary,
			"-p", strconv.Itoa(port),
			"--writable",
			"tmux", "attach", "-t", tmuxSession,
		)
		// Detach from our process group so the bridge survives CLI exits
		// and signals aimed at the server do not tear down terminals.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("starting bridge: %w", err)
		}
		// The bind may still fail inside ttyd if another claimant won the
		// port between our probe and its bind; give it a moment and verify.
		time.Sleep(150 * time.Millisecond)
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
			l.logger.Debug("bridge exited immediately, retrying next port",
				zap.Int("port", port))
			continue
		}
		go func() { _ = cmd.Wait() }() // reap

		l.logger.Info("bridge started",
			zap.String("tmuxSession", tmuxSession),
			zap.Int("port", port),
			zap.Int("pid", cmd.Process.Pid))
		return &Bridge{Port: port, PID: cmd.Process.Pid}, nil
	}
	return nil, ErrNoFreePort
}

// Stop terminates a bridge process. Missing processes are not an error.
func (l *Launcher) Stop(b *Bridge) error {
	if b == nil || b.PID == 0 {
		return nil
	}
	// Negative pid signals the process group created at Start.
	if err := syscall.Kill(-b.PID, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("stopping bridge pid %d: %w", b.PID, err)
	}
	return nil
}

// Healthy probes whether a bridge is still serving on its port.
func (l *Launcher) Healthy(b *Bridge) bool {
	if b == nil || b.Port == 0 {
		return false
	}
	client := &http.Client{Timeout: healthTimeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/", b.Port))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// portFree probes whether a TCP port can be bound right now.
func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
