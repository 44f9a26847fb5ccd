package bridge

import (
	"net"
	"testing"
)

func TestPortFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if portFree(port) {
		t.Errorf("port %d is bound but reported free", port)
	}
}

func TestStartMissingBinary(t *testing.T) {
	l := NewLauncher(7800, nil)
	l.binary = "ttyd-definitely-not-installed-xyz"
	if _, err := l.Start("orka-test"); err == nil {
		t.Error("expected error for missing ttyd binary")
	}
}

func TestStopNilBridge(t *testing.T) {
	l := NewLauncher(7800, nil)
	if err := l.Stop(nil); err != nil {
		t.Errorf("Stop(nil) = %v, want nil", err)
	}
	if err := l.Stop(&Bridge{}); err != nil {
		t.Errorf("Stop(zero) = %v, want nil", err)
	}
}

func TestHealthyUnreachable(t *testing.T) {
	// Grab a free port and close it again so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	l := NewLauncher(7800, nil)
	if l.Healthy(&Bridge{Port: port, PID: 1}) {
		t.Errorf("Healthy reported true for dead port %d", port)
	}
	if l.Healthy(nil) {
		t.Error("Healthy(nil) = true")
	}
}
