package supervisor

import (
	"sync"
	"time"

	"github.com/enruana/claude-orka/internal/hooks"
	"github.com/enruana/claude-orka/internal/termparse"
)

// logCapacity is how many entries the per-agent ring keeps.
const logCapacity = 256

// LogEntry records one supervisor decision.
type LogEntry struct {
	Time   time.Time       `json:"time"`
	Event  hooks.EventType `json:"event"`
	State  termparse.State `json:"state,omitempty"`
	Action string          `json:"action"`
	Reason string          `json:"reason,omitempty"`
}

// eventLog is a fixed-size ring of decisions, newest overwriting oldest.
type eventLog struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

func newEventLog() *eventLog {
	return &eventLog{entries: make([]LogEntry, logCapacity)}
}

func (l *eventLog) Add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// Entries returns the log oldest first.
func (l *eventLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]LogEntry(nil), l.entries[:l.next]...)
	}
	out := make([]LogEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}

// Reasons returns the most recent n reasons, oldest first, for LLM
// history.
func (l *eventLog) Reasons(n int) []string {
	entries := l.Entries()
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Reason != "" {
			out = append(out, e.Action+": "+e.Reason)
		}
	}
	return out
}
