package supervisor

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/agents"
	"github.com/enruana/claude-orka/internal/chat"
	"github.com/enruana/claude-orka/internal/config"
	"github.com/enruana/claude-orka/internal/hooks"
	"github.com/enruana/claude-orka/internal/llm"
	"github.com/enruana/claude-orka/internal/state"
	"github.com/enruana/claude-orka/internal/termparse"
)

// Pane key sequences understood by the assistant's dialogs.
const (
	keyApprove = "1"
	keyReject  = "2"
	cmdCompact = "/compact"
	cmdClear   = "/clear"
)

// runtime is the live state of one started agent.
type runtime struct {
	mgr      *Manager
	agent    *agents.Agent
	policy   config.Policy
	notifier chat.Notifier
	logger   *zap.Logger

	queue  chan hooks.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	log *eventLog

	// Watchdog debounce state, touched only from the event loop.
	idleStreak    int
	hookSinceTick bool
	pendingAction llm.Action
	pendingStreak int
}

func newRuntime(mgr *Manager, agent *agents.Agent, policy config.Policy, notifier chat.Notifier) *runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &runtime{
		mgr:      mgr,
		agent:    agent,
		policy:   policy,
		notifier: notifier,
		logger: mgr.logger.With(
			zap.String("agent", agent.ID),
			zap.String("session", agent.SessionID)),
		queue:  make(chan hooks.Event, queueDepth),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    newEventLog(),
	}
}

func (r *runtime) watchdogInterval() time.Duration {
	if r.agent.WatchdogIntervalSecs > 0 {
		return time.Duration(r.agent.WatchdogIntervalSecs) * time.Second
	}
	return r.policy.WatchdogInterval()
}

func (r *runtime) start() {
	go r.loop()
	go r.watchdog()
}

// stop cancels in-flight work and waits for the loop to exit.
func (r *runtime) stop(deadline time.Duration) {
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(deadline):
		r.logger.Warn("agent loop did not drain before deadline")
	}
}

// enqueue adds an event to the serial queue without blocking the caller.
func (r *runtime) enqueue(ev hooks.Event) error {
	select {
	case <-r.ctx.Done():
		return ErrAgentNotRunning
	default:
	}
	select {
	case r.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// watchdog feeds synthetic ticks through the same queue as real hooks so
// a tick can never overtake a queued event.
func (r *runtime) watchdog() {
	ticker := time.NewTicker(r.watchdogInterval())
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			tick := hooks.Event{
				Type:          hooks.EventWatchdogTick,
				Timestamp:     time.Now().UTC(),
				AgentID:       r.agent.ID,
				ProjectPath:   r.agent.ProjectPath,
				OrkaSessionID: r.agent.SessionID,
			}
			if err := r.enqueue(tick); err != nil {
				// A full queue means real events are pending; the next
				// tick will see their aftermath.
				r.logger.Debug("watchdog tick skipped", zap.Error(err))
			}
		}
	}
}

// loop drains the queue serially. Errors never escape; they are logged
// and the loop moves to the next event.
func (r *runtime) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return
		case ev := <-r.queue:
			r.handle(ev)
		}
	}
}

// drain discards queued events after cancellation so no pane receives
// stray keystrokes once stop returns.
func (r *runtime) drain() {
	for {
		select {
		case ev := <-r.queue:
			r.logger.Debug("dropping queued event on stop", zap.String("event", string(ev.Type)))
		default:
			return
		}
	}
}

// handle runs one event through guard, route, capture, parse, fast path,
// and LLM fallback.
func (r *runtime) handle(ev hooks.Event) {
	if !r.agent.EventEnabled(ev.Type) {
		r.logger.Debug("event dropped by guard", zap.String("event", string(ev.Type)))
		return
	}

	if ev.Type == hooks.EventWatchdogTick {
		r.handleTick(ev)
		return
	}
	r.hookSinceTick = true

	switch ev.Type {
	case hooks.EventSessionStart:
		r.notify(chat.KindSessionStart, ev.Message)
		r.record(ev, "", "notified", "session started")
		return
	case hooks.EventNotification:
		r.notify(chat.KindNotification, ev.Message)
		r.record(ev, "", "forwarded", "")
		return
	case hooks.EventPreCompact:
		r.record(ev, "", "observed", "compaction imminent")
		return
	}

	text, parsed := r.captureState()

	if r.fastPath(ev, text, parsed) {
		return
	}
	r.consult(ev, text, parsed)
}

// fastPath executes deterministic (event, state) rules. Returns true when
// it acted (or deliberately chose inaction).
func (r *runtime) fastPath(ev hooks.Event, text string, parsed termparse.State) bool {
	switch parsed {
	case termparse.StatePermission:
		if ev.Tool != "" && r.policy.ToolDenied(ev.Tool) {
			r.inject(keyReject)
			r.notify(chat.KindRejection, "tool "+ev.Tool)
			r.record(ev, parsed, "reject", "tool denied by policy: "+ev.Tool)
			return true
		}
		if ev.Tool != "" && r.policy.ToolApproved(ev.Tool) {
			r.inject(keyApprove)
			r.record(ev, parsed, "approve", "tool auto-approved by policy: "+ev.Tool)
			return true
		}
	case termparse.StateContextWarning:
		r.inject(cmdCompact)
		r.record(ev, parsed, "compact", "context running low")
		return true
	case termparse.StateIdle:
		if ev.Type == hooks.EventStop {
			r.notify(chat.KindMilestone, lastLines(text, 3))
			r.record(ev, parsed, "milestone", "assistant went idle after stop")
			return true
		}
	case termparse.StateProcessing:
		// Assistant is busy; leave it alone.
		r.record(ev, parsed, "wait", "")
		return true
	}
	return false
}

// consult asks the LLM fallback and executes its verdict.
func (r *runtime) consult(ev hooks.Event, text string, parsed termparse.State) {
	raw := ev.Raw
	if raw == nil {
		raw, _ = json.Marshal(ev)
	}
	decision, err := r.mgr.decider.Decide(r.ctx, llm.Request{
		Event:        raw,
		TerminalText: text,
		History:      r.log.Reasons(10),
	})
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.logger.Warn("llm fallback failed", zap.Error(err))
		r.record(ev, parsed, "error", err.Error())
		return
	}
	r.execute(ev, parsed, decision)
}

// execute performs an LLM verdict against the pane.
func (r *runtime) execute(ev hooks.Event, parsed termparse.State, d llm.Decision) {
	switch d.Action {
	case llm.ActionRespond:
		r.inject(d.Response)
		r.notify(chat.KindNotification, d.Response)
	case llm.ActionApprove:
		r.inject(keyApprove)
	case llm.ActionReject:
		r.inject(keyReject)
		r.notify(chat.KindRejection, d.Reason)
	case llm.ActionWait:
		// Nothing to do.
	case llm.ActionRequestHelp:
		r.notify(chat.KindHelpNeeded, d.Reason)
	case llm.ActionCompact:
		r.inject(cmdCompact)
	case llm.ActionClear:
		r.inject(cmdClear)
	case llm.ActionEscape:
		if pane := r.pane(); pane != "" {
			if err := r.mgr.term.SendEscape(pane); err != nil {
				r.logger.Warn("sending escape", zap.Error(err))
			}
		}
	}
	r.record(ev, parsed, string(d.Action), d.Reason)
}

// handleTick implements the watchdog debounce: K ambiguous ticks with no
// intervening hook, then M matching verdicts before acting.
func (r *runtime) handleTick(ev hooks.Event) {
	if r.hookSinceTick {
		// Real traffic since the last tick; the stall counter restarts.
		r.hookSinceTick = false
		r.resetDebounce()
		return
	}

	text, parsed := r.captureState()
	if termparse.HasSpinner(text) {
		r.resetDebounce()
		return
	}
	if !termparse.Ambiguous(parsed) {
		// A concrete state stalled on screen: run it through the normal
		// stages so a stuck permission prompt still gets handled.
		r.resetDebounce()
		if !r.fastPath(ev, text, parsed) {
			r.consult(ev, text, parsed)
		}
		return
	}

	r.idleStreak++
	if r.idleStreak < r.policy.IdleTicks {
		return
	}

	raw := ev.Raw
	if raw == nil {
		raw, _ = json.Marshal(ev)
	}
	decision, err := r.mgr.decider.Decide(r.ctx, llm.Request{
		Event:        raw,
		TerminalText: text,
		History:      r.log.Reasons(10),
	})
	if err != nil {
		if r.ctx.Err() == nil {
			r.logger.Warn("watchdog llm call failed", zap.Error(err))
		}
		return
	}

	if decision.Action == r.pendingAction {
		r.pendingStreak++
	} else {
		r.pendingAction = decision.Action
		r.pendingStreak = 1
	}
	if r.pendingStreak < r.policy.VerdictQuorum {
		r.record(ev, parsed, "deferred", "awaiting verdict quorum for "+string(decision.Action))
		return
	}

	r.resetDebounce()
	r.execute(ev, parsed, decision)
}

func (r *runtime) resetDebounce() {
	r.idleStreak = 0
	r.pendingAction = ""
	r.pendingStreak = 0
}

// captureState pulls the pane tail and classifies it. A session without a
// live pane yields unknown.
func (r *runtime) captureState() (string, termparse.State) {
	pane := r.pane()
	if pane == "" {
		return "", termparse.StateUnknown
	}
	text, err := r.mgr.term.CapturePane(pane, r.policy.CaptureLines)
	if err != nil {
		r.logger.Warn("capturing pane", zap.Error(err))
		return "", termparse.StateUnknown
	}
	return text, termparse.Classify(text)
}

// pane resolves the session's main pane from current state; panes move
// when a session is resumed, so this is never cached.
func (r *runtime) pane() string {
	store, err := r.mgr.states.Store(r.agent.ProjectPath)
	if err != nil {
		return ""
	}
	sess, err := store.GetSession(r.agent.SessionID)
	if err != nil {
		return ""
	}
	return sess.BranchPane(state.MainBranchID)
}

func (r *runtime) inject(text string) {
	pane := r.pane()
	if pane == "" {
		r.logger.Warn("no pane to inject into")
		return
	}
	if err := r.mgr.injector.InjectLine(pane, text); err != nil {
		r.logger.Warn("injecting keys", zap.Error(err))
	}
}

func (r *runtime) notify(kind chat.Kind, text string) {
	msg := chat.Message{
		Kind:    kind,
		Agent:   r.agent.Name,
		Session: r.agent.SessionID,
		Text:    text,
	}
	if err := r.notifier.Notify(r.ctx, msg); err != nil && r.ctx.Err() == nil {
		r.logger.Warn("chat notification failed", zap.Error(err))
	}
}

func (r *runtime) record(ev hooks.Event, parsed termparse.State, action, reason string) {
	r.log.Add(LogEntry{
		Time:   time.Now().UTC(),
		Event:  ev.Type,
		State:  parsed,
		Action: action,
		Reason: reason,
	})
}

// lastLines returns the trailing non-empty lines of text, for milestone
// notifications.
func lastLines(text string, n int) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(l); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
