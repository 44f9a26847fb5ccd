// Package termparse classifies captured pane text into a closed set of
// terminal states. Rules are substring and regex allow-lists over the
// assistant's known UI strings; nothing looks at conversation content.
package termparse

import (
	"regexp"
	"strings"
)

// State is the classified condition of a terminal.
type State string

const (
	StateIdle            State = "idle"
	StateWaitingForInput State = "waiting_for_input"
	StatePermission      State = "permission_prompt"
	StateProcessing      State = "processing"
	StateContextWarning  State = "context_warning"
	StateError           State = "error"
	StateUnknown         State = "unknown"
)

// permissionMarkers are the assistant's permission dialog strings.
var permissionMarkers = []string{
	"Do you want to proceed?",
	"Do you want to make this edit",
	"Do you want to create",
	"Yes, and don't ask again",
	"Bypass Permissions mode",
	"Grant permission",
}

// processingMarkers indicate the assistant is actively working.
var processingMarkers = []string{
	"esc to interrupt",
	"ctrl+c to interrupt",
	"Running…",
	"Thinking…",
}

// contextMarkers indicate the conversation is near its context limit.
var contextMarkers = []string{
	"Context left until auto-compact",
	"Context low",
	"/compact to continue",
}

// errorMarkers indicate the assistant process reported a failure.
var errorMarkers = []string{
	"API Error",
	"Request failed",
	"rate limit",
	"overloaded_error",
	"panic:",
	"command not found",
}

// waitingMarkers indicate an explicit question awaiting free-form input.
var waitingMarkers = []string{
	"? for shortcuts",
	"(y/n)",
	"[Y/n]",
}

// spinnerRunes are the braille spinner frames used by the assistant's
// progress indicator.
const spinnerRunes = "⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏·✢✳✶✻✽"

// promptLine matches a bare shell or assistant input prompt at end of
// output.
var promptLine = regexp.MustCompile(`(?m)^\s*[>❯$%]\s*$`)

// numberedChoice matches the "1. Yes" / "2. No" option lines of a
// permission dialog.
var numberedChoice = regexp.MustCompile(`(?m)^\s*(?:❯\s*)?[12]\.\s+(Yes|No|Allow|Deny)`)

// Classify maps captured pane text to a State. Precedence: error beats
// permission beats context-warning beats processing beats waiting beats
// idle; anything unmatched is unknown.
func Classify(text string) State {
	if strings.TrimSpace(text) == "" {
		return StateUnknown
	}

	if containsAny(text, errorMarkers) {
		return StateError
	}
	if containsAny(text, permissionMarkers) || numberedChoice.MatchString(text) {
		return StatePermission
	}
	if containsAny(text, contextMarkers) {
		return StateContextWarning
	}
	if containsAny(text, processingMarkers) || HasSpinner(text) {
		return StateProcessing
	}
	if containsAny(text, waitingMarkers) {
		return StateWaitingForInput
	}
	if promptLine.MatchString(text) {
		return StateIdle
	}
	return StateUnknown
}

// HasSpinner reports whether an animated progress indicator is visible in
// the last few lines. The watchdog skips ticks while one is on screen.
func HasSpinner(text string) bool {
	lines := strings.Split(text, "\n")
	start := len(lines) - 5
	if start < 0 {
		start = 0
	}
	for _, line := range lines[start:] {
		if strings.ContainsAny(line, spinnerRunes) {
			return true
		}
	}
	return false
}

// Ambiguous reports whether a state gives the watchdog no deterministic
// signal.
func Ambiguous(s State) bool {
	return s == StateIdle || s == StateUnknown
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
