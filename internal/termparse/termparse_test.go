package termparse

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want State
	}{
		{"empty", "", StateUnknown},
		{"whitespace", "   \n\t\n", StateUnknown},
		{"shell prompt", "user@host:~/proj\n$\n", StateIdle},
		{"assistant prompt", "done with that task.\n\n> \n", StateIdle},
		{"permission dialog", "Edit file main.go\nDo you want to proceed?\n  1. Yes\n  2. No\n", StatePermission},
		{"numbered choices only", "  ❯ 1. Yes\n    2. No, and tell Claude what to do differently\n", StatePermission},
		{"bypass warning", "WARNING: Bypass Permissions mode\n1. No, exit\n2. Yes, I accept\n", StatePermission},
		{"processing", "Crunching the data (esc to interrupt)\n", StateProcessing},
		{"spinner", "some output\n⠹ working\n", StateProcessing},
		{"context warning", "Context left until auto-compact: 4%\n", StateContextWarning},
		{"api error", "API Error: 500 internal server error\n", StateError},
		{"error beats permission", "API Error while asking\nDo you want to proceed?\n", StateError},
		{"yn question", "Overwrite existing file? (y/n)\n", StateWaitingForInput},
		{"plain prose", "here is a paragraph of ordinary output text\n", StateUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestHasSpinner(t *testing.T) {
	if !HasSpinner("line\n⠋ thinking\n") {
		t.Error("spinner frame not detected")
	}
	if HasSpinner("no spinner here\n$\n") {
		t.Error("false positive spinner")
	}
	// Spinner scrolled far off the tail is ignored.
	old := "⠴ stale\n1\n2\n3\n4\n5\n6\n7\n"
	if HasSpinner(old) {
		t.Error("stale spinner above the tail window should not count")
	}
}

func TestAmbiguous(t *testing.T) {
	if !Ambiguous(StateIdle) || !Ambiguous(StateUnknown) {
		t.Error("idle and unknown should be ambiguous")
	}
	if Ambiguous(StatePermission) || Ambiguous(StateProcessing) {
		t.Error("actionable states should not be ambiguous")
	}
}
