package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Policy is the per-project supervisor policy, loaded from .orka/orka.toml.
// Missing file means defaults; a malformed file is an error so a typo never
// silently downgrades to permissive behavior.
type Policy struct {
	// AutoApproveTools lists tool names the fast path may approve without
	// consulting the LLM (e.g. "edit", "write").
	AutoApproveTools []string `toml:"auto_approve_tools"`

	// DenyTools lists tool names that are always rejected.
	DenyTools []string `toml:"deny_tools"`

	// WatchdogInterval is the seconds between watchdog ticks.
	WatchdogIntervalSecs int `toml:"watchdog_interval_secs"`

	// IdleTicks is how many consecutive idle/unknown ticks pass before the
	// watchdog consults the LLM.
	IdleTicks int `toml:"idle_ticks"`

	// VerdictQuorum is how many consecutive matching LLM verdicts are
	// required before the watchdog acts.
	VerdictQuorum int `toml:"verdict_quorum"`

	// AutoMergeWaitSecs is the pause between export and merge during
	// auto-merge.
	AutoMergeWaitSecs int `toml:"auto_merge_wait_secs"`

	// CaptureLines is how many terminal lines are captured for classification.
	CaptureLines int `toml:"capture_lines"`
}

// DefaultPolicy returns the policy used when no orka.toml exists.
func DefaultPolicy() Policy {
	return Policy{
		AutoApproveTools:     []string{"edit", "write"},
		WatchdogIntervalSecs: 30,
		IdleTicks:            2,
		VerdictQuorum:        2,
		AutoMergeWaitSecs:    15,
		CaptureLines:         50,
	}
}

// PolicyPath returns the orka.toml path for a project.
func PolicyPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".orka", "orka.toml")
}

// LoadPolicy reads the project policy, filling unset fields with defaults.
func LoadPolicy(projectRoot string) (Policy, error) {
	policy := DefaultPolicy()

	path := PolicyPath(projectRoot)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return policy, nil
	}

	var loaded Policy
	if _, err := toml.DecodeFile(path, &loaded); err != nil {
		return Policy{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if loaded.AutoApproveTools != nil {
		policy.AutoApproveTools = loaded.AutoApproveTools
	}
	if loaded.DenyTools != nil {
		policy.DenyTools = loaded.DenyTools
	}
	if loaded.WatchdogIntervalSecs > 0 {
		policy.WatchdogIntervalSecs = loaded.WatchdogIntervalSecs
	}
	if loaded.IdleTicks > 0 {
		policy.IdleTicks = loaded.IdleTicks
	}
	if loaded.VerdictQuorum > 0 {
		policy.VerdictQuorum = loaded.VerdictQuorum
	}
	if loaded.AutoMergeWaitSecs > 0 {
		policy.AutoMergeWaitSecs = loaded.AutoMergeWaitSecs
	}
	if loaded.CaptureLines > 0 {
		policy.CaptureLines = loaded.CaptureLines
	}
	return policy, nil
}

// WatchdogInterval returns the tick cadence as a duration.
func (p Policy) WatchdogInterval() time.Duration {
	return time.Duration(p.WatchdogIntervalSecs) * time.Second
}

// AutoMergeWait returns the export-to-merge pause as a duration.
func (p Policy) AutoMergeWait() time.Duration {
	return time.Duration(p.AutoMergeWaitSecs) * time.Second
}

// ToolApproved reports whether the fast path may approve the tool.
func (p Policy) ToolApproved(tool string) bool {
	for _, t := range p.AutoApproveTools {
		if t == tool {
			return true
		}
	}
	return false
}

// ToolDenied reports whether the tool is always rejected.
func (p Policy) ToolDenied(tool string) bool {
	for _, t := range p.DenyTools {
		if t == tool {
			return true
		}
	}
	return false
}
