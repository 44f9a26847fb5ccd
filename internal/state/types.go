// Package state owns the durable per-project snapshot of sessions, forks,
// and panes. All mutations round-trip through Store.WithWrite so readers
// always observe a consistent document and a crash never leaves a partial
// file behind.
package state

import (
	"time"
)

// SchemaVersion is the current state.json schema tag. Loading a document
// with a different tag triggers a non-destructive re-initialization pass
// that refreshes auxiliary files without discarding session rows.
const SchemaVersion = 2

// Status is the lifecycle state of a session or branch.
type Status string

const (
	// StatusActive means the entity has a live tmux pane.
	StatusActive Status = "active"
	// StatusSaved means the entity was closed but can be resumed.
	StatusSaved Status = "saved"
	// StatusClosed is terminal for forks: pane gone, no context expected.
	StatusClosed Status = "closed"
	// StatusMerged is terminal for forks whose export was merged into the parent.
	StatusMerged Status = "merged"
)

// MainBranchID is the parent id that refers to a session's main branch.
const MainBranchID = "main"

// Project is the root document persisted at <project>/.orka/state.json.
type Project struct {
	Version     int        `json:"version"`
	ProjectPath string     `json:"projectPath"`
	Sessions    []*Session `json:"sessions"`
	LastUpdated time.Time  `json:"lastUpdated"`
}

// Branch is the root node of a session's conversation tree.
type Branch struct {
	// AssistantSessionID is the opaque conversation id understood by the
	// assistant CLI. Pre-generated by the orchestrator; permanent once set.
	AssistantSessionID string `json:"assistantSessionId"`
	// PaneID is the tmux pane showing this branch. Present iff Status is active.
	PaneID string `json:"paneId,omitempty"`
	Status Status `json:"status"`
}

// Fork is a branched continuation of a parent conversation.
type Fork struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	ParentID           string     `json:"parentId"` // "main" or another fork id
	AssistantSessionID string     `json:"assistantSessionId"`
	PaneID             string     `json:"paneId,omitempty"`
	Status             Status     `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	// ContextPath is the project-relative path of the exported summary,
	// recorded at export time. Empty until an export has been requested.
	ContextPath string     `json:"contextPath,omitempty"`
	MergedAt    *time.Time `json:"mergedAt,omitempty"`
}

// Terminal reports whether the fork can no longer be resumed.
func (f *Fork) Terminal() bool {
	return f.Status == StatusClosed || f.Status == StatusMerged
}

// Session is one assistant conversation tree in one project, materialized
// as one tmux session with one or more panes.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Status       Status    `json:"status"`
	TmuxSession  string    `json:"tmuxSession"`

	// BridgePort and BridgePID describe the optional web-terminal bridge.
	BridgePort int `json:"bridgePort,omitempty"`
	BridgePID  int `json:"bridgePid,omitempty"`

	Main  Branch  `json:"main"`
	Forks []*Fork `json:"forks"`

	// ActiveBranch tracks which branch currently holds focus ("main" or a
	// fork id). Defaults to main when empty.
	ActiveBranch string `json:"activeBranch,omitempty"`
}

// Fork returns the fork with the given id, or nil.
func (s *Session) Fork(forkID string) *Fork {
	for _, f := range s.Forks {
		if f.ID == forkID {
			return f
		}
	}
	return nil
}

// BranchPane resolves a branch id ("main" or fork id) to its pane id.
// Returns empty string if the branch is unknown or has no pane.
func (s *Session) BranchPane(branchID string) string {
	if branchID == "" || branchID == MainBranchID {
		return s.Main.PaneID
	}
	if f := s.Fork(branchID); f != nil {
		return f.PaneID
	}
	return ""
}

// BranchAssistantSessionID resolves a branch id to its assistant-session id.
func (s *Session) BranchAssistantSessionID(branchID string) string {
	if branchID == "" || branchID == MainBranchID {
		return s.Main.AssistantSessionID
	}
	if f := s.Fork(branchID); f != nil {
		return f.AssistantSessionID
	}
	return ""
}

// HasBranch reports whether branchID names the main branch or a known fork.
func (s *Session) HasBranch(branchID string) bool {
	if branchID == MainBranchID {
		return true
	}
	return s.Fork(branchID) != nil
}

// ActiveChild returns the active fork whose parent is parentID, or nil.
// The assistant substrate cannot multiplex two concurrent continuations of
// the same conversation, so at most one such fork may exist.
func (s *Session) ActiveChild(parentID string) *Fork {
	for _, f := range s.Forks {
		if f.ParentID == parentID && f.Status == StatusActive {
			return f
		}
	}
	return nil
}

// Touch updates the last-activity timestamp.
func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Forks = make([]*Fork, len(s.Forks))
	for i, f := range s.Forks {
		fc := *f
		if f.MergedAt != nil {
			t := *f.MergedAt
			fc.MergedAt = &t
		}
		cp.Forks[i] = &fc
	}
	return &cp
}

// Session returns the session with the given id, or nil.
func (p *Project) Session(id string) *Session {
	for _, s := range p.Sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy of the project document.
func (p *Project) Clone() *Project {
	cp := *p
	cp.Sessions = make([]*Session, len(p.Sessions))
	for i, s := range p.Sessions {
		cp.Sessions[i] = s.Clone()
	}
	return &cp
}
