// Package hooks defines the lifecycle event model and the HTTP receiver
// that normalizes incoming hook payloads before they reach a supervisor.
package hooks

import (
	"encoding/json"
	"time"
)

// EventType tags a lifecycle notification. The set is closed; anything
// else arrives as EventUnknown with the raw body preserved.
type EventType string

const (
	EventSessionStart     EventType = "SessionStart"
	EventStop             EventType = "Stop"
	EventNotification     EventType = "Notification"
	EventPreToolUse       EventType = "PreToolUse"
	EventPostToolUse      EventType = "PostToolUse"
	EventPreCompact       EventType = "PreCompact"
	EventPermission       EventType = "Permission"
	EventUserPromptSubmit EventType = "UserPromptSubmit"
	EventSubagentStart    EventType = "SubagentStart"
	EventSubagentStop     EventType = "SubagentStop"
	EventError            EventType = "Error"

	// EventWatchdogTick is synthetic: the watchdog injects it into the
	// same queue as real hooks so ticks cannot bypass queued events.
	EventWatchdogTick EventType = "WatchdogTick"

	EventUnknown EventType = "Unknown"
)

var knownTypes = map[EventType]bool{
	EventSessionStart:     true,
	EventStop:             true,
	EventNotification:     true,
	EventPreToolUse:       true,
	EventPostToolUse:      true,
	EventPreCompact:       true,
	EventPermission:       true,
	EventUserPromptSubmit: true,
	EventSubagentStart:    true,
	EventSubagentStop:     true,
	EventError:            true,
	EventWatchdogTick:     true,
}

// Event is a normalized lifecycle notification. Fields above the divider
// come from the sender; fields below are stamped by the receiver.
type Event struct {
	Type               EventType `json:"event_type"`
	Timestamp          time.Time `json:"timestamp"`
	Cwd                string    `json:"cwd,omitempty"`
	AssistantSessionID string    `json:"session_id,omitempty"`
	Tool               string    `json:"tool,omitempty"`
	Message            string    `json:"message,omitempty"`
	RawStdin           string    `json:"raw_stdin,omitempty"`

	AgentID       string `json:"agentId,omitempty"`
	ProjectPath   string `json:"projectPath,omitempty"`
	OrkaSessionID string `json:"orkaSessionId,omitempty"`

	// Raw is the original request body, handed verbatim to the LLM
	// fallback. Never re-serialized from the struct.
	Raw json.RawMessage `json:"-"`
}

// Parse normalizes a hook body. A body that is not JSON is wrapped as a
// Stop event carrying the raw text; a JSON body with an unrecognized
// event_type becomes Unknown. The raw bytes survive in both cases.
func Parse(body []byte) Event {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.Type == "" {
		ev = Event{
			Type:     EventStop,
			RawStdin: string(body),
		}
	} else if !knownTypes[ev.Type] {
		ev.Type = EventUnknown
	}
	ev.Raw = append(json.RawMessage(nil), body...)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return ev
}

// Known reports whether the type is one of the recognized lifecycle
// events (synthetic ticks included).
func (t EventType) Known() bool { return knownTypes[t] }
