package sessions

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Event is a lifecycle notification emitted by the agent process.
type Event string

const (
	EventSessionStart            Event = "session-start"
	EventUserPromptSubmit        Event = "user-prompt-submit"
	EventPreToolUse              Event = "pre-tool-use"
	EventPostToolUse             Event = "post-tool-use"
	EventPostToolUseFailure      Event = "post-tool-use-failure"
	EventStop                    Event = "stop"
	EventNotificationIdle        Event = "notification-idle"
	EventPermissionRequest       Event = "permission-request"
	EventNotificationPermission  Event = "notification-permission"
	EventNotificationElicitation Event = "notification-elicitation"
	EventSessionEnd              Event = "session-end"
)

// Events lists every lifecycle event in table order.
var Events = []Event{
	EventSessionStart,
	EventUserPromptSubmit,
	EventPreToolUse,
	EventPostToolUse,
	EventPostToolUseFailure,
	EventStop,
	EventNotificationIdle,
	EventPermissionRequest,
	EventNotificationPermission,
	EventNotificationElicitation,
	EventSessionEnd,
}

// Labels written into current_action.
const (
	LabelThinking          = "Thinking..."
	LabelWaitingPermission = "Waiting for permission..."
	LabelWaitingInput      = "Waiting for input"
	LabelSearching         = "Searching…"
	LabelRunningAgent      = "Running agent…"
)

const commandLabelLen = 30

// ParseEvent accepts both the kebab-case names and the agent's own
// CamelCase hook names.
func ParseEvent(name string) (Event, error) {
	for _, ev := range Events {
		if string(ev) == name {
			return ev, nil
		}
	}
	switch name {
	case "SessionStart":
		return EventSessionStart, nil
	case "UserPromptSubmit":
		return EventUserPromptSubmit, nil
	case "PreToolUse":
		return EventPreToolUse, nil
	case "PostToolUse":
		return EventPostToolUse, nil
	case "PostToolUseFailure":
		return EventPostToolUseFailure, nil
	case "Stop", "SubagentStop":
		return EventStop, nil
	case "PermissionRequest":
		return EventPermissionRequest, nil
	case "SessionEnd":
		return EventSessionEnd, nil
	}
	return "", fmt.Errorf("unknown lifecycle event %q", name)
}

// HookEvent is one lifecycle event for one session, with whatever context
// the hook invocation could gather.
type HookEvent struct {
	Event      Event
	SessionID  string
	PID        int
	Cwd        string
	GitRoot    string
	TmuxTarget string
	Prompt     string
	ToolName   string
	ToolInput  map[string]interface{}
}

// transition returns the state change an event dictates. The switch is
// exhaustive over Events; session-end has no transition and is handled by
// the caller.
func transition(ev HookEvent, now time.Time) (Patch, error) {
	var p Patch
	switch ev.Event {
	case EventSessionStart:
		p.State = statePtr(StateIdle)
		p.Clear = []Field{FieldCurrentAction}
	case EventUserPromptSubmit:
		p.State = statePtr(StateBusy)
		p.CurrentAction = strPtr(LabelThinking)
		p.PromptText = strPtr(ev.Prompt)
	case EventPreToolUse:
		p.State = statePtr(StateBusy)
		p.CurrentAction = strPtr(ToolLabel(ev.ToolName, ev.ToolInput))
		if IsScreenshotTool(ev.ToolName) {
			if path := toolPath(ev.ToolInput, "filePath", "path", "filename", "file_path"); path != "" {
				p.Screenshot = &Screenshot{Path: path, Timestamp: now}
			}
		}
	case EventPostToolUse, EventPostToolUseFailure:
		p.State = statePtr(StateBusy)
		p.Clear = []Field{FieldCurrentAction}
	case EventStop, EventNotificationIdle:
		p.State = statePtr(StateIdle)
		p.Clear = []Field{FieldCurrentAction}
	case EventPermissionRequest:
		p.State = statePtr(StatePermission)
		p.CurrentAction = strPtr(LabelWaitingPermission)
	case EventNotificationPermission:
		p.State = statePtr(StateWaiting)
		p.CurrentAction = strPtr(LabelWaitingPermission)
	case EventNotificationElicitation:
		p.State = statePtr(StateWaiting)
		p.CurrentAction = strPtr(LabelWaitingInput)
	case EventSessionEnd:
		return p, fmt.Errorf("session-end has no state transition")
	default:
		return p, fmt.Errorf("unknown lifecycle event %q", ev.Event)
	}
	return p, nil
}

// ToolLabel renders the current_action text for a tool invocation.
func ToolLabel(tool string, input map[string]interface{}) string {
	switch tool {
	case "Bash", "shell", "Shell":
		cmd := strings.Join(strings.Fields(toolString(input, "command")), " ")
		if utf8.RuneCountInString(cmd) > commandLabelLen {
			cmd = string([]rune(cmd)[:commandLabelLen]) + "…"
		}
		return "Running: " + cmd
	case "Read":
		return fileLabel("Reading", input)
	case "Write":
		return fileLabel("Writing", input)
	case "Edit", "MultiEdit", "NotebookEdit":
		return fileLabel("Editing", input)
	case "Grep", "Glob", "WebSearch", "WebFetch", "LS":
		return LabelSearching
	case "Task", "Agent":
		return LabelRunningAgent
	}
	return "Running: " + tool
}

// IsScreenshotTool reports whether a tool produces a screenshot file.
func IsScreenshotTool(tool string) bool {
	return strings.Contains(strings.ToLower(tool), "screenshot")
}

func fileLabel(kind string, input map[string]interface{}) string {
	path := toolPath(input, "file_path", "path", "notebook_path", "filePath")
	if path == "" {
		return kind + "…"
	}
	return kind + ": " + filepath.Base(path)
}

func toolPath(input map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v := toolString(input, k); v != "" {
			return v
		}
	}
	return ""
}

func toolString(input map[string]interface{}, key string) string {
	if input == nil {
		return ""
	}
	if s, ok := input[key].(string); ok {
		return s
	}
	return ""
}
