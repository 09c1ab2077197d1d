package sessions

import (
	"encoding/json"
	"fmt"
	"strings"
)

// hookPayload is the JSON an agent writes to a hook's stdin.
type hookPayload struct {
	SessionID        string                 `json:"session_id"`
	Cwd              string                 `json:"cwd"`
	HookEventName    string                 `json:"hook_event_name"`
	Prompt           string                 `json:"prompt"`
	ToolName         string                 `json:"tool_name"`
	ToolInput        map[string]interface{} `json:"tool_input"`
	NotificationType string                 `json:"notification_type"`
	Message          string                 `json:"message"`
}

// DecodeHook parses a hook payload. eventName, when non-empty, overrides the
// payload's hook_event_name. Notifications are resolved to their concrete
// event from notification_type, or from the message text when that is absent.
func DecodeHook(data []byte, eventName string) (HookEvent, error) {
	var p hookPayload
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return HookEvent{}, fmt.Errorf("invalid hook payload: %w", err)
		}
	}

	name := eventName
	if name == "" {
		name = p.HookEventName
	}

	var ev Event
	if name == "Notification" || name == "notification" {
		ev = notificationEvent(p.NotificationType, p.Message)
	} else {
		var err error
		if ev, err = ParseEvent(name); err != nil {
			return HookEvent{}, err
		}
	}

	return HookEvent{
		Event:     ev,
		SessionID: p.SessionID,
		Cwd:       p.Cwd,
		Prompt:    p.Prompt,
		ToolName:  p.ToolName,
		ToolInput: p.ToolInput,
	}, nil
}

func notificationEvent(kind, message string) Event {
	switch kind {
	case "permission_prompt":
		return EventNotificationPermission
	case "elicitation_dialog":
		return EventNotificationElicitation
	case "idle_prompt":
		return EventNotificationIdle
	}
	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "permission"):
		return EventNotificationPermission
	case strings.Contains(msg, "waiting for your input"):
		return EventNotificationIdle
	}
	return EventNotificationElicitation
}
