package sessions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolLabel(t *testing.T) {
	tests := []struct {
		name  string
		tool  string
		input map[string]interface{}
		want  string
	}{
		{"short command", "Bash", map[string]interface{}{"command": "go test ./..."}, "Running: go test ./..."},
		{"long command truncated", "Bash", map[string]interface{}{"command": "find . -name '*.go' -exec grep -l TODO {} +"}, "Running: find . -name '*.go' -exec grep…"},
		{"exactly thirty", "Bash", map[string]interface{}{"command": "123456789012345678901234567890"}, "Running: 123456789012345678901234567890"},
		{"read", "Read", map[string]interface{}{"file_path": "/repo/pkg/store.go"}, "Reading: store.go"},
		{"write", "Write", map[string]interface{}{"file_path": "/repo/README.md"}, "Writing: README.md"},
		{"edit", "Edit", map[string]interface{}{"file_path": "/repo/main.go"}, "Editing: main.go"},
		{"multi edit", "MultiEdit", map[string]interface{}{"file_path": "a/b.txt"}, "Editing: b.txt"},
		{"notebook", "NotebookEdit", map[string]interface{}{"notebook_path": "/n/x.ipynb"}, "Editing: x.ipynb"},
		{"read without path", "Read", nil, "Reading…"},
		{"grep", "Grep", nil, LabelSearching},
		{"glob", "Glob", nil, LabelSearching},
		{"web search", "WebSearch", nil, LabelSearching},
		{"task", "Task", nil, LabelRunningAgent},
		{"other", "TodoWrite", nil, "Running: TodoWrite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToolLabel(tt.tool, tt.input))
		})
	}
}

func TestParseEvent(t *testing.T) {
	for _, ev := range Events {
		got, err := ParseEvent(string(ev))
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}

	got, err := ParseEvent("PreToolUse")
	require.NoError(t, err)
	assert.Equal(t, EventPreToolUse, got)

	_, err = ParseEvent("Reboot")
	assert.Error(t, err)
}

func TestDecodeHook(t *testing.T) {
	t.Run("tool use", func(t *testing.T) {
		ev, err := DecodeHook([]byte(`{"session_id":"s1","cwd":"/w","hook_event_name":"PreToolUse","tool_name":"Read","tool_input":{"file_path":"/w/a.go"}}`), "")
		require.NoError(t, err)
		assert.Equal(t, EventPreToolUse, ev.Event)
		assert.Equal(t, "s1", ev.SessionID)
		assert.Equal(t, "/w", ev.Cwd)
		assert.Equal(t, "Read", ev.ToolName)
		assert.Equal(t, "/w/a.go", ev.ToolInput["file_path"])
	})

	t.Run("argument overrides payload", func(t *testing.T) {
		ev, err := DecodeHook([]byte(`{"session_id":"s1","hook_event_name":"Stop"}`), "session-start")
		require.NoError(t, err)
		assert.Equal(t, EventSessionStart, ev.Event)
	})

	notifications := []struct {
		payload string
		want    Event
	}{
		{`{"session_id":"s","hook_event_name":"Notification","notification_type":"permission_prompt"}`, EventNotificationPermission},
		{`{"session_id":"s","hook_event_name":"Notification","notification_type":"idle_prompt"}`, EventNotificationIdle},
		{`{"session_id":"s","hook_event_name":"Notification","notification_type":"elicitation_dialog"}`, EventNotificationElicitation},
		{`{"session_id":"s","hook_event_name":"Notification","message":"Claude needs your permission to use Bash"}`, EventNotificationPermission},
		{`{"session_id":"s","hook_event_name":"Notification","message":"Claude is waiting for your input"}`, EventNotificationIdle},
	}
	for _, n := range notifications {
		t.Run(string(n.want), func(t *testing.T) {
			ev, err := DecodeHook([]byte(n.payload), "")
			require.NoError(t, err)
			assert.Equal(t, n.want, ev.Event)
		})
	}

	t.Run("bad json", func(t *testing.T) {
		_, err := DecodeHook([]byte(`{`), "stop")
		assert.Error(t, err)
	})
}
