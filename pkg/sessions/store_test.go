package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/errors"
)

// fixedClock returns the same instant on every call.
func fixedClock(t0 time.Time) func() time.Time {
	return func() time.Time { return t0 }
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sessions")
	return NewStore(dir, nil, opts...)
}

func TestUpsertGetDelete(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Get("missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.Upsert(Input{ID: "a", Patch: Patch{
		PID:        intPtr(42),
		Cwd:        strPtr("/work"),
		TmuxTarget: strPtr("main:0.1"),
	}}))

	rec, err = s.Get("a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 42, rec.PID)
	assert.Equal(t, "/work", rec.Cwd)
	assert.Equal(t, "main:0.1", rec.Target())
	assert.Equal(t, StateIdle, rec.State)
	assert.Equal(t, SchemaVersion, rec.SchemaVersion)

	// Nil fields do not overwrite.
	require.NoError(t, s.Upsert(Input{ID: "a", Patch: Patch{State: statePtr(StateBusy)}}))
	rec, _ = s.Get("a")
	assert.Equal(t, 42, rec.PID)
	assert.Equal(t, StateBusy, rec.State)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	rec, _ = s.Get("a")
	assert.Nil(t, rec)
}

func TestUpdateAbsentIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update("ghost", Patch{State: statePtr(StateBusy)}))
	rec, _ := s.Get("ghost")
	assert.Nil(t, rec)
}

func TestInvalidID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", "../x", "a/b", ".hidden"} {
		err := s.Upsert(Input{ID: id})
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput), "id %q", id)
	}
}

func TestLastUpdateStrictlyIncreases(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestStore(t, WithClock(fixedClock(t0)))

	var prev time.Time
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(Input{ID: "a"}))
		rec, _ := s.Get("a")
		require.NotNil(t, rec)
		assert.True(t, rec.LastUpdate.After(prev), "step %d: %v !> %v", i, rec.LastUpdate, prev)
		prev = rec.LastUpdate
	}
	assert.Equal(t, t0.Add(4*time.Nanosecond), prev)
}

func TestListAllSortedAndSkipsMalformed(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Upsert(Input{ID: id}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "wrongstate.json"),
		[]byte(`{"id":"wrongstate","pid":0,"cwd":"","state":"dancing","last_update":"2026-01-01T00:00:00Z","schema_version":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".a.json.123.tmp"), []byte("{}"), 0o644))

	records, err := s.ListAll()
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	rec, err := s.Get("broken")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestListAllMissingDir(t *testing.T) {
	s := newTestStore(t)
	records, err := s.ListAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCleanupStale(t *testing.T) {
	alive := map[int]bool{100: true}
	s := newTestStore(t, WithProcessChecker(func(pid int) bool { return alive[pid] }))

	require.NoError(t, s.Upsert(Input{ID: "live", Patch: Patch{PID: intPtr(100)}}))
	require.NoError(t, s.Upsert(Input{ID: "dead", Patch: Patch{PID: intPtr(200)}}))
	require.NoError(t, s.Upsert(Input{ID: "placeholder", Patch: Patch{PID: intPtr(0)}}))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "corrupt.json"), []byte("]"), 0o644))

	removed, err := s.CleanupStale()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	records, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "live", records[0].ID)
	assert.Equal(t, "placeholder", records[1].ID)
	assert.NoFileExists(t, filepath.Join(s.Dir(), "corrupt.json"))
}

func TestApplyStateTable(t *testing.T) {
	tests := []struct {
		event  Event
		state  State
		action string
	}{
		{EventSessionStart, StateIdle, ""},
		{EventUserPromptSubmit, StateBusy, LabelThinking},
		{EventPreToolUse, StateBusy, "Running: ls"},
		{EventPostToolUse, StateBusy, ""},
		{EventPostToolUseFailure, StateBusy, ""},
		{EventStop, StateIdle, ""},
		{EventNotificationIdle, StateIdle, ""},
		{EventPermissionRequest, StatePermission, LabelWaitingPermission},
		{EventNotificationPermission, StateWaiting, LabelWaitingPermission},
		{EventNotificationElicitation, StateWaiting, LabelWaitingInput},
	}

	// Every prior event leads to the state of the last one.
	for _, prior := range tests {
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s then %s", prior.event, tt.event), func(t *testing.T) {
				s := newTestStore(t)
				base := HookEvent{SessionID: "s1", ToolName: "Bash", ToolInput: map[string]interface{}{"command": "ls"}, Prompt: "hi"}

				first := base
				first.Event = prior.event
				_, err := s.Apply(first)
				require.NoError(t, err)

				next := base
				next.Event = tt.event
				rec, err := s.Apply(next)
				require.NoError(t, err)
				require.NotNil(t, rec)
				assert.Equal(t, tt.state, rec.State)
				assert.Equal(t, tt.action, rec.Action())

				stored, _ := s.Get("s1")
				require.NotNil(t, stored)
				assert.Equal(t, tt.state, stored.State)
			})
		}
	}
}

func TestApplyPromptAndSessionEnd(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Apply(HookEvent{Event: EventUserPromptSubmit, SessionID: "s1", Prompt: "fix the bug", PID: 7, Cwd: "/w"})
	require.NoError(t, err)
	require.NotNil(t, rec.PromptText)
	assert.Equal(t, "fix the bug", *rec.PromptText)
	assert.Equal(t, 7, rec.PID)

	rec, err = s.Apply(HookEvent{Event: EventSessionEnd, SessionID: "s1"})
	require.NoError(t, err)
	assert.Nil(t, rec)
	stored, _ := s.Get("s1")
	assert.Nil(t, stored)

	// A later event creates a fresh record.
	rec, err = s.Apply(HookEvent{Event: EventStop, SessionID: "s1"})
	require.NoError(t, err)
	assert.Nil(t, rec.PromptText)
	assert.Equal(t, 0, rec.PID)
}

func TestApplyScreenshot(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(fixedClock(t0)))

	ev := HookEvent{
		Event:     EventPreToolUse,
		SessionID: "s1",
		ToolName:  "mcp__browser__take_screenshot",
		ToolInput: map[string]interface{}{"filename": "/tmp/shot.png"},
	}
	_, err := s.Apply(ev)
	require.NoError(t, err)
	rec, err := s.Apply(ev)
	require.NoError(t, err)

	require.Len(t, rec.Screenshots, 2)
	assert.Equal(t, "/tmp/shot.png", rec.Screenshots[0].Path)
	assert.True(t, rec.Screenshots[0].Timestamp.Equal(t0))
}

func TestApplyStalePaneCleanup(t *testing.T) {
	s := newTestStore(t)

	// Placeholder created for a pane, linked to a parent session.
	require.NoError(t, s.Upsert(Input{ID: "placeholder", Patch: Patch{
		PID:        intPtr(0),
		TmuxTarget: strPtr("work:1.0"),
		LinkedTo:   strPtr("parent"),
	}}))
	require.NoError(t, s.Upsert(Input{ID: "other", Patch: Patch{TmuxTarget: strPtr("work:2.0")}}))

	rec, err := s.Apply(HookEvent{Event: EventSessionStart, SessionID: "real", PID: 55, TmuxTarget: "work:1.0"})
	require.NoError(t, err)
	require.NotNil(t, rec.LinkedTo)
	assert.Equal(t, "parent", *rec.LinkedTo)

	gone, _ := s.Get("placeholder")
	assert.Nil(t, gone)
	kept, _ := s.Get("other")
	assert.NotNil(t, kept)

	// An existing record is not treated as new for non-start events.
	require.NoError(t, s.Upsert(Input{ID: "intruder", Patch: Patch{TmuxTarget: strPtr("work:1.0")}}))
	_, err = s.Apply(HookEvent{Event: EventStop, SessionID: "real", TmuxTarget: "work:1.0"})
	require.NoError(t, err)
	intruder, _ := s.Get("intruder")
	assert.NotNil(t, intruder)
}

func TestLinks(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Link("child", "parent"))
	assert.Equal(t, map[string]string{"child": "parent"}, s.Links())

	// A record created after the link picks it up.
	rec, err := s.Apply(HookEvent{Event: EventSessionStart, SessionID: "child"})
	require.NoError(t, err)
	require.NotNil(t, rec.LinkedTo)
	assert.Equal(t, "parent", *rec.LinkedTo)

	require.NoError(t, s.Link("child", ""))
	assert.Empty(t, s.Links())
	rec, _ = s.Get("child")
	assert.Nil(t, rec.LinkedTo)
}

func TestAtomicWriteConcurrentReaders(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Upsert(Input{ID: "a", Patch: Patch{Cwd: strPtr("/v0")}}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			_ = s.Upsert(Input{ID: "a", Patch: Patch{Cwd: strPtr(fmt.Sprintf("/v%d", i))}})
		}
		close(stop)
	}()

	path := filepath.Join(s.Dir(), "a.json")
	for done := false; !done; {
		select {
		case <-stop:
			done = true
		default:
		}
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var rec Record
		require.NoError(t, json.Unmarshal(data, &rec), "partial write observed: %q", data)
		assert.Equal(t, "a", rec.ID)
	}
	wg.Wait()
}

func TestDedup(t *testing.T) {
	t0 := time.Now()
	older := &Record{ID: "old", TmuxTarget: strPtr("p:1.0"), LastUpdate: t0}
	newer := &Record{ID: "new", TmuxTarget: strPtr("p:1.0"), LastUpdate: t0.Add(time.Second)}
	loose := &Record{ID: "loose", LastUpdate: t0}
	other := &Record{ID: "other", TmuxTarget: strPtr("p:2.0"), LastUpdate: t0}

	out := Dedup([]*Record{older, loose, newer, other})
	assert.Equal(t, []*Record{loose, newer, other}, out)
}

func TestRecordSchema(t *testing.T) {
	data, err := RecordSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"last_update"`)

	assert.NoError(t, ValidateRecordJSON([]byte(`{"id":"a","pid":1,"cwd":"/","state":"busy","last_update":"2026-01-01T00:00:00Z","schema_version":1,"future_field":true}`)))
	assert.Error(t, ValidateRecordJSON([]byte(`{"id":"a","pid":-1,"cwd":"/","state":"busy","last_update":"2026-01-01T00:00:00Z","schema_version":1}`)))
}
