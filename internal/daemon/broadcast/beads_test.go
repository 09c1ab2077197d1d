package broadcast

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/internal/daemon/schedule/schedtest"
	"github.com/grovetools/agentwatch/pkg/beads"
)

func writeJSONL(t *testing.T, project, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(beads.Dir(project), 0o755))
	require.NoError(t, os.WriteFile(beads.SnapshotPath(project), []byte(content), 0o644))
}

func newBeadsFixture(t *testing.T) (*BeadsManager, *fakeTracker, *fakeNotifier) {
	t.Helper()
	tracker := &fakeTracker{issues: map[string][]beads.Issue{}}
	notifier := newFakeNotifier()
	m := NewBeadsManager(BeadsConfig{}, tracker, schedtest.New(time.Unix(0, 0)), nil)
	m.newWatcher = func(string) Notifier { return notifier }
	return m, tracker, notifier
}

func TestBeadsSnapshotThenEnriched(t *testing.T) {
	m, tracker, notifier := newBeadsFixture(t)
	project := t.TempDir()
	writeJSONL(t, project, `{"id":"bd-1","title":"raw","status":"open"}`+"\n")
	tracker.issues[project] = []beads.Issue{{ID: "bd-1", Title: "enriched", Status: "open", Dependents: []beads.Dependency{{ID: "bd-2"}}}}

	c := newFakeClient()
	require.NoError(t, m.Connect(project, c))
	m.Wait()

	msgs := c.messages()
	require.Len(t, msgs, 2)
	var first, second BeadsPayload
	require.NoError(t, jsonDecode(msgs[0], &first))
	require.NoError(t, jsonDecode(msgs[1], &second))
	assert.Equal(t, "beads", first.Type)
	assert.Equal(t, project, first.Project)
	assert.Equal(t, "raw", first.Issues[0].Title)
	assert.Equal(t, "enriched", second.Issues[0].Title)
	assert.Equal(t, 1, notifier.len())
}

func TestBeadsPushOnFileChange(t *testing.T) {
	m, tracker, notifier := newBeadsFixture(t)
	project := t.TempDir()

	a, b := newFakeClient(), newFakeClient()
	require.NoError(t, m.Connect(project, a))
	require.NoError(t, m.Connect(project, b))
	m.Wait()
	assert.Zero(t, a.count(), "no snapshot and no tracker output")
	assert.Equal(t, 1, notifier.len(), "one watcher subscription per project")

	tracker.mu.Lock()
	tracker.issues[project] = []beads.Issue{{ID: "bd-9", Status: "open"}}
	tracker.mu.Unlock()
	notifier.fire()

	var got BeadsPayload
	a.last(t, &got)
	assert.Equal(t, "bd-9", got.Issues[0].ID)
	b.last(t, &got)
	assert.Equal(t, "bd-9", got.Issues[0].ID)
}

func TestBeadsFallsBackToSnapshotOnChange(t *testing.T) {
	m, _, notifier := newBeadsFixture(t)
	project := t.TempDir()
	c := newFakeClient()
	require.NoError(t, m.Connect(project, c))
	m.Wait()

	writeJSONL(t, project, `{"id":"bd-3","status":"open"}`+"\n")
	notifier.fire()
	var got BeadsPayload
	c.last(t, &got)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "bd-3", got.Issues[0].ID)
}

func TestBeadsLastClientUnsubscribes(t *testing.T) {
	m, _, notifier := newBeadsFixture(t)
	project := t.TempDir()
	c := newFakeClient()
	require.NoError(t, m.Connect(filepath.Join(project, "."), c))
	m.Wait()

	m.Disconnect(project, c)
	assert.Zero(t, notifier.len())
	assert.Equal(t, Stats{Admitted: 1}, m.Stats())
	assert.Error(t, m.Connect("", c))
}
