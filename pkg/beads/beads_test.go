package beads

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/testutil"
)

func writeSnapshot(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(Dir(dir), 0o755))
	require.NoError(t, os.WriteFile(SnapshotPath(dir), []byte(content), 0o644))
}

func TestReadSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, `{"id":"bd-2","title":"second","status":"open"}
not json
{"id":"bd-1","title":"first","status":"open"}

{"id":"bd-2","title":"second (edited)","status":"in_progress"}
{"id":"bd-3","title":"gone","status":"tombstone"}
{"title":"no id"}
`)

	issues, err := ReadSnapshot(dir)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "bd-1", issues[0].ID)
	assert.Equal(t, "second (edited)", issues[1].Title)
	assert.Equal(t, StatusInProgress, issues[1].Status)

	_, err = ReadSnapshot(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestDecodeIssues(t *testing.T) {
	assert.Len(t, decodeIssues(`[{"id":"a"},{"id":"b"}]`), 2)
	assert.Len(t, decodeIssues(`{"id":"a","status":"closed"}`), 1)
	assert.Nil(t, decodeIssues(`Error: no database`))
	assert.Nil(t, decodeIssues(`[{"id":`))
	assert.Nil(t, decodeIssues(``))
}

func TestClientReady(t *testing.T) {
	fake := testutil.NewFakeExecutor().
		On("bd ready --json --limit 1 --parent epic-1", testutil.Response{Stdout: `[{"id":"t-1","title":"Do it","status":"open"}]`})
	c := NewClient(WithExecutor(fake))

	issues := c.Ready(context.Background(), t.TempDir(), "epic-1", 1)
	require.Len(t, issues, 1)
	assert.Equal(t, "t-1", issues[0].ID)

	// Unsafe scopes are refused before running anything.
	assert.Nil(t, c.Ready(context.Background(), "", "--all", 1))
	assert.Len(t, fake.Calls(), 1)
}

func TestClientShow(t *testing.T) {
	fake := testutil.NewFakeExecutor().
		On("bd show t-1 --json", testutil.Response{Stdout: `[{"id":"t-1","status":"closed","dependents":[{"id":"t-2","status":"open","dependency_type":"blocks"}]}]`}).
		On("bd show t-9 --json", testutil.Response{Stderr: "not found", Exit: 1})
	c := NewClient(WithExecutor(fake), WithBinary("bd"))

	issue, ok := c.Show(context.Background(), "", "t-1")
	require.True(t, ok)
	assert.True(t, issue.IsClosed())
	require.Len(t, issue.Dependents, 1)
	assert.Equal(t, "t-2", issue.Dependents[0].ID)

	_, ok = c.Show(context.Background(), "", "t-9")
	assert.False(t, ok)
}

func TestClientListAndSync(t *testing.T) {
	fake := testutil.NewFakeExecutor().
		On("br list --json", testutil.Response{Stdout: `[{"id":"b"},{"id":"a"}]`}).
		On("br sync --import-only", testutil.Response{})
	c := NewClient(WithExecutor(fake), WithBinary("br"))

	issues := c.List(context.Background(), "")
	require.Len(t, issues, 2)
	assert.Equal(t, "a", issues[0].ID)
	assert.True(t, c.Sync(context.Background(), ""))
}

func TestClientFailureIsEmpty(t *testing.T) {
	c := NewClient(WithExecutor(testutil.NewFakeExecutor()))
	assert.Empty(t, c.List(context.Background(), ""))
	assert.Empty(t, c.Ready(context.Background(), "", "", 5))
	assert.False(t, c.Sync(context.Background(), ""))
}
