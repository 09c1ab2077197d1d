package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/errors"
	"github.com/grovetools/agentwatch/internal/daemon/schedule/schedtest"
	"github.com/grovetools/agentwatch/pkg/termparse"
)

func newTerminalFixture(cfg TerminalConfig) (*TerminalManager, *fakePanes, *schedtest.Clock) {
	panes := newFakePanes()
	clock := schedtest.New(time.Unix(1700000000, 0))
	return NewTerminalManager(cfg, panes, clock, nil), panes, clock
}

func TestTerminalPushesOnChange(t *testing.T) {
	m, panes, clock := newTerminalFixture(TerminalConfig{Lines: 100})
	panes.set("main:0.0", "> hello\n⏺ Hi there.\n")

	c := newFakeClient()
	require.NoError(t, m.Connect("main:0.0", c))
	require.Equal(t, 1, c.count())

	var got TerminalPayload
	c.last(t, &got)
	assert.Equal(t, "terminal", got.Type)
	assert.Equal(t, "main:0.0", got.Target)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, termparse.TypeUserPrompt, got.Blocks[0].Type)
	assert.Equal(t, termparse.TypeAgentResponse, got.Blocks[1].Type)

	clock.Advance(time.Second)
	assert.Equal(t, 1, c.count(), "unchanged capture is not pushed")

	panes.set("main:0.0", "> hello\n⏺ Hi there.\n> next\n")
	clock.Advance(DefaultTerminalPoll)
	assert.Equal(t, 2, c.count())
	c.last(t, &got)
	assert.Len(t, got.Blocks, 3)
	assert.Contains(t, panes.gotLines, 100)
}

func TestTerminalLateJoinerGetsLatest(t *testing.T) {
	m, panes, _ := newTerminalFixture(TerminalConfig{})
	panes.set("main:0.0", "plain output\n")

	first, second := newFakeClient(), newFakeClient()
	require.NoError(t, m.Connect("main:0.0", first))
	require.NoError(t, m.Connect("main:0.0", second))
	assert.Equal(t, first.messages(), second.messages())
	assert.Equal(t, []string{"main:0.0"}, m.Targets())
}

func TestTerminalLastClientForgetsFeed(t *testing.T) {
	m, panes, clock := newTerminalFixture(TerminalConfig{})
	panes.set("a:0.0", "x\n")
	panes.set("b:0.0", "y\n")

	c1, c2 := newFakeClient(), newFakeClient()
	require.NoError(t, m.Connect("a:0.0", c1))
	require.NoError(t, m.Connect("b:0.0", c2))
	assert.Equal(t, 2, clock.Pending())

	m.Disconnect("a:0.0", c1)
	assert.Equal(t, 1, clock.Pending())
	assert.Equal(t, []string{"b:0.0"}, m.Targets())

	// Reconnecting starts from scratch and pushes again.
	c3 := newFakeClient()
	require.NoError(t, m.Connect("a:0.0", c3))
	assert.Equal(t, 1, c3.count())
	assert.Equal(t, 2, m.Stats().Current)
	assert.Equal(t, 3, m.Stats().Admitted)
}

func TestTerminalPerTargetLimit(t *testing.T) {
	m, panes, _ := newTerminalFixture(TerminalConfig{MaxClients: 1})
	panes.set("a:0.0", "x\n")
	require.NoError(t, m.Connect("a:0.0", newFakeClient()))

	rejected := newFakeClient()
	err := m.Connect("a:0.0", rejected)
	assert.True(t, errors.Is(err, errors.ErrCodeClientLimit))
	assert.Equal(t, ReasonClientLimit, rejected.closeReason)

	// Other targets have their own pools.
	assert.NoError(t, m.Connect("b:0.0", newFakeClient()))
	assert.True(t, errors.Is(m.Connect("", newFakeClient()), errors.ErrCodeInvalidInput))
}

func TestTerminalResizeAndPing(t *testing.T) {
	m, panes, _ := newTerminalFixture(TerminalConfig{})
	panes.set("a:0.0", "x\n")
	c := newFakeClient()
	require.NoError(t, m.Connect("a:0.0", c))

	m.Handle("a:0.0", c, []byte(`{"type":"resize","cols":120,"rows":40}`))
	assert.Equal(t, []string{"a:0.0"}, panes.resizes)

	m.Handle("a:0.0", c, []byte(`{"type":"ping"}`))
	msgs := c.messages()
	assert.Equal(t, pongMessage, msgs[len(msgs)-1])
}

func TestTerminalBlocks(t *testing.T) {
	m, panes, _ := newTerminalFixture(TerminalConfig{})
	panes.set("a:0.0", "> q\n")

	blocks, ok := m.Blocks(context.Background(), "a:0.0")
	require.True(t, ok)
	require.Len(t, blocks, 1)

	_, ok = m.Blocks(context.Background(), "missing:0.0")
	assert.False(t, ok)
}
