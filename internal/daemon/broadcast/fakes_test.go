package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovetools/agentwatch/pkg/beads"
)

type fakeClient struct {
	mu          sync.Mutex
	sent        []string
	open        bool
	buffered    int
	failSend    bool
	closeCode   int
	closeReason string
}

func newFakeClient() *fakeClient {
	return &fakeClient{open: true}
}

func (c *fakeClient) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return context.Canceled
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closeCode = code
	c.closeReason = reason
}

func (c *fakeClient) BufferedAmount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *fakeClient) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeClient) count() int {
	return len(c.messages())
}

// last decodes the most recent message into v.
func (c *fakeClient) last(t *testing.T, v interface{}) {
	t.Helper()
	msgs := c.messages()
	require.NotEmpty(t, msgs)
	require.NoError(t, json.Unmarshal([]byte(msgs[len(msgs)-1]), v))
}

type fakePanes struct {
	mu       sync.Mutex
	captures map[string]string
	titles   map[string]string
	resizes  []string
	gotLines []int
}

func newFakePanes() *fakePanes {
	return &fakePanes{captures: map[string]string{}, titles: map[string]string{}}
}

func (p *fakePanes) set(target, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures[target] = text
}

func (p *fakePanes) CaptureText(_ context.Context, target string, lastN int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotLines = append(p.gotLines, lastN)
	text, ok := p.captures[target]
	return text, ok
}

func (p *fakePanes) ListPaneTitles(context.Context) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.titles))
	for k, v := range p.titles {
		out[k] = v
	}
	return out
}

func (p *fakePanes) Resize(_ context.Context, target string, cols, rows int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resizes = append(p.resizes, target)
	return true
}

type fakeNotifier struct {
	mu     sync.Mutex
	subs   map[int]func()
	nextID int

	// When gate is set, unsubscribe signals entered and waits on gate.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{subs: map[int]func(){}}
}

func (n *fakeNotifier) Subscribe(fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		gate, entered := n.gate, n.entered
		n.mu.Unlock()
		if gate != nil {
			entered <- struct{}{}
			<-gate
		}
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *fakeNotifier) fire() {
	n.mu.Lock()
	fns := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (n *fakeNotifier) len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

type fakeTracker struct {
	mu     sync.Mutex
	issues map[string][]beads.Issue
	calls  int
}

func (f *fakeTracker) List(_ context.Context, project string) []beads.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.issues[project]
}

func jsonDecode(s string, v interface{}) error {
	return json.Unmarshal([]byte(s), v)
}
