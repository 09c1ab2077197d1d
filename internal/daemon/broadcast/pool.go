package broadcast

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultSlowClientThreshold is the queued-byte count above which a client
// is dropped instead of sent to.
const DefaultSlowClientThreshold = 64 * 1024

// Stats are cumulative counters for one pool, or the sum over several.
type Stats struct {
	Admitted     int `json:"admitted"`
	Rejected     int `json:"rejected"`
	DroppedSlow  int `json:"dropped_slow"`
	DroppedError int `json:"dropped_error"`
	Current      int `json:"current"`
}

func (s Stats) add(o Stats) Stats {
	return Stats{
		Admitted:     s.Admitted + o.Admitted,
		Rejected:     s.Rejected + o.Rejected,
		DroppedSlow:  s.DroppedSlow + o.DroppedSlow,
		DroppedError: s.DroppedError + o.DroppedError,
		Current:      s.Current + o.Current,
	}
}

// Pool is a bounded, ordered set of clients.
type Pool struct {
	name      string
	limit     int
	threshold int
	logger    *logrus.Entry

	mu      sync.Mutex
	clients []Client
	stats   Stats
}

// NewPool creates a pool admitting at most limit clients. A threshold of
// zero or less uses DefaultSlowClientThreshold.
func NewPool(name string, limit, threshold int, logger *logrus.Entry) *Pool {
	if threshold <= 0 {
		threshold = DefaultSlowClientThreshold
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		name:      name,
		limit:     limit,
		threshold: threshold,
		logger:    logger.WithField("pool", name),
	}
}

// Admit adds c unless the pool is full, in which case c is closed with
// CloseTryAgainLater and false is returned.
func (p *Pool) Admit(c Client) bool {
	p.mu.Lock()
	if p.limit > 0 && len(p.clients) >= p.limit {
		p.stats.Rejected++
		p.mu.Unlock()
		p.logger.WithField("limit", p.limit).Warn("Rejecting client, pool full")
		c.Close(CloseTryAgainLater, ReasonClientLimit)
		return false
	}
	p.clients = append(p.clients, c)
	p.stats.Admitted++
	p.mu.Unlock()
	return true
}

// Remove drops c without closing it. It reports whether c was present.
func (p *Pool) Remove(c Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(c)
}

func (p *Pool) removeLocked(c Client) bool {
	for i, existing := range p.clients {
		if existing == c {
			p.clients = append(p.clients[:i], p.clients[i+1:]...)
			return true
		}
	}
	return false
}

// Broadcast sends text to every client in admission order and returns how
// many received it. Slow, closed and failing clients are dropped.
func (p *Pool) Broadcast(text string) int {
	p.mu.Lock()
	clients := make([]Client, len(p.clients))
	copy(clients, p.clients)
	p.mu.Unlock()

	sent := 0
	for _, c := range clients {
		if p.Send(c, text) {
			sent++
		}
	}
	return sent
}

// Send delivers text to one pooled client with the same drop rules as
// Broadcast.
func (p *Pool) Send(c Client, text string) bool {
	if b, ok := c.(Buffered); ok && b.BufferedAmount() > p.threshold {
		p.drop(c, true)
		return false
	}
	if !c.IsOpen() {
		p.drop(c, false)
		return false
	}
	if err := c.Send(text); err != nil {
		p.logger.WithError(err).Debug("Send failed, dropping client")
		p.drop(c, false)
		return false
	}
	return true
}

func (p *Pool) drop(c Client, slow bool) {
	p.mu.Lock()
	removed := p.removeLocked(c)
	if removed {
		if slow {
			p.stats.DroppedSlow++
		} else {
			p.stats.DroppedError++
		}
	}
	p.mu.Unlock()
	if !removed {
		return
	}
	if slow {
		p.logger.Debug("Dropping slow client")
		c.Close(websocket.ClosePolicyViolation, ReasonSlowClient)
		return
	}
	c.Close(websocket.CloseGoingAway, "")
}

// Has reports whether c is pooled.
func (p *Pool) Has(c Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.clients {
		if existing == c {
			return true
		}
	}
	return false
}

// Len returns the number of pooled clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Current = len(p.clients)
	return s
}

// CloseAll closes and removes every client.
func (p *Pool) CloseAll(code int, reason string) {
	p.mu.Lock()
	clients := p.clients
	p.clients = nil
	p.mu.Unlock()
	for _, c := range clients {
		c.Close(code, reason)
	}
}
