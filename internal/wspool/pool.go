package wspool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
	"github.com/klaro-drops/drops-miner/internal/minerrors"
)

const (
	// defaultMaxConnections and defaultMaxTopicsPerConn mirror Twitch's own
	// PubSub edge limits (8 sockets, 50 topics each); NewWithLimits lets a
	// deployment dial them down (DROPS_WS_POOL_CAP/DROPS_WS_TOPICS_PER_CONN)
	// without touching this package.
	defaultMaxConnections  = 8
	defaultMaxTopicsPerConn = 50
)

// Pool manages up to maxConnections websocket connections, each holding up
// to maxTopicsPerConn topic subscriptions.
type Pool struct {
	url              string
	dialer           Dialer
	authToken        func() string
	logger           minerlog.Logger
	maxConnections   int
	maxTopicsPerConn int

	mu    sync.Mutex
	conns []*connection

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Pool sized to Twitch's own PubSub limits, dialing directly
// (no proxy). authToken is called lazily whenever a LISTEN frame needs the
// current access token.
func New(url string, authToken func() string, logger minerlog.Logger) *Pool {
	p, _ := NewWithLimits(url, authToken, logger, defaultMaxConnections, defaultMaxTopicsPerConn, "")
	return p
}

// NewWithLimits builds a Pool capped at maxConns connections of maxTopics
// subscriptions each. Values below 1 fall back to the package defaults. When
// proxyURL is set, every connection dials through it, mirroring
// internal/transport's handling of the same setting on the HTTP side.
func NewWithLimits(url string, authToken func() string, logger minerlog.Logger, maxConns, maxTopics int, proxyURL string) (*Pool, error) {
	if maxConns < 1 {
		maxConns = defaultMaxConnections
	}
	if maxTopics < 1 {
		maxTopics = defaultMaxTopicsPerConn
	}
	dialer, err := newGorillaDialer(proxyURL)
	if err != nil {
		return nil, err
	}
	return &Pool{
		url:              url,
		dialer:           dialer,
		authToken:        authToken,
		logger:           logger,
		maxConnections:   maxConns,
		maxTopicsPerConn: maxTopics,
	}, nil
}

// Capacity reports the total number of topic subscriptions this pool can
// hold across every connection it's allowed to open.
func (p *Pool) Capacity() int {
	return p.maxConnections * p.maxTopicsPerConn
}

// Start launches every existing connection's run loop under ctx. Safe to
// call once; the pool is otherwise driven entirely by AddTopics/RemoveTopics.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.ctx = runCtx
	p.cancel = cancel
	conns := append([]*connection(nil), p.conns...)
	p.mu.Unlock()
	for _, c := range conns {
		startConnection(runCtx, c)
	}
}

// startConnection derives a per-connection context from runCtx and launches
// c.run under it, recording the cancel so the connection can be retired
// independent of the rest of the pool (see rebalanceLocked).
func startConnection(runCtx context.Context, c *connection) {
	connCtx, cancel := context.WithCancel(runCtx)
	c.setCancel(cancel)
	go c.run(connCtx)
}

// Stop cancels every connection's run loop.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// AddTopics fills the least-loaded existing connection up to the limit,
// spawning new connections (up to maxConnections) as needed. If the whole
// batch can't fit, it fails entirely with ErrTopicLimit and adds nothing.
func (p *Pool) AddTopics(ctx context.Context, topics []Topic) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := len(p.conns) * p.maxTopicsPerConn
	used := 0
	for _, c := range p.conns {
		used += c.topicCount()
	}
	available := capacity - used
	if len(p.conns) < p.maxConnections {
		available += (p.maxConnections - len(p.conns)) * p.maxTopicsPerConn
	}
	if len(topics) > available {
		return minerrors.ErrTopicLimit
	}

	remaining := topics
	ordered := append([]*connection(nil), p.conns...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].topicCount() < ordered[j].topicCount() })
	for _, c := range ordered {
		if len(remaining) == 0 {
			break
		}
		room := p.maxTopicsPerConn - c.topicCount()
		if room <= 0 {
			continue
		}
		n := room
		if n > len(remaining) {
			n = len(remaining)
		}
		c.addTopics(remaining[:n])
		remaining = remaining[n:]
	}

	for len(remaining) > 0 {
		if len(p.conns) >= p.maxConnections {
			return fmt.Errorf("%w: topics left over with pool at capacity", minerrors.ErrTopicLimit)
		}
		c := newConnection(len(p.conns)+1, p.url, p.dialer, p.authToken, p.logger)
		n := p.maxTopicsPerConn
		if n > len(remaining) {
			n = len(remaining)
		}
		c.addTopics(remaining[:n])
		remaining = remaining[n:]
		p.conns = append(p.conns, c)
		if p.ctx != nil {
			startConnection(p.ctx, c)
		}
	}
	return nil
}

// RemoveTopics removes the named topics from whichever connection holds
// them. If the remaining topic count fits in len-1 full connections, the
// last connection is closed and its topics recycled into the rest.
func (p *Pool) RemoveTopics(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	toRemove := make(map[string]bool, len(names))
	for _, n := range names {
		toRemove[n] = true
	}
	for _, c := range p.conns {
		var mine []string
		for _, n := range c.topicNames() {
			if toRemove[n] {
				mine = append(mine, n)
			}
		}
		if len(mine) > 0 {
			c.removeTopics(mine)
		}
	}
	p.rebalanceLocked()
}

// rebalanceLocked closes the last connection and redistributes its topics
// if the pool now has more capacity than it needs. Caller holds p.mu.
func (p *Pool) rebalanceLocked() {
	if len(p.conns) <= 1 {
		return
	}
	total := 0
	for _, c := range p.conns {
		total += c.topicCount()
	}
	if total > (len(p.conns)-1)*p.maxTopicsPerConn {
		return
	}

	last := p.conns[len(p.conns)-1]
	var displaced []Topic
	last.mu.Lock()
	for _, t := range last.desired {
		displaced = append(displaced, t)
	}
	last.mu.Unlock()
	last.stop()
	p.conns = p.conns[:len(p.conns)-1]

	remaining := displaced
	for _, c := range p.conns {
		if len(remaining) == 0 {
			break
		}
		room := p.maxTopicsPerConn - c.topicCount()
		if room <= 0 {
			continue
		}
		n := room
		if n > len(remaining) {
			n = len(remaining)
		}
		c.addTopics(remaining[:n])
		remaining = remaining[n:]
	}
}

// ConnectionCount reports the number of live connections, for tests and
// diagnostics.
func (p *Pool) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
