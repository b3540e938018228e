package wspool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
)

// errReconnectRequested signals that the server sent a RECONNECT frame;
// connectAndServe returns it so run() redials immediately instead of
// treating it as a failure worth backing off for.
var errReconnectRequested = errors.New("server requested reconnect")

// State is a connection's position in the per-connection state machine.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

const (
	pingInterval = 3 * time.Minute
	pingTimeout  = 10 * time.Second
	gatherWindow = 500 * time.Millisecond
	reconnectMin = 200 * time.Millisecond
	reconnectCap = 3 * time.Minute
)

// wsConn is the subset of *websocket.Conn this package depends on, so tests
// can substitute a fake.
type wsConn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (int, []byte, error)
	Close() error
}

// Dialer opens a websocket connection to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (wsConn, error)
}

// gorillaDialer wraps gorilla/websocket's own Dialer so a configured proxy
// (mirroring internal/transport's handling of the same setting on the HTTP
// side) is honored on the socket side too.
type gorillaDialer struct {
	dialer *websocket.Dialer
}

// newGorillaDialer builds a gorillaDialer routed through proxyURL when set,
// falling back to websocket.DefaultDialer (which itself honors HTTP_PROXY/
// HTTPS_PROXY env vars) when it's empty.
func newGorillaDialer(proxyURL string) (gorillaDialer, error) {
	if proxyURL == "" {
		return gorillaDialer{dialer: websocket.DefaultDialer}, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return gorillaDialer{}, fmt.Errorf("parse proxy url: %w", err)
	}
	d := *websocket.DefaultDialer
	d.Proxy = http.ProxyURL(parsed)
	return gorillaDialer{dialer: &d}, nil
}

func (g gorillaDialer) Dial(ctx context.Context, rawURL string) (wsConn, error) {
	conn, _, err := g.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// connection owns one websocket: its desired/submitted topic sets, ping
// schedule, and reconnect loop.
type connection struct {
	id        int
	url       string
	dialer    Dialer
	logger    minerlog.Logger
	authToken func() string

	mu        sync.Mutex
	desired   map[string]Topic
	submitted map[string]bool

	stateMu sync.RWMutex
	state   State

	syncCh chan struct{}

	// cancel stops this connection's own run loop independent of the rest
	// of the pool, set when the pool starts it under its own derived
	// context. Nil until started.
	cancel context.CancelFunc
}

func newConnection(id int, url string, dialer Dialer, authToken func() string, logger minerlog.Logger) *connection {
	return &connection{
		id:        id,
		url:       url,
		dialer:    dialer,
		logger:    logger,
		authToken: authToken,
		desired:   make(map[string]Topic),
		submitted: make(map[string]bool),
		syncCh:    make(chan struct{}, 1),
	}
}

func (c *connection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// setCancel records the cancel func for this connection's own run loop,
// called once by the pool right before starting it.
func (c *connection) setCancel(cancel context.CancelFunc) {
	c.stateMu.Lock()
	c.cancel = cancel
	c.stateMu.Unlock()
}

// stop cancels this connection's run loop, if it was ever started. Used by
// the pool to retire a connection it's rebalancing away without waiting for
// the whole pool to shut down.
func (c *connection) stop() {
	c.stateMu.RLock()
	cancel := c.cancel
	c.stateMu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// topicCount reports how many topics are currently desired on this
// connection, used by the pool to find the least-loaded connection.
func (c *connection) topicCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.desired)
}

func (c *connection) addTopics(topics []Topic) {
	c.mu.Lock()
	for _, t := range topics {
		c.desired[t.Name] = t
	}
	c.mu.Unlock()
	c.requestSync()
}

func (c *connection) removeTopics(names []string) {
	c.mu.Lock()
	for _, n := range names {
		delete(c.desired, n)
	}
	c.mu.Unlock()
	c.requestSync()
}

func (c *connection) topicNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.desired))
	for name := range c.desired {
		out = append(out, name)
	}
	return out
}

func (c *connection) requestSync() {
	select {
	case c.syncCh <- struct{}{}:
	default:
	}
}

// diffTopics computes added = desired-submitted and removed = submitted-desired.
func diffTopics(desired map[string]Topic, submitted map[string]bool) (added []Topic, removed []string) {
	for name, t := range desired {
		if !submitted[name] {
			added = append(added, t)
		}
	}
	for name := range submitted {
		if _, ok := desired[name]; !ok {
			removed = append(removed, name)
		}
	}
	return added, removed
}

// run drives the connection until ctx is cancelled: connect, sync topics,
// ping, receive, reconnect on failure with exponential backoff.
func (c *connection) run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectMin
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.MaxInterval = reconnectCap
	b.MaxElapsedTime = 0

	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return
		default:
		}

		c.setState(StateConnecting)
		err := c.connectAndServe(ctx)
		reconnectRequested := errors.Is(err, errReconnectRequested)
		if err != nil && !reconnectRequested {
			c.logger.Errorf("wspool[%d] connection error: %v", c.id, err)
		}
		// submitted is cleared on disconnect so the full subscription is
		// re-sent on the next connection, per the reconnect policy.
		c.mu.Lock()
		c.submitted = make(map[string]bool)
		c.mu.Unlock()

		if reconnectRequested {
			// the server asked us to move off this edge; redial right away
			// instead of backing off like a failure.
			b.Reset()
			continue
		}

		select {
		case <-ctx.Done():
			c.setState(StateClosed)
			return
		case <-time.After(b.NextBackOff()):
		}
		c.setState(StateReconnecting)
	}
}

func (c *connection) connectAndServe(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	c.setState(StateOpen)

	if err := c.syncTopics(conn); err != nil {
		return fmt.Errorf("initial topic sync: %w", err)
	}

	readCh := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			readCh <- msg
		}
	}()

	pingTimer := time.NewTimer(pingInterval)
	defer pingTimer.Stop()
	// pongTimer fires only if a PONG doesn't arrive within PING_TIMEOUT of
	// the most recent PING; it's reset (pushed out) whenever one does.
	pongTimer := time.NewTimer(pingInterval + pingTimeout)
	defer pongTimer.Stop()
	gather := time.NewTimer(gatherWindow)
	defer gather.Stop()
	var pending [][]byte

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pingTimer.C:
			if err := conn.WriteJSON(map[string]string{"type": framePing}); err != nil {
				return fmt.Errorf("send ping: %w", err)
			}
			pingTimer.Reset(pingInterval)
			if !pongTimer.Stop() {
				select {
				case <-pongTimer.C:
				default:
				}
			}
			pongTimer.Reset(pingTimeout)
		case <-pongTimer.C:
			return fmt.Errorf("no pong within timeout, reconnecting")
		case <-c.syncCh:
			if err := c.syncTopics(conn); err != nil {
				return fmt.Errorf("topic sync: %w", err)
			}
		case msg := <-readCh:
			pending = append(pending, msg)
		case <-gather.C:
			for _, msg := range pending {
				if err := c.dispatch(msg, pongTimer); err != nil {
					return err
				}
			}
			pending = nil
			gather.Reset(gatherWindow)
		case err := <-readErr:
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (c *connection) syncTopics(conn wsConn) error {
	c.mu.Lock()
	added, removed := diffTopics(c.desired, c.submitted)
	c.mu.Unlock()

	if len(removed) > 0 {
		if err := conn.WriteJSON(buildUnlistenFrame(removed)); err != nil {
			return err
		}
		c.mu.Lock()
		for _, n := range removed {
			delete(c.submitted, n)
		}
		c.mu.Unlock()
	}
	if len(added) > 0 {
		names := make([]string, 0, len(added))
		needsAuth := false
		for _, t := range added {
			names = append(names, t.Name)
			needsAuth = needsAuth || t.NeedsAuth
		}
		token := ""
		if needsAuth {
			token = c.authToken()
		}
		if err := conn.WriteJSON(buildListenFrame(names, token)); err != nil {
			return err
		}
		c.mu.Lock()
		for _, t := range added {
			c.submitted[t.Name] = true
		}
		c.mu.Unlock()
	}
	return nil
}

// dispatch processes one inbound frame. A non-nil error means the caller
// must drop the connection and redial (RECONNECT frames, per the server
// telling us this edge is going away).
func (c *connection) dispatch(raw []byte, pongTimer *time.Timer) error {
	frame, err := parseInboundFrame(raw)
	if err != nil {
		c.logger.Errorf("wspool[%d] malformed frame: %v", c.id, err)
		return nil
	}
	switch frame.Type {
	case framePong:
		if !pongTimer.Stop() {
			select {
			case <-pongTimer.C:
			default:
			}
		}
		pongTimer.Reset(pingInterval + pingTimeout)
	case frameReconnect:
		c.logger.Debugf("wspool[%d] server requested reconnect", c.id)
		return errReconnectRequested
	case frameResponse:
		// acknowledgement for a LISTEN/UNLISTEN, nothing to do
	case frameMessage:
		c.mu.Lock()
		topic, ok := c.desired[frame.Data.Topic]
		c.mu.Unlock()
		if ok && topic.Handle != nil {
			go topic.Handle([]byte(frame.Data.Message))
		}
	}
	return nil
}
