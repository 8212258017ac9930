// Package channel owns the duplex, event-typed websocket connection to
// the chatbox server. Connection loss never surfaces as an error to
// callers; it shows up only as phase transitions, and the client keeps
// redialing on its own until closed.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrAlreadyStarted = errors.New("channel already started")
	ErrClosed         = errors.New("channel closed")
)

// Handler consumes one inbound event's raw payload. Handlers registered
// for the same event name run in arrival order, one at a time, on the
// client's dispatch goroutine.
type Handler func(data json.RawMessage)

// Frame is one event-typed message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Options tunes the transport. Zero values fall back to defaults.
type Options struct {
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// RetryInterval is the base reconnect delay; the delay grows
	// linearly with consecutive failures up to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	// QueuePending queues sends issued while not connected and flushes
	// them on reconnect. Off by default: frames are dropped and callers
	// re-issue commands after observing Connected.
	QueuePending bool
	QueueLimit   int
}

func (o *Options) withDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.MaxRetryInterval <= 0 {
		o.MaxRetryInterval = 10 * time.Second
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 64
	}
}

type dispatchItem struct {
	frame   *Frame
	phase   Phase
	isPhase bool
}

// Client is the channel transport. One Client maps to one logical
// connection; create it, register subscriptions, then Connect.
type Client struct {
	endpoint string
	opts     Options
	dialer   *websocket.Dialer

	phase atomic.Int32

	mu        sync.Mutex
	conn      *websocket.Conn
	handlers  map[string][]Handler
	phaseSubs []func(Phase)
	pending   []Frame
	started   bool
	closed    bool
	cancel    context.CancelFunc

	// gorilla permits a single concurrent writer per connection.
	writeMu sync.Mutex

	inbound chan dispatchItem
	done    chan struct{}
	wg      sync.WaitGroup
}

// New builds a client for the given websocket endpoint.
func New(endpoint string, opts Options) *Client {
	opts.withDefaults()
	return &Client{
		endpoint: endpoint,
		opts:     opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		handlers: make(map[string][]Handler),
		inbound:  make(chan dispatchItem, 64),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a handler for one event name.
func (c *Client) Subscribe(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// OnPhase registers a hook invoked on every phase transition, on the
// same dispatch goroutine as event handlers.
func (c *Client) OnPhase(fn func(Phase)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phaseSubs = append(c.phaseSubs, fn)
}

// Phase reports the current connectivity phase.
func (c *Client) Phase() Phase {
	return Phase(c.phase.Load())
}

// Connect starts the dial/redial loop and the dispatch goroutine. It
// returns immediately; connectivity is observed through OnPhase.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(2)
	go c.dispatch()
	go c.supervise(ctx)
	return nil
}

// Send emits one event, fire and forget. While not connected the frame
// is dropped, or queued when QueuePending is set. The return value
// reports whether the frame was handed to the transport or queue; it is
// not a delivery acknowledgment.
func (c *Client) Send(event string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[channel] marshal %s: %v", event, err)
		return false
	}
	f := Frame{Event: event, Data: data}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.conn == nil {
		if c.opts.QueuePending && len(c.pending) < c.opts.QueueLimit {
			c.pending = append(c.pending, f)
			c.mu.Unlock()
			return true
		}
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	return c.write(f)
}

// Close tears the connection down and stops all goroutines. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	started := c.started
	cancel := c.cancel
	close(c.done)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if started {
		c.wg.Wait()
	}
	c.phase.Store(int32(Disconnected))
}

func (c *Client) supervise(ctx context.Context) {
	defer c.wg.Done()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			c.setPhase(Disconnected)
			return
		case <-c.done:
			return
		default:
		}

		c.setPhase(Connecting)
		conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			// Silent retry: the caller only ever sees phases.
			log.Printf("[channel] dial %s: %v", c.endpoint, err)
			if !c.sleep(ctx, c.retryDelay(attempt)) {
				c.setPhase(Disconnected)
				return
			}
			attempt++
			continue
		}
		attempt = 0

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		flush := c.pending
		c.pending = nil
		c.mu.Unlock()

		c.setPhase(Connected)
		for _, f := range flush {
			c.write(f)
		}

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.setPhase(Disconnected)

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}
		if !c.sleep(ctx, c.retryDelay(attempt)) {
			return
		}
		attempt++
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("[channel] read: %v", err)
			}
			return
		}
		select {
		case c.inbound <- dispatchItem{frame: &f}:
		case <-c.done:
			return
		}
	}
}

// dispatch drains the inbound queue one item at a time, which is what
// keeps per-event-name arrival order intact for handlers.
func (c *Client) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case it := <-c.inbound:
			if it.isPhase {
				for _, fn := range c.snapshotPhaseSubs() {
					fn(it.phase)
				}
				continue
			}
			for _, h := range c.snapshotHandlers(it.frame.Event) {
				h(it.frame.Data)
			}
		}
	}
}

func (c *Client) snapshotHandlers(event string) []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := c.handlers[event]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

func (c *Client) snapshotPhaseSubs() []func(Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(Phase), len(c.phaseSubs))
	copy(out, c.phaseSubs)
	return out
}

func (c *Client) setPhase(p Phase) {
	if Phase(c.phase.Swap(int32(p))) == p {
		return
	}
	select {
	case c.inbound <- dispatchItem{phase: p, isPhase: true}:
	case <-c.done:
	}
}

func (c *Client) write(f Frame) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}
	if err := conn.WriteJSON(f); err != nil {
		// A failed write is a dropped send; the connection loss itself
		// surfaces through the read loop as a phase transition.
		log.Printf("[channel] send %s: %v", f.Event, err)
		return false
	}
	return true
}

func (c *Client) retryDelay(attempt int) time.Duration {
	d := c.opts.RetryInterval * time.Duration(attempt+1)
	if d > c.opts.MaxRetryInterval {
		d = c.opts.MaxRetryInterval
	}
	return d
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-t.C:
		return true
	}
}
