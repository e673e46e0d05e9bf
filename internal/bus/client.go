package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CloseReason describes why a Client's connection ended, passed to
// OnClose handlers.
type CloseReason struct {
	Err          error
	PeerVanished bool
}

// Client is the client side of the Transport Binding: typed Call,
// signal subscription, and a close-notification hook. Exactly one
// Client exists per connection; internal/supervisor owns it exclusively
// for the connection's lifetime.
type Client struct {
	sock   Socket
	logger *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]chan Envelope

	subMu     sync.Mutex
	subs      map[string]map[int]func(payload []byte)
	nextSubID int

	closeMu   sync.Mutex
	onClose   []func(CloseReason)
	closedCh  chan struct{}
	closeOnce sync.Once
}

// NewClient wraps an already-established Socket (from DialWS or a mock
// pair) and starts its read loop.
func NewClient(sock Socket, logger *slog.Logger) *Client {
	c := &Client{
		sock:     sock,
		logger:   logger,
		pending:  make(map[string]chan Envelope),
		subs:     make(map[string]map[int]func(payload []byte)),
		closedCh: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call issues a synchronous, typed RPC. out may be nil when the method
// returns nothing the caller needs. Returns ErrTimeout, ErrPeerDisconnected,
// or a *MethodError.
func (c *Client) Call(ctx context.Context, method string, args any, out any, timeout time.Duration) error {
	env, err := newCallEnvelope(method, args)
	if err != nil {
		return err
	}

	respCh := make(chan Envelope, 1)
	c.pendingMu.Lock()
	c.pending[env.ID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.sock.Send(env); err != nil {
		return ErrPeerDisconnected
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case resp := <-respCh:
		if resp.Kind == kindError {
			return &MethodError{Method: method, Kind: resp.ErrKind, Msg: resp.ErrMsg}
		}
		return resp.decode(out)
	case <-c.closedCh:
		return ErrPeerDisconnected
	case <-callCtx.Done():
		return ErrTimeout
	}
}

// SubscribeSignal registers handler to be invoked, on the bus's own
// dispatch goroutine, for every signal named name. Returns a
// cancellation token rather than requiring the caller to retain the
// handler value for later removal.
func (c *Client) SubscribeSignal(name string, handler func(payload []byte)) (cancel func()) {
	c.subMu.Lock()
	if c.subs[name] == nil {
		c.subs[name] = make(map[int]func(payload []byte))
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[name][id] = handler
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs[name], id)
		c.subMu.Unlock()
	}
}

// OnClose registers a handler invoked when the connection drops.
func (c *Client) OnClose(handler func(CloseReason)) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.onClose = append(c.onClose, handler)
}

// Close shuts down the client's socket and read loop.
func (c *Client) Close() error {
	return c.sock.Close()
}

func (c *Client) readLoop() {
	for {
		env, err := c.sock.Recv()
		if err != nil {
			c.fail(err)
			return
		}
		switch env.Kind {
		case kindResult, kindError:
			c.pendingMu.Lock()
			ch, ok := c.pending[env.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- env
			}
		case kindSignal:
			c.dispatchSignal(env)
		}
	}
}

func (c *Client) dispatchSignal(env Envelope) {
	c.subMu.Lock()
	handlers := make([]func(payload []byte), 0, len(c.subs[env.Name]))
	for _, h := range c.subs[env.Name] {
		handlers = append(handlers, h)
	}
	c.subMu.Unlock()
	for _, h := range handlers {
		h(env.Payload)
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.closeMu.Lock()
		handlers := append([]func(CloseReason){}, c.onClose...)
		c.closeMu.Unlock()
		reason := CloseReason{Err: err, PeerVanished: true}
		for _, h := range handlers {
			h(reason)
		}
		if c.logger != nil {
			c.logger.Warn("bus client connection closed", "error", err)
		}
	})
}
