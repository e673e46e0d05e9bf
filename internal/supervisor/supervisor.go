// Package supervisor implements the client-side Connection Supervisor:
// it owns a single Transport Binding connection, probes it with a
// periodic heartbeat, reconnects with bounded retries on disappearance,
// and gates outbound calls while the connection is down.
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaybus/relaybus/internal/bus"
	"github.com/relaybus/relaybus/pkg/wire"
)

// State is one of the supervisor's connection states.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// ErrOutage is returned when a caller's outage-gate wait expires
// without the supervisor reaching Connected.
var ErrOutage = errors.New("supervisor: outage gate timed out")

// ErrShuttingDown is returned for calls issued after Shutdown.
var ErrShuttingDown = errors.New("supervisor: shutting down")

// Dialer establishes one new Transport Binding connection.
type Dialer func(ctx context.Context) (bus.Socket, error)

// Config holds the supervisor's tunables; zero values take the
// package's defaults.
type Config struct {
	HeartbeatInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HeartbeatTimeout     time.Duration
	OutageWait           time.Duration

	// DisableAutoReconnect, when true, stops kickReconnect from
	// scheduling a retry loop and stops any loop already running
	// before its next attempt. The zero value keeps reconnection on.
	DisableAutoReconnect bool
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 3 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = time.Second
	}
	if c.OutageWait <= 0 {
		c.OutageWait = 30 * time.Second
	}
	return c
}

// Supervisor owns exactly one connection at a time and mediates every
// call through it.
type Supervisor struct {
	dial   Dialer
	cfg    Config
	logger *slog.Logger

	// autoReconnectDisabled mirrors cfg.DisableAutoReconnect but is
	// independently toggleable via SetAutoReconnect so a caller can
	// stop an already-running reconnect loop cooperatively.
	autoReconnectDisabled atomic.Bool

	// connMu guards state/client/reconnecting together, separate from
	// listenerMu so listener callbacks can never deadlock a state
	// transition. changed is closed and replaced on every transition so
	// outage-gate waiters can block on it without holding connMu.
	connMu       sync.Mutex
	changed      chan struct{}
	state        State
	client       *bus.Client
	reconnecting bool

	listenerMu     sync.Mutex
	listeners      map[int]func(connected bool)
	nextListenerID int

	subMu sync.Mutex
	subs  map[string]func([]byte)
}

// New builds a Supervisor. Call Start to establish the first connection.
func New(dial Dialer, cfg Config, logger *slog.Logger) *Supervisor {
	cfg = cfg.withDefaults()
	s := &Supervisor{
		dial:      dial,
		cfg:       cfg,
		logger:    logger,
		state:     StateDisconnected,
		changed:   make(chan struct{}),
		listeners: make(map[int]func(connected bool)),
		subs:      make(map[string]func([]byte)),
	}
	s.autoReconnectDisabled.Store(cfg.DisableAutoReconnect)
	return s
}

// SetAutoReconnect toggles reconnection at runtime. Disabling it stops
// kickReconnect from starting a new retry loop and stops any loop
// already in flight before its next attempt; re-enabling it takes
// effect on the next disconnection.
func (s *Supervisor) SetAutoReconnect(enabled bool) {
	s.autoReconnectDisabled.Store(!enabled)
}

// broadcastChanged wakes every outage-gate waiter. Must be called with
// connMu held.
func (s *Supervisor) broadcastChanged() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Start performs the initial connection attempt. On failure it leaves
// the supervisor Disconnected and starts the reconnect worker.
func (s *Supervisor) Start(ctx context.Context) {
	s.connMu.Lock()
	s.state = StateConnecting
	s.connMu.Unlock()

	if s.tryConnect(ctx) {
		return
	}

	s.connMu.Lock()
	if s.state != StateShuttingDown {
		s.state = StateDisconnected
		s.broadcastChanged()
	}
	s.connMu.Unlock()

	s.kickReconnect()
}

// State reports the supervisor's current connection state.
func (s *Supervisor) State() State {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.state
}

// Call routes a request through the current connection. While
// disconnected it waits on the outage gate for up to OutageWait before
// failing; a peer-disconnected failure triggers a state transition and
// kicks the reconnect worker unless one is already running.
func (s *Supervisor) Call(ctx context.Context, method string, args, out any, timeout time.Duration) error {
	client, err := s.awaitConnected(ctx)
	if err != nil {
		return err
	}
	err = client.Call(ctx, method, args, out, timeout)
	if errors.Is(err, bus.ErrPeerDisconnected) {
		s.onDisconnect(client)
	}
	return err
}

func (s *Supervisor) awaitConnected(ctx context.Context) (*bus.Client, error) {
	deadline := time.Now().Add(s.cfg.OutageWait)
	for {
		s.connMu.Lock()
		if s.state == StateConnected {
			client := s.client
			s.connMu.Unlock()
			return client, nil
		}
		if s.state == StateShuttingDown {
			s.connMu.Unlock()
			return nil, ErrShuttingDown
		}
		ch := s.changed
		s.connMu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrOutage
		}
		select {
		case <-ch:
		case <-time.After(remaining):
			return nil, ErrOutage
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// SubscribeSignal registers handler for every future connection,
// including ones established by later reconnects.
func (s *Supervisor) SubscribeSignal(name string, handler func(payload []byte)) {
	s.subMu.Lock()
	s.subs[name] = handler
	s.subMu.Unlock()

	s.connMu.Lock()
	client := s.client
	s.connMu.Unlock()
	if client != nil {
		client.SubscribeSignal(name, handler)
	}
}

// OnConnectionChange registers a listener invoked with true on a
// successful (re)connect and false on disconnection. Returns a
// cancellation token.
func (s *Supervisor) OnConnectionChange(handler func(connected bool)) (cancel func()) {
	s.listenerMu.Lock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners[id] = handler
	s.listenerMu.Unlock()
	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Supervisor) notifyListeners(connected bool) {
	s.listenerMu.Lock()
	handlers := make([]func(bool), 0, len(s.listeners))
	for _, h := range s.listeners {
		handlers = append(handlers, h)
	}
	s.listenerMu.Unlock()
	for _, h := range handlers {
		h(connected)
	}
}

// tryConnect dials, wraps the socket in a Client, resubscribes signals,
// probes GetTestBool, and on success transitions to Connected.
func (s *Supervisor) tryConnect(ctx context.Context) bool {
	sock, err := s.dial(ctx)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("supervisor: dial failed", "error", err)
		}
		return false
	}
	client := bus.NewClient(sock, s.logger)
	client.OnClose(func(bus.CloseReason) { s.onDisconnect(client) })

	s.subMu.Lock()
	for name, handler := range s.subs {
		client.SubscribeSignal(name, handler)
	}
	s.subMu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.HeartbeatTimeout)
	var ok bool
	probeErr := client.Call(probeCtx, wire.MethodGetTestBool, nil, &struct{ B bool }{}, s.cfg.HeartbeatTimeout)
	cancel()
	ok = probeErr == nil || !errors.Is(probeErr, bus.ErrPeerDisconnected)

	if !ok {
		client.Close()
		return false
	}

	s.connMu.Lock()
	s.client = client
	s.state = StateConnected
	s.reconnecting = false
	s.broadcastChanged()
	s.connMu.Unlock()

	s.notifyListeners(true)
	go s.heartbeatLoop(client)
	return true
}

func (s *Supervisor) onDisconnect(failed *bus.Client) {
	s.connMu.Lock()
	if s.state == StateShuttingDown {
		s.connMu.Unlock()
		return
	}
	if s.client != failed {
		// A stale connection reported disconnection after we'd already
		// moved on to a newer one; nothing to do.
		s.connMu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	s.state = StateDisconnected
	alreadyReconnecting := s.reconnecting
	s.broadcastChanged()
	s.connMu.Unlock()

	if wasConnected {
		s.notifyListeners(false)
	}
	if !alreadyReconnecting {
		s.kickReconnect()
	}
}

func (s *Supervisor) kickReconnect() {
	if s.autoReconnectDisabled.Load() {
		if s.logger != nil {
			s.logger.Info("supervisor: auto-reconnect disabled, not scheduling retry loop")
		}
		return
	}

	s.connMu.Lock()
	if s.reconnecting || s.state == StateShuttingDown {
		s.connMu.Unlock()
		return
	}
	s.reconnecting = true
	s.connMu.Unlock()

	go s.reconnectWorker()
}

func (s *Supervisor) reconnectWorker() {
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		if s.autoReconnectDisabled.Load() {
			if s.logger != nil {
				s.logger.Info("supervisor: auto-reconnect disabled, stopping retry loop")
			}
			break
		}

		s.connMu.Lock()
		shuttingDown := s.state == StateShuttingDown
		s.connMu.Unlock()
		if shuttingDown {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReconnectInterval)
		ok := s.tryConnect(ctx)
		cancel()
		if ok {
			return
		}
		if s.logger != nil {
			s.logger.Warn("supervisor: reconnect attempt failed", "attempt", attempt)
		}
		time.Sleep(s.cfg.ReconnectInterval)
	}

	s.connMu.Lock()
	s.reconnecting = false
	if s.state != StateShuttingDown {
		s.state = StateDisconnected
		s.broadcastChanged()
	}
	s.connMu.Unlock()
	if s.logger != nil {
		s.logger.Error("supervisor: reconnect attempts exhausted")
	}
}

func (s *Supervisor) heartbeatLoop(client *bus.Client) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.connMu.Lock()
		current := s.client
		shuttingDown := s.state == StateShuttingDown
		s.connMu.Unlock()
		if shuttingDown || current != client {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HeartbeatTimeout)
		err := client.Call(ctx, wire.MethodGetTestBool, nil, &struct{ B bool }{}, s.cfg.HeartbeatTimeout)
		cancel()
		if errors.Is(err, bus.ErrPeerDisconnected) {
			s.onDisconnect(client)
			return
		}
	}
}

// Shutdown transitions to ShuttingDown, wakes any outage-gate waiters
// so they fail fast, and closes the current connection.
func (s *Supervisor) Shutdown() {
	s.connMu.Lock()
	s.state = StateShuttingDown
	client := s.client
	s.broadcastChanged()
	s.connMu.Unlock()
	if client != nil {
		client.Close()
	}
}
