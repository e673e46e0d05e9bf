package bus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsSocket carries Envelope frames over a websocket connection. Writes
// are serialised through a buffered channel drained by a single writer
// goroutine so concurrent callers never race on the underlying
// connection.
type wsSocket struct {
	conn     *websocket.Conn
	sendChan chan Envelope
	done     chan struct{}
	writeMu  sync.Mutex
	closeErr error
	closedCh chan struct{}
}

const (
	wsWriteTimeout = 10 * time.Second
)

func newWSSocket(conn *websocket.Conn) *wsSocket {
	s := &wsSocket{
		conn:     conn,
		sendChan: make(chan Envelope, 256),
		done:     make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

var dialer = websocket.Dialer{HandshakeTimeout: 5 * time.Second}

// DialWS establishes the client side of the local session bus over a
// loopback websocket connection. addr is an ws:// or http:// URL; the
// scheme is normalised automatically.
func DialWS(ctx context.Context, addr string) (Socket, error) {
	u, err := normalizeWSURL(addr)
	if err != nil {
		return nil, err
	}
	conn, _, err := dialer.DialContext(ctx, u, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("bus: dial: %w", err)
	}
	return newWSSocket(conn), nil
}

func (s *wsSocket) writeLoop() {
	defer close(s.done)
	for env := range s.sendChan {
		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		err := s.conn.WriteJSON(env)
		s.writeMu.Unlock()
		if err != nil {
			s.closeErr = err
			return
		}
	}
}

func (s *wsSocket) Send(env Envelope) error {
	select {
	case s.sendChan <- env:
		return nil
	case <-s.done:
		if s.closeErr != nil {
			return s.closeErr
		}
		return ErrPeerDisconnected
	}
}

func (s *wsSocket) Recv() (Envelope, error) {
	var env Envelope
	err := s.conn.ReadJSON(&env)
	if err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (s *wsSocket) Close() error {
	select {
	case <-s.closedCh:
		return nil
	default:
		close(s.closedCh)
	}
	// Draining sendChan is unnecessary: closing it lets writeLoop exit,
	// and we close the connection ourselves so Recv unblocks promptly.
	func() {
		defer func() { recover() }()
		close(s.sendChan)
	}()
	<-s.done
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Close()
}
