package bus

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

func normalizeWSURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("bus: parse address %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsListener upgrades inbound HTTP connections on a single bound
// address to Sockets.
type wsListener struct {
	ln       net.Listener
	srv      *http.Server
	accepted chan Socket
	closed   chan struct{}
}

// ListenWS binds addr and serves the bus's upgrade endpoint. The
// returned Listener's Accept yields one Socket per client connection.
func ListenWS(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: listen %s: %w", addr, err)
	}
	l := &wsListener{
		ln:       ln,
		accepted: make(chan Socket, 16),
		closed:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}
	go func() {
		_ = l.srv.Serve(ln)
	}()
	return l, nil
}

func (l *wsListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sock := newWSSocket(conn)
	select {
	case l.accepted <- sock:
	case <-l.closed:
		sock.Close()
	}
}

func (l *wsListener) Accept(ctx context.Context) (Socket, error) {
	select {
	case s := <-l.accepted:
		return s, nil
	case <-l.closed:
		return nil, fmt.Errorf("bus: listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Close() error {
	select {
	case <-l.closed:
		return nil
	default:
		close(l.closed)
	}
	return l.srv.Close()
}

// Addr returns the bound listen address, useful when tests bind ":0".
func (l *wsListener) Addr() net.Addr {
	return l.ln.Addr()
}
