package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/relaybus/relaybus/internal/bus"
	"github.com/relaybus/relaybus/pkg/wire"
)

// newLoopbackServer starts a bus.Server over a mock transport with a
// GetTestBool handler that always answers, matching the echo
// interface's "always answers the heartbeat" requirement.
func newLoopbackServer(t *testing.T) (*bus.Server, Dialer) {
	t.Helper()
	srv := bus.NewServer(nil)
	srv.RegisterObject(map[string]bus.Handler{
		wire.MethodGetTestBool: func(payload []byte) (any, *bus.MethodError) {
			return struct{ B bool }{B: true}, nil
		},
	})

	dial := func(ctx context.Context) (bus.Socket, error) {
		clientSock, serverSock := bus.NewMockSocketPair()
		ln := bus.NewMockListener(serverSock)
		go srv.Serve(ln)
		return clientSock, nil
	}
	return srv, dial
}

func TestStartConnectsAndNotifiesListener(t *testing.T) {
	srv, dial := newLoopbackServer(t)
	defer srv.Close()

	sup := New(dial, Config{}, nil)
	defer sup.Shutdown()
	connected := make(chan bool, 1)
	sup.OnConnectionChange(func(ok bool) { connected <- ok })

	sup.Start(context.Background())

	select {
	case ok := <-connected:
		if !ok {
			t.Fatalf("expected connected notification")
		}
	case <-time.After(time.Second):
		t.Fatalf("never notified")
	}
	if sup.State() != StateConnected {
		t.Fatalf("expected StateConnected, got %v", sup.State())
	}
}

func TestCallSucceedsOnceConnected(t *testing.T) {
	srv, dial := newLoopbackServer(t)
	defer srv.Close()

	sup := New(dial, Config{}, nil)
	defer sup.Shutdown()
	sup.Start(context.Background())

	var out struct{ B bool }
	err := sup.Call(context.Background(), wire.MethodGetTestBool, nil, &out, time.Second)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !out.B {
		t.Fatalf("expected true")
	}
}

func TestCallTimesOutDuringOutageThenSucceedsAfterReconnect(t *testing.T) {
	srv, dial := newLoopbackServer(t)
	defer srv.Close()

	sup := New(dial, Config{OutageWait: 50 * time.Millisecond, ReconnectInterval: 20 * time.Millisecond, MaxReconnectAttempts: 5}, nil)
	defer sup.Shutdown()
	sup.Start(context.Background())

	sup.connMu.Lock()
	sup.state = StateDisconnected
	client := sup.client
	sup.connMu.Unlock()
	client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var out struct{ B bool }
	err := sup.Call(ctx, wire.MethodGetTestBool, nil, &out, time.Second)
	if err == nil {
		t.Fatalf("expected outage error while disconnected")
	}
}

func TestKickReconnectDoesNothingWhenAutoReconnectDisabled(t *testing.T) {
	srv, dial := newLoopbackServer(t)
	defer srv.Close()

	sup := New(dial, Config{
		OutageWait:           50 * time.Millisecond,
		ReconnectInterval:    10 * time.Millisecond,
		MaxReconnectAttempts: 5,
		DisableAutoReconnect: true,
	}, nil)
	sup.Start(context.Background())

	sup.connMu.Lock()
	sup.state = StateDisconnected
	client := sup.client
	sup.connMu.Unlock()
	client.Close()
	sup.kickReconnect()

	time.Sleep(30 * time.Millisecond)
	sup.connMu.Lock()
	reconnecting := sup.reconnecting
	state := sup.state
	sup.connMu.Unlock()
	if reconnecting {
		t.Fatalf("expected no retry loop scheduled while auto-reconnect disabled")
	}
	if state != StateDisconnected {
		t.Fatalf("expected state to remain disconnected, got %v", state)
	}
}

func TestSetAutoReconnectStopsRunningLoop(t *testing.T) {
	sup := New(func(ctx context.Context) (bus.Socket, error) {
		return nil, context.DeadlineExceeded
	}, Config{ReconnectInterval: 10 * time.Millisecond, MaxReconnectAttempts: 100}, nil)

	sup.connMu.Lock()
	sup.state = StateDisconnected
	sup.connMu.Unlock()
	sup.kickReconnect()

	time.Sleep(20 * time.Millisecond)
	sup.SetAutoReconnect(false)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sup.connMu.Lock()
		reconnecting := sup.reconnecting
		sup.connMu.Unlock()
		if !reconnecting {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("reconnect loop did not stop after SetAutoReconnect(false)")
}

func TestStartLeavesStateDisconnectedOnInitialDialFailure(t *testing.T) {
	sup := New(func(ctx context.Context) (bus.Socket, error) {
		return nil, context.DeadlineExceeded
	}, Config{ReconnectInterval: 5 * time.Millisecond, MaxReconnectAttempts: 1}, nil)

	sup.Start(context.Background())

	if got := sup.State(); got != StateDisconnected {
		t.Fatalf("expected StateDisconnected right after a failed Start, got %v", got)
	}
}

func TestReconnectExhaustionLeavesStateDisconnected(t *testing.T) {
	sup := New(func(ctx context.Context) (bus.Socket, error) {
		return nil, context.DeadlineExceeded
	}, Config{ReconnectInterval: 5 * time.Millisecond, MaxReconnectAttempts: 3}, nil)

	sup.Start(context.Background())
	if got := sup.State(); got != StateDisconnected {
		t.Fatalf("expected StateDisconnected after Start, got %v", got)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sup.connMu.Lock()
		reconnecting := sup.reconnecting
		sup.connMu.Unlock()
		if !reconnecting {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := sup.State(); got != StateDisconnected {
		t.Fatalf("expected StateDisconnected after reconnect attempts exhausted, got %v", got)
	}
}

func TestShutdownUnblocksWaitingCallers(t *testing.T) {
	sup := New(func(ctx context.Context) (bus.Socket, error) {
		return nil, context.DeadlineExceeded
	}, Config{OutageWait: 5 * time.Second}, nil)

	done := make(chan error, 1)
	go func() {
		var out struct{ B bool }
		done <- sup.Call(context.Background(), wire.MethodGetTestBool, nil, &out, time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	sup.Shutdown()

	select {
	case err := <-done:
		if err != ErrShuttingDown {
			t.Fatalf("expected ErrShuttingDown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Call did not unblock after Shutdown")
	}
}
