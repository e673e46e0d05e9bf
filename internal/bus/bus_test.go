package bus

import (
	"context"
	"testing"
	"time"
)

func TestCallRoundTrip(t *testing.T) {
	clientSock, serverSock := NewMockSocketPair()

	srv := NewServer(nil)
	srv.RegisterObject(map[string]Handler{
		"Echo": func(payload []byte) (any, *MethodError) {
			var args struct{ S string }
			if err := DecodeArgs(payload, &args); err != nil {
				return nil, NewMethodError("Echo", "method-error", err.Error())
			}
			return map[string]string{"S": args.S}, nil
		},
	})
	ln := NewMockListener(serverSock)
	go srv.Serve(ln)
	defer srv.Close()

	client := NewClient(clientSock, nil)
	defer client.Close()

	var out struct{ S string }
	if err := client.Call(context.Background(), "Echo", map[string]string{"S": "hi"}, &out, time.Second); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out.S != "hi" {
		t.Fatalf("expected echoed value, got %q", out.S)
	}
}

func TestCallUnknownMethodIsMethodError(t *testing.T) {
	clientSock, serverSock := NewMockSocketPair()
	srv := NewServer(nil)
	ln := NewMockListener(serverSock)
	go srv.Serve(ln)
	defer srv.Close()

	client := NewClient(clientSock, nil)
	defer client.Close()

	err := client.Call(context.Background(), "DoesNotExist", nil, nil, time.Second)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if _, ok := err.(*MethodError); !ok {
		t.Fatalf("expected *MethodError, got %T: %v", err, err)
	}
}

func TestCallTimesOutWhenServerNeverResponds(t *testing.T) {
	clientSock, serverSock := NewMockSocketPair()
	defer serverSock.Close()

	client := NewClient(clientSock, nil)
	defer client.Close()

	err := client.Call(context.Background(), "Slow", nil, nil, 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestCallAfterDisconnectIsPeerDisconnected(t *testing.T) {
	clientSock, serverSock := NewMockSocketPair()
	serverSock.Close()

	client := NewClient(clientSock, nil)
	defer client.Close()

	// Give the read loop a moment to observe the closed peer.
	time.Sleep(20 * time.Millisecond)

	err := client.Call(context.Background(), "Anything", nil, nil, time.Second)
	if err != ErrPeerDisconnected {
		t.Fatalf("expected ErrPeerDisconnected, got %v", err)
	}
}

func TestSignalSubscriptionReceivesBroadcast(t *testing.T) {
	clientSock, serverSock := NewMockSocketPair()
	srv := NewServer(nil)
	ln := NewMockListener(serverSock)
	go srv.Serve(ln)
	defer srv.Close()

	client := NewClient(clientSock, nil)
	defer client.Close()

	received := make(chan string, 1)
	cancel := client.SubscribeSignal("Ping", func(payload []byte) {
		received <- string(payload)
	})
	defer cancel()

	// Give the server a moment to register the connection before emitting.
	time.Sleep(20 * time.Millisecond)
	srv.EmitSignal("Ping", map[string]int{"n": 1})

	select {
	case payload := <-received:
		if payload == "" {
			t.Fatalf("expected a non-empty payload")
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive signal")
	}
}

func TestOnCloseFiresOnDisconnect(t *testing.T) {
	clientSock, serverSock := NewMockSocketPair()
	client := NewClient(clientSock, nil)

	fired := make(chan CloseReason, 1)
	client.OnClose(func(r CloseReason) { fired <- r })

	serverSock.Close()

	select {
	case r := <-fired:
		if !r.PeerVanished {
			t.Fatalf("expected PeerVanished=true")
		}
	case <-time.After(time.Second):
		t.Fatalf("OnClose handler did not fire")
	}
}
