package bus

import "context"

// Socket is the minimal carrier abstraction the bus Client and Server
// are built on. Concrete carriers (websocket, in-memory mock) only need
// to move Envelope values; all call/response matching, signal dispatch,
// and vtable routing lives above this interface.
type Socket interface {
	Send(env Envelope) error
	Recv() (Envelope, error)
	Close() error
}

// Listener accepts inbound Sockets, the server-side counterpart to
// dialing one.
type Listener interface {
	Accept(ctx context.Context) (Socket, error)
	Close() error
}
