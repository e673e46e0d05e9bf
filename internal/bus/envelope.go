package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// envelopeKind tags what an Envelope carries across the socket.
type envelopeKind string

const (
	kindCall   envelopeKind = "call"
	kindResult envelopeKind = "result"
	kindError  envelopeKind = "error"
	kindSignal envelopeKind = "signal"
)

// Envelope is the JSON frame exchanged over the bus socket. It carries
// method calls, results, errors, and signal broadcasts, correlated by a
// uuid-generated ID.
type Envelope struct {
	Kind    envelopeKind    `json:"kind"`
	ID      string          `json:"id"`
	Name    string          `json:"name"` // method name for call/result/error, signal name for signal
	Payload json.RawMessage `json:"payload,omitempty"`
	ErrMsg  string          `json:"errMsg,omitempty"`
	ErrKind string          `json:"errKind,omitempty"`
}

func newCallEnvelope(method string, args any) (Envelope, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return Envelope{}, fmt.Errorf("bus: marshal call args: %w", err)
	}
	return Envelope{Kind: kindCall, ID: uuid.NewString(), Name: method, Payload: payload}, nil
}

func newResultEnvelope(id, method string, result any) (Envelope, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return Envelope{}, fmt.Errorf("bus: marshal result: %w", err)
	}
	return Envelope{Kind: kindResult, ID: id, Name: method, Payload: payload}, nil
}

func newErrorEnvelope(id, method, errKind, errMsg string) Envelope {
	return Envelope{Kind: kindError, ID: id, Name: method, ErrKind: errKind, ErrMsg: errMsg}
}

func newSignalEnvelope(name string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("bus: marshal signal payload: %w", err)
	}
	return Envelope{Kind: kindSignal, ID: uuid.NewString(), Name: name, Payload: raw}, nil
}

func (e Envelope) decode(out any) error {
	if out == nil {
		return nil
	}
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}
