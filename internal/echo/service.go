package echo

import (
	"github.com/relaybus/relaybus/internal/bus"
	"github.com/relaybus/relaybus/pkg/wire"
)

// Emitter is the narrow, emit-only slice of the Transport Binding that
// the Service needs to broadcast change signals. Accepting this
// instead of a full *bus.Server lets Service and the transport adapter
// be constructed in either order without an import cycle.
type Emitter interface {
	EmitSignal(name string, payload any) error
}

// Service implements the echo vtable against a Store, emitting the
// matching *Changed signal after every successful Set.
type Service struct {
	store   *Store
	emitter Emitter
}

// NewService builds a Service. emitter may be attached after
// construction via SetEmitter if the Transport Binding isn't built yet.
func NewService(store *Store, emitter Emitter) *Service {
	return &Service{store: store, emitter: emitter}
}

// SetEmitter attaches the emitter after construction.
func (s *Service) SetEmitter(e Emitter) { s.emitter = e }

// Vtable returns the method handlers for bus.Server.RegisterObject.
func (s *Service) Vtable() map[string]bus.Handler {
	return map[string]bus.Handler{
		wire.MethodSetTestBool:   s.handleSetTestBool,
		wire.MethodSetTestInt:    s.handleSetTestInt,
		wire.MethodSetTestDouble: s.handleSetTestDouble,
		wire.MethodSetTestString: s.handleSetTestString,
		wire.MethodSetTestInfo:   s.handleSetTestInfo,
		wire.MethodGetTestBool:   s.handleGetTestBool,
		wire.MethodGetTestInt:    s.handleGetTestInt,
		wire.MethodGetTestDouble: s.handleGetTestDouble,
		wire.MethodGetTestString: s.handleGetTestString,
		wire.MethodGetTestInfo:   s.handleGetTestInfo,
	}
}

type boolArg struct{ B bool }
type intArg struct{ I int32 }
type doubleArg struct{ D float64 }
type stringArg struct{ S string }
type boolResult struct{ Ok bool }

func (s *Service) handleSetTestBool(payload []byte) (any, *bus.MethodError) {
	var a boolArg
	bus.DecodeArgs(payload, &a)
	s.store.SetBool(a.B)
	s.emit(wire.SignalTestBoolChanged, a.B)
	return boolResult{Ok: true}, nil
}

func (s *Service) handleSetTestInt(payload []byte) (any, *bus.MethodError) {
	var a intArg
	bus.DecodeArgs(payload, &a)
	s.store.SetInt(a.I)
	s.emit(wire.SignalTestIntChanged, a.I)
	return boolResult{Ok: true}, nil
}

func (s *Service) handleSetTestDouble(payload []byte) (any, *bus.MethodError) {
	var a doubleArg
	bus.DecodeArgs(payload, &a)
	s.store.SetDouble(a.D)
	s.emit(wire.SignalTestDoubleChanged, a.D)
	return boolResult{Ok: true}, nil
}

func (s *Service) handleSetTestString(payload []byte) (any, *bus.MethodError) {
	var a stringArg
	bus.DecodeArgs(payload, &a)
	s.store.SetString(a.S)
	s.emit(wire.SignalTestStringChanged, a.S)
	return boolResult{Ok: true}, nil
}

func (s *Service) handleSetTestInfo(payload []byte) (any, *bus.MethodError) {
	var info wire.TestInfo
	bus.DecodeArgs(payload, &info)
	if err := s.store.SetInfo(info); err != nil {
		return nil, bus.NewMethodError(wire.MethodSetTestInfo, "method-error", err.Error())
	}
	s.emit(wire.SignalTestInfoChanged, info)
	return boolResult{Ok: true}, nil
}

func (s *Service) handleGetTestBool(payload []byte) (any, *bus.MethodError) {
	return boolArg{B: s.store.GetBool()}, nil
}

func (s *Service) handleGetTestInt(payload []byte) (any, *bus.MethodError) {
	return intArg{I: s.store.GetInt()}, nil
}

func (s *Service) handleGetTestDouble(payload []byte) (any, *bus.MethodError) {
	return doubleArg{D: s.store.GetDouble()}, nil
}

func (s *Service) handleGetTestString(payload []byte) (any, *bus.MethodError) {
	return stringArg{S: s.store.GetString()}, nil
}

func (s *Service) handleGetTestInfo(payload []byte) (any, *bus.MethodError) {
	return s.store.GetInfo(), nil
}

func (s *Service) emit(signal string, payload any) {
	if s.emitter == nil {
		return
	}
	s.emitter.EmitSignal(signal, payload)
}
