// Package echo implements a synchronous key/value echo interface:
// booleans, integers, doubles, strings, and a four-field info record,
// used both as a liveness probe and an observable-change broadcast
// channel.
package echo

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/relaybus/relaybus/pkg/wire"
)

// Store is a process-wide string-to-string mapping guarded by a single
// mutex, storing the serialised form of each echo value.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStore creates an empty echo store.
func NewStore() *Store {
	return &Store{values: make(map[string]string)}
}

const (
	keyBool   = "bool"
	keyInt    = "int"
	keyDouble = "double"
	keyString = "string"
	keyInfo   = "info"
)

// SetBool stores a boolean value.
func (s *Store) SetBool(v bool) {
	s.set(keyBool, strconv.FormatBool(v))
}

// GetBool returns the current boolean, defaulting to false when unset.
func (s *Store) GetBool() bool {
	v, ok := s.get(keyBool)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// SetInt stores an integer value.
func (s *Store) SetInt(v int32) {
	s.set(keyInt, strconv.FormatInt(int64(v), 10))
}

// GetInt returns the current integer, defaulting to 0 when unset.
func (s *Store) GetInt() int32 {
	v, ok := s.get(keyInt)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}

// SetDouble stores a double-precision value.
func (s *Store) SetDouble(v float64) {
	s.set(keyDouble, strconv.FormatFloat(v, 'g', -1, 64))
}

// GetDouble returns the current double, defaulting to 0 when unset.
func (s *Store) GetDouble() float64 {
	v, ok := s.get(keyDouble)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// SetString stores a string value.
func (s *Store) SetString(v string) {
	s.set(keyString, v)
}

// GetString returns the current string, defaulting to "" when unset.
func (s *Store) GetString() string {
	v, _ := s.get(keyString)
	return v
}

// SetInfo stores the four-field TestInfo record as a single serialised
// value.
func (s *Store) SetInfo(info wire.TestInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	s.set(keyInfo, string(data))
	return nil
}

// GetInfo returns the current TestInfo, falling back to the zero value
// when unset or when deserialisation fails.
func (s *Store) GetInfo() wire.TestInfo {
	v, ok := s.get(keyInfo)
	if !ok {
		return wire.TestInfo{}
	}
	var info wire.TestInfo
	if err := json.Unmarshal([]byte(v), &info); err != nil {
		return wire.TestInfo{}
	}
	return info
}

func (s *Store) set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Store) get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}
