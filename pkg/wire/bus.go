// Package wire defines the records and bus coordinates shared between
// the relaybus client and server. Nothing here is transport-specific;
// internal/bus marshals these types onto the wire.
package wire

// Bus coordinates, bit-exact with the interface this module implements.
const (
	ServiceName   = "com.example.TestService"
	ObjectPath    = "/com/example/TestService"
	InterfaceName = "com.example.ITestService"
)

// Method names.
const (
	MethodSetTestBool   = "SetTestBool"
	MethodSetTestInt    = "SetTestInt"
	MethodSetTestDouble = "SetTestDouble"
	MethodSetTestString = "SetTestString"
	MethodSetTestInfo   = "SetTestInfo"

	MethodGetTestBool   = "GetTestBool"
	MethodGetTestInt    = "GetTestInt"
	MethodGetTestDouble = "GetTestDouble"
	MethodGetTestString = "GetTestString"
	MethodGetTestInfo   = "GetTestInfo"

	MethodSendFileChunk     = "SendFileChunk"
	MethodGetTransferStatus = "GetTransferStatus"
	MethodGetMissingChunks  = "GetMissingChunks"
)

// Signal names.
const (
	SignalTestBoolChanged   = "TestBoolChanged"
	SignalTestIntChanged    = "TestIntChanged"
	SignalTestDoubleChanged = "TestDoubleChanged"
	SignalTestStringChanged = "TestStringChanged"
	SignalTestInfoChanged   = "TestInfoChanged"
)

// CHUNK_SIZE is fixed for the lifetime of the protocol.
const ChunkSize = 1024

// MaxConcurrentFiles bounds the client's in-flight file count.
const MaxConcurrentFiles = 100

// MaxServerMemoryBytes is the default admission-control budget.
const MaxServerMemoryBytes = 100 * 1024 * 1024

// Status codes for TransferStatus.
const (
	StatusOK      = 0
	StatusPaused  = 1
	StatusError   = 2 // also used as UNKNOWN when the transfer does not exist
	StatusUnknown = 2
)
