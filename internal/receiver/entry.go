package receiver

import (
	"fmt"
	"sync"

	"github.com/relaybus/relaybus/pkg/wire"
)

// entry is the server-side state for one transfer: its cached chunk
// bytes, its bitmap, and the TransferStatus derived from them. The
// mutex guards all three fields together so "cache written" happens
// before "bitmap set" happens before a status read can observe either.
type entry struct {
	mu     sync.Mutex
	status wire.TransferStatus
	bitmap *wire.Bitmap
	chunks map[int32][]byte
}

func newEntry(totalChunks, fileLength int32) *entry {
	now := wire.NowEpoch()
	return &entry{
		status: wire.TransferStatus{
			StatusCode:      wire.StatusOK,
			TotalChunks:     totalChunks,
			FileLength:      fileLength,
			StartTimeEpoch:  now,
			LastUpdateEpoch: now,
		},
		bitmap: wire.NewBitmap(int(totalChunks)),
		chunks: make(map[int32][]byte, totalChunks),
	}
}

// put copies chunk into the entry's cache and advances the bitmap and
// derived counters. Returns the number of newly-accounted bytes (0 for
// a duplicate index) and whether the transfer is now complete.
func (e *entry) put(fileIndex int32, data []byte) (newBytes int32, completed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	e.chunks[fileIndex] = buf

	if e.bitmap.Set(int(fileIndex)) {
		e.status.ReceivedChunks++
		e.status.ReceivedBytes += int32(len(data))
		newBytes = int32(len(data))
	}
	e.status.LastUpdateEpoch = wire.NowEpoch()
	e.status.IsCompleted = e.status.ReceivedChunks == e.status.TotalChunks
	return newBytes, e.status.IsCompleted
}

func (e *entry) snapshotStatus(transferID string) wire.TransferStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status
	s.TransferID = transferID
	s.ChunkBitmap = e.bitmap.Bools()
	return s
}

func (e *entry) missing() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitmap.Missing()
}

// orderedBytes concatenates the cached chunks in ascending index order.
// Returns an error if any index in [0,totalChunks) is absent.
func (e *entry) orderedBytes() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, 0, e.status.FileLength)
	for i := int32(0); i < e.status.TotalChunks; i++ {
		chunk, ok := e.chunks[i]
		if !ok {
			return nil, errMissingIndex(i)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (e *entry) totalCachedBytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total int64
	for _, c := range e.chunks {
		total += int64(len(c))
	}
	return total
}

type errMissingIndex int32

func (i errMissingIndex) Error() string {
	return fmt.Sprintf("receiver: missing cached chunk at index %d", int32(i))
}
