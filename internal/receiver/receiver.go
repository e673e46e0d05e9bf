package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/relaybus/relaybus/internal/admission"
	"github.com/relaybus/relaybus/internal/bus"
	"github.com/relaybus/relaybus/internal/workerpool"
	"github.com/relaybus/relaybus/pkg/wire"
)

// Receiver is the server-side chunk assembler: it admits inbound
// chunks against a memory budget, caches them per transfer, tracks a
// received-bitmap, answers status/missing-chunk queries, and finalises
// completed transfers to outDir.
type Receiver struct {
	outDir    string
	admission *admission.Gate
	pool      *workerpool.Pool
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry

	shutdownMu sync.Mutex
	shutdown   bool
}

// New builds a Receiver. maxMemoryBytes bounds the total bytes held
// across all in-flight transfer caches; workers sizes the pool that
// drains admission waits off the connection's dispatch goroutine.
func New(outDir string, maxMemoryBytes int64, workers int, logger *slog.Logger) *Receiver {
	return &Receiver{
		outDir:    outDir,
		admission: admission.NewGate(maxMemoryBytes),
		pool:      workerpool.New(workers, logger),
		logger:    logger,
		entries:   make(map[string]*entry),
	}
}

// Vtable returns the SendFileChunk/GetTransferStatus/GetMissingChunks
// handlers for bus.Server.RegisterObject.
func (r *Receiver) Vtable() map[string]bus.Handler {
	return map[string]bus.Handler{
		wire.MethodSendFileChunk:     r.handleSendFileChunk,
		wire.MethodGetTransferStatus: r.handleGetTransferStatus,
		wire.MethodGetMissingChunks:  r.handleGetMissingChunks,
	}
}

type sendResult struct{ Ok bool }

// transferKey is transferId alone when present; otherwise a synthesised
// key combining fileName and userid. The synthesised branch disables
// resume for that transfer, since it cannot be distinguished from a
// second concurrent transfer of the same name without its own id.
func transferKey(c wire.FileChunk) string {
	if c.TransferID != "" {
		return c.TransferID
	}
	return "syn:" + c.FileName + ":" + c.UserID
}

func (r *Receiver) handleSendFileChunk(payload []byte) (any, *bus.MethodError) {
	var chunk wire.FileChunk
	if err := bus.DecodeArgs(payload, &chunk); err != nil {
		return nil, bus.NewMethodError(wire.MethodSendFileChunk, "method-error", err.Error())
	}
	if err := chunk.Validate(); err != nil {
		return nil, bus.NewMethodError(wire.MethodSendFileChunk, "method-error", err.Error())
	}

	r.shutdownMu.Lock()
	stopped := r.shutdown
	r.shutdownMu.Unlock()
	if stopped {
		return nil, bus.NewMethodError(wire.MethodSendFileChunk, "resource-exhausted", "receiver is shutting down")
	}

	h, err := r.pool.Submit(func() error {
		return r.processChunk(chunk)
	})
	if err != nil {
		return nil, bus.NewMethodError(wire.MethodSendFileChunk, "resource-exhausted", err.Error())
	}
	if err := h.Wait(); err != nil {
		return nil, bus.NewMethodError(wire.MethodSendFileChunk, "filesystem-error", err.Error())
	}
	return sendResult{Ok: true}, nil
}

// processChunk runs on a pool worker: it blocks on admission, then
// performs the cache-insert/state-update/finalise sequence for one
// chunk.
func (r *Receiver) processChunk(chunk wire.FileChunk) error {
	if err := r.admission.TakeContext(context.Background(), int64(chunk.ChunkLength)); err != nil {
		return err
	}

	key := transferKey(chunk)
	e := r.entryFor(key, chunk.TotalChunks, chunk.FileLength)

	newBytes, completed := e.put(chunk.FileIndex, chunk.Data[:chunk.ChunkLength])
	if newBytes == 0 {
		// Duplicate index: the bytes were never actually newly admitted
		// against the budget beyond what's already charged, so give them
		// straight back.
		r.admission.Give(int64(chunk.ChunkLength))
	}

	if !completed {
		return nil
	}
	return r.finalize(key, e, chunk.FileName, chunk.FileMode)
}

func (r *Receiver) entryFor(key string, totalChunks, fileLength int32) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = newEntry(totalChunks, fileLength)
		r.entries[key] = e
	}
	return e
}

// finalize concatenates the cached chunks to outDir, sets the mode
// bits, and releases the transfer's admission budget and bookkeeping.
// On any I/O failure the transfer is left in place for retry.
func (r *Receiver) finalize(key string, e *entry, fileName string, fileMode uint32) error {
	data, err := e.orderedBytes()
	if err != nil {
		return err
	}

	outPath := filepath.Join(r.outDir, filepath.Base(fileName))
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return fmt.Errorf("receiver: mkdir outdir: %w", err)
	}
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("receiver: create output: %w", err)
	}
	n, err := f.Write(data)
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("receiver: write output: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("receiver: close output: %w", closeErr)
	}
	if int64(n) != int64(len(data)) {
		return fmt.Errorf("receiver: short write: wrote %d of %d bytes", n, len(data))
	}
	if err := os.Chmod(outPath, os.FileMode(fileMode&0o7777)); err != nil {
		return fmt.Errorf("receiver: chmod: %w", err)
	}

	cached := e.totalCachedBytes()
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
	r.admission.Give(cached)
	return nil
}

type statusArgs struct {
	TransferID string `json:"transferId"`
	UserID     string `json:"userid"`
	FileName   string `json:"fileName"`
}

func (r *Receiver) handleGetTransferStatus(payload []byte) (any, *bus.MethodError) {
	var a statusArgs
	bus.DecodeArgs(payload, &a)

	key := transferKey(wire.FileChunk{TransferID: a.TransferID, FileName: a.FileName, UserID: a.UserID})
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return wire.UnknownTransferStatus(a.TransferID), nil
	}
	return e.snapshotStatus(a.TransferID), nil
}

func (r *Receiver) handleGetMissingChunks(payload []byte) (any, *bus.MethodError) {
	var a statusArgs
	bus.DecodeArgs(payload, &a)

	key := transferKey(wire.FileChunk{TransferID: a.TransferID, FileName: a.FileName, UserID: a.UserID})
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return []int{}, nil
	}
	return e.missing(), nil
}

// Shutdown stops admitting new chunks, waits for in-flight pool tasks
// to drain, then releases the worker pool. Existing transfer state is
// left in memory but is not persisted, and every chunk sent after
// Shutdown is rejected.
func (r *Receiver) Shutdown(ctx context.Context) error {
	r.shutdownMu.Lock()
	r.shutdown = true
	r.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.pool.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
