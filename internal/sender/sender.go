// Package sender implements the client-side Chunk Producer: it walks a
// file or directory, slices each file into fixed-size chunks, and
// drives them across the bus through a caller's retrying Call, bounding
// how many files and chunk-sends are in flight at once.
package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaybus/relaybus/internal/admission"
	"github.com/relaybus/relaybus/internal/bufpool"
	"github.com/relaybus/relaybus/internal/bus"
	"github.com/relaybus/relaybus/internal/progress"
	"github.com/relaybus/relaybus/internal/workerpool"
	"github.com/relaybus/relaybus/pkg/wire"
)

// chunkBufs pools read buffers sized to CHUNK_SIZE; a chunk's bytes are
// copied into the outbound JSON envelope before sendOneChunk returns
// the buffer, so reuse is safe across concurrent chunk tasks.
var chunkBufs = bufpool.New(wire.ChunkSize)

// Caller is the subset of *supervisor.Supervisor the sender depends on.
// Its own outage-gate wait covers the "connection down" case; the retry
// budgets here cover everything else (timeouts and other transport
// failures; a method-error is never retried).
type Caller interface {
	Call(ctx context.Context, method string, args, out any, timeout time.Duration) error
}

// Config holds the sender's tunables; zero values take defaults.
type Config struct {
	MaxConcurrentFiles int
	ChunkWorkers       int
	ChunkRetryBudget   int
	ChunkRetryBackoff  time.Duration
	ResumeRetryBudget  int
	CallTimeout        time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentFiles <= 0 {
		c.MaxConcurrentFiles = wire.MaxConcurrentFiles
	}
	if c.ChunkWorkers <= 0 {
		c.ChunkWorkers = workerpool.MinWorkers
	}
	if c.ChunkRetryBudget <= 0 {
		c.ChunkRetryBudget = 10
	}
	if c.ChunkRetryBackoff <= 0 {
		c.ChunkRetryBackoff = 2 * time.Second
	}
	if c.ResumeRetryBudget <= 0 {
		c.ResumeRetryBudget = 5
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	return c
}

// Sender drives file and directory sends across a Caller.
type Sender struct {
	caller Caller
	cfg    Config
	logger *slog.Logger

	files *admission.Gate
	pool  *workerpool.Pool
}

// New builds a Sender bound to caller.
func New(caller Caller, cfg Config, logger *slog.Logger) *Sender {
	cfg = cfg.withDefaults()
	return &Sender{
		caller: caller,
		cfg:    cfg,
		logger: logger,
		files:  admission.NewGate(int64(cfg.MaxConcurrentFiles)),
		pool:   workerpool.New(cfg.ChunkWorkers, logger),
	}
}

// Close releases the sender's worker pool.
func (s *Sender) Close() {
	s.pool.Shutdown()
}

// SendEntry sends path, which may be a regular file or a directory. For
// a directory it recurses into every regular file beneath it (symlinks
// are not followed; "." and ".." are never visited by filepath.Walk),
// each under its own synthesised transfer id so same-named files in
// different subdirectories don't share transfer state on the receiver.
// Only the base name is sent, so the receiver writes such files to the
// same output path.
//
// overrideMode, when nonzero, is threaded down the whole recursion and
// sent in place of every file's own stat mode, mirroring a single
// caller-supplied mode applied to every file under a tree. A zero
// overrideMode falls back to each file's own mode.
func (s *Sender) SendEntry(ctx context.Context, path, userID string, overrideMode os.FileMode, meter *progress.Meter) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("sender: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		mode := info.Mode()
		if overrideMode != 0 {
			mode = overrideMode
		}
		return s.SendFile(ctx, path, userID, mode, uuid.NewString(), meter)
	}

	return filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		mode := fi.Mode()
		if overrideMode != 0 {
			mode = overrideMode
		}
		return s.SendFile(ctx, p, userID, mode, uuid.NewString(), meter)
	})
}

// SendFile slices path into CHUNK_SIZE chunks and sends each across the
// caller, bounded by the sender's concurrent-file limiter. An empty
// file sends zero chunks and is not an error. meter may be nil.
func (s *Sender) SendFile(ctx context.Context, path, userID string, mode os.FileMode, transferID string, meter *progress.Meter) error {
	if err := s.files.TakeContext(ctx, 1); err != nil {
		return err
	}
	defer s.files.Give(1)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("sender: stat %s: %w", path, err)
	}
	fileLength := info.Size()
	totalChunks := wire.ExpectedTotalChunks(fileLength)
	fileName := filepath.Base(path)

	if meter != nil {
		meter.AddTotal(fileLength)
	}
	if totalChunks == 0 {
		return nil
	}

	type outcome struct {
		index int32
		err   error
	}
	results := make(chan outcome, totalChunks)
	for i := int32(0); i < totalChunks; i++ {
		idx := i
		_, submitErr := s.pool.Submit(func() error {
			err := s.sendOneChunk(ctx, path, userID, fileName, transferID, mode, idx, totalChunks, int32(fileLength), s.cfg.ChunkRetryBudget, meter)
			results <- outcome{index: idx, err: err}
			return err
		})
		if submitErr != nil {
			results <- outcome{index: idx, err: submitErr}
		}
	}

	var firstErr error
	for i := int32(0); i < totalChunks; i++ {
		o := <-results
		if o.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sender: chunk %d of %s: %w", o.index, fileName, o.err)
		}
	}
	if s.logger != nil && firstErr == nil {
		s.logger.Info("sender: file sent", "file", fileName, "transferId", transferID, "chunks", totalChunks)
	}
	return firstErr
}

// sendOneChunk opens path independently (each task owns its own file
// descriptor so concurrent chunk sends never share a seek offset),
// reads its slice, and calls SendFileChunk retrying up to budget times.
// SendFile passes ChunkRetryBudget; Resume passes the shorter
// ResumeRetryBudget, since a chunk resent by Resume has usually
// already had its reachability established by the status/missing-list
// round trips ahead of it.
func (s *Sender) sendOneChunk(ctx context.Context, path, userID, fileName, transferID string, mode os.FileMode, index, total, fileLength int32, budget int, meter *progress.Meter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	start := int64(index) * wire.ChunkSize
	buf := chunkBufs.Get()
	defer chunkBufs.Put(buf)
	n, err := f.ReadAt(buf, start)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read: %w", err)
	}

	chunk := wire.FileChunk{
		UserID:      userID,
		FileName:    fileName,
		TransferID:  transferID,
		FileIndex:   index,
		TotalChunks: total,
		ChunkLength: int32(n),
		FileLength:  fileLength,
		FileMode:    uint32(mode.Perm()),
		IsLastChunk: index == total-1,
		Data:        buf[:n],
	}

	if err := s.callWithRetry(ctx, wire.MethodSendFileChunk, chunk, nil, budget); err != nil {
		return err
	}
	if meter != nil {
		meter.Add(n)
	}
	return nil
}

// callWithRetry retries transient failures up to budget attempts with a
// fixed backoff between them. A method-error is returned immediately:
// it reflects a server-side rejection of this exact request, which a
// retry cannot change.
func (s *Sender) callWithRetry(ctx context.Context, method string, args, out any, budget int) error {
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		err := s.caller.Call(ctx, method, args, out, s.cfg.CallTimeout)
		if err == nil {
			return nil
		}
		if isMethodError(err) {
			return err
		}
		lastErr = err
		if s.logger != nil {
			s.logger.Warn("sender: call attempt failed", "method", method, "attempt", attempt, "error", err)
		}
		if attempt == budget {
			break
		}
		select {
		case <-time.After(s.cfg.ChunkRetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func isMethodError(err error) bool {
	var methodErr *bus.MethodError
	return errors.As(err, &methodErr)
}

// Resume re-fetches a transfer's missing-chunk list and resends exactly
// those chunks, using the shorter resume retry budget since a caller
// invoking Resume has usually already decided the peer is reachable.
func (s *Sender) Resume(ctx context.Context, transferID, userID, filePath string) error {
	var status wire.TransferStatus
	statusArgs := struct {
		TransferID string `json:"transferId"`
		UserID     string `json:"userid"`
		FileName   string `json:"fileName"`
	}{TransferID: transferID, UserID: userID, FileName: filepath.Base(filePath)}

	if err := s.callWithRetry(ctx, wire.MethodGetTransferStatus, statusArgs, &status, s.cfg.ResumeRetryBudget); err != nil {
		return fmt.Errorf("sender: resume status: %w", err)
	}
	if status.StatusCode == wire.StatusUnknown {
		return fmt.Errorf("sender: resume: receiver has no record of transfer %s", transferID)
	}
	if status.IsCompleted {
		return nil
	}

	var missing []int
	if err := s.callWithRetry(ctx, wire.MethodGetMissingChunks, statusArgs, &missing, s.cfg.ResumeRetryBudget); err != nil {
		return fmt.Errorf("sender: resume missing chunks: %w", err)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("sender: resume stat: %w", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(missing))
	for _, idx := range missing {
		wg.Add(1)
		idx32 := int32(idx)
		go func() {
			defer wg.Done()
			errs <- s.sendOneChunk(ctx, filePath, userID, statusArgs.FileName, transferID, info.Mode(), idx32, status.TotalChunks, status.FileLength, s.cfg.ResumeRetryBudget, nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return fmt.Errorf("sender: resume: %w", err)
		}
	}
	return nil
}
