package engine

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/spool/internal/logging"
	"github.com/coffersTech/nanolog/spool/internal/storage"
)

// DefaultBatchSize is the maximum number of records returned by Pop.
const DefaultBatchSize = 100

// Options configures a LogBuffer.
type Options struct {
	// BatchSize caps Pop. Zero selects DefaultBatchSize.
	BatchSize int
	// Debug enables diagnostics for recovery failures.
	Debug   bool
	Logger  *zap.Logger
	Metrics *Metrics
}

// LogBuffer is a thread-safe FIFO of records waiting to be shipped.
// Producers Push without ever failing; a drainer Pops batches. Records
// still buffered can be spilled to the store with BackupCache and are
// replayed by Initialize on the next start.
type LogBuffer[T any] struct {
	mu      sync.RWMutex
	records []T

	batchSize int
	store     storage.Store
	codec     Codec[T]
	logger    *zap.Logger
	metrics   *Metrics
}

// New creates an empty buffer. It does not touch the store; use
// Initialize to recover a previous snapshot.
func New[T any](store storage.Store, codec Codec[T], opts Options) *LogBuffer[T] {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &LogBuffer[T]{
		batchSize: opts.BatchSize,
		store:     store,
		codec:     codec,
		logger:    logging.OrNop(opts.Logger).Named("spool"),
		metrics:   opts.Metrics,
	}
}

// Push appends one record to the tail.
func (b *LogBuffer[T]) Push(record T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, record)
	b.metrics.addPushed(1)
	b.metrics.setDepth(len(b.records))
}

// PushAll appends records in order as one atomic step.
func (b *LogBuffer[T]) PushAll(records []T) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append(b.records, records...)
	b.metrics.addPushed(len(records))
	b.metrics.setDepth(len(b.records))
}

// Requeue puts records back at the head, ahead of anything pushed since
// they were popped. The drainer uses it for batches it failed to ship.
func (b *LogBuffer[T]) Requeue(records []T) {
	if len(records) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]T, 0, len(records)+len(b.records))
	merged = append(merged, records...)
	b.records = append(merged, b.records...)
	b.metrics.setDepth(len(b.records))
}

// Pop removes and returns up to BatchSize of the oldest records. It
// returns an empty slice when the buffer is empty.
func (b *LogBuffer[T]) Pop() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.records)
	if n > b.batchSize {
		n = b.batchSize
	}

	out := make([]T, n)
	copy(out, b.records[:n])

	clear(b.records[:n]) // release for GC
	b.records = b.records[n:]
	if len(b.records) == 0 {
		b.records = nil
	}

	b.metrics.addPopped(n)
	b.metrics.setDepth(len(b.records))
	return out
}

// Len returns the number of buffered records.
func (b *LogBuffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// BatchSize returns the Pop cap.
func (b *LogBuffer[T]) BatchSize() int {
	return b.batchSize
}

// BackupCache writes every buffered record to the store, replacing any
// earlier snapshot, and clears the buffer. An empty buffer is a no-op.
//
// The whole operation runs under the write lock: producers stall for
// the duration of one file write, but no push can slip in between the
// snapshot and the clear. On any failure the buffer keeps its records
// and the failure is logged; the returned error is informational.
func (b *LogBuffer[T]) BackupCache() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.records)
	if n == 0 {
		return nil
	}

	data, err := b.codec.Encode(b.records)
	if err != nil {
		var encErr *EncodingError
		if errors.As(err, &encErr) && len(encErr.Invalid) > 0 {
			b.logger.Error("backup skipped: records contain values that cannot be encoded",
				zap.Int("records", n),
				zap.Strings("invalid_paths", encErr.Paths()),
			)
		} else {
			b.logger.Error("backup skipped: encoding failed",
				zap.Int("records", n),
				zap.Error(err),
			)
		}
		b.metrics.backupFailed("encode")
		return err
	}

	if err := b.store.Write(data); err != nil {
		b.logger.Error("backup failed: records kept in memory",
			zap.String("path", b.store.Path()),
			zap.Int("records", n),
			zap.Error(err),
		)
		b.metrics.backupFailed("write")
		return fmt.Errorf("backup: %w", err)
	}

	b.logger.Debug("backup written",
		zap.String("path", b.store.Path()),
		zap.Int("records", n),
	)
	b.metrics.addBackedUp(n)

	clear(b.records)
	b.records = nil
	b.metrics.setDepth(0)
	return nil
}
