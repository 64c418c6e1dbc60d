package engine

import (
	"errors"
	"io/fs"

	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/spool/internal/storage"
)

// Initialize creates a buffer and replays the snapshot left by a
// previous BackupCache, if any.
//
// Once the snapshot has been read it is deleted before decoding, so a
// corrupt file is dropped instead of being retried on every start. A
// missing snapshot, a read error or a decode error all yield an empty
// buffer; they are logged only when opts.Debug is set.
func Initialize[T any](store storage.Store, codec Codec[T], opts Options) *LogBuffer[T] {
	b := New(store, codec, opts)
	debug := opts.Debug

	data, err := store.Read()
	if err != nil {
		if debug && !errors.Is(err, fs.ErrNotExist) {
			b.logger.Warn("snapshot read failed, starting empty",
				zap.String("path", store.Path()),
				zap.Error(err),
			)
		}
		return b
	}

	if err := store.Delete(); err != nil && debug {
		b.logger.Warn("snapshot delete failed",
			zap.String("path", store.Path()),
			zap.Error(err),
		)
	}

	records, err := codec.Decode(data)
	if err != nil {
		if debug {
			b.logger.Warn("snapshot discarded: decode failed",
				zap.String("path", store.Path()),
				zap.Int("bytes", len(data)),
				zap.Error(err),
			)
		}
		return b
	}

	if len(records) > 0 {
		b.records = records
		b.metrics.addRecovered(len(records))
		b.metrics.setDepth(len(records))
	}
	if debug {
		b.logger.Info("snapshot recovered",
			zap.String("path", store.Path()),
			zap.Int("records", len(records)),
		)
	}
	return b
}
