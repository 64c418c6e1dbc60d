package shipper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/spool/internal/logging"
	"github.com/coffersTech/nanolog/spool/internal/model"
)

// Source is the buffer side of the drainer.
// *engine.LogBuffer[model.LogEntry] satisfies it.
type Source interface {
	Pop() []model.LogEntry
	Requeue(records []model.LogEntry)
	Len() int
}

// drainTimeout bounds the final pass after shutdown.
const drainTimeout = 5 * time.Second

// Drainer periodically pops batches from a Source and ships them.
type Drainer struct {
	source   Source
	shipper  BatchShipper
	interval time.Duration
	// maxRetry bounds the backoff spent on one batch per cycle.
	maxRetry time.Duration
	logger   *zap.Logger

	shipped atomic.Uint64
}

// NewDrainer creates a drainer that wakes every interval. Each batch is
// retried with exponential backoff for at most maxRetry before it is
// put back at the head of the source.
func NewDrainer(source Source, shipper BatchShipper, interval, maxRetry time.Duration, logger *zap.Logger) *Drainer {
	return &Drainer{
		source:   source,
		shipper:  shipper,
		interval: interval,
		maxRetry: maxRetry,
		logger:   logging.OrNop(logger).Named("drainer"),
	}
}

// Shipped returns the number of records shipped so far.
func (d *Drainer) Shipped() uint64 {
	return d.shipped.Load()
}

// Run drains on every tick until ctx is cancelled, then makes one final
// best-effort pass with a short timeout. Records it could not ship stay
// in the source for a later backup.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("drain cycle stopped, batch requeued",
					zap.Error(err),
					zap.Int("buffered", d.source.Len()),
				)
			}
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			if err := d.Drain(drainCtx); err != nil {
				d.logger.Warn("final drain incomplete",
					zap.Error(err),
					zap.Int("remaining", d.source.Len()),
				)
			}
			cancel()
			return
		}
	}
}

// Drain pops and ships batches until the source is empty. A batch that
// cannot be shipped is requeued and its error returned.
func (d *Drainer) Drain(ctx context.Context) error {
	for {
		batch := d.source.Pop()
		if len(batch) == 0 {
			return nil
		}
		if err := d.ship(ctx, batch); err != nil {
			d.source.Requeue(batch)
			return err
		}
		d.shipped.Add(uint64(len(batch)))
	}
}

func (d *Drainer) ship(ctx context.Context, batch []model.LogEntry) error {
	// A zero MaxElapsedTime would retry forever, so no budget means one attempt.
	var b backoff.BackOff = &backoff.StopBackOff{}
	if d.maxRetry > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 100 * time.Millisecond
		eb.MaxInterval = 5 * time.Second
		eb.MaxElapsedTime = d.maxRetry
		b = eb
	}

	notify := func(err error, wait time.Duration) {
		d.logger.Debug("batch ship failed, will retry",
			zap.Error(err),
			zap.Duration("backoff", wait),
			zap.Int("records", len(batch)),
		)
	}

	return backoff.RetryNotify(func() error {
		return d.shipper.Ship(ctx, batch)
	}, backoff.WithContext(b, ctx), notify)
}
