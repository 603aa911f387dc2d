package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarketSync/internal/event"
	"MarketSync/internal/observability"

	"github.com/rs/zerolog"
)

// IngestItem pairs a parsed event with its delivery callbacks. Ack fires
// only after the event is durable in the fact tables, so a crash between
// receive and flush redelivers instead of losing the log.
type IngestItem struct {
	Event event.Event
	Ack   func()
	Nak   func()
}

// IngestWorker drains the ingest channel and batch-appends raw events.
// The channel uses blocking sends from the subscriber, so if this worker
// falls behind, ingestion stalls rather than dropping events.
type IngestWorker struct {
	db           *sql.DB
	store        *RawEventStore
	input        <-chan IngestItem
	batchSize    int
	flushTimeout time.Duration
	onStored     func([]event.Event)
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewIngestWorker(
	db *sql.DB,
	store *RawEventStore,
	input <-chan IngestItem,
	batchSize int,
	flushTimeout time.Duration,
	onStored func([]event.Event),
	metrics *observability.Metrics,
) *IngestWorker {
	return &IngestWorker{
		db:           db,
		store:        store,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		onStored:     onStored,
		metrics:      metrics,
		log:          observability.NewLogger("ingest-worker"),
	}
}

// Run batches incoming items and flushes when the batch fills or the
// flush timer fires. Blocks until ctx is cancelled.
func (iw *IngestWorker) Run(ctx context.Context) error {
	batch := make([]IngestItem, 0, iw.batchSize)

	timer := time.NewTimer(iw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := iw.flush(context.Background(), batch); err != nil {
					iw.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
					nakAll(batch)
				}
			}
			return ctx.Err()

		case item, ok := <-iw.input:
			if !ok {
				if len(batch) > 0 {
					if err := iw.flush(context.Background(), batch); err != nil {
						iw.log.Error().Err(err).Msg("final flush failed")
						nakAll(batch)
					}
				}
				return nil
			}

			batch = append(batch, item)
			if len(batch) >= iw.batchSize {
				iw.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(iw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				iw.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(iw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff and never drops a
// batch: either the write lands or shutdown naks everything for
// redelivery.
func (iw *IngestWorker) flushWithRetry(ctx context.Context, batch []IngestItem) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			iw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("ingest flush retry")
			iw.metrics.IngestRetries.Inc()

			select {
			case <-ctx.Done():
				if err := iw.flush(context.Background(), batch); err != nil {
					iw.log.Error().Err(err).Msg("final flush on shutdown failed")
					nakAll(batch)
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := iw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				iw.log.Info().Int("attempt", attempt).Msg("ingest flush succeeded after retries")
			}
			return
		}

		iw.metrics.IngestErrors.WithLabelValues("flush").Inc()
	}
}

func (iw *IngestWorker) flush(ctx context.Context, batch []IngestItem) error {
	start := time.Now()

	events := make([]event.Event, len(batch))
	for i, item := range batch {
		events[i] = item.Event
	}

	tx, err := iw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	accepted, err := iw.store.AppendBatch(ctx, tx, events)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest tx: %w", err)
	}

	// Durable now: safe to ack and to hand over for projection. The
	// projector's own idempotency check skips the duplicates.
	for _, item := range batch {
		if item.Ack != nil {
			item.Ack()
		}
	}
	if iw.onStored != nil {
		iw.onStored(events)
	}

	duplicates := len(batch) - accepted
	for _, e := range events {
		iw.metrics.IngestAccepted.WithLabelValues(e.EventType().String()).Inc()
	}
	if duplicates > 0 {
		iw.metrics.IngestDuplicates.WithLabelValues("batch").Add(float64(duplicates))
	}
	iw.metrics.IngestBatchDur.Observe(time.Since(start).Seconds())
	iw.metrics.IngestBatchSize.Observe(float64(len(batch)))

	return nil
}

func nakAll(batch []IngestItem) {
	for _, item := range batch {
		if item.Nak != nil {
			item.Nak()
		}
	}
}
