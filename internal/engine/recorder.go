package engine

import (
	"context"
	"log"
	"time"

	"token-battles/internal/domain"
	"token-battles/internal/observability"
	"token-battles/internal/storage"
)

// tickRecorder batches advisory tick records and flushes them to the
// history store in the background. Writes are best-effort: a failed
// flush is logged and the batch dropped, never retried, so a slow or
// down history database cannot stall the tick fan-out.
type tickRecorder struct {
	store         storage.TickHistoryStore
	logger        *log.Logger
	metrics       *observability.Metrics
	flushSize     int
	flushInterval time.Duration

	in chan *domain.MatchTickRecord
}

func newTickRecorder(store storage.TickHistoryStore, flushSize int, flushInterval time.Duration, logger *log.Logger, metrics *observability.Metrics) *tickRecorder {
	if flushSize <= 0 {
		flushSize = DefaultTickFlushSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultTickFlushInterval
	}
	return &tickRecorder{
		store:         store,
		logger:        logger,
		metrics:       metrics,
		flushSize:     flushSize,
		flushInterval: flushInterval,
		in:            make(chan *domain.MatchTickRecord, 4*flushSize),
	}
}

// record enqueues one tick. Drops when the buffer is full.
func (r *tickRecorder) record(rec *domain.MatchTickRecord) {
	select {
	case r.in <- rec:
	default:
	}
}

// run drains the queue until ctx is cancelled, then performs one final
// flush of whatever is buffered.
func (r *tickRecorder) run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]*domain.MatchTickRecord, 0, r.flushSize)
	for {
		select {
		case <-ctx.Done():
			r.flush(batch)
			return
		case rec := <-r.in:
			batch = append(batch, rec)
			if len(batch) >= r.flushSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			r.flush(batch)
			batch = batch[:0]
		}
	}
}

func (r *tickRecorder) flush(batch []*domain.MatchTickRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.InsertBulk(ctx, batch); err != nil {
		r.logger.Printf("tick history: dropping %d records: %v", len(batch), err)
		return
	}
	if r.metrics != nil {
		r.metrics.TickRecordsStored.Add(float64(len(batch)))
	}
}
