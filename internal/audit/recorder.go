package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/velro-ai/velro/internal/metrics"
	"github.com/velro-ai/velro/internal/models"
)

const (
	defaultBufferSize = 4096
	flushBatchSize    = 64
	flushInterval     = 2 * time.Second
	insertTimeout     = 5 * time.Second
)

// Recorder accepts audit entries without ever blocking or failing the
// request path. Entries queue onto a buffered channel; a background loop
// batches them into the store. When the buffer is full the entry is dropped
// and counted rather than ever delaying an authorization answer.
type Recorder struct {
	store   Store
	metrics *metrics.Metrics
	entries chan models.AuditEntry
	done    chan struct{}
	once    sync.Once
}

func NewRecorder(store Store, m *metrics.Metrics) *Recorder {
	r := &Recorder{
		store:   store,
		metrics: m,
		entries: make(chan models.AuditEntry, defaultBufferSize),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record enqueues one entry. Non-blocking: a full buffer drops the entry.
func (r *Recorder) Record(entry models.AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case r.entries <- entry:
	default:
		r.metrics.IncAuditDropped()
		slog.Warn("audit buffer full, dropping entry",
			"user_id", entry.UserID,
			"resource_type", entry.ResourceType,
			"decision", entry.Decision,
		)
	}
}

// Close stops the loop after draining whatever is buffered. Safe to call
// more than once.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.entries)
		<-r.done
	})
}

func (r *Recorder) loop() {
	defer close(r.done)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]models.AuditEntry, 0, flushBatchSize)
	for {
		select {
		case entry, ok := <-r.entries:
			if !ok {
				// Closed channels deliver buffered entries before !ok,
				// so everything queued is already in batch.
				r.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *Recorder) flush(batch []models.AuditEntry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := r.store.InsertBatch(ctx, batch); err != nil {
		r.metrics.IncAuditWrite("error")
		slog.Error("audit batch insert failed", "entries", len(batch), "error", err)
		return
	}
	r.metrics.IncAuditWrite("ok")
}
