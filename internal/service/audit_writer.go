package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/keepup/cowork/internal/adapter/otel"
	"github.com/keepup/cowork/internal/domain/audit"
	"github.com/keepup/cowork/internal/port/database"
	"github.com/keepup/cowork/internal/resilience"
)

// AuditWriterConfig tunes the asynchronous audit writer.
type AuditWriterConfig struct {
	QueueSize          int
	Workers            int
	Retries            int
	RetryDelay         time.Duration
	WriteTimeout       time.Duration
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// AuditWriterStats counts what happened to logged entries.
type AuditWriterStats struct {
	Written int64 `json:"written"`
	Spooled int64 `json:"spooled"`
	Dropped int64 `json:"dropped"`
}

// AuditWriter persists audit entries off the caller's path. Log enqueues
// into a bounded channel drained by a fixed worker pool; each write is
// retried with backoff behind a circuit breaker. Entries that overflow the
// queue or exhaust their retries go to the dead-letter spool, and are lost
// (and counted) only if the spool fails as well.
type AuditWriter struct {
	store   database.AuditStore
	spool   *AuditSpool
	breaker *resilience.Breaker
	metrics *cfotel.Metrics
	cfg     AuditWriterConfig

	mu     sync.RWMutex
	closed bool
	ch     chan *audit.Entry
	wg     sync.WaitGroup

	written atomic.Int64
	spooled atomic.Int64
	dropped atomic.Int64
}

// NewAuditWriter starts the worker pool. spool and metrics may be nil.
func NewAuditWriter(store database.AuditStore, spool *AuditSpool, metrics *cfotel.Metrics, cfg AuditWriterConfig) *AuditWriter {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	w := &AuditWriter{
		store:   store,
		spool:   spool,
		breaker: resilience.NewBreaker(cfg.BreakerMaxFailures, cfg.BreakerTimeout),
		metrics: metrics,
		cfg:     cfg,
		ch:      make(chan *audit.Entry, cfg.QueueSize),
	}
	for range cfg.Workers {
		w.wg.Add(1)
		go w.drain()
	}
	return w
}

// Log queues e for persistence and returns immediately. Missing id,
// timestamp and schema version are filled in.
func (w *AuditWriter) Log(ctx context.Context, e *audit.Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = audit.SchemaVersion
	}
	if e.RiskTags == nil {
		e.RiskTags = []string{}
	}

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		w.spill(ctx, e, "writer_closed")
		return
	}
	select {
	case w.ch <- e:
		w.mu.RUnlock()
	default:
		w.mu.RUnlock()
		w.spill(ctx, e, "queue_full")
	}
}

func (w *AuditWriter) drain() {
	defer w.wg.Done()
	for e := range w.ch {
		w.write(e)
	}
}

func (w *AuditWriter) write(e *audit.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	err := resilience.Retry(ctx, w.cfg.Retries+1, w.cfg.RetryDelay, func(ctx context.Context) error {
		return w.breaker.Execute(func() error { return w.store.AppendAudit(ctx, e) })
	})
	if err != nil {
		slog.Warn("audit write failed",
			"entry_id", e.ID,
			"session_id", e.SessionID,
			"breaker", w.breaker.State(),
			"error", err,
		)
		w.spill(ctx, e, "store_failed")
		return
	}
	w.written.Add(1)
	w.metrics.RecordAuditWritten(ctx, 1)
}

func (w *AuditWriter) spill(ctx context.Context, e *audit.Entry, reason string) {
	if w.spool == nil {
		w.dropped.Add(1)
		w.metrics.RecordAuditDropped(ctx, reason)
		slog.Warn("audit entry dropped", "entry_id", e.ID, "reason", reason)
		return
	}
	if err := w.spool.Append(e); err != nil {
		w.dropped.Add(1)
		w.metrics.RecordAuditDropped(ctx, reason)
		slog.Error("audit entry dropped: spool append failed", "entry_id", e.ID, "reason", reason, "error", err)
		return
	}
	w.spooled.Add(1)
	w.metrics.RecordAuditSpooled(ctx, reason)
}

// Replay writes spooled entries back to the store. Inserts are idempotent on
// entry id, so replaying an entry that did reach the store is harmless.
func (w *AuditWriter) Replay(ctx context.Context) (int, error) {
	if w.spool == nil {
		return 0, nil
	}
	n, err := w.spool.Replay(ctx, func(ctx context.Context, e *audit.Entry) error {
		return w.store.AppendAudit(ctx, e)
	})
	if n > 0 {
		w.written.Add(int64(n))
		w.metrics.RecordAuditWritten(ctx, int64(n))
		slog.InfoContext(ctx, "audit spool replayed", "entries", n, "path", w.spool.Path())
	}
	return n, err
}

// Stats returns a snapshot of the writer's counters.
func (w *AuditWriter) Stats() AuditWriterStats {
	return AuditWriterStats{
		Written: w.written.Load(),
		Spooled: w.spooled.Load(),
		Dropped: w.dropped.Load(),
	}
}

// Close stops accepting entries and waits until the queue is drained.
func (w *AuditWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.wg.Wait()
}
