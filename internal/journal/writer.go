package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"beatrelay/internal/microservices/tcp"

	"github.com/google/uuid"
)

type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		QueueSize:     10000,
	}
}

// Writer records dispatch outcomes in the background.
// Observe never blocks the tick: when the queue is full the record is dropped and counted.
type Writer struct {
	repo      Repository
	cfg       WriterConfig
	writeChan chan *DispatchRecord
	stopChan  chan struct{}
	doneChan  chan struct{}
	logger    *slog.Logger
	startOnce sync.Once
	started   atomic.Bool
	closed    atomic.Bool
	dropped   atomic.Uint64
}

func NewWriter(repo Repository, cfg WriterConfig, logger *slog.Logger) *Writer {
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		repo:      repo,
		cfg:       cfg,
		writeChan: make(chan *DispatchRecord, cfg.QueueSize),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		logger:    logger,
	}
}

// Observe implements tcp.Observer
func (w *Writer) Observe(rec tcp.Record) {
	if w.closed.Load() {
		return
	}

	queueDepth := len(w.writeChan)
	if queueDepth > cap(w.writeChan)/2 {
		w.logger.Warn("journal_queue_high_watermark",
			"queue_depth", queueDepth,
		)
	}

	select {
	case w.writeChan <- fromRecord(uuid.NewString(), rec):
	default:
		w.dropped.Add(1)
		w.logger.Warn("journal_queue_full",
			"routing_key", rec.Key,
			"outcome", string(rec.Outcome),
		)
	}
}

// Dropped returns how many records were lost to a full queue
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Start runs the batch writer until ctx is done or Close is called
func (w *Writer) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.run(ctx)
	})
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*DispatchRecord, 0, w.cfg.BatchSize)

	w.logger.Info("journal_writer_started",
		"interval", w.cfg.FlushInterval.String(),
		"batch_size", w.cfg.BatchSize,
	)

	for {
		select {
		case <-ctx.Done():
			w.drain(batch)
			return
		case <-w.stopChan:
			w.drain(batch)
			return

		case rec := <-w.writeChan:
			batch = append(batch, rec)
			if len(batch) >= w.cfg.BatchSize {
				w.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// drain flushes the current batch plus anything still queued
func (w *Writer) drain(batch []*DispatchRecord) {
	for {
		select {
		case rec := <-w.writeChan:
			batch = append(batch, rec)
		default:
			w.logger.Info("journal_writer_shutting_down", "remaining", len(batch))
			if len(batch) > 0 {
				w.flushBatch(batch)
			}
			return
		}
	}
}

func (w *Writer) flushBatch(batch []*DispatchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := w.repo.BatchInsert(ctx, batch); err != nil {
		w.logger.Error("journal_batch_insert_failed",
			"count", len(batch),
			"error", err,
		)
		if len(batch) > 1 {
			w.insertEach(ctx, batch)
		}
		return
	}
	w.logger.Debug("journal_batch_insert_success",
		"count", len(batch),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// insertEach retries a rejected batch one record at a time
func (w *Writer) insertEach(ctx context.Context, batch []*DispatchRecord) {
	lost := 0
	for i := range batch {
		if err := w.repo.BatchInsert(ctx, batch[i:i+1]); err != nil {
			lost++
			w.logger.Warn("journal_record_insert_failed",
				"record_id", batch[i].ID,
				"routing_key", batch[i].RoutingKey,
				"error", err,
			)
		}
	}
	w.logger.Info("journal_batch_retried_per_record",
		"count", len(batch),
		"lost", lost,
	)
}

// Close stops accepting records, flushes what is queued and waits for the writer
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.stopChan)
	if w.started.Load() {
		<-w.doneChan
	}
	return nil
}
