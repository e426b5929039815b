// Package shipper runs the connectivity-gated sync loop that moves pending outbox
// records to the ingestion API.
package shipper

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/airfi/edgeship/internal/connectivity"
	shiperr "github.com/airfi/edgeship/internal/errors"
	"github.com/airfi/edgeship/internal/observability"
	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/internal/uploader"
	"github.com/airfi/edgeship/internal/wire"
)

// DefaultInterval is the time between sync ticks.
const DefaultInterval = 10 * time.Second

// Outbox is the store surface the worker needs. *outbox.Store satisfies it.
type Outbox[P any] interface {
	Append(ctx context.Context, rec *outbox.Record[P]) (int64, error)
	ScanPending(ctx context.Context) ([]outbox.Record[P], error)
	MarkDelivered(ctx context.Context, id int64) (int64, error)
}

// Submitter posts one encoded record. *uploader.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, sub uploader.Submission) (*uploader.Ack, error)
}

// Stream binds one outbox to its endpoint and encoding.
type Stream[P any] struct {
	// Name identifies the stream in logs and stats
	Name string

	// URL is the ingestion endpoint for this stream
	URL string

	Store Outbox[P]

	// Encode builds the request body for a record
	Encode func(ctx context.Context, rec *outbox.Record[P]) (*wire.Body, error)

	// Collect produces a record to append at the start of each tick. online is the
	// result of the tick's connectivity check. Optional.
	Collect func(ctx context.Context, online bool) (*outbox.Record[P], error)

	// Skip excludes a record from submission; it stays pending. Optional.
	Skip func(rec *outbox.Record[P]) bool
}

// Config holds worker settings.
type Config struct {
	// Interval between ticks (default: 10s)
	Interval time.Duration

	// Concurrency is the max in-flight submissions per tick (default: 1, strictly in scan order)
	Concurrency int
}

// TickResult summarizes one tick.
type TickResult struct {
	Collected bool
	Online    bool
	Scanned   int
	Delivered int
	Failed    int
	Skipped   int
}

// Worker runs the sync loop for a single stream. Ticks never overlap.
type Worker[P any] struct {
	config    Config
	stream    Stream[P]
	monitor   connectivity.Monitor
	submitter Submitter
	recorder  observability.Recorder
	logger    *zap.Logger
	sem       *semaphore.Weighted

	tickMu sync.Mutex
}

// NewWorker creates a worker. recorder and logger may be nil.
func NewWorker[P any](cfg Config, stream Stream[P], monitor connectivity.Monitor, submitter Submitter,
	recorder observability.Recorder, logger *zap.Logger) *Worker[P] {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if recorder == nil {
		recorder = observability.NewStats(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker[P]{
		config:    cfg,
		stream:    stream,
		monitor:   monitor,
		submitter: submitter,
		recorder:  recorder,
		logger:    logger.With(zap.String("stream", stream.Name)),
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Name returns the stream name.
func (w *Worker[P]) Name() string {
	return w.stream.Name
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
func (w *Worker[P]) Run(ctx context.Context) {
	w.logger.Info("sync loop started",
		zap.Duration("interval", w.config.Interval),
		zap.Int("concurrency", w.config.Concurrency))
	defer w.logger.Info("sync loop stopped")

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single tick: check connectivity, collect, scan, submit, mark.
// The monitor is consulted once per tick. Every failure is logged and isolated;
// nothing is returned to the caller.
func (w *Worker[P]) RunOnce(ctx context.Context) TickResult {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	var res TickResult
	if ctx.Err() != nil {
		return res
	}

	online := w.monitor.IsOnline(ctx)

	if w.stream.Collect != nil {
		res.Collected = w.collect(ctx, online)
	}

	if !online {
		w.recorder.RecordTick(w.stream.Name, false, -1)
		w.logger.Debug("offline, skipping tick")
		return res
	}
	res.Online = true

	records, err := w.stream.Store.ScanPending(ctx)
	if err != nil {
		w.recorder.RecordTick(w.stream.Name, true, -1)
		w.logger.Error("failed to scan pending records", zap.Error(err))
		return res
	}
	res.Scanned = len(records)
	w.recorder.RecordTick(w.stream.Name, true, len(records))
	if len(records) == 0 {
		return res
	}

	var delivered, failed, skipped atomic.Int64
	tally := func(o outcome) {
		switch o {
		case outcomeDelivered:
			delivered.Add(1)
		case outcomeFailed:
			failed.Add(1)
		case outcomeSkipped:
			skipped.Add(1)
		}
	}

	if w.config.Concurrency == 1 {
		for i := range records {
			if ctx.Err() != nil {
				break
			}
			tally(w.deliver(ctx, &records[i]))
		}
	} else {
		var wg sync.WaitGroup
		for i := range records {
			if err := w.sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(rec *outbox.Record[P]) {
				defer wg.Done()
				defer w.sem.Release(1)
				tally(w.deliver(ctx, rec))
			}(&records[i])
		}
		wg.Wait()
	}

	res.Delivered = int(delivered.Load())
	res.Failed = int(failed.Load())
	res.Skipped = int(skipped.Load())

	w.logger.Info("tick complete",
		zap.Int("scanned", res.Scanned),
		zap.Int("delivered", res.Delivered),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped))
	return res
}

func (w *Worker[P]) collect(ctx context.Context, online bool) bool {
	rec, err := w.stream.Collect(ctx, online)
	if err != nil {
		w.logger.Warn("failed to collect sample", zap.Error(err))
		return false
	}
	if rec == nil {
		return false
	}
	id, err := w.stream.Store.Append(ctx, rec)
	if err != nil {
		w.logger.Error("failed to append sample", zap.Error(err))
		return false
	}
	w.recorder.RecordAppended(w.stream.Name)
	w.logger.Debug("sample appended", zap.Int64("id", id))
	return true
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFailed
	outcomeSkipped
)

// deliver submits one record and marks it delivered on acknowledgement.
func (w *Worker[P]) deliver(ctx context.Context, rec *outbox.Record[P]) outcome {
	log := w.logger.With(zap.Int64("id", rec.ID), zap.Int64("stream_key", rec.StreamKey))

	if w.stream.Skip != nil && w.stream.Skip(rec) {
		w.recorder.RecordSkipped(w.stream.Name)
		log.Debug("record excluded from submission")
		return outcomeSkipped
	}

	body, err := w.stream.Encode(ctx, rec)
	if err != nil {
		w.recorder.RecordFailed(w.stream.Name, reason(err))
		log.Warn("failed to encode record", zap.Error(err))
		return outcomeFailed
	}

	start := time.Now()
	ack, err := w.submitter.Submit(ctx, uploader.Submission{
		URL:         w.stream.URL,
		Body:        body,
		Fingerprint: rec.Fingerprint,
	})
	if err != nil {
		w.recorder.RecordFailed(w.stream.Name, reason(err))
		fields := []zap.Field{zap.Error(err)}
		if ack != nil {
			fields = append(fields, zap.Int("status", ack.StatusCode), zap.ByteString("response", ack.Body))
		}
		log.Warn("submission failed, record stays pending", fields...)
		return outcomeFailed
	}

	// the server holds the record now; shutdown must not leave it pending
	n, err := w.stream.Store.MarkDelivered(context.WithoutCancel(ctx), rec.ID)
	if err != nil {
		// acknowledged remotely; the next tick resends it
		w.recorder.RecordFailed(w.stream.Name, reason(err))
		log.Error("acknowledged record could not be marked delivered", zap.Error(err))
		return outcomeFailed
	}
	if n == 0 {
		log.Warn("record was already delivered")
	}

	w.recorder.RecordDelivered(w.stream.Name, time.Since(start))
	if ack != nil {
		log.Debug("record delivered", zap.String("request_id", ack.RequestID), zap.Int("status", ack.StatusCode))
	}
	return outcomeDelivered
}

// reason turns an error into a short stats label.
func reason(err error) string {
	if code := shiperr.GetCode(err); code != "" {
		return strings.ToLower(code)
	}
	return "unknown"
}
