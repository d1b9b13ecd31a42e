package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duckmesh/dbchat/internal/observability"
	"github.com/duckmesh/dbchat/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

type ArchiverConfig struct {
	FlushInterval time.Duration
	MaxBatch      int
	QueueSize     int
}

// Archiver buffers audit records in memory and periodically writes them to
// the object store as parquet batches. Records that arrive while the queue
// is full are dropped and counted.
type Archiver struct {
	Store  storage.ObjectStore
	Logger *slog.Logger
	Config ArchiverConfig
	Clock  func() time.Time
	NewID  func() string

	queue chan Record
}

func NewArchiver(store storage.ObjectStore, logger *slog.Logger, cfg ArchiverConfig) *Archiver {
	a := &Archiver{Store: store, Logger: logger, Config: cfg}
	a.ensureDefaults()
	a.queue = make(chan Record, a.Config.QueueSize)
	return a
}

func (a *Archiver) Record(ctx context.Context, record Record) {
	select {
	case a.queue <- record:
	default:
		observability.ObserveAuditRecords("dropped", 1)
		if a.Logger != nil {
			a.Logger.WarnContext(ctx, "audit queue full, record dropped", slog.String("request_id", record.RequestID))
		}
	}
}

// Run flushes on every tick until ctx is cancelled, then flushes whatever is
// still queued.
func (a *Archiver) Run(ctx context.Context) error {
	a.ensureDefaults()

	ticker := time.NewTicker(a.Config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := a.Flush(flushCtx); err != nil && a.Logger != nil {
				a.Logger.Error("final audit flush failed", slog.Any("error", err))
			}
			return nil
		case <-ticker.C:
			if _, err := a.Flush(ctx); err != nil && a.Logger != nil {
				a.Logger.ErrorContext(ctx, "audit flush failed", slog.Any("error", err))
			}
		}
	}
}

// Flush drains the queue in batches of at most MaxBatch records and returns
// the number of records written. It stops at the first failed batch and puts
// that batch back on the queue for the next flush; records that no longer
// fit are dropped and counted.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	a.ensureDefaults()
	written := 0
	for {
		batch := a.drain(a.Config.MaxBatch)
		if len(batch) == 0 {
			return written, nil
		}
		key, err := a.writeBatch(ctx, batch)
		if err != nil {
			observability.ObserveAuditRecords("failed", len(batch))
			a.requeue(ctx, batch)
			return written, err
		}
		observability.ObserveAuditRecords("archived", len(batch))
		written += len(batch)
		if a.Logger != nil {
			a.Logger.DebugContext(ctx, "audit batch archived", slog.String("key", key), slog.Int("records", len(batch)))
		}
	}
}

func (a *Archiver) requeue(ctx context.Context, batch []Record) {
	dropped := 0
	for _, record := range batch {
		select {
		case a.queue <- record:
		default:
			dropped++
		}
	}
	if dropped == 0 {
		return
	}
	observability.ObserveAuditRecords("dropped", dropped)
	if a.Logger != nil {
		a.Logger.WarnContext(ctx, "audit queue full, failed batch partly dropped", slog.Int("dropped", dropped))
	}
}

func (a *Archiver) drain(limit int) []Record {
	batch := make([]Record, 0, limit)
	for len(batch) < limit {
		select {
		case record := <-a.queue:
			batch = append(batch, record)
		default:
			return batch
		}
	}
	return batch
}

func (a *Archiver) writeBatch(ctx context.Context, batch []Record) (string, error) {
	if a.Store == nil {
		return "", fmt.Errorf("object store is not configured")
	}
	data, err := EncodeParquet(batch)
	if err != nil {
		return "", fmt.Errorf("encode audit batch: %w", err)
	}
	key, err := storage.BuildAuditBatchPath(a.Clock(), a.NewID())
	if err != nil {
		return "", fmt.Errorf("build audit batch path: %w", err)
	}
	if _, err := a.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: parquetContentType}); err != nil {
		return "", fmt.Errorf("store audit batch: %w", err)
	}
	return key, nil
}

func (a *Archiver) ensureDefaults() {
	if a.Config.FlushInterval <= 0 {
		a.Config.FlushInterval = 30 * time.Second
	}
	if a.Config.MaxBatch <= 0 {
		a.Config.MaxBatch = 500
	}
	if a.Config.QueueSize <= 0 {
		a.Config.QueueSize = 4096
	}
	if a.Clock == nil {
		a.Clock = time.Now
	}
	if a.NewID == nil {
		a.NewID = uuid.NewString
	}
}
