package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duckmesh/dbchat/internal/observability"
)

const DefaultTTL = 300 * time.Second

type cacheEntry struct {
	snapshot    *Snapshot
	refreshedAt time.Time
	generation  uint64
}

// Cache holds the most recently built Snapshot and rebuilds it once it is
// older than TTL or after Invalidate. Readers load the published entry
// without locking; rebuilds are serialized and published with one atomic
// swap, so a reader never sees a partially built snapshot.
type Cache struct {
	Introspector Introspector
	Logger       *slog.Logger
	Clock        func() time.Time
	TTL          time.Duration

	current    atomic.Pointer[cacheEntry]
	generation atomic.Uint64
	rebuildMu  sync.Mutex
}

func NewCache(introspector Introspector, logger *slog.Logger) *Cache {
	return &Cache{
		Introspector: introspector,
		Logger:       logger,
		Clock:        time.Now,
		TTL:          DefaultTTL,
	}
}

func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snapshot, ok := c.fresh(); ok {
		return snapshot, nil
	}

	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	// Another caller may have finished a rebuild while we waited.
	if snapshot, ok := c.fresh(); ok {
		return snapshot, nil
	}
	return c.rebuild(ctx)
}

// Invalidate forces the next Snapshot call to rebuild. The current snapshot
// stays published until the rebuild succeeds.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	if c.Logger != nil {
		c.Logger.Debug("schema cache invalidated")
	}
}

// Peek returns the published snapshot without triggering a rebuild.
func (c *Cache) Peek() (*Snapshot, time.Time, bool) {
	entry := c.current.Load()
	if entry == nil {
		return nil, time.Time{}, false
	}
	return entry.snapshot, entry.refreshedAt, true
}

func (c *Cache) fresh() (*Snapshot, bool) {
	entry := c.current.Load()
	if entry == nil {
		return nil, false
	}
	if entry.generation != c.generation.Load() {
		return nil, false
	}
	if c.now().Sub(entry.refreshedAt) > c.ttl() {
		return nil, false
	}
	return entry.snapshot, true
}

func (c *Cache) rebuild(ctx context.Context) (*Snapshot, error) {
	if c.Introspector == nil {
		return nil, fmt.Errorf("%w: introspector is not configured", ErrUnavailable)
	}

	generation := c.generation.Load()
	start := c.now()
	snapshot, err := c.Introspector.Introspect(ctx)
	if err != nil {
		observability.ObserveSchemaRefresh("error", -1)
		if c.Logger != nil {
			c.Logger.ErrorContext(ctx, "schema refresh failed",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.Any("error", err),
			)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if snapshot == nil {
		snapshot = &Snapshot{}
	}
	if snapshot.Tables == nil {
		snapshot.Tables = map[string]Table{}
	}
	if snapshot.BuiltAt.IsZero() {
		snapshot.BuiltAt = start.UTC()
	}

	refreshedAt := c.now()
	c.current.Store(&cacheEntry{snapshot: snapshot, refreshedAt: refreshedAt, generation: generation})
	observability.ObserveSchemaRefresh("ok", len(snapshot.Tables))
	if c.Logger != nil {
		c.Logger.InfoContext(ctx, "schema refreshed",
			slog.Int("tables", len(snapshot.Tables)),
			slog.String("duration", refreshedAt.Sub(start).String()),
		)
	}
	return snapshot, nil
}

func (c *Cache) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}
