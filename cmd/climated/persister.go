package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/metrics"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/snapshot"
	redispkg "github.com/afewyards/ha-adaptive-climate-sub000/internal/store/redis"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/zone"
)

const persisterTick = time.Second

// persister writes zone snapshots to the store, debounced per zone so a
// burst of cycle completions does not hammer Redis. Dirty zones are
// flushed unconditionally on shutdown.
type persister struct {
	store    redispkg.SnapshotStore
	zones    *zone.Manager
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	dirty    map[string]bool
	limiters map[string]*rate.Limiter
}

func newPersister(store redispkg.SnapshotStore, zones *zone.Manager, minInterval time.Duration, logger *slog.Logger) *persister {
	if minInterval <= 0 {
		minInterval = time.Minute
	}
	return &persister{
		store:    store,
		zones:    zones,
		logger:   logger.With("component", "persister"),
		interval: minInterval,
		dirty:    make(map[string]bool),
		limiters: make(map[string]*rate.Limiter),
	}
}

// MarkDirty flags a zone for persistence. Safe to call from the zone
// goroutines; the write happens later on the persister goroutine.
func (p *persister) MarkDirty(zoneID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirty[zoneID] = true
}

// Run flushes dirty zones until the context is canceled, then performs a
// final unthrottled flush.
func (p *persister) Run(ctx context.Context) error {
	ticker := time.NewTicker(persisterTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.flush(context.Background(), true)
			return ctx.Err()
		case <-ticker.C:
			p.flush(ctx, false)
		}
	}
}

func (p *persister) flush(ctx context.Context, force bool) {
	p.mu.Lock()
	due := make([]string, 0, len(p.dirty))
	for zoneID := range p.dirty {
		if force || p.limiter(zoneID).Allow() {
			due = append(due, zoneID)
			delete(p.dirty, zoneID)
		}
	}
	p.mu.Unlock()

	for _, zoneID := range due {
		p.save(ctx, zoneID)
	}
}

// limiter must be called with the mutex held.
func (p *persister) limiter(zoneID string) *rate.Limiter {
	l, ok := p.limiters[zoneID]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[zoneID] = l
	}
	return l
}

func (p *persister) save(ctx context.Context, zoneID string) {
	z, ok := p.zones.Get(zoneID)
	if !ok {
		return
	}
	data, err := snapshot.Encode(z.Snapshot())
	if err != nil {
		metrics.SnapshotSaveErrors.WithLabelValues(zoneID).Inc()
		p.logger.Error("failed to encode snapshot", "zone", zoneID, "error", err)
		return
	}
	if err := p.store.Save(ctx, zoneID, data); err != nil {
		metrics.SnapshotSaveErrors.WithLabelValues(zoneID).Inc()
		p.logger.Error("failed to save snapshot", "zone", zoneID, "error", err)
		// keep the zone dirty so the next tick retries
		p.MarkDirty(zoneID)
		return
	}
	metrics.SnapshotSavesTotal.WithLabelValues(zoneID).Inc()
	p.logger.Debug("snapshot saved", "zone", zoneID)
}
