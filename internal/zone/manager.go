package zone

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Manager owns the zone set. Zones are registered at startup; the map is
// read-mostly afterwards.
type Manager struct {
	logger *slog.Logger

	mu    sync.RWMutex
	zones map[string]*Zone
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger.With("component", "zone_manager"),
		zones:  make(map[string]*Zone),
	}
}

// Add registers a zone. Duplicate IDs are a configuration error.
func (m *Manager) Add(z *Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.zones[z.ID()]; exists {
		return fmt.Errorf("zone %q already registered", z.ID())
	}
	m.zones[z.ID()] = z
	return nil
}

// Get returns the zone for an ID.
func (m *Manager) Get(id string) (*Zone, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[id]
	return z, ok
}

// Zones returns all zones sorted by ID.
func (m *Manager) Zones() []*Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Zone, 0, len(m.zones))
	for _, z := range m.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Run starts every zone loop and blocks until the context is canceled or
// a loop fails.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, z := range m.Zones() {
		g.Go(func() error { return z.Run(ctx) })
	}
	m.logger.Info("zone loops started", "zones", len(m.zones))
	return g.Wait()
}
