package admission

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// DefaultWhitelistTTL bounds how often the whitelist source is consulted.
const DefaultWhitelistTTL = 60 * time.Second

// WhitelistSource supplies authorized requester ids.
type WhitelistSource interface {
	LoadWhitelist(ctx context.Context) ([]int64, error)
}

// StaticWhitelist is a fixed id list, typically from configuration.
type StaticWhitelist []int64

func (s StaticWhitelist) LoadWhitelist(context.Context) ([]int64, error) {
	return slices.Clone(s), nil
}

// MergedWhitelist unions several sources; any source error fails the load.
type MergedWhitelist []WhitelistSource

func (m MergedWhitelist) LoadWhitelist(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, src := range m {
		part, err := src.LoadWhitelist(ctx)
		if err != nil {
			return nil, err
		}
		ids = append(ids, part...)
	}
	return ids, nil
}

// Whitelist caches a WhitelistSource. A failed refresh keeps the previous set.
type Whitelist struct {
	source WhitelistSource
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	ids      map[int64]struct{}
	loadedAt time.Time
	loaded   bool
}

func NewWhitelist(source WhitelistSource, ttl time.Duration, now func() time.Time, logger *slog.Logger) *Whitelist {
	if ttl <= 0 {
		ttl = DefaultWhitelistTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Whitelist{source: source, ttl: ttl, now: now, logger: logger, ids: map[int64]struct{}{}}
}

// Allowed reports whether requesterID is authorized.
func (w *Whitelist) Allowed(ctx context.Context, requesterID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refreshLocked(ctx)
	_, ok := w.ids[requesterID]
	return ok
}

// IDs returns the current authorized ids in ascending order.
func (w *Whitelist) IDs(ctx context.Context) []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.refreshLocked(ctx)
	ids := make([]int64, 0, len(w.ids))
	for id := range w.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (w *Whitelist) refreshLocked(ctx context.Context) {
	now := w.now()
	if w.loaded && now.Sub(w.loadedAt) < w.ttl {
		return
	}
	w.loadedAt = now
	w.loaded = true

	ids, err := w.source.LoadWhitelist(ctx)
	if err != nil {
		w.logger.Warn("refresh whitelist", "event", "whitelist_refresh_failed", "kept", len(w.ids), "error", err)
		return
	}
	next := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	w.ids = next
}
