// Package enabledset persists the list of enabled plugins and caches it per process.
package enabledset

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bearslyricattack/plugman/pkg/constants"
	"github.com/bearslyricattack/plugman/pkg/logger"
	"github.com/bearslyricattack/plugman/pkg/metrics"
	"github.com/bearslyricattack/plugman/pkg/storage"
)

// DefaultTTL bounds how stale a cached enabled set may be.
const DefaultTTL = 30 * time.Minute

// LifecycleCache is the invalidation hook the orchestrator and unrelated subsystems call.
type LifecycleCache interface {
	Invalidate(ctx context.Context) error
}

// NopCache satisfies LifecycleCache without caching anything.
type NopCache struct{}

func (NopCache) Invalidate(context.Context) error { return nil }

// CacheFunc adapts a function to LifecycleCache.
type CacheFunc func(ctx context.Context) error

func (f CacheFunc) Invalidate(ctx context.Context) error { return f(ctx) }

// Discoverer lists plugin directories currently on disk.
type Discoverer interface {
	Discover() ([]string, error)
}

type Options struct {
	TTL          time.Duration
	CacheEnabled bool
	// OneShot marks CLI-style processes, which always read the durable record.
	OneShot bool
}

// Store reads and writes the enabled set. The durable record is the source of truth.
type Store struct {
	settings storage.SettingStore
	cache    storage.CacheStore
	discover Discoverer
	opts     Options

	mu   sync.Mutex
	memo []string
	// memo 与持久缓存同时过期
	memoExpires time.Time
}

func NewStore(settings storage.SettingStore, cache storage.CacheStore, discover Discoverer, opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Store{settings: settings, cache: cache, discover: discover, opts: opts}
}

// Load returns the enabled set, cache first unless running one-shot.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opts.OneShot && len(s.memo) > 0 && time.Now().Before(s.memoExpires) {
		return clone(s.memo), nil
	}
	s.memo = nil

	cacheEnabled, err := s.cacheEnabled(ctx)
	if err != nil {
		return nil, err
	}

	if cacheEnabled && !s.opts.OneShot {
		raw, expires, ok, err := s.cache.Lookup(ctx, constants.InstalledPluginsCacheKey)
		if err != nil {
			return nil, err
		}
		if ok {
			if ids, derr := decode(raw); derr == nil && len(ids) > 0 {
				s.memo, s.memoExpires = ids, expires
				return clone(ids), nil
			}
		}
	}

	raw, ok, err := s.settings.Get(ctx, constants.ActivatedPluginsSetting)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return []string{}, nil
	}
	ids, err := decode(raw)
	if err != nil {
		logger.WithContext(ctx).Warn("Enabled plugin record is corrupt, treating as empty", logger.Fields{
			"error": err.Error(),
		})
		return []string{}, nil
	}

	ids, err = s.heal(unique(ids))
	if err != nil {
		return nil, err
	}

	if cacheEnabled && !s.opts.OneShot {
		encoded, _ := json.Marshal(ids)
		expires := time.Now().Add(s.opts.TTL)
		if err := s.cache.Put(ctx, constants.InstalledPluginsCacheKey, string(encoded), s.opts.TTL); err != nil {
			return nil, err
		}
		s.memo, s.memoExpires = ids, expires
	}
	return clone(ids), nil
}

// Save persists ids after dropping duplicates and plugins whose directory is gone, and returns
// the set actually stored.
func (s *Store) Save(ctx context.Context, ids []string) ([]string, error) {
	normalized, err := s.heal(unique(ids))
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("encode enabled plugins: %w", err)
	}
	if err := s.settings.Set(ctx, constants.ActivatedPluginsSetting, string(encoded)); err != nil {
		return nil, err
	}
	metrics.EnabledPlugins.Set(float64(len(normalized)))
	return clone(normalized), nil
}

// Invalidate drops the process memo and the durable cache entry. Calling it twice is harmless.
func (s *Store) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	s.memo = nil
	s.mu.Unlock()

	metrics.CacheInvalidationsTotal.Inc()
	return s.cache.Forget(ctx, constants.InstalledPluginsCacheKey)
}

// Contains reports whether id is enabled.
func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	ids, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	for _, existing := range ids {
		if existing == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) cacheEnabled(ctx context.Context) (bool, error) {
	if !s.opts.CacheEnabled {
		return false, nil
	}
	raw, ok, err := s.settings.Get(ctx, constants.PluginCacheEnabledSetting)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "false", "off", "no":
		return false, nil
	default:
		return true, nil
	}
}

// heal keeps only ids whose plugin directory still exists, preserving order.
func (s *Store) heal(ids []string) ([]string, error) {
	existing, err := s.discover.Discover()
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		present[id] = struct{}{}
	}
	healed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := present[id]; ok {
			healed = append(healed, id)
		}
	}
	return healed, nil
}

func decode(raw string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func unique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func clone(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
