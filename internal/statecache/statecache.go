// Package statecache is the tiered read-through cache in front of the durable
// state store.
//
// A read is answered by the first of these tiers that can:
//  1. the process-local entry, while younger than the TTL
//  2. the shared edge cache entry under internal-cache://<key>
//  3. the durable store, whose answer (including absence) refills both tiers
//
// Writes go to the store and invalidate the key in both tiers before returning.
// Other instances pick up the change when their local entry expires.
package statecache

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/always-cache/edgeguard/cache"
	"github.com/always-cache/edgeguard/internal/metrics"
	"github.com/always-cache/edgeguard/internal/store"
	cachekey "github.com/always-cache/edgeguard/pkg/cache-key"
)

// DefaultTTL is used when Config.TTL is not set.
const DefaultTTL = 60 * time.Second

// absentHeader marks a shared entry recording that the store has no value.
const absentHeader = "Edgeguard-Absent"

type Config struct {
	// Enabled turns both cache tiers on. When off, every read hits the store.
	Enabled bool
	// TTL of local and shared entries.
	TTL time.Duration
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Now is the clock used for local entry expiry. Defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	value       string
	present     bool
	refreshedAt time.Time
}

type result struct {
	value   string
	present bool
}

// Cache is safe for concurrent use.
type Cache struct {
	store   store.Store
	shared  *cache.EdgeCache
	enabled bool
	ttl     time.Duration
	now     func() time.Time
	log     zerolog.Logger

	mu    sync.Mutex
	local map[string]entry
	// gen counts invalidations per key. A read-through started before an
	// invalidation must not refill either tier.
	gen map[string]uint64

	group      singleflight.Group
	sharedErrs rate.Sometimes
}

// New creates a cache over the durable store. shared may be nil, in which
// case the shared tier is skipped.
func New(st store.Store, shared *cache.EdgeCache, config Config) *Cache {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		store:      st,
		shared:     shared,
		enabled:    config.Enabled,
		ttl:        ttl,
		now:        now,
		log:        logger.With().Str("component", "statecache").Logger(),
		local:      make(map[string]entry),
		gen:        make(map[string]uint64),
		sharedErrs: rate.Sometimes{Interval: time.Minute},
	}
}

// Read returns the value stored under key and whether it exists.
// With useCache false both tiers are bypassed; admin views use that to get
// fresh data.
func (c *Cache) Read(ctx context.Context, key string, useCache bool) (string, bool, error) {
	if !useCache || !c.enabled {
		metrics.StateReads.WithLabelValues("store").Inc()
		return c.store.Get(ctx, key)
	}

	if e, ok := c.fresh(key); ok {
		metrics.StateReads.WithLabelValues("local").Inc()
		return e.value, e.present, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.readThrough(ctx, key)
	})
	if err != nil {
		return "", false, err
	}
	r := v.(result)
	return r.value, r.present, nil
}

// Write stores the value durably and invalidates the key.
// When Write returns, the next read on any instance sharing the edge cache
// misses the shared tier, and this instance's local entry is reset.
func (c *Cache) Write(ctx context.Context, key, value string) error {
	if err := c.store.Put(ctx, key, value); err != nil {
		return err
	}
	c.Invalidate(key)
	return nil
}

// Invalidate resets the local entries and deletes the shared entries of keys.
// Reads already in flight for these keys still answer their callers, but do
// not refill the tiers, and later reads do not join them.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		c.local[key] = entry{}
		c.gen[key]++
	}
	c.mu.Unlock()
	for _, key := range keys {
		c.group.Forget(key)
	}

	if c.shared == nil {
		return
	}
	for _, key := range keys {
		c.deleteShared(key)
	}
}

func (c *Cache) deleteShared(key string) {
	if err := c.shared.Delete(cachekey.SyntheticKey(key)); err != nil {
		metrics.SharedCacheErrors.WithLabelValues("delete").Inc()
		c.log.Error().Err(err).Str("key", key).Msg("Could not invalidate shared entry")
	}
}

func (c *Cache) generation(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[key]
}

func (c *Cache) fresh(key string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.local[key]
	if !ok || e.refreshedAt.IsZero() {
		return entry{}, false
	}
	return e, c.now().Sub(e.refreshedAt) < c.ttl
}

// setLocal stores r unless key was invalidated since generation gen.
func (c *Cache) setLocal(key string, r result, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[key] != gen {
		return false
	}
	c.local[key] = entry{value: r.value, present: r.present, refreshedAt: c.now()}
	return true
}

func (c *Cache) readThrough(ctx context.Context, key string) (result, error) {
	gen := c.generation(key)
	if r, ok := c.readShared(key); ok {
		metrics.StateReads.WithLabelValues("shared").Inc()
		c.setLocal(key, r, gen)
		return r, nil
	}

	value, present, err := c.store.Get(ctx, key)
	if err != nil {
		return result{}, err
	}
	metrics.StateReads.WithLabelValues("store").Inc()
	r := result{value: value, present: present}
	if !c.setLocal(key, r, gen) {
		return r, nil
	}
	c.writeShared(key, r)
	if c.shared != nil && c.generation(key) != gen {
		// invalidated while writing back
		c.deleteShared(key)
	}
	return r, nil
}

func (c *Cache) readShared(key string) (result, bool) {
	if c.shared == nil {
		return result{}, false
	}
	sRes, ok, err := c.shared.Match(cachekey.SyntheticKey(key))
	if err != nil {
		metrics.SharedCacheErrors.WithLabelValues("match").Inc()
		c.sharedErrs.Do(func() {
			c.log.Error().Err(err).Str("key", key).Msg("Shared cache read failed, falling back to store")
		})
		return result{}, false
	}
	if !ok {
		return result{}, false
	}
	defer sRes.Response.Body.Close()
	if sRes.Response.Header.Get(absentHeader) != "" {
		return result{present: false}, true
	}
	if sRes.Response.StatusCode != http.StatusOK {
		return result{}, false
	}
	body, err := io.ReadAll(sRes.Response.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Could not read shared entry body")
		return result{}, false
	}
	return result{value: string(body), present: true}, true
}

func (c *Cache) writeShared(key string, r result) {
	if c.shared == nil {
		return
	}
	header := http.Header{}
	header.Set("Cache-Control", "max-age="+strconv.Itoa(int(c.ttl/time.Second)))
	header.Set("Content-Type", "text/plain")
	status := http.StatusOK
	if !r.present {
		status = http.StatusNotFound
		header.Set(absentHeader, "1")
	}
	res := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(r.value)),
		ContentLength: int64(len(r.value)),
	}
	if err := c.shared.Put(cachekey.SyntheticKey(key), res, c.ttl); err != nil {
		metrics.SharedCacheErrors.WithLabelValues("put").Inc()
		c.sharedErrs.Do(func() {
			c.log.Error().Err(err).Str("key", key).Msg("Shared cache write failed")
		})
	}
}
