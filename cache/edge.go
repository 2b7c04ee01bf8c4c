package cache

import (
	"fmt"
	"net/http"
	"time"

	serializer "github.com/always-cache/edgeguard/pkg/response-serializer"
)

// EdgeCache stores whole HTTP responses in a CacheProvider.
// It is the shared tier: state values are kept under synthetic keys,
// copies of successful origin responses under request keys.
type EdgeCache struct {
	provider CacheProvider
	now      func() time.Time
}

func NewEdgeCache(provider CacheProvider) *EdgeCache {
	return NewEdgeCacheWithClock(provider, time.Now)
}

// NewEdgeCacheWithClock creates an EdgeCache computing expiry times with the given clock.
func NewEdgeCacheWithClock(provider CacheProvider, now func() time.Time) *EdgeCache {
	return &EdgeCache{provider: provider, now: now}
}

// Match returns the response stored under key.
// The boolean is false if nothing (unexpired) is stored.
func (e *EdgeCache) Match(key string) (serializer.StoredResponse, bool, error) {
	bytes, ok, err := e.provider.Get(key)
	if err != nil || !ok {
		return serializer.StoredResponse{}, false, err
	}
	sRes, err := serializer.BytesToStoredResponse(bytes)
	if err != nil {
		// a corrupted entry is useless, get rid of it
		_ = e.provider.Purge(key)
		return serializer.StoredResponse{}, false, fmt.Errorf("corrupted entry %s: %w", key, err)
	}
	return sRes, true, nil
}

// Put stores the response under key for ttl.
// The response body is consumed and replaced, so the caller can still send it.
func (e *EdgeCache) Put(key string, res *http.Response, ttl time.Duration) error {
	if res.ProtoMajor == 0 {
		res.ProtoMajor, res.ProtoMinor = 1, 1
	}
	now := e.now()
	bytes, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: now,
	})
	if err != nil {
		return err
	}
	return e.provider.Put(key, now.Add(ttl), bytes)
}

// Delete removes whatever is stored under key.
func (e *EdgeCache) Delete(key string) error {
	return e.provider.Purge(key)
}
