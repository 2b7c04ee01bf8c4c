package classify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/edgeguard/cache"
	cachecontrol "github.com/always-cache/edgeguard/pkg/cache-control"
	cachekey "github.com/always-cache/edgeguard/pkg/cache-key"
)

// StaleStrategy is one way of finding a prior successful response for a request.
// Lookup returns a nil response on a miss.
type StaleStrategy interface {
	Name() string
	Lookup(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Refetch re-issues the request against an HTTP cache in front of the origin,
// asking it to answer from its store only.
type Refetch struct {
	// URL of the HTTP cache. The request URI is appended.
	URL    *url.URL
	Client *http.Client
}

func (r *Refetch) Name() string { return "refetch" }

func (r *Refetch) Lookup(ctx context.Context, req *http.Request) (*http.Response, error) {
	if r.URL == nil || !Replayable(req) {
		return nil, nil
	}
	target := *r.URL
	target.Path = req.URL.Path
	target.RawPath = req.URL.RawPath
	target.RawQuery = req.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build refetch request: %w", err)
	}
	out.Host = req.Host
	out.Header.Set("Cache-Control", "only-if-cached, max-stale")
	for _, h := range []string{"Accept", "Accept-Language", "Accept-Encoding"} {
		if v := req.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("refetch: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		// 504 is the usual "not in cache" answer to only-if-cached
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
		return nil, nil
	}
	return res, nil
}

// StoredCopies keeps copies of successful origin responses in the shared
// edge cache and looks them up when the origin fails.
type StoredCopies struct {
	Cache   *cache.EdgeCache
	Keyer   cachekey.CacheKeyer
	KeepFor time.Duration
	// MaxSize is the largest body kept, in bytes.
	MaxSize int64
	// Now is the clock used for the Age header. Defaults to time.Now.
	Now func() time.Time
}

const (
	// DefaultKeepFor is used when StoredCopies.KeepFor is not set.
	DefaultKeepFor = 24 * time.Hour
	// DefaultMaxSize is used when StoredCopies.MaxSize is not set.
	DefaultMaxSize int64 = 2 << 20
)

func (s *StoredCopies) Name() string { return "stored-copy" }

// key of the GET copy. HEAD requests are answered from it too.
func (s *StoredCopies) key(req *http.Request) string {
	get := *req
	get.Method = http.MethodGet
	return s.Keyer.GetKey(&get)
}

// Lookup finds the copy for a GET or HEAD request. Other methods always miss.
func (s *StoredCopies) Lookup(_ context.Context, req *http.Request) (*http.Response, error) {
	if !Replayable(req) {
		return nil, nil
	}
	sRes, ok, err := s.Cache.Match(s.key(req))
	if err != nil || !ok {
		return nil, err
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	age := sRes.Age(now())
	if age < 0 {
		age = 0
	}
	sRes.Response.Header.Set("Age", strconv.FormatInt(int64(age/time.Second), 10))
	return sRes.Response, nil
}

// Storable reports whether the response to req qualifies as a stale copy:
// a complete 200 answer to a GET that caches may store, with a known length
// of at most MaxSize. Streams are never kept.
func (s *StoredCopies) Storable(req *http.Request, res *http.Response) bool {
	maxSize := s.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return req.Method == http.MethodGet &&
		res.StatusCode == http.StatusOK &&
		res.ContentLength >= 0 && res.ContentLength <= maxSize &&
		!strings.HasPrefix(res.Header.Get("Content-Type"), "text/event-stream") &&
		cachecontrol.Storable(req, res)
}

// Store keeps a copy of res. The body is read and replaced, so res can still be sent.
func (s *StoredCopies) Store(req *http.Request, res *http.Response) error {
	keepFor := s.KeepFor
	if keepFor <= 0 {
		keepFor = DefaultKeepFor
	}
	return s.Cache.Put(s.key(req), res, keepFor)
}

// Replayable reports whether a prior copy may answer req: only reads are.
func Replayable(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}
