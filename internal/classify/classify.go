package classify

import (
	"context"
	"net/http"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/edgeguard/internal/hostmatch"
	"github.com/always-cache/edgeguard/internal/metrics"
	cachestatus "github.com/always-cache/edgeguard/pkg/cache-status"
)

// Response headers set on responses produced by edgeguard.
const (
	HeaderHandled   = "X-Edge-Handled"
	HeaderFromCache = "X-Served-From-Cache"
)

// Prober checks whether the origin is reachable.
type Prober interface {
	Up(ctx context.Context) (bool, error)
}

type Config struct {
	Categories Categories
	// StaleHosts are the host patterns enrolled for always-serve-stale.
	StaleHosts []string
	// Strategies are tried in order until one returns a response.
	Strategies []StaleStrategy
	// Prober is optional. Without it origin reachability is unknown.
	Prober Prober
	// ProbeCacheFor memoises probe results. Zero disables the memo.
	ProbeCacheFor time.Duration
	Logger        *zerolog.Logger
}

type Classifier struct {
	categories Categories
	staleHosts []string
	strategies []StaleStrategy
	prober     Prober
	probeTTL   time.Duration
	probeMemo  *gocache.Cache
	log        zerolog.Logger
}

const probeMemoKey = "origin"

func New(config Config) *Classifier {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	c := &Classifier{
		categories: config.Categories,
		staleHosts: config.StaleHosts,
		strategies: config.Strategies,
		prober:     config.Prober,
		probeTTL:   config.ProbeCacheFor,
		log:        logger.With().Str("component", "classify").Logger(),
	}
	if c.probeTTL > 0 {
		c.probeMemo = gocache.New(c.probeTTL, 2*c.probeTTL)
	}
	return c
}

// Categories returns the configured category lists.
func (c *Classifier) Categories() Categories {
	return c.categories
}

// Decide evaluates, first match wins:
//  1. maintenance: 503 maintenance page
//  2. probe reports the origin down: 504
//  3. origin answered >= 500: stale copy if enrolled, else error page with that status
//  4. transport error without response: stale copy if enrolled, else 502
//  5. pass
func (c *Classifier) Decide(ctx context.Context, req *http.Request, res *http.Response, transportErr error, inMaintenance bool) Decision {
	d := c.decide(ctx, req, res, transportErr, inMaintenance)
	metrics.Decisions.WithLabelValues(d.Kind.String(), string(d.Category)).Inc()
	return d
}

func (c *Classifier) decide(ctx context.Context, req *http.Request, res *http.Response, transportErr error, inMaintenance bool) Decision {
	if inMaintenance {
		return Decision{Kind: ErrorPage, Code: http.StatusServiceUnavailable, Category: Maintenance}
	}

	if c.originDown(ctx) {
		return Decision{Kind: ErrorPage, Code: http.StatusGatewayTimeout, Category: Generic}
	}

	if res != nil && res.StatusCode >= 500 {
		if d, ok := c.stale(ctx, req); ok {
			return d
		}
		return c.errorPage(res.StatusCode)
	}

	if transportErr != nil && res == nil {
		if d, ok := c.stale(ctx, req); ok {
			return d
		}
		return c.errorPage(http.StatusBadGateway)
	}

	return Decision{Kind: Pass}
}

func (c *Classifier) errorPage(code int) Decision {
	return Decision{Kind: ErrorPage, Code: code, Category: c.categories.Of(code)}
}

// originDown is true only if the probe ran and said so.
func (c *Classifier) originDown(ctx context.Context) bool {
	if c.prober == nil {
		return false
	}
	if c.probeMemo != nil {
		if up, ok := c.probeMemo.Get(probeMemoKey); ok {
			return !up.(bool)
		}
	}
	up, err := c.prober.Up(ctx)
	if err != nil {
		metrics.ProbeResults.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Msg("Origin probe failed, reachability unknown")
		return false
	}
	if up {
		metrics.ProbeResults.WithLabelValues("up").Inc()
	} else {
		metrics.ProbeResults.WithLabelValues("down").Inc()
	}
	if c.probeMemo != nil {
		c.probeMemo.SetDefault(probeMemoKey, up)
	}
	return !up
}

// StaleEnabled reports whether host is enrolled for always-serve-stale.
func (c *Classifier) StaleEnabled(host string) bool {
	return hostmatch.MatchesAny(host, c.staleHosts)
}

// stale tries the strategies in order. Lookup failures are logged and count as misses.
func (c *Classifier) stale(ctx context.Context, req *http.Request) (Decision, bool) {
	host := hostmatch.StripPort(req.Host)
	if !c.StaleEnabled(host) || !Replayable(req) {
		return Decision{}, false
	}
	for _, s := range c.strategies {
		res, err := s.Lookup(ctx, req)
		if err != nil {
			metrics.StaleLookups.WithLabelValues(s.Name(), "error").Inc()
			c.log.Warn().Err(err).Str("strategy", s.Name()).Str("host", host).Msg("Stale lookup failed")
			continue
		}
		if res == nil {
			metrics.StaleLookups.WithLabelValues(s.Name(), "miss").Inc()
			continue
		}
		metrics.StaleLookups.WithLabelValues(s.Name(), "hit").Inc()
		return Decision{Kind: ServedFromCache, Response: asStale(res, s.Name()), Strategy: s.Name()}, true
	}
	return Decision{}, false
}

// asStale forces the copy to a 200 and marks it.
func asStale(res *http.Response, strategy string) *http.Response {
	res.StatusCode = http.StatusOK
	res.Status = strconv.Itoa(http.StatusOK) + " " + http.StatusText(http.StatusOK)
	res.Header.Set(HeaderFromCache, strategy)
	res.Header.Set(HeaderHandled, "true")
	res.Header.Set(cachestatus.Header, cachestatus.StaleHit(strategy))
	return res
}
