// Package edgeguard is an HTTP middleware in front of a single origin. It
// serves maintenance and error pages when the origin fails or is taken down,
// falls back to stored copies for enrolled hosts and injects an
// informational banner into passing HTML pages.
package edgeguard

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/edgeguard/internal/admin"
	"github.com/always-cache/edgeguard/internal/banner"
	"github.com/always-cache/edgeguard/internal/classify"
	"github.com/always-cache/edgeguard/internal/errorpage"
	"github.com/always-cache/edgeguard/internal/hostmatch"
	"github.com/always-cache/edgeguard/internal/metrics"
	"github.com/always-cache/edgeguard/internal/report"
	"github.com/always-cache/edgeguard/internal/state"
	cachestatus "github.com/always-cache/edgeguard/pkg/cache-status"
)

type Config struct {
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	// When empty, the client's Host header is forwarded.
	OriginHost string
	// AdminHost serves the status page and the state API.
	AdminHost string
	// Resolver provides the operational state.
	Resolver   *state.Resolver
	Classifier *classify.Classifier
	// StoredCopies records successful responses of enrolled hosts. Optional.
	StoredCopies *classify.StoredCopies
	ErrorPages   *errorpage.Renderer
	Banner       banner.Config
	// Reporter handles error reports. Optional.
	Reporter *report.Reporter
	// Transport to the origin. http.DefaultTransport if nil.
	Transport http.RoundTripper
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Guard struct {
	adminHost    string
	resolver     *state.Resolver
	classifier   *classify.Classifier
	storedCopies *classify.StoredCopies
	errorPages   *errorpage.Renderer
	banner       banner.Config
	reporter     *report.Reporter
	admin        http.Handler
	forbidden    http.Handler
	reverseproxy httputil.ReverseProxy
	handler      http.Handler
	log          zerolog.Logger
}

type ctxKey struct{}

// requestInfo travels with the forwarded request to the response hooks.
type requestInfo struct {
	inbound *http.Request
	host    string
	state   state.State
}

// New creates the guard for config.OriginURL.
func New(config Config) *Guard {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Logger()

	g := &Guard{
		adminHost:    strings.ToLower(config.AdminHost),
		resolver:     config.Resolver,
		classifier:   config.Classifier,
		storedCopies: config.StoredCopies,
		errorPages:   config.ErrorPages,
		banner:       config.Banner,
		reporter:     config.Reporter,
		admin:        admin.NewRouter(config.Resolver, config.AdminHost),
		forbidden:    admin.Forbidden(config.AdminHost),
		log:          logger,
	}

	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if config.OriginHost != "" && config.Transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: config.OriginHost,
			},
		}
	}

	g.reverseproxy = httputil.ReverseProxy{
		Director:       createDirector(config.OriginURL.Scheme, config.OriginURL.Host, config.OriginHost),
		Transport:      transport,
		ModifyResponse: g.modifyResponse,
		ErrorHandler:   g.handleTransportError,
	}

	g.handler = hlog.NewHandler(logger)(
		hlog.RemoteAddrHandler("ip")(
			hlog.UserAgentHandler("user_agent")(
				hlog.RequestIDHandler("req_id", "Request-Id")(
					hlog.AccessHandler(logAccess)(
						http.HandlerFunc(g.serve))))))
	return g
}

func logAccess(r *http.Request, status, size int, duration time.Duration) {
	getLogger(r).Debug().
		Str("method", r.Method).
		Str("host", r.Host).
		Str("url", r.URL.String()).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Sending response to client")
}

// ServeHTTP implements the http.Handler interface.
func (g *Guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

func (g *Guard) serve(w http.ResponseWriter, r *http.Request) {
	logger := getLogger(r)
	// escape hatch: never leave a request unanswered
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error().Interface("panic", rec).Msg("Recovered from panic")
			http.Error(w, "Upstream unreachable", http.StatusBadGateway)
		}
	}()

	host := strings.ToLower(hostmatch.StripPort(r.Host))

	if g.reporter != nil && g.reporter.Enabled() && r.URL.Path == report.Path && r.Method == http.MethodPost {
		g.reporter.ServeHTTP(w, r)
		return
	}

	if g.isAdminRequest(host, r.URL.Path) {
		g.admin.ServeHTTP(w, r)
		return
	}
	if strings.HasPrefix(r.URL.Path, admin.APIPrefix) {
		g.forbidden.ServeHTTP(w, r)
		return
	}

	s := g.resolver.Resolve(r.Context(), host, true)

	if s.InMaintenance() {
		logger.Trace().Str("host", host).Msg("In maintenance, not forwarding")
		d := g.classifier.Decide(r.Context(), r, nil, nil, true)
		g.sendDecision(w, r, d)
		return
	}

	ctx := context.WithValue(r.Context(), ctxKey{}, &requestInfo{inbound: r, host: host, state: s})
	g.reverseproxy.ServeHTTP(w, r.WithContext(ctx))
}

func (g *Guard) isAdminRequest(host, path string) bool {
	if g.adminHost == "" || host != g.adminHost {
		return false
	}
	return path == "/" || path == "/metrics" || strings.HasPrefix(path, admin.APIPrefix)
}

func info(r *http.Request) *requestInfo {
	if ri, ok := r.Context().Value(ctxKey{}).(*requestInfo); ok {
		return ri
	}
	return &requestInfo{inbound: r, host: strings.ToLower(hostmatch.StripPort(r.Host)), state: state.Default()}
}

// modifyResponse lets the classifier override the origin response and
// otherwise records a stale copy and injects the banner.
func (g *Guard) modifyResponse(res *http.Response) error {
	ri := info(res.Request)
	logger := getLogger(ri.inbound)

	d := g.classifier.Decide(res.Request.Context(), ri.inbound, res, nil, false)
	if d.Kind != classify.Pass {
		replacement, err := g.decisionResponse(ri.inbound, d)
		if err != nil {
			return err
		}
		logger.Info().Int("origin_status", res.StatusCode).Str("decision", d.Kind.String()).
			Int("code", d.Code).Str("category", string(d.Category)).Msg("Origin response replaced")
		io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
		res.Body.Close()
		replaceResponse(res, replacement)
		return nil
	}

	cs := cachestatus.CacheStatus{}
	cs.Forward(cachestatus.FwdBypass)
	if g.storedCopies != nil && g.classifier.StaleEnabled(ri.host) {
		cs.Forward(cachestatus.FwdMiss)
		if g.storedCopies.Storable(ri.inbound, res) {
			if err := g.storedCopies.Store(ri.inbound, res); err != nil {
				logger.Warn().Err(err).Msg("Could not store copy")
			} else {
				metrics.StoredCopies.Inc()
				cs.Detail("stored")
			}
		}
	}
	res.Header.Add(cachestatus.Header, cs.String())

	if msg, ok := banner.Compose(g.banner, ri.state, ri.host); ok && banner.IsHTML(res) {
		injected, err := banner.Inject(res, msg)
		if err != nil {
			logger.Warn().Err(err).Msg("Could not inject banner")
		} else if injected {
			metrics.BannerInjections.Inc()
		}
	}
	return nil
}

// handleTransportError is called when the origin could not be reached at all.
func (g *Guard) handleTransportError(w http.ResponseWriter, r *http.Request, err error) {
	ri := info(r)
	logger := getLogger(ri.inbound)
	if r.Context().Err() != nil {
		// client went away
		logger.Debug().Err(err).Msg("Request cancelled")
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	logger.Warn().Err(err).Msg("Origin unreachable")

	d := g.classifier.Decide(r.Context(), ri.inbound, nil, err, false)
	if d.Kind == classify.Pass {
		http.Error(w, "Upstream unreachable", http.StatusBadGateway)
		return
	}
	g.sendDecision(w, ri.inbound, d)
}

func (g *Guard) decisionResponse(r *http.Request, d classify.Decision) (*http.Response, error) {
	switch d.Kind {
	case classify.ServedFromCache:
		return d.Response, nil
	case classify.ErrorPage:
		return g.errorPages.Response(r, d.Code, d.Category)
	}
	return nil, fmt.Errorf("no response for decision %s", d.Kind)
}

func (g *Guard) sendDecision(w http.ResponseWriter, r *http.Request, d classify.Decision) {
	res, err := g.decisionResponse(r, d)
	if err != nil {
		getLogger(r).Error().Err(err).Msg("Could not build fallback response")
		http.Error(w, "Upstream unreachable", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, res.Body); err != nil {
		getLogger(r).Error().Err(err).Msg("Could not write response body to client")
	}
}

// replaceResponse swaps the content of res for next, keeping the request.
func replaceResponse(res, next *http.Response) {
	req := res.Request
	*res = *next
	res.Request = req
	if res.ProtoMajor == 0 {
		res.Proto, res.ProtoMajor, res.ProtoMinor = "HTTP/1.1", 1, 1
	}
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the default logger.
func getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &log.Logger
	}
	return logger
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
