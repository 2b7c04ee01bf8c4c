// Package admin serves the operator surface on the admin host: the status
// page, the state mutation API and the metrics endpoint.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/edgeguard/internal/state"
)

// APIPrefix is the path prefix of the mutation API.
const APIPrefix = "/worker/api/"

//go:embed templates/status.html
var templates embed.FS

var statusPage = template.Must(template.ParseFS(templates, "templates/status.html"))

type handler struct {
	resolver *state.Resolver
	host     string
}

// NewRouter returns the admin routes. Unknown routes answer 403.
// The caller restricts the router to the admin host.
func NewRouter(resolver *state.Resolver, host string) http.Handler {
	h := &handler{resolver: resolver, host: host}
	features := resolver.Features()

	r := chi.NewRouter()
	r.Use(middleware.NoCache)
	r.NotFound(forbidden)
	r.MethodNotAllowed(forbidden)

	r.Get("/", h.status)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/worker/api", func(r chi.Router) {
		r.Get("/state", h.state)
		r.Post("/toggle-maintenance/global", h.toggleGlobal)
		r.Post("/maintenance/subdomain/add", h.hostMutation(resolver.AddMaintenanceHost, "Host added to maintenance"))
		r.Post("/maintenance/subdomain/remove", h.hostMutation(resolver.RemoveMaintenanceHost, "Host removed from maintenance"))
		r.Post("/banner/subdomains", h.setBannerHosts)
		r.Post("/banner/subdomains/add", h.hostMutation(resolver.AddBannerHost, "Host added to banner"))
		r.Post("/banner/subdomains/remove", h.hostMutation(resolver.RemoveBannerHost, "Host removed from banner"))
		r.Post("/banner/message", h.setBannerMessage)
		r.Post("/toggle-4g-mode", h.toggleFlag(resolver.ToggleDegradedNetwork, "Degraded network mode updated"))
		r.Post("/4g-mode", h.setFlag(features.DegradedNetwork, resolver.SetDegradedNetwork, "Degraded network mode updated"))
		r.Post("/toggle-ups-mode", h.toggleFlag(resolver.ToggleBackupPower, "Backup power mode updated"))
		r.Post("/ups-mode", h.setFlag(features.BackupPower, resolver.SetBackupPower, "Backup power mode updated"))
	})
	return r
}

// Forbidden answers requests for the admin API arriving on another host.
func Forbidden(adminHost string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Forbidden: only accessible on "+adminHost, http.StatusForbidden)
	})
}

func forbidden(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Forbidden", http.StatusForbidden)
}

type statusData struct {
	Host     string
	State    state.State
	Features state.Features
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s := h.resolver.Resolve(r.Context(), r.Host, false)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := statusPage.Execute(w, statusData{Host: h.host, State: s, Features: h.resolver.Features()})
	if err != nil {
		logger(r).Error().Err(err).Msg("Could not render status page")
	}
}

func (h *handler) state(w http.ResponseWriter, r *http.Request) {
	s := h.resolver.Resolve(r.Context(), r.Host, false)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (h *handler) toggleGlobal(w http.ResponseWriter, r *http.Request) {
	on, err := h.resolver.ToggleGlobalMaintenance(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	logger(r).Info().Bool("on", on).Msg("Global maintenance toggled")
	io.WriteString(w, "Global maintenance updated")
}

func (h *handler) hostMutation(mutate func(ctx context.Context, host string) error, done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Subdomain *string `json:"subdomain"`
		}
		if err := decode(r, &body); err != nil || body.Subdomain == nil || *body.Subdomain == "" {
			http.Error(w, `Expected format: {"subdomain": "..."}`, http.StatusBadRequest)
			return
		}
		if err := mutate(r.Context(), *body.Subdomain); err != nil {
			fail(w, r, err)
			return
		}
		logger(r).Info().Str("subdomain", *body.Subdomain).Msg(done)
		io.WriteString(w, done)
	}
}

func (h *handler) setBannerHosts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subdomains *[]string `json:"subdomains"`
	}
	if err := decode(r, &body); err != nil || body.Subdomains == nil {
		http.Error(w, `Expected format: {"subdomains": [...]}`, http.StatusBadRequest)
		return
	}
	if err := h.resolver.SetBannerHosts(r.Context(), *body.Subdomains); err != nil {
		fail(w, r, err)
		return
	}
	logger(r).Info().Strs("subdomains", *body.Subdomains).Msg("Banner hosts set")
	io.WriteString(w, "Banner hosts updated")
}

func (h *handler) setBannerMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message *string `json:"message"`
	}
	if err := decode(r, &body); err != nil || body.Message == nil {
		http.Error(w, `Expected format: {"message": "..."}`, http.StatusBadRequest)
		return
	}
	if err := h.resolver.SetBannerMessage(r.Context(), *body.Message); err != nil {
		fail(w, r, err)
		return
	}
	logger(r).Info().Str("message", *body.Message).Msg("Banner message set")
	io.WriteString(w, "Banner message updated")
}

func (h *handler) toggleFlag(toggle func(ctx context.Context) (bool, error), done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := toggle(r.Context())
		if err != nil {
			fail(w, r, err)
			return
		}
		logger(r).Info().Bool("on", on).Msg(done)
		io.WriteString(w, done)
	}
}

func (h *handler) setFlag(enabled bool, set func(ctx context.Context, on bool) error, done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enabled {
			fail(w, r, state.ErrFeatureDisabled)
			return
		}
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := decode(r, &body); err != nil || body.Enabled == nil {
			http.Error(w, `Expected format: {"enabled": true/false}`, http.StatusBadRequest)
			return
		}
		if err := set(r.Context(), *body.Enabled); err != nil {
			fail(w, r, err)
			return
		}
		logger(r).Info().Bool("on", *body.Enabled).Msg(done)
		io.WriteString(w, done)
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
}

func fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, state.ErrFeatureDisabled) {
		http.Error(w, "Feature disabled", http.StatusForbidden)
		return
	}
	logger(r).Error().Err(err).Msg("State mutation failed")
	http.Error(w, "Internal error", http.StatusInternalServerError)
}

// logger returns the request logger, or the global one outside of hlog handlers.
func logger(r *http.Request) *zerolog.Logger {
	l := hlog.FromRequest(r)
	if l.GetLevel() == zerolog.Disabled {
		l = &log.Logger
	}
	return l
}
