package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/edgeguard"
	"github.com/always-cache/edgeguard/cache"
	"github.com/always-cache/edgeguard/internal/classify"
	"github.com/always-cache/edgeguard/internal/config"
	"github.com/always-cache/edgeguard/internal/errorpage"
	"github.com/always-cache/edgeguard/internal/probe"
	"github.com/always-cache/edgeguard/internal/report"
	"github.com/always-cache/edgeguard/internal/state"
	"github.com/always-cache/edgeguard/internal/statecache"
	"github.com/always-cache/edgeguard/internal/store"
	cachekey "github.com/always-cache/edgeguard/pkg/cache-key"
)

var (
	// CLI flags
	configFlag         string
	listenFlag         string
	hostFlag           string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "edgeguard.yaml", "Configuration file")
	flag.StringVar(&listenFlag, "listen", "", "Address to listen on (overrides the config file)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin, if it differs from the requested host")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()
	setupLogging()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load configuration")
	}
	if listenFlag != "" {
		cfg.Listen = listenFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Cannot open state store")
	}
	defer st.Close()

	provider, err := openSharedCache(cfg.Cache.Shared)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot open shared cache")
	}
	defer provider.Close()
	shared := cache.NewEdgeCache(provider)

	originURL, err := url.Parse(cfg.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}

	states := statecache.New(st, shared, statecache.Config{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL,
	})
	resolver := state.NewResolver(states, cfg.Features(), nil)

	stored := &classify.StoredCopies{
		Cache:   shared,
		Keyer:   cachekey.NewCacheKeyer(originURL.String()),
		KeepFor: cfg.Stale.KeepFor,
		MaxSize: cfg.Stale.MaxSize,
	}
	strategies := []classify.StaleStrategy{}
	if cfg.Stale.RefetchURL != "" {
		refetchURL, _ := url.Parse(cfg.Stale.RefetchURL)
		strategies = append(strategies, &classify.Refetch{URL: refetchURL})
	}
	strategies = append(strategies, stored)

	classifierConfig := classify.Config{
		Categories:    cfg.Errors.Categories,
		StaleHosts:    cfg.Stale.Hosts,
		Strategies:    strategies,
		ProbeCacheFor: cfg.Probe.CacheFor,
	}
	if p := probe.New(cfg.Probe, nil); p != nil {
		classifierConfig.Prober = p
	}

	pages, err := errorpage.New(cfg.ErrorPage())
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load error page template")
	}

	reporter := report.New(report.Config{
		Enabled:    cfg.Report.Enabled,
		WebhookURL: cfg.Report.WebhookURL,
		Card:       cfg.Report.Card,
		Location:   cfg.Location(),
	})

	guard := edgeguard.New(edgeguard.Config{
		OriginURL:    *originURL,
		OriginHost:   hostFlag,
		AdminHost:    cfg.Admin.Host,
		Resolver:     resolver,
		Classifier:   classify.New(classifierConfig),
		StoredCopies: stored,
		ErrorPages:   pages,
		Banner:       cfg.Banner,
		Reporter:     reporter,
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           guard,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	log.Info().Msgf("Proxying %s to %s (admin on '%s')", cfg.Listen, originURL.String(), cfg.Admin.Host)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func openSharedCache(cfg config.SharedConfig) (cache.CacheProvider, error) {
	if cfg.Driver == "sqlite" {
		return cache.NewSQLiteCache(cfg.Path)
	}
	return cache.NewMemCache(), nil
}

func setupLogging() {
	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()
}
