// Command edgeguard-monitor watches the WAN link and the UPS and records
// their state for the edgeguard proxies sharing the same store.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/edgeguard/cache"
	"github.com/always-cache/edgeguard/internal/config"
	"github.com/always-cache/edgeguard/internal/monitor"
	"github.com/always-cache/edgeguard/internal/statecache"
	"github.com/always-cache/edgeguard/internal/store"
)

var (
	configFlag         string
	verbosityTraceFlag bool

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "edgeguard.yaml", "Configuration file")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}
	log.Logger = log.Level(logLevel).Output(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Str("version", version).Logger()

	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load configuration")
	}
	if err := cfg.ValidateMonitor(); err != nil {
		log.Fatal().Err(err).Msg("Invalid monitor configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("Cannot open state store")
	}
	defer st.Close()

	// a memory shared tier is private to this process, so only a sqlite one needs purging
	var shared *cache.EdgeCache
	if cfg.Cache.Shared.Driver == "sqlite" {
		provider, err := cache.NewSQLiteCache(cfg.Cache.Shared.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Cannot open shared cache")
		}
		defer provider.Close()
		shared = cache.NewEdgeCache(provider)
	}

	states := statecache.New(st, shared, statecache.Config{Enabled: cfg.Cache.Enabled, TTL: cfg.Cache.TTL})
	if err := monitor.New(cfg.Monitor, states, nil, nil).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Monitor stopped")
	}
}
