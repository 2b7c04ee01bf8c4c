// Package config loads the edgeguard YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/always-cache/edgeguard/internal/banner"
	"github.com/always-cache/edgeguard/internal/classify"
	"github.com/always-cache/edgeguard/internal/errorpage"
	"github.com/always-cache/edgeguard/internal/monitor"
	"github.com/always-cache/edgeguard/internal/probe"
	"github.com/always-cache/edgeguard/internal/report"
	"github.com/always-cache/edgeguard/internal/state"
	"github.com/always-cache/edgeguard/internal/store"
)

type Config struct {
	// Listen is the address of the proxy server.
	Listen string `koanf:"listen"`
	// Origin is the URL requests are forwarded to.
	Origin  string         `koanf:"origin"`
	Admin   AdminConfig    `koanf:"admin"`
	Cache   CacheConfig    `koanf:"cache"`
	Store   store.Config   `koanf:"store"`
	Errors  ErrorsConfig   `koanf:"errors"`
	Report  ReportConfig   `koanf:"report"`
	Stale   StaleConfig    `koanf:"stale"`
	Probe   probe.Config   `koanf:"probe"`
	Banner  banner.Config  `koanf:"banner"`
	Monitor monitor.Config `koanf:"monitor"`
}

type AdminConfig struct {
	// Host serving the status page and the mutation API.
	Host string `koanf:"host"`
}

type CacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	TTL     time.Duration `koanf:"ttl"`
	Shared  SharedConfig  `koanf:"shared"`
}

// SharedConfig selects the shared edge cache provider.
type SharedConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `koanf:"driver"`
	// Path of the SQLite file. All processes using the same file share the cache.
	Path string `koanf:"path"`
}

type ErrorsConfig struct {
	Categories classify.Categories       `koanf:"categories"`
	Copy       map[string]errorpage.Copy `koanf:"copy"`
}

type ReportConfig struct {
	Enabled    bool                 `koanf:"enabled"`
	WebhookURL string               `koanf:"webhook_url"`
	Card       report.Card          `koanf:"card"`
	Page       errorpage.ReportCopy `koanf:"page"`
	// Timezone of the report date, e.g. "Europe/Paris".
	Timezone string `koanf:"timezone"`
}

type StaleConfig struct {
	// Hosts enrolled for always-serve-stale, wildcards allowed.
	Hosts []string `koanf:"hosts"`
	// RefetchURL is an HTTP cache in front of the origin answering only-if-cached requests.
	RefetchURL string        `koanf:"refetch_url"`
	KeepFor    time.Duration `koanf:"keep_for"`
	// MaxSize is the largest response body kept as a copy, in bytes.
	// Responses of unknown length are never kept.
	MaxSize int64 `koanf:"max_size"`
}

// Default returns the configuration used for every key the file leaves out.
func Default() Config {
	return Config{
		Listen: ":8080",
		Cache: CacheConfig{
			Enabled: true,
			TTL:     60 * time.Second,
			Shared:  SharedConfig{Driver: "memory"},
		},
		Store: store.Config{Driver: "memory"},
		Errors: ErrorsConfig{
			Copy: map[string]errorpage.Copy{
				string(classify.Generic): {
					Title:   "Something went wrong",
					Message: "The service is not responding right now. Please try again in a few minutes.",
				},
				string(classify.Container): {
					Title:   "Service restarting",
					Message: "The application behind this site is not running. It should be back shortly.",
				},
				string(classify.Box): {
					Title:   "Server unreachable",
					Message: "The server hosting this site cannot be reached.",
				},
				string(classify.Tunnel): {
					Title:   "Connection lost",
					Message: "The connection to the hosting site is down.",
				},
				string(classify.Maintenance): {
					Title:   "Maintenance",
					Message: "This site is under maintenance. Please come back later.",
				},
			},
		},
		Report: ReportConfig{
			Card: report.Card{
				Title:         "Error reported",
				ServiceField:  "Service",
				CodeField:     "Code",
				ReportByField: "Reported by",
				DateField:     "Date",
			},
			Page: errorpage.ReportCopy{
				ButtonText:       "Report this error",
				ModalHeaderText:  "Report an error",
				LabelPlaceholder: "Your name",
				NamePlaceholder:  "Jane Doe",
				CancelButtonText: "Cancel",
				SubmitButtonText: "Send",
				SuccessMessage:   "Thanks, the report was sent.",
				FailureMessage:   "The report could not be sent.",
			},
			Timezone: "UTC",
		},
		Stale: StaleConfig{KeepFor: classify.DefaultKeepFor, MaxSize: classify.DefaultMaxSize},
		Probe: probe.Config{Timeout: probe.DefaultTimeout, CacheFor: 10 * time.Second},
		Banner: banner.Config{
			BackupPower:     banner.Flag{Message: "The site is running on backup power."},
			DegradedNetwork: banner.Flag{Message: "The site is running on a backup network link and may be slow."},
		},
		Monitor: monitor.DefaultConfig(),
	}
}

// Load reads the YAML file at path on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration of the proxy.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if u, err := url.Parse(c.Origin); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("origin must be an absolute URL, got %q", c.Origin))
	}
	if c.Admin.Host == "" {
		errs = append(errs, errors.New("admin.host is required"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	switch c.Cache.Shared.Driver {
	case "", "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("cache.shared.driver %q is not supported", c.Cache.Shared.Driver))
	}
	if err := c.validateStore(); err != nil {
		errs = append(errs, err)
	}
	if c.Report.Enabled && c.Report.WebhookURL == "" {
		errs = append(errs, errors.New("report.webhook_url is required when reporting is enabled"))
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("report.timezone: %w", err))
	}
	if c.Stale.RefetchURL != "" {
		if u, err := url.Parse(c.Stale.RefetchURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("stale.refetch_url must be an absolute URL, got %q", c.Stale.RefetchURL))
		}
	}
	if c.Stale.KeepFor <= 0 {
		errs = append(errs, errors.New("stale.keep_for must be positive"))
	}
	if c.Stale.MaxSize <= 0 {
		errs = append(errs, errors.New("stale.max_size must be positive"))
	}
	if _, ok := c.Errors.Copy[string(classify.Generic)]; !ok {
		errs = append(errs, errors.New("errors.copy.generic is required"))
	}
	for name := range c.Errors.Copy {
		switch classify.Category(name) {
		case classify.Generic, classify.Container, classify.Box, classify.Tunnel, classify.Maintenance:
		default:
			errs = append(errs, fmt.Errorf("errors.copy.%s is not a known category", name))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case "", "memory", "sqlite":
		return nil
	case "leveldb":
		if c.Store.Path == "" {
			return errors.New("store.path is required for leveldb")
		}
		return nil
	case "etcd":
		if len(c.Store.Etcd.Endpoints) == 0 {
			return errors.New("store.etcd.endpoints is required for etcd")
		}
		return nil
	}
	return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
}

// ValidateMonitor checks what the monitor command needs on top of Validate.
// The monitor reaches the proxies only through the store, so a process-local
// store is refused.
func (c *Config) ValidateMonitor() error {
	var errs []error
	if c.Store.Driver == "" || c.Store.Driver == "memory" {
		errs = append(errs, errors.New("store.driver memory is private to one process, the monitor needs sqlite, leveldb or etcd"))
	}
	if !c.Monitor.WAN.Enabled && !c.Monitor.NUT.Enabled {
		errs = append(errs, errors.New("nothing to monitor: enable monitor.wan or monitor.nut"))
	}
	return errors.Join(errs...)
}

// Features returns the optional state flags enabled by the banner configuration.
func (c *Config) Features() state.Features {
	return state.Features{
		DegradedNetwork: c.Banner.DegradedNetwork.Enabled,
		BackupPower:     c.Banner.BackupPower.Enabled,
	}
}

// ErrorPage returns the error page renderer configuration.
func (c *Config) ErrorPage() errorpage.Config {
	cp := make(map[classify.Category]errorpage.Copy, len(c.Errors.Copy))
	for name, v := range c.Errors.Copy {
		cp[classify.Category(name)] = v
	}
	return errorpage.Config{
		Copy:          cp,
		ReportEnabled: c.Report.Enabled,
		Report:        c.Report.Page,
	}
}

// Location returns the report timezone. Validate has checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
