// Package monitor polls the UPS and the WAN link and records the backup power
// and degraded network flags.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Keys written by the monitor.
const (
	KeyWANIP           = "wan-ip"
	KeyDegradedNetwork = "wan-is-4g"
	KeyBackupPower     = "ups-on-battery"
)

type Config struct {
	Interval time.Duration `koanf:"interval"`
	WAN      WANConfig     `koanf:"wan"`
	NUT      NUTConfig     `koanf:"nut"`
}

type WANConfig struct {
	Enabled bool `koanf:"enabled"`
	// IPURL answers with the public IP as plain text.
	IPURL string `koanf:"ip_url"`
	// MobileCheckURL answers with a JSON object holding a "mobile" boolean.
	// "{ip}" is replaced by the public IP.
	MobileCheckURL string `koanf:"mobile_check_url"`
}

type NUTConfig struct {
	Enabled bool `koanf:"enabled"`
	// Addr of the NUT server, host:port.
	Addr    string        `koanf:"addr"`
	UPS     string        `koanf:"ups"`
	Timeout time.Duration `koanf:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		WAN: WANConfig{
			IPURL:          "https://api.ipify.org",
			MobileCheckURL: "http://ip-api.com/json/{ip}?fields=mobile,org,as,isp",
		},
		NUT: NUTConfig{Timeout: 5 * time.Second},
	}
}

// Writer stores a flag. The tiered state cache is one, so writes invalidate.
type Writer interface {
	Write(ctx context.Context, key, value string) error
}

type Monitor struct {
	config Config
	writer Writer
	client *http.Client
	log    zerolog.Logger

	mu   sync.Mutex
	last map[string]string
}

func New(config Config, writer Writer, client *http.Client, logger *zerolog.Logger) *Monitor {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.NUT.Timeout <= 0 {
		config.NUT.Timeout = DefaultConfig().NUT.Timeout
	}
	return &Monitor{
		config: config,
		writer: writer,
		client: client,
		log:    l.With().Str("component", "monitor").Logger(),
		last:   make(map[string]string),
	}
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.config.WAN.Enabled && !m.config.NUT.Enabled {
		return fmt.Errorf("nothing to monitor: enable monitor.wan or monitor.nut")
	}
	m.log.Info().
		Bool("wan", m.config.WAN.Enabled).
		Bool("nut", m.config.NUT.Enabled).
		Str("ups", m.config.NUT.UPS).
		Dur("interval", m.config.Interval).
		Msg("Monitoring")

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll runs the enabled checks once, concurrently.
// A failed check is logged and writes nothing.
func (m *Monitor) Poll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	if m.config.WAN.Enabled {
		g.Go(func() error {
			if err := m.checkWAN(ctx); err != nil {
				m.log.Error().Err(err).Msg("WAN check failed")
			}
			return nil
		})
	}
	if m.config.NUT.Enabled {
		g.Go(func() error {
			if err := m.checkUPS(ctx); err != nil {
				m.log.Warn().Err(err).Msg("Could not read UPS status from NUT server")
			}
			return nil
		})
	}
	g.Wait()
}

func (m *Monitor) checkWAN(ctx context.Context) error {
	ip, err := publicIP(ctx, m.client, m.config.WAN.IPURL)
	if err != nil {
		return err
	}
	mobile, err := isMobile(ctx, m.client, m.config.WAN.MobileCheckURL, ip)
	if err != nil {
		return err
	}
	m.log.Debug().Str("ip", ip).Bool("mobile", mobile).Msg("WAN checked")
	if err := m.record(ctx, KeyWANIP, ip); err != nil {
		return err
	}
	return m.record(ctx, KeyDegradedNetwork, flag(mobile))
}

func (m *Monitor) checkUPS(ctx context.Context) error {
	status, err := upsStatus(ctx, m.config.NUT.Addr, m.config.NUT.UPS, m.config.NUT.Timeout)
	if err != nil {
		return err
	}
	m.log.Debug().Str("status", status).Msg("UPS checked")
	return m.record(ctx, KeyBackupPower, flag(OnBattery(status)))
}

// record writes value when it differs from the last value written.
func (m *Monitor) record(ctx context.Context, key, value string) error {
	m.mu.Lock()
	prev, seen := m.last[key]
	m.mu.Unlock()
	if seen && prev == value {
		return nil
	}
	if err := m.writer.Write(ctx, key, value); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	m.mu.Lock()
	m.last[key] = value
	m.mu.Unlock()
	m.log.Info().Str("key", key).Str("value", value).Msg("Change detected, state updated")
	return nil
}

func flag(on bool) string {
	if on {
		return "true"
	}
	return "false"
}
