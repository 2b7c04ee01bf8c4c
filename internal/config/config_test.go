package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/edgeguard/internal/classify"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edgeguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
origin: http://10.0.0.2:8080
admin:
  host: status.example.com
cache:
  ttl: 30s
store:
  driver: sqlite
  path: /var/lib/edgeguard/state.db
errors:
  categories:
    container: [502]
    tunnel: [530, 1033]
stale:
  hosts: ["*.docs.example.com"]
  max_size: 65536
banner:
  backup_power:
    enabled: true
monitor:
  nut:
    enabled: true
    addr: 127.0.0.1:3493
    ups: eaton
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:8080", cfg.Origin)
	assert.Equal(t, "status.example.com", cfg.Admin.Host)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.Cache.Enabled, "default kept")
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []int{502}, cfg.Errors.Categories.Container)
	assert.Equal(t, []int{530, 1033}, cfg.Errors.Categories.Tunnel)
	assert.Equal(t, classify.Tunnel, cfg.Errors.Categories.Of(1033))
	assert.Equal(t, []string{"*.docs.example.com"}, cfg.Stale.Hosts)
	assert.Equal(t, 24*time.Hour, cfg.Stale.KeepFor)
	assert.Equal(t, int64(65536), cfg.Stale.MaxSize)
	assert.Equal(t, ":8080", cfg.Listen)

	assert.True(t, cfg.Banner.BackupPower.Enabled)
	assert.NotEmpty(t, cfg.Banner.BackupPower.Message, "default message kept")
	assert.True(t, cfg.Features().BackupPower)
	assert.False(t, cfg.Features().DegradedNetwork)

	assert.Equal(t, "eaton", cfg.Monitor.NUT.UPS)
	assert.Equal(t, time.Minute, cfg.Monitor.Interval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Origin = "http://origin:8080"
		c.Admin.Host = "admin.example.com"
		return c
	}

	c := valid()
	require.NoError(t, c.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"relative origin", func(c *Config) { c.Origin = "origin:8080/x" }, "origin must be an absolute URL"},
		{"no admin host", func(c *Config) { c.Admin.Host = "" }, "admin.host is required"},
		{"zero ttl", func(c *Config) { c.Cache.TTL = 0 }, "cache.ttl must be positive"},
		{"unknown shared cache", func(c *Config) { c.Cache.Shared.Driver = "redis" }, `cache.shared.driver "redis"`},
		{"unknown store", func(c *Config) { c.Store.Driver = "postgres" }, `store.driver "postgres"`},
		{"leveldb without path", func(c *Config) { c.Store.Driver = "leveldb" }, "store.path is required"},
		{"etcd without endpoints", func(c *Config) { c.Store.Driver = "etcd" }, "store.etcd.endpoints"},
		{"report without webhook", func(c *Config) { c.Report.Enabled = true }, "report.webhook_url"},
		{"bad timezone", func(c *Config) { c.Report.Timezone = "Mars/Olympus" }, "report.timezone"},
		{"zero max size", func(c *Config) { c.Stale.MaxSize = 0 }, "stale.max_size must be positive"},
		{"bad refetch url", func(c *Config) { c.Stale.RefetchURL = "cache" }, "stale.refetch_url"},
		{"no generic copy", func(c *Config) { delete(c.Errors.Copy, "generic") }, "errors.copy.generic"},
		{"unknown category", func(c *Config) { c.Errors.Copy["teapot"] = c.Errors.Copy["generic"] }, "errors.copy.teapot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	c := Default()
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "origin")
	assert.Contains(t, err.Error(), "admin.host")
}

func TestErrorPageConfig(t *testing.T) {
	c := Default()
	c.Report.Enabled = true
	ep := c.ErrorPage()
	assert.True(t, ep.ReportEnabled)
	assert.Equal(t, c.Errors.Copy["container"], ep.Copy[classify.Container])
	assert.Equal(t, "Report this error", ep.Report.ButtonText)
}

func TestLocation(t *testing.T) {
	c := Default()
	assert.Equal(t, time.UTC, c.Location())
	c.Report.Timezone = "Europe/Paris"
	assert.Equal(t, "Europe/Paris", c.Location().String())
}

func TestValidateMonitor(t *testing.T) {
	c := Default()
	c.Monitor.NUT.Enabled = true

	err := c.ValidateMonitor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver memory")

	c.Store.Driver = ""
	assert.Error(t, c.ValidateMonitor())

	c.Store.Driver = "sqlite"
	assert.NoError(t, c.ValidateMonitor())

	c.Monitor.NUT.Enabled = false
	err = c.ValidateMonitor()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to monitor")
}
