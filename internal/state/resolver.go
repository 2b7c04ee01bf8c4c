package state

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/always-cache/edgeguard/internal/hostmatch"
	"github.com/always-cache/edgeguard/internal/statecache"
)

// ErrFeatureDisabled is returned by flag mutations when the flag's feature is off.
var ErrFeatureDisabled = errors.New("feature disabled")

// Features selects which optional flags are read.
type Features struct {
	DegradedNetwork bool
	BackupPower     bool
}

// Resolver turns the raw keys of the tiered cache into State snapshots.
type Resolver struct {
	cache    *statecache.Cache
	features Features
	log      zerolog.Logger
}

// NewResolver creates a resolver reading through c.
// The global logger is used if logger is nil.
func NewResolver(c *statecache.Cache, features Features, logger *zerolog.Logger) *Resolver {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Resolver{
		cache:    c,
		features: features,
		log:      l.With().Str("component", "state").Logger(),
	}
}

// Features returns the enabled optional features.
func (r *Resolver) Features() Features {
	return r.features
}

// Resolve returns the state as seen for host. It never fails; unreadable
// state resolves to the defaults. useCache=false reads the store directly.
func (r *Resolver) Resolve(ctx context.Context, host string, useCache bool) State {
	s := Default()

	raw, _, err := r.cache.Read(ctx, KeyMaintenance, useCache)
	if err != nil {
		r.log.Warn().Err(err).Msg("Could not read maintenance state, using defaults")
	} else {
		rec := parseRecord(raw)
		s.GlobalMaintenance = rec.global()
		s.MaintenanceHosts = rec.hosts(fieldMaintenance)
		s.BannerHosts = rec.hosts(fieldBannerHosts)
		s.BannerMessage = rec.message()
	}

	if r.features.DegradedNetwork {
		s.DegradedNetwork = r.readFlag(ctx, KeyDegradedNetwork, useCache)
	}
	if r.features.BackupPower {
		s.OnBackupPower = r.readFlag(ctx, KeyBackupPower, useCache)
	}

	s.HostMaintenance = hostmatch.MatchesAny(normalizeHost(host), s.MaintenanceHosts)
	return s
}

// readFlag never returns nil: the feature is enabled, so the flag is checked.
func (r *Resolver) readFlag(ctx context.Context, key string, useCache bool) *bool {
	v, _, err := r.cache.Read(ctx, key, useCache)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("Could not read flag, assuming false")
	}
	b := v == "true"
	return &b
}

func normalizeHost(host string) string {
	return strings.ToLower(hostmatch.StripPort(host))
}

// ToggleGlobalMaintenance flips the global maintenance flag and returns the new value.
func (r *Resolver) ToggleGlobalMaintenance(ctx context.Context) (bool, error) {
	var on bool
	err := r.update(ctx, func(rec record) (bool, error) {
		on = !rec.global()
		return true, rec.set(fieldGlobal, on)
	})
	return on, err
}

// AddMaintenanceHost puts a host pattern into maintenance. Adding a present pattern is a no-op.
func (r *Resolver) AddMaintenanceHost(ctx context.Context, host string) error {
	return r.addHost(ctx, fieldMaintenance, host)
}

func (r *Resolver) RemoveMaintenanceHost(ctx context.Context, host string) error {
	return r.removeHost(ctx, fieldMaintenance, host)
}

// SetBannerHosts replaces the banner host list.
func (r *Resolver) SetBannerHosts(ctx context.Context, hosts []string) error {
	uniq := []string{}
	for _, h := range hosts {
		if !slices.Contains(uniq, h) {
			uniq = append(uniq, h)
		}
	}
	return r.update(ctx, func(rec record) (bool, error) {
		return true, rec.set(fieldBannerHosts, uniq)
	})
}

func (r *Resolver) AddBannerHost(ctx context.Context, host string) error {
	return r.addHost(ctx, fieldBannerHosts, host)
}

func (r *Resolver) RemoveBannerHost(ctx context.Context, host string) error {
	return r.removeHost(ctx, fieldBannerHosts, host)
}

func (r *Resolver) SetBannerMessage(ctx context.Context, message string) error {
	return r.update(ctx, func(rec record) (bool, error) {
		return true, rec.set(fieldBannerMessage, message)
	})
}

// ToggleDegradedNetwork flips the degraded network flag and returns the new value.
func (r *Resolver) ToggleDegradedNetwork(ctx context.Context) (bool, error) {
	return r.toggleFlag(ctx, r.features.DegradedNetwork, KeyDegradedNetwork)
}

func (r *Resolver) SetDegradedNetwork(ctx context.Context, on bool) error {
	return r.setFlag(ctx, r.features.DegradedNetwork, KeyDegradedNetwork, on)
}

// ToggleBackupPower flips the backup power flag and returns the new value.
func (r *Resolver) ToggleBackupPower(ctx context.Context) (bool, error) {
	return r.toggleFlag(ctx, r.features.BackupPower, KeyBackupPower)
}

func (r *Resolver) SetBackupPower(ctx context.Context, on bool) error {
	return r.setFlag(ctx, r.features.BackupPower, KeyBackupPower, on)
}

func (r *Resolver) addHost(ctx context.Context, field, host string) error {
	return r.update(ctx, func(rec record) (bool, error) {
		hosts := rec.hosts(field)
		if slices.Contains(hosts, host) {
			return false, nil
		}
		return true, rec.set(field, append(hosts, host))
	})
}

func (r *Resolver) removeHost(ctx context.Context, field, host string) error {
	return r.update(ctx, func(rec record) (bool, error) {
		hosts := rec.hosts(field)
		i := slices.Index(hosts, host)
		if i == -1 {
			return false, nil
		}
		return true, rec.set(field, slices.Delete(hosts, i, i+1))
	})
}

// update is a read-modify-write of the maintenance record. The read bypasses
// the cache tiers; mutate reports whether anything changed.
func (r *Resolver) update(ctx context.Context, mutate func(record) (bool, error)) error {
	raw, _, err := r.cache.Read(ctx, KeyMaintenance, false)
	if err != nil {
		return fmt.Errorf("read maintenance state: %w", err)
	}
	rec := parseRecord(raw)
	changed, err := mutate(rec)
	if err != nil {
		return fmt.Errorf("update maintenance state: %w", err)
	}
	if !changed {
		return nil
	}
	encoded, err := rec.encode()
	if err != nil {
		return fmt.Errorf("encode maintenance state: %w", err)
	}
	if err := r.cache.Write(ctx, KeyMaintenance, encoded); err != nil {
		return fmt.Errorf("write maintenance state: %w", err)
	}
	r.log.Info().Str("state", encoded).Msg("Maintenance state updated")
	return nil
}

func (r *Resolver) toggleFlag(ctx context.Context, enabled bool, key string) (bool, error) {
	if !enabled {
		return false, ErrFeatureDisabled
	}
	v, _, err := r.cache.Read(ctx, key, false)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	on := v != "true"
	return on, r.setFlag(ctx, enabled, key, on)
}

func (r *Resolver) setFlag(ctx context.Context, enabled bool, key string, on bool) error {
	if !enabled {
		return ErrFeatureDisabled
	}
	if err := r.cache.Write(ctx, key, FlagValue(on)); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	r.log.Info().Str("key", key).Bool("value", on).Msg("Flag updated")
	return nil
}

// FlagValue is the stored form of a flag.
func FlagValue(on bool) string {
	if on {
		return "true"
	}
	return "false"
}
