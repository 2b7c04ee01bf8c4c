package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/edgeguard/cache"
	"github.com/always-cache/edgeguard/internal/statecache"
	"github.com/always-cache/edgeguard/internal/store"
)

func newResolver(t *testing.T, features Features) (*Resolver, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	c := statecache.New(st, cache.NewEdgeCache(cache.NewMemCache()), statecache.Config{Enabled: true, TTL: time.Minute})
	return NewResolver(c, features, nil), st
}

func TestResolveDefaults(t *testing.T) {
	ctx := context.Background()
	for name, raw := range map[string]string{
		"missing":   "",
		"malformed": "{not json",
		"array":     `["a"]`,
		"null":      "null",
		"wrong types": `{"isGlobalMaintenance": 1, "subdomainsMaintenance": "a.example.com",
			"bannerSubdomains": {"x": 1}, "bannerMessage": 42}`,
	} {
		t.Run(name, func(t *testing.T) {
			r, st := newResolver(t, Features{})
			if raw != "" {
				require.NoError(t, st.Put(ctx, KeyMaintenance, raw))
			}
			s := r.Resolve(ctx, "a.example.com", true)
			assert.Equal(t, Default(), s)
			assert.False(t, s.InMaintenance())
		})
	}
}

func TestResolveRecord(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t, Features{})
	require.NoError(t, st.Put(ctx, KeyMaintenance, `{
		"isGlobalMaintenance": "true",
		"subdomainsMaintenance": ["*.example.com", "*.example.com", 3],
		"bannerSubdomains": ["www.example.org"],
		"bannerMessage": "hello"
	}`))

	s := r.Resolve(ctx, "App.Example.com:8443", true)
	assert.True(t, s.GlobalMaintenance)
	assert.Equal(t, []string{"*.example.com"}, s.MaintenanceHosts)
	assert.Equal(t, []string{"www.example.org"}, s.BannerHosts)
	assert.Equal(t, "hello", s.BannerMessage)
	assert.True(t, s.HostMaintenance)
	assert.Nil(t, s.DegradedNetwork)
	assert.Nil(t, s.OnBackupPower)

	assert.False(t, r.Resolve(ctx, "example.com", true).HostMaintenance, "wildcard excludes bare domain")
}

func TestResolveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t, Features{DegradedNetwork: true, BackupPower: true})
	require.NoError(t, st.Put(ctx, KeyMaintenance, `{"subdomainsMaintenance":["a.example.com"]}`))
	require.NoError(t, st.Put(ctx, KeyBackupPower, "true"))

	first := r.Resolve(ctx, "a.example.com", true)
	second := r.Resolve(ctx, "a.example.com", true)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, st.Gets())
}

func TestDisabledFlagsAreNotRead(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t, Features{})
	require.NoError(t, st.Put(ctx, KeyDegradedNetwork, "true"))
	require.NoError(t, st.Put(ctx, KeyBackupPower, "true"))

	s := r.Resolve(ctx, "x", false)
	assert.Nil(t, s.DegradedNetwork)
	assert.Nil(t, s.OnBackupPower)
	assert.Equal(t, 1, st.Gets(), "only the maintenance record was read")
}

func TestEnabledFlagsAreChecked(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t, Features{DegradedNetwork: true, BackupPower: true})
	require.NoError(t, st.Put(ctx, KeyDegradedNetwork, "true"))

	s := r.Resolve(ctx, "x", true)
	require.NotNil(t, s.DegradedNetwork)
	require.NotNil(t, s.OnBackupPower)
	assert.True(t, s.IsDegradedNetwork())
	assert.False(t, s.IsOnBackupPower(), "missing flag is checked and false")
}

func TestMaintenanceMutations(t *testing.T) {
	ctx := context.Background()
	r, st := newResolver(t, Features{})
	require.NoError(t, st.Put(ctx, KeyMaintenance, `{"owner":"ops"}`))

	// warm the cache so mutations have something to invalidate
	assert.False(t, r.Resolve(ctx, "a.example.com", true).InMaintenance())

	on, err := r.ToggleGlobalMaintenance(ctx)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, r.Resolve(ctx, "a.example.com", true).GlobalMaintenance)

	on, err = r.ToggleGlobalMaintenance(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, r.AddMaintenanceHost(ctx, "a.example.com"))
	require.NoError(t, r.AddMaintenanceHost(ctx, "a.example.com"))
	s := r.Resolve(ctx, "a.example.com", true)
	assert.Equal(t, []string{"a.example.com"}, s.MaintenanceHosts)
	assert.True(t, s.HostMaintenance)

	require.NoError(t, r.RemoveMaintenanceHost(ctx, "a.example.com"))
	require.NoError(t, r.RemoveMaintenanceHost(ctx, "missing.example.com"))
	assert.False(t, r.Resolve(ctx, "a.example.com", true).HostMaintenance)

	raw, _, err := st.Get(ctx, KeyMaintenance)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))
	assert.Equal(t, "ops", fields["owner"], "unknown fields survive")
}

func TestBannerMutations(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t, Features{})

	require.NoError(t, r.SetBannerHosts(ctx, []string{"a", "b", "a"}))
	require.NoError(t, r.AddBannerHost(ctx, "c"))
	require.NoError(t, r.AddBannerHost(ctx, "c"))
	require.NoError(t, r.RemoveBannerHost(ctx, "a"))
	require.NoError(t, r.SetBannerMessage(ctx, "<b>heads up</b>"))

	s := r.Resolve(ctx, "b", true)
	assert.Equal(t, []string{"b", "c"}, s.BannerHosts)
	assert.Equal(t, "<b>heads up</b>", s.BannerMessage)
}

func TestFlagMutations(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		r, _ := newResolver(t, Features{})
		_, err := r.ToggleDegradedNetwork(ctx)
		assert.ErrorIs(t, err, ErrFeatureDisabled)
		assert.ErrorIs(t, r.SetDegradedNetwork(ctx, true), ErrFeatureDisabled)
		_, err = r.ToggleBackupPower(ctx)
		assert.ErrorIs(t, err, ErrFeatureDisabled)
		assert.ErrorIs(t, r.SetBackupPower(ctx, true), ErrFeatureDisabled)
	})

	t.Run("enabled", func(t *testing.T) {
		r, st := newResolver(t, Features{DegradedNetwork: true, BackupPower: true})
		assert.False(t, r.Resolve(ctx, "x", true).IsOnBackupPower())

		on, err := r.ToggleBackupPower(ctx)
		require.NoError(t, err)
		assert.True(t, on)
		assert.True(t, r.Resolve(ctx, "x", true).IsOnBackupPower())

		require.NoError(t, r.SetDegradedNetwork(ctx, true))
		on, err = r.ToggleDegradedNetwork(ctx)
		require.NoError(t, err)
		assert.False(t, on)

		v, _, _ := st.Get(ctx, KeyDegradedNetwork)
		assert.Equal(t, "false", v)
	})
}
