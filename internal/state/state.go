// Package state resolves the operational state snapshot and performs the
// admin mutations on it.
package state

import (
	"encoding/json"
	"slices"
)

// Durable store keys.
const (
	KeyMaintenance     = "MAINTENANCE_STATE"
	KeyDegradedNetwork = "wan-is-4g"
	KeyBackupPower     = "ups-on-battery"
)

// Field names of the maintenance record.
const (
	fieldGlobal        = "isGlobalMaintenance"
	fieldMaintenance   = "subdomainsMaintenance"
	fieldBannerHosts   = "bannerSubdomains"
	fieldBannerMessage = "bannerMessage"
)

// State is the resolved operational snapshot for one request.
// It is never modified after Resolve returns it.
type State struct {
	GlobalMaintenance bool     `json:"globalMaintenance"`
	MaintenanceHosts  []string `json:"maintenanceHosts"`
	BannerHosts       []string `json:"bannerHosts"`
	BannerMessage     string   `json:"bannerMessage"`
	// DegradedNetwork is nil when the feature is disabled and the flag was not read.
	DegradedNetwork *bool `json:"degradedNetwork,omitempty"`
	// OnBackupPower is nil when the feature is disabled and the flag was not read.
	OnBackupPower *bool `json:"onBackupPower,omitempty"`
	// HostMaintenance is true when the requested host matched MaintenanceHosts.
	HostMaintenance bool `json:"hostMaintenance"`
}

// Default is the snapshot used when the durable record is missing or unreadable.
func Default() State {
	return State{
		MaintenanceHosts: []string{},
		BannerHosts:      []string{},
	}
}

// InMaintenance reports whether requests for the resolved host must get the
// maintenance page.
func (s State) InMaintenance() bool {
	return s.GlobalMaintenance || s.HostMaintenance
}

// IsDegradedNetwork reports whether the network flag was read and is true.
func (s State) IsDegradedNetwork() bool {
	return s.DegradedNetwork != nil && *s.DegradedNetwork
}

// IsOnBackupPower reports whether the power flag was read and is true.
func (s State) IsOnBackupPower() bool {
	return s.OnBackupPower != nil && *s.OnBackupPower
}

// record is the raw maintenance blob. Unknown fields survive mutations.
type record map[string]json.RawMessage

// parseRecord never fails: anything that is not a JSON object is an empty record.
func parseRecord(raw string) record {
	rec := record{}
	if raw == "" {
		return rec
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec == nil {
		return record{}
	}
	return rec
}

// global accepts true and "true".
func (r record) global() bool {
	raw, ok := r[fieldGlobal]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "true"
	}
	return false
}

// hosts returns the string members of an array field, without duplicates.
// A field that is not an array yields an empty list.
func (r record) hosts(field string) []string {
	out := []string{}
	raw, ok := r[field]
	if !ok {
		return out
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return out
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (r record) message() string {
	var s string
	if raw, ok := r[fieldBannerMessage]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
	}
	return s
}

func (r record) set(field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r[field] = raw
	return nil
}

func (r record) encode() (string, error) {
	b, err := json.Marshal(map[string]json.RawMessage(r))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
