// Package config defines the run-level configuration and per-table sync
// configuration consumed by the core, with YAML parsing adapted from a
// layered config-loader pattern: decode onto defaults, then merge an
// explicit override on top field by field.
package config

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TableSyncConfig is one entry of the list the core consumes: which table,
// an optional primary-key override, an optional row filter, and whether the
// user explicitly selected it.
type TableSyncConfig struct {
	Schema       string   `yaml:"schema"`
	Table        string   `yaml:"table"`
	PrimaryKey   []string `yaml:"primary_key,omitempty"`
	WhereClause  string   `yaml:"where,omitempty"`
	UserSelected bool     `yaml:"-"`
}

// RunConfig holds the recognized run-level configuration options.
type RunConfig struct {
	BatchSize                int    `yaml:"batch_size"`
	MaxParallelTables        int    `yaml:"max_parallel_tables"`
	ConnectionTimeoutSeconds int    `yaml:"connection_timeout_seconds"`
	CommandTimeoutSeconds    int    `yaml:"command_timeout_seconds"`
	LedgerSchema             string `yaml:"ledger_schema"`
	LedgerTable              string `yaml:"ledger_table"`
}

// Defaults returns a RunConfig populated with the standard defaults.
func Defaults() RunConfig {
	return RunConfig{
		BatchSize:                1000,
		MaxParallelTables:        5,
		ConnectionTimeoutSeconds: 30,
		CommandTimeoutSeconds:    300,
		LedgerSchema:             "dbo",
		LedgerTable:              "SyncMetadata",
	}
}

// ConnectionTimeout and CommandTimeout expose the durations derived from
// the configured second counts.
func (c RunConfig) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

func (c RunConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSeconds) * time.Second
}

// Merge overlays non-zero fields of override onto base: override wins
// field by field, base fills any gaps.
func Merge(base, override RunConfig) RunConfig {
	result := base
	if override.BatchSize != 0 {
		result.BatchSize = override.BatchSize
	}
	if override.MaxParallelTables != 0 {
		result.MaxParallelTables = override.MaxParallelTables
	}
	if override.ConnectionTimeoutSeconds != 0 {
		result.ConnectionTimeoutSeconds = override.ConnectionTimeoutSeconds
	}
	if override.CommandTimeoutSeconds != 0 {
		result.CommandTimeoutSeconds = override.CommandTimeoutSeconds
	}
	if override.LedgerSchema != "" {
		result.LedgerSchema = override.LedgerSchema
	}
	if override.LedgerTable != "" {
		result.LedgerTable = override.LedgerTable
	}
	return result
}

// ParseRunConfig decodes a YAML document into a RunConfig layered on top of
// Defaults(), rejecting unknown fields via yaml.v3's KnownFields(true).
func ParseRunConfig(yamlDoc []byte) (RunConfig, error) {
	cfg := Defaults()
	if len(yamlDoc) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(yamlDoc))
	dec.KnownFields(true)
	var parsed RunConfig
	if err := dec.Decode(&parsed); err != nil {
		return RunConfig{}, fmt.Errorf("parsing run config: %w", err)
	}
	return Merge(cfg, parsed), nil
}

// ParseTableSyncConfigs decodes a YAML list of TableSyncConfig entries,
// marking every one UserSelected since they came from an explicit list.
func ParseTableSyncConfigs(yamlDoc []byte) ([]TableSyncConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(yamlDoc))
	dec.KnownFields(true)
	var parsed []TableSyncConfig
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing table sync configs: %w", err)
	}
	for i := range parsed {
		parsed[i].UserSelected = true
		if parsed[i].Schema == "" {
			parsed[i].Schema = "dbo"
		}
	}
	return parsed, nil
}
