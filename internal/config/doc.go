// ABOUTME: Package config loads haven-gateway configuration from YAML
// ABOUTME: Supports env var expansion, duration parsing, and validation with defaults

// Package config provides configuration loading for haven-gateway.
//
// Configuration is YAML with ${VAR} environment variable expansion. All
// safety thresholds, recovery windows, and quota ceilings live here so they
// can be tuned without code changes.
package config
