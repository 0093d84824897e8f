// ABOUTME: Package modelrouter selects the provider/model for each operation
// ABOUTME: Tier-based defaults, per-user overrides, bounded failover, validation

// Package modelrouter decides which provider and model serve a request.
// Selection is a fixed table keyed by (tier, operation); a persisted
// per-user override always wins. Generation wraps the provider client with
// a hard per-call timeout and walks an ordered fallback chain on transient
// failures, at most one attempt per entry.
//
// The provider set is a closed catalog with an explicit capability table,
// so adding a provider is a data change. An optional TOML file overrides
// the built-in catalog.
package modelrouter
