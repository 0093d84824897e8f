// ABOUTME: Package gateway composes the admission pipeline and HTTP API
// ABOUTME: Flow advance, crisis gate, quota check, routing, and persistence

// Package gateway is the orchestrator. Every inbound request runs the same
// fixed pipeline: identity and trial admission, the limited-mode gate, the
// in-conversation configuration flow (which consumes the turn entirely when
// active), crisis classification and intervention, quota and rate limits,
// and finally model routing with failover. Only requests that clear every
// stage ever reach a provider.
package gateway
