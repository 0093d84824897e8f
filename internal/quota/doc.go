// ABOUTME: Package quota enforces per-user request admission limits
// ABOUTME: Daily pool, per-minute guard, and legacy scoped ceilings; fails open

// Package quota implements the gateway's rate and quota limits: a unified
// daily pool shared by every request type, a per-minute spam guard, and the
// legacy per-entry and per-thread ceilings kept for backward compatibility.
// PAID, exempt, and unlocked accounts bypass everything.
//
// On storage faults the limiter fails open: a quota counter being
// unreachable must not deny service to legitimate users. This is a
// deliberate availability-over-strictness tradeoff, the opposite of the
// intervention path, which fails closed.
package quota
