// ABOUTME: Package recovery projects crisis history into a time-decaying state
// ABOUTME: Phase is recomputed from elapsed time on every read, never stored

// Package recovery tracks post-crisis cooldown per user. The recovery
// phase (acute, stabilizing, resolved) is a pure function of how long ago
// the last crisis was recorded, so missed updates can never leave a stale
// phase behind.
package recovery
