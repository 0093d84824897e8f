// ABOUTME: Package store provides persistence for haven-gateway state
// ABOUTME: Defines per-user admission documents and the Store interface

// Package store defines the persistent data model of the admission gateway:
// user accounts, quota counters, intervention and recovery state, crisis
// audit events, conversation threads with their configuration-flow cursor,
// and per-user model overrides.
//
// Two implementations exist: SQLiteStore for production and MockStore for
// unit tests. Quota counters are incremented with single conditional
// statements so that concurrent requests from the same user cannot both
// take the last slot in a window.
package store
