// ABOUTME: Package intervention escalates crisis assessments into response levels
// ABOUTME: Levels 1-3 block the model call; limited mode expires lazily on read

// Package intervention implements the per-user crisis escalation state
// machine. An incoming assessment maps to one of four levels: 0 passes the
// request through, 1 answers with the standard safety template, 2 requires
// explicit acknowledgment, and 3 enters a time-boxed limited mode during
// which every request is answered with a notice regardless of content.
//
// De-escalation is automatic and time-based. If the classifier or the
// store fails, resolution fails closed to level 1, never silently to 0.
package intervention
