// ABOUTME: Package fault defines the closed error taxonomy for haven-gateway
// ABOUTME: Every error crossing the API boundary carries one of these codes

// Package fault provides the structured error type returned across the
// gateway boundary. Errors carry a machine-readable code from a closed set
// plus a human-readable message; quota errors additionally carry usage
// metadata so clients can render limits and retry times.
package fault
