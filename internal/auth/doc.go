// ABOUTME: Package auth verifies caller identity for haven-gateway requests
// ABOUTME: JWT verification, request-context identity, and HTTP middleware

// Package auth authenticates inbound requests. The external identity
// provider issues HS256 JWTs carrying the user id, tier, and anonymity;
// this package verifies them, propagates an Identity through the request
// context, and exposes HTTP middleware for the API handlers.
package auth
