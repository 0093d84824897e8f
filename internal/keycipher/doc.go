// ABOUTME: Package keycipher encrypts user-supplied provider API keys at rest
// ABOUTME: Wraps chacha20poly1305 with a random nonce prefix per sealed value

// Package keycipher seals and opens provider API keys before they touch
// the store. The cipher key comes from configuration; sealed values are
// base64 strings carrying their own nonce.
package keycipher
