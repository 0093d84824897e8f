// ABOUTME: API key sealing/opening using chacha20poly1305 AEAD
// ABOUTME: Sealed values are base64(nonce || ciphertext)

package keycipher

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher errors
var (
	ErrInvalidKey    = errors.New("cipher key must be 32 bytes")
	ErrInvalidSealed = errors.New("invalid sealed value")
)

// Cipher seals and opens API keys with a fixed symmetric key.
type Cipher struct {
	key []byte
}

// New creates a Cipher from a hex-encoded 32-byte key.
func New(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding cipher key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &Cipher{key: key}, nil
}

// Seal encrypts plaintext and returns a base64 string carrying the nonce.
func (c *Cipher) Seal(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("creating aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value produced by Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("creating aead: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidSealed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}

	return string(plaintext), nil
}
