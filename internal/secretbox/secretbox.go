package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const prefix = "v1:"

var (
	// ErrInvalidKey is returned for keys that are not 32 bytes.
	ErrInvalidKey = errors.New("secretbox: key must be 32 bytes")
	// ErrOpen is returned when a sealed value is malformed or fails authentication.
	ErrOpen = errors.New("secretbox: cannot open sealed value")
)

// Box seals short secrets with XChaCha20-Poly1305. The additional data binds a
// sealed value to its owner so rows cannot be swapped between users.
type Box struct {
	key  []byte
	rand io.Reader
}

// New returns a Box for a 32-byte key. A nil reader means crypto/rand.
func New(key []byte, r io.Reader) (*Box, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	if r == nil {
		r = rand.Reader
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Box{key: k, rand: r}, nil
}

// IsSealed reports whether s carries the sealed-value prefix.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, prefix)
}

// Seal encrypts plaintext and returns "v1:" + base64url(nonce || ciphertext).
func (b *Box) Seal(plaintext []byte, aad string) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(b.rand, nonce); err != nil {
		return "", fmt.Errorf("secretbox: nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plaintext, []byte(aad))
	return prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string, aad string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, ErrOpen
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed[len(prefix):])
	if err != nil {
		return nil, ErrOpen
	}
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpen
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(aad))
	if err != nil {
		return nil, ErrOpen
	}
	return pt, nil
}
