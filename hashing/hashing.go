package hashing

import (
	"errors"
	"fmt"
	"strings"
)

const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// ErrUnknownFormat is returned by Multi.Verify for hashes no member recognises.
var ErrUnknownFormat = errors.New("hashing: unknown hash format")

// Hasher hashes a secret for storage and verifies a candidate against a stored hash.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}

// Upgrader is implemented by hashers that can tell when a stored hash was
// produced by another algorithm or with weaker parameters than they use now.
type Upgrader interface {
	NeedsUpgrade(encoded string) (bool, error)
}

// Config selects and tunes a Hasher.
type Config struct {
	Algorithm  string
	Argon2     Argon2Config
	BcryptCost int
}

// New returns a Multi whose primary hasher is cfg.Algorithm. Existing hashes
// of the other algorithm still verify.
func New(cfg Config) (*Multi, error) {
	var (
		primary Hasher
		err     error
	)
	argon, argonErr := NewArgon2(cfg.Argon2)
	bc, bcErr := NewBcrypt(cfg.BcryptCost)

	switch strings.ToLower(cfg.Algorithm) {
	case "", AlgorithmArgon2id:
		primary, err = argon, argonErr
	case AlgorithmBcrypt:
		primary, err = bc, bcErr
	default:
		return nil, fmt.Errorf("hashing: unsupported algorithm %q", cfg.Algorithm)
	}
	if err != nil {
		return nil, err
	}

	m := &Multi{primary: primary}
	if argonErr == nil {
		m.argon2 = argon
	}
	if bcErr == nil {
		m.bcrypt = bc
	}
	return m, nil
}

// Multi hashes with its primary hasher and verifies any supported format.
type Multi struct {
	primary Hasher
	argon2  *Argon2
	bcrypt  *Bcrypt
}

// Hash always uses the primary hasher.
func (m *Multi) Hash(secret string) (string, error) {
	return m.primary.Hash(secret)
}

// Verify dispatches on the encoding prefix, so hashes from either
// algorithm keep verifying after Config.Hashing changes.
func (m *Multi) Verify(secret, encoded string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$"+AlgorithmArgon2id+"$") && m.argon2 != nil:
		return m.argon2.Verify(secret, encoded)
	case isBcrypt(encoded) && m.bcrypt != nil:
		return m.bcrypt.Verify(secret, encoded)
	default:
		return false, ErrUnknownFormat
	}
}

// NeedsUpgrade reports whether encoded was produced by something other than
// the primary hasher with its current parameters.
func (m *Multi) NeedsUpgrade(encoded string) (bool, error) {
	switch p := m.primary.(type) {
	case *Argon2:
		if !strings.HasPrefix(encoded, "$"+AlgorithmArgon2id+"$") {
			return true, nil
		}
		return p.NeedsUpgrade(encoded)
	case *Bcrypt:
		if !isBcrypt(encoded) {
			return true, nil
		}
		return p.NeedsUpgrade(encoded)
	}
	return false, nil
}
