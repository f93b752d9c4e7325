package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned for stored values that are not a PHC-encoded
// Argon2id hash this package can verify.
var ErrMalformedHash = errors.New("hashing: malformed argon2id hash")

// Floors applied both to configuration and to parameters read back from
// stored hashes.
const (
	argon2MinMemoryKiB = 8 * 1024
	argon2MinSalt      = 16
	argon2MinKey       = 16
)

// Argon2Config holds Argon2id cost parameters. Memory is in KiB.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config follows the OWASP minimum for Argon2id (19 MiB, t=2, p=1).
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{Memory: 19 * 1024, Time: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < argon2MinMemoryKiB:
		return fmt.Errorf("hashing: argon2 memory %d KiB below %d", c.Memory, argon2MinMemoryKiB)
	case c.Time < 1:
		return errors.New("hashing: argon2 time must be at least 1")
	case c.Parallelism < 1:
		return errors.New("hashing: argon2 parallelism must be at least 1")
	case c.SaltLength < argon2MinSalt:
		return fmt.Errorf("hashing: argon2 salt length %d below %d", c.SaltLength, argon2MinSalt)
	case c.KeyLength < argon2MinKey:
		return fmt.Errorf("hashing: argon2 key length %d below %d", c.KeyLength, argon2MinKey)
	}
	return nil
}

// Argon2 is immutable after construction and safe for concurrent use.
type Argon2 struct {
	config Argon2Config
	rand   io.Reader
}

// NewArgon2 validates cfg against the minimum cost parameters.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg, rand: rand.Reader}, nil
}

// Config returns the parameters new hashes are produced with.
func (a *Argon2) Config() Argon2Config { return a.config }

// Hash returns a PHC-encoded Argon2id hash of secret with a fresh random salt:
//
//	$argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>
func (a *Argon2) Hash(secret string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("hashing: read salt: %w", err)
	}
	p := argon2Params{Argon2Config: a.config, salt: salt}
	p.key = p.derive(secret)
	return p.String(), nil
}

// Verify recomputes the hash with the parameters embedded in encodedHash and
// compares in constant time.
func (a *Argon2) Verify(secret string, encodedHash string) (bool, error) {
	p, err := parseArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.derive(secret), p.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash used weaker parameters than a.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := parseArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	weaker := p.Memory < a.config.Memory ||
		p.Time < a.config.Time ||
		p.Parallelism < a.config.Parallelism ||
		p.KeyLength != a.config.KeyLength
	return weaker, nil
}

// argon2Params is one decoded hash. SaltLength and KeyLength mirror the
// decoded byte slices.
type argon2Params struct {
	Argon2Config
	salt []byte
	key  []byte
}

func (p argon2Params) derive(secret string) []byte {
	return argon2.IDKey([]byte(secret), p.salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)
}

func (p argon2Params) String() string {
	enc := base64.StdEncoding
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id, argon2.Version,
		p.Memory, p.Time, p.Parallelism,
		enc.EncodeToString(p.salt), enc.EncodeToString(p.key))
}

func parseArgon2(encoded string) (argon2Params, error) {
	var p argon2Params

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != AlgorithmArgon2id {
		return p, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, fmt.Errorf("%w: version %q", ErrMalformedHash, fields[2])
	}
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", p.Memory, p.Time, p.Parallelism) != fields[3] {
		return p, fmt.Errorf("%w: parameters %q", ErrMalformedHash, fields[3])
	}

	if p.salt, err = base64.StdEncoding.DecodeString(fields[4]); err != nil {
		return p, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.key, err = base64.StdEncoding.DecodeString(fields[5]); err != nil || len(p.key) == 0 {
		return p, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	p.SaltLength = uint32(len(p.salt))
	p.KeyLength = uint32(len(p.key))

	// Stored parameters below the floor are treated as tampering.
	if p.Memory < argon2MinMemoryKiB || p.Time < 1 || p.Parallelism < 1 || p.SaltLength < argon2MinSalt {
		return p, fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}
	return p, nil
}
