package otp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretBytes is the size of generated shared secrets (160 bits).
const SecretBytes = 20

// MinSecretBytes is the smallest caller-supplied secret accepted (80 bits).
const MinSecretBytes = 10

var (
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
	ErrEmptySecret          = errors.New("empty totp secret")
	ErrSecretEncoding       = errors.New("invalid base32 secret")
	ErrSecretTooShort       = errors.New("totp secret shorter than 80 bits")
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Params describes the code shape shared by generator and verifier.
type Params struct {
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

// GenerateSecret reads SecretBytes from r and returns raw and Base32 forms.
func GenerateSecret(r io.Reader) ([]byte, string, error) {
	raw := make([]byte, SecretBytes)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, "", err
	}
	return raw, b32.EncodeToString(raw), nil
}

// EncodeSecret returns the RFC 4648 Base32 form without padding.
func EncodeSecret(raw []byte) string {
	return b32.EncodeToString(raw)
}

// DecodeSecret accepts Base32 with or without padding, any case, and
// ignores embedded spaces.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, ErrEmptySecret
	}
	raw, err := b32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretEncoding, err)
	}
	if len(raw) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	return raw, nil
}

// NormalizeCode strips whitespace and dashes and reports whether the result
// is exactly digits long and numeric.
func NormalizeCode(code string, digits int) (string, bool) {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch r {
		case ' ', '\t', '\n', '\r', '-':
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) != digits {
		return out, false
	}
	for i := 0; i < len(out); i++ {
		if out[i] < '0' || out[i] > '9' {
			return out, false
		}
	}
	return out, true
}

// Counter returns the time step containing now.
func Counter(now time.Time, period int) int64 {
	return now.Unix() / int64(period)
}

// Match compares code against the window [counter-skew, counter+skew] and
// returns the matching counter. Every candidate in the window is computed so
// the loop does not exit early on a match.
func Match(secret []byte, code string, now time.Time, p Params) (int64, bool, error) {
	if len(secret) == 0 {
		return 0, false, ErrEmptySecret
	}

	base := Counter(now, p.Period)
	var (
		matched int64
		found   bool
	)
	for step := -p.Skew; step <= p.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := HOTP(secret, counter, p.Digits, p.Algorithm)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 && !found {
			matched = counter
			found = true
		}
	}
	return matched, found, nil
}

// TOTP returns the code for the step containing now.
func TOTP(secret []byte, now time.Time, p Params) (string, error) {
	return HOTP(secret, Counter(now, p.Period), p.Digits, p.Algorithm)
}

// HOTP implements RFC 4226 dynamic truncation.
func HOTP(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

// ProvisioningURI renders the otpauth:// URI consumed by authenticator apps.
// The algorithm parameter is only appended when it differs from SHA1.
func ProvisioningURI(issuer, account, secretBase32 string, p Params) string {
	label := url.PathEscape(issuer) + ":" + url.PathEscape(account)
	issuerParam := url.QueryEscape(issuer)

	var b strings.Builder
	b.WriteString("otpauth://totp/")
	b.WriteString(label)
	b.WriteString("?secret=")
	b.WriteString(secretBase32)
	b.WriteString("&issuer=")
	b.WriteString(issuerParam)
	b.WriteString("&digits=")
	b.WriteString(strconv.Itoa(p.Digits))
	b.WriteString("&period=")
	b.WriteString(strconv.Itoa(p.Period))
	if alg := strings.ToUpper(p.Algorithm); alg != "" && alg != "SHA1" {
		b.WriteString("&algorithm=")
		b.WriteString(alg)
	}
	return b.String()
}

// ValidAlgorithm reports whether algorithm is supported.
func ValidAlgorithm(algorithm string) bool {
	_, err := hmacFunc(algorithm)
	return err == nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}
