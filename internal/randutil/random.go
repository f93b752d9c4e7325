package randutil

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

var errEmptyAlphabet = errors.New("empty alphabet")

// NumericCode returns a zero-padded decimal code drawn uniformly from
// [0, 10^digits). rand.Int rejects out-of-range samples, so the result carries
// no modulo bias.
func NumericCode(r io.Reader, digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digits")
	}
	if r == nil {
		r = rand.Reader
	}

	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(r, max)
	if err != nil {
		return "", err
	}
	code := fmt.Sprintf("%0*d", digits, n)
	if len(code) != digits {
		return "", errors.New("invalid code generation length")
	}
	return code, nil
}

// Index returns a uniform integer in [0, max).
func Index(r io.Reader, max int) (int, error) {
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// FromAlphabet returns length symbols sampled uniformly from alphabet.
func FromAlphabet(r io.Reader, alphabet string, length int) (string, error) {
	if alphabet == "" {
		return "", errEmptyAlphabet
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := Index(r, len(alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n])
	}
	return b.String(), nil
}
