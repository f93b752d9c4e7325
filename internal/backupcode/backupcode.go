package backupcode

import (
	"io"
	"strings"

	"github.com/MrEthical07/goMFA/internal/randutil"
)

// Alphabet holds uppercase letters and digits without the look-alikes 0, O, I and 1.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// New returns a raw code of length symbols.
func New(r io.Reader, length int) (string, error) {
	return randutil.FromAlphabet(r, Alphabet, length)
}

// Format splits a raw code into two dash-separated halves (XXXX-XXXX).
func Format(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// Canonicalize uppercases and strips separators and whitespace.
func Canonicalize(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(code) {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Valid reports whether canonical has the expected length and only uses
// symbols from Alphabet.
func Valid(canonical string, length int) bool {
	if len(canonical) != length {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if strings.IndexByte(Alphabet, canonical[i]) < 0 {
			return false
		}
	}
	return true
}
