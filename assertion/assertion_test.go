package assertion

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestHS256MintAndParse(t *testing.T) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s, err := NewSigner(Config{
		TTL:           5 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    bytes.Repeat([]byte("k"), 32),
		Issuer:        "goMFA",
		Audience:      "payments",
	}, c.now)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	tok, exp, err := s.Mint("42", "totp")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if !exp.Equal(c.t.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := s.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "42" || len(claims.AMR) != 1 || claims.AMR[0] != "totp" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	c.t = c.t.Add(6 * time.Minute)
	if _, err := s.Parse(tok); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token, got %v", err)
	}
}

func TestEd25519RejectsForeignKey(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	_, other, _ := ed25519.GenerateKey(rand.Reader)

	a, err := NewSigner(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv}, nil)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	b, err := NewSigner(Config{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: other}, nil)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	tok, _, err := a.Mint("7", "sms", "network")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := a.Parse(tok); err != nil {
		t.Fatalf("own token should parse: %v", err)
	}
	if _, err := b.Parse(tok); err == nil {
		t.Fatal("expected signature failure with foreign key")
	}
}

func TestNewSignerValidation(t *testing.T) {
	cases := []Config{
		{TTL: 0, SigningMethod: MethodHS256, PrivateKey: bytes.Repeat([]byte("k"), 32)},
		{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("short")},
		{TTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: []byte("nope")},
		{TTL: time.Minute, SigningMethod: "rs256"},
	}
	for i, cfg := range cases {
		if _, err := NewSigner(cfg, nil); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}

	s, _ := NewSigner(Config{TTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: bytes.Repeat([]byte("k"), 32)}, nil)
	if _, _, err := s.Mint("", "totp"); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
