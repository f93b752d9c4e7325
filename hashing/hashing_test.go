package hashing

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func fastArgon2() Argon2Config {
	return Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestArgon2HashAndVerify(t *testing.T) {
	h, err := NewArgon2(fastArgon2())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	enc, err := h.Hash("123456")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(enc, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", enc)
	}

	ok, err := h.Verify("123456", enc)
	if err != nil || !ok {
		t.Fatalf("expected verification to succeed: ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("123457", enc)
	if err != nil || ok {
		t.Fatalf("expected verification to fail: ok=%v err=%v", ok, err)
	}

	other, err := h.Hash("123456")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if other == enc {
		t.Fatal("expected distinct salts to produce distinct hashes")
	}
}

func TestArgon2RejectsWeakConfigAndBadPHC(t *testing.T) {
	cfg := fastArgon2()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected weak memory to be rejected")
	}

	h, _ := NewArgon2(fastArgon2())
	for _, bad := range []string{"", "$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA", "$argon2id$v=18$m=8192,t=1,p=1$x$y", "plain"} {
		if _, err := h.Verify("x", bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak, _ := NewArgon2(fastArgon2())
	enc, err := weak.Hash("ABCD2345")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	strongCfg := fastArgon2()
	strongCfg.Time = 2
	strong, _ := NewArgon2(strongCfg)

	up, err := strong.NeedsUpgrade(enc)
	if err != nil || !up {
		t.Fatalf("expected upgrade: up=%v err=%v", up, err)
	}
	up, err = weak.NeedsUpgrade(enc)
	if err != nil || up {
		t.Fatalf("expected no upgrade: up=%v err=%v", up, err)
	}
}

func TestMultiVerifiesBothFormats(t *testing.T) {
	m, err := New(Config{Algorithm: AlgorithmBcrypt, Argon2: fastArgon2(), BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	bc, err := m.Hash("654321")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(bc, "$2a$") {
		t.Fatalf("expected bcrypt hash, got %s", bc)
	}

	argon, _ := NewArgon2(fastArgon2())
	ar, _ := argon.Hash("654321")

	for _, enc := range []string{bc, ar} {
		ok, err := m.Verify("654321", enc)
		if err != nil || !ok {
			t.Fatalf("expected %s to verify: ok=%v err=%v", enc[:8], ok, err)
		}
	}
	up, err := m.NeedsUpgrade(ar)
	if err != nil || !up {
		t.Fatalf("argon2 hash under bcrypt primary should need upgrade")
	}

	if _, err := m.Verify("x", "$1$md5"); err != ErrUnknownFormat {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
	if _, err := New(Config{Algorithm: "scrypt"}); err == nil {
		t.Fatal("expected unsupported algorithm error")
	}
}

func TestArgon2RejectsStoredParametersBelowFloor(t *testing.T) {
	h, _ := NewArgon2(fastArgon2())
	enc, err := h.Hash("ABCD2345")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	tampered := strings.Replace(enc, "m=8192", "m=64", 1)
	if _, err := h.Verify("ABCD2345", tampered); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
	padded := strings.Replace(enc, "p=1", "p=1,x=2", 1)
	if _, err := h.Verify("ABCD2345", padded); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash for extra parameters, got %v", err)
	}
}
