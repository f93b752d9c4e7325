package otp

import (
	"bytes"
	"net/url"
	"strings"
	"testing"
	"time"

	pqotp "github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

func TestHOTPRFC4226Vectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	want := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}
	for counter, code := range want {
		got, err := HOTP(secret, int64(counter), 6, "SHA1")
		if err != nil {
			t.Fatalf("HOTP(%d) failed: %v", counter, err)
		}
		if got != code {
			t.Fatalf("HOTP(%d) = %s, want %s", counter, got, code)
		}
	}
}

func TestTOTPRFC6238Vectors(t *testing.T) {
	cases := []struct {
		alg    string
		secret string
		ts     int64
		code   string
	}{
		{"SHA1", "12345678901234567890", 59, "94287082"},
		{"SHA1", "12345678901234567890", 1111111109, "07081804"},
		{"SHA1", "12345678901234567890", 1234567890, "89005924"},
		{"SHA1", "12345678901234567890", 20000000000, "65353130"},
		{"SHA256", "12345678901234567890123456789012", 59, "46119246"},
		{"SHA256", "12345678901234567890123456789012", 2000000000, "90698825"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 59, "90693936"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 1111111111, "99943326"},
	}

	for _, tc := range cases {
		p := Params{Digits: 8, Period: 30, Skew: 0, Algorithm: tc.alg}
		counter, ok, err := Match([]byte(tc.secret), tc.code, time.Unix(tc.ts, 0), p)
		if err != nil || !ok {
			t.Fatalf("%s vector failed at t=%d: ok=%v err=%v", tc.alg, tc.ts, ok, err)
		}
		if counter != tc.ts/30 {
			t.Fatalf("%s vector matched counter %d, want %d", tc.alg, counter, tc.ts/30)
		}
	}
}

func TestMatchAgreesWithIndependentImplementation(t *testing.T) {
	raw, secret, err := GenerateSecret(bytes.NewReader(bytes.Repeat([]byte{0x5a, 0x13, 0xc7}, 10)))
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	p := Params{Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"}

	for _, ts := range []int64{0, 59, 1_700_000_000, 1_700_000_029, 1_900_000_015} {
		now := time.Unix(ts, 0)
		want, err := pqtotp.GenerateCodeCustom(secret, now, pqtotp.ValidateOpts{
			Period:    30,
			Digits:    pqotp.DigitsSix,
			Algorithm: pqotp.AlgorithmSHA1,
		})
		if err != nil {
			t.Fatalf("oracle failed: %v", err)
		}
		got, err := TOTP(raw, now, p)
		if err != nil {
			t.Fatalf("TOTP failed: %v", err)
		}
		if got != want {
			t.Fatalf("t=%d: got %s, oracle %s", ts, got, want)
		}
	}
}

func TestMatchDriftWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	p := Params{Digits: 6, Period: 30, Skew: 1, Algorithm: "SHA1"}
	issued := time.Unix(1_700_000_010, 0)
	code, err := TOTP(secret, issued, p)
	if err != nil {
		t.Fatalf("TOTP failed: %v", err)
	}

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		if _, ok, _ := Match(secret, code, issued.Add(offset), p); !ok {
			t.Fatalf("expected code accepted at offset %s", offset)
		}
	}
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		if _, ok, _ := Match(secret, code, issued.Add(offset), p); ok {
			t.Fatalf("expected code rejected at offset %s", offset)
		}
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"123456", "123456", true},
		{" 123 456 ", "123456", true},
		{"123-456", "123456", true},
		{"12345", "12345", false},
		{"1234567", "1234567", false},
		{"12a456", "12a456", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeCode(tc.in, 6)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("NormalizeCode(%q) = (%q,%v), want (%q,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDecodeSecret(t *testing.T) {
	raw, err := DecodeSecret("jbsw y3dp ehpk 3pxp")
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	if string(raw) != "Hello!\xde\xad\xbe\xef" {
		t.Fatalf("unexpected decoded secret %x", raw)
	}
	if _, err := DecodeSecret("JBSWY3DP"); err != ErrSecretTooShort {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
	if _, err := DecodeSecret("not base32!"); err == nil {
		t.Fatal("expected encoding error")
	}
}

func TestProvisioningURI(t *testing.T) {
	p := Params{Digits: 6, Period: 30, Algorithm: "SHA1"}
	uri := ProvisioningURI("Acme Co", "alice@example.com", "JBSWY3DPEHPK3PXP", p)
	want := "otpauth://totp/Acme%20Co:alice@example.com?secret=JBSWY3DPEHPK3PXP&issuer=Acme+Co&digits=6&period=30"
	if uri != want {
		t.Fatalf("uri = %s\nwant  %s", uri, want)
	}

	key, err := pqotp.NewKeyFromURL(uri)
	if err != nil {
		t.Fatalf("oracle could not parse uri: %v", err)
	}
	if key.Secret() != "JBSWY3DPEHPK3PXP" || key.Issuer() != "Acme Co" {
		t.Fatalf("oracle parsed secret=%s issuer=%s", key.Secret(), key.Issuer())
	}

	p.Algorithm = "sha256"
	if !strings.HasSuffix(ProvisioningURI("x", "y", "S", p), "&algorithm=SHA256") {
		t.Fatal("expected algorithm parameter for SHA256")
	}
	if _, err := url.Parse(uri); err != nil {
		t.Fatalf("uri does not parse: %v", err)
	}
}
