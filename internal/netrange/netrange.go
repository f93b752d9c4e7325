// Package netrange parses CIDR rules and matches origin addresses against them.
//
// IPv4 prefixes are compared through a 32-bit integer mask. IPv6 prefixes are
// compared byte by byte over the 128-bit address, with a partial mask applied
// to the boundary byte.
package netrange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalidCIDR is returned when a rule does not parse as an address or prefix.
	ErrInvalidCIDR = errors.New("invalid cidr")
	// ErrInvalidAddress is returned when an origin does not parse as an IP address.
	ErrInvalidAddress = errors.New("invalid ip address")
)

// Range is a parsed, canonical prefix.
type Range struct {
	addr netip.Addr
	bits int
}

// Parse accepts "a.b.c.d/n", "x::y/n" or a bare address (treated as /32 or /128).
// The returned range is masked, so "10.1.2.3/8" becomes "10.0.0.0/8".
func Parse(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, fmt.Errorf("%w: empty", ErrInvalidCIDR)
	}
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %v", ErrInvalidCIDR, err)
		}
		addr = addr.Unmap().WithZone("")
		return Range{addr: addr, bits: addr.BitLen()}, nil
	}

	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %v", ErrInvalidCIDR, err)
	}
	bits := prefix.Bits()
	addr := prefix.Addr()
	if addr.Is4In6() {
		// ::ffff:a.b.c.d/n with n >= 96 maps onto an IPv4 prefix.
		if bits < 96 {
			return Range{}, fmt.Errorf("%w: mapped prefix shorter than /96", ErrInvalidCIDR)
		}
		addr = addr.Unmap()
		bits -= 96
	}
	masked, err := addr.Prefix(bits)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %v", ErrInvalidCIDR, err)
	}
	return Range{addr: masked.Addr(), bits: bits}, nil
}

// ParseAddr parses an origin address and unmaps IPv4-mapped IPv6 forms.
func ParseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return addr.Unmap().WithZone(""), nil
}

// String returns the canonical CIDR form.
func (r Range) String() string {
	if !r.addr.IsValid() {
		return ""
	}
	return fmt.Sprintf("%s/%d", r.addr, r.bits)
}

// Contains reports whether ip falls inside r. Addresses of the other family never match.
func (r Range) Contains(ip netip.Addr) bool {
	if !r.addr.IsValid() || !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	if r.addr.Is4() != ip.Is4() {
		return false
	}
	if r.addr.Is4() {
		return match4(r.addr.As4(), ip.As4(), r.bits)
	}
	return match6(r.addr.As16(), ip.As16(), r.bits)
}

func match4(network, ip [4]byte, bits int) bool {
	if bits == 0 {
		return true
	}
	mask := ^uint32(0) << (32 - uint(bits))
	return binary.BigEndian.Uint32(network[:])&mask == binary.BigEndian.Uint32(ip[:])&mask
}

func match6(network, ip [16]byte, bits int) bool {
	full := bits / 8
	for i := 0; i < full; i++ {
		if network[i] != ip[i] {
			return false
		}
	}
	rem := bits % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xff << (8 - uint(rem)))
	return network[full]&mask == ip[full]&mask
}
