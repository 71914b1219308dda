// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

// Package ipmatch answers whether an IP address falls inside a CIDR range or
// equals a literal address. It is the leaf matcher shared by the client
// identity resolver, the access list, and the detection reputation rule.
//
// Match never returns an error: malformed rules are a configuration problem
// caught at write time via ValidRule, not at match time on the hot path.
package ipmatch

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Match reports whether ip falls within rangeOrLiteral.
//
// If rangeOrLiteral contains no "/", both sides are parsed as addresses and
// compared for equality. Otherwise rangeOrLiteral is parsed as a CIDR prefix
// and containment is checked. IPv4 and IPv6 are both supported; an address
// from one family never matches a prefix of the other. Malformed input
// yields false.
func Match(ip, rangeOrLiteral string) bool {
	addr := ParseAddr(ip)
	if !addr.IsValid() {
		return false
	}

	if !strings.Contains(rangeOrLiteral, "/") {
		literal := ParseAddr(rangeOrLiteral)
		return literal.IsValid() && addr == literal
	}

	prefix, err := netip.ParsePrefix(strings.TrimSpace(rangeOrLiteral))
	if err != nil {
		return false
	}
	prefix = prefix.Masked()

	if addr.Is4() != prefix.Addr().Is4() {
		return false
	}

	return prefix.Contains(addr)
}

// MatchAny reports whether ip matches any entry in ranges.
func MatchAny(ip string, ranges []string) bool {
	for _, r := range ranges {
		if Match(ip, r) {
			return true
		}
	}
	return false
}

// ParseAddr parses an address string leniently, tolerating whitespace, a
// port suffix ("203.0.113.9:443", "[::1]:443") and IPv6 brackets. The
// IPv4-in-IPv6 mapped form is unmapped so "::ffff:203.0.113.9" and
// "203.0.113.9" compare equal. Returns an invalid Addr on failure.
func ParseAddr(s string) netip.Addr {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		s = s[1 : len(s)-1]
	}

	addr, _ := netip.ParseAddr(s)
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}

// IsValidIP reports whether s parses as an IPv4 or IPv6 address.
func IsValidIP(s string) bool {
	return ParseAddr(s).IsValid()
}

// ValidRule checks that s is usable as an access-list or trusted-proxy
// entry: either a literal address or a CIDR prefix. It is the write-time
// gate that keeps malformed rules out of the match path.
func ValidRule(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("empty address or range")
	}

	if strings.Contains(s, "/") {
		if _, err := netip.ParsePrefix(s); err != nil {
			return fmt.Errorf("invalid CIDR range %q: %w", s, err)
		}
		return nil
	}

	if _, err := netip.ParseAddr(s); err != nil {
		return fmt.Errorf("invalid IP address %q: %w", s, err)
	}
	return nil
}

// Reserved and special-use ranges that should never appear as a real
// client address in a proxy header.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// IsPrivateOrReserved reports whether addr is private, loopback, link-local,
// multicast, unspecified, or inside a special-use range. Such addresses are
// rejected when scanning untrusted single-value proxy headers.
func IsPrivateOrReserved(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	if addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() {
		return true
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
