// Palisade - Bulletin Board Admission Control and Abuse Detection
// Copyright 2026 Palisade Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-project/palisade

// Package clientip resolves the real client address behind proxies.
//
// Forwarding chains (X-Forwarded-For) are the most information-rich but most
// spoofable signal, so the chain is only believed when the immediate hop is
// a configured trusted proxy. CDN-style single-value headers are consulted
// next, and only when they carry a routable public address. The transport
// remote address is the final fallback.
package clientip

import (
	"net/http"
	"strings"

	"github.com/palisade-project/palisade/internal/ipmatch"
	"github.com/palisade-project/palisade/internal/logging"
)

// Loopback is returned when no usable address can be determined at all.
const Loopback = "127.0.0.1"

// defaultAlternateHeaders are single-value proxy headers consulted when the
// forwarding chain cannot be trusted, in priority order.
var defaultAlternateHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
	"X-Client-IP",
}

// Resolver determines the best-effort real client IP from transport
// metadata. Resolver instances are immutable and safe for concurrent reuse.
type Resolver struct {
	trustedProxies   []string
	alternateHeaders []string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAlternateHeaders replaces the default alternate header list.
func WithAlternateHeaders(headers []string) Option {
	return func(r *Resolver) {
		r.alternateHeaders = headers
	}
}

// NewResolver creates a Resolver. trustedProxies entries may be literal
// addresses or CIDR ranges; malformed entries are dropped with a warning so
// one bad entry cannot disable proxy trust for the rest.
func NewResolver(trustedProxies []string, opts ...Option) *Resolver {
	valid := make([]string, 0, len(trustedProxies))
	for _, p := range trustedProxies {
		if err := ipmatch.ValidRule(p); err != nil {
			logging.Warn().Str("entry", p).Err(err).Msg("dropping malformed trusted proxy entry")
			continue
		}
		valid = append(valid, p)
	}

	r := &Resolver{
		trustedProxies:   valid,
		alternateHeaders: defaultAlternateHeaders,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the best-effort client IP for the given remote address and
// request headers. It always returns a syntactically valid IP string.
func (r *Resolver) Resolve(remoteAddr string, header http.Header) string {
	remote := ipmatch.ParseAddr(remoteAddr)

	// The forwarding chain is trusted only when the immediate hop is a
	// configured proxy.
	if forwarded := header.Get("X-Forwarded-For"); forwarded != "" {
		candidate := leftmost(forwarded)
		addr := ipmatch.ParseAddr(candidate)
		if addr.IsValid() && remote.IsValid() && ipmatch.MatchAny(remote.String(), r.trustedProxies) {
			return addr.String()
		}
	}

	for _, name := range r.alternateHeaders {
		value := header.Get(name)
		if value == "" {
			continue
		}
		addr := ipmatch.ParseAddr(value)
		if addr.IsValid() && !ipmatch.IsPrivateOrReserved(addr) {
			return addr.String()
		}
	}

	if remote.IsValid() {
		return remote.String()
	}
	return Loopback
}

// FromRequest resolves the client IP for an HTTP request.
func (r *Resolver) FromRequest(req *http.Request) string {
	return r.Resolve(req.RemoteAddr, req.Header)
}

// leftmost extracts the first element of a comma-separated forwarding chain.
// The left-most entry is the originating client; everything to its right is
// intermediate proxies.
func leftmost(chain string) string {
	if idx := strings.IndexByte(chain, ','); idx >= 0 {
		chain = chain[:idx]
	}
	return strings.TrimSpace(chain)
}
