// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package address

import (
	"context"
	stdnet "net"
	"net/netip"
	"strings"
	"unicode"

	"github.com/noisysockets/rawsockets/types"
)

// Resolver is a hostname resolver.
type Resolver interface {
	// LookupHost looks up the IP addresses for a given host.
	LookupHost(ctx context.Context, host string) ([]netip.Addr, error)
}

// SystemResolver returns a Resolver backed by the operating system's resolver.
func SystemResolver() Resolver {
	return &systemResolver{resolver: stdnet.DefaultResolver}
}

type systemResolver struct {
	resolver *stdnet.Resolver
}

func (r *systemResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	addrs, err := r.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}

	// The standard library hands out IPv4 addresses in their mapped form.
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}

	return addrs, nil
}

// ResolveHostname resolves name into an endpoint with the given port.
// A leading http:// or https:// scheme and any path are ignored. The first
// address of the requested version is selected, or the first address overall
// when version is IPVersionUnspecified. A nil resolver uses the system resolver.
//
// Failing to resolve a name is an expected outcome so it is reported by the
// boolean rather than an error.
func ResolveHostname(ctx context.Context, resolver Resolver, name string, port uint16, version types.IPVersion) (types.Endpoint, bool) {
	host := HostFromURL(name)
	if host == "" {
		return types.Endpoint{}, false
	}

	var candidates []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil && addr.Zone() == "" {
		candidates = []netip.Addr{addr.Unmap()}
	} else {
		if resolver == nil {
			resolver = SystemResolver()
		}

		candidates, err = resolver.LookupHost(ctx, host)
		if err != nil {
			return types.Endpoint{}, false
		}
	}

	for _, addr := range candidates {
		addrVersion := types.IPVersionOf(addr)
		if !addrVersion.Valid() {
			continue
		}

		if version == types.IPVersionUnspecified || version == addrVersion {
			return types.Endpoint{
				IPVersion: addrVersion,
				IP:        addr.String(),
				Port:      port,
			}, true
		}
	}

	return types.Endpoint{}, false
}

// HostFromURL extracts the host portion of a bare hostname or a http(s) URL.
func HostFromURL(name string) string {
	name = strings.TrimSpace(name)
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(name, scheme) {
			name = strings.TrimPrefix(name, scheme)
			break
		}
	}

	if idx := strings.IndexFunc(name, func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	}); idx != -1 {
		name = name[:idx]
	}

	return name
}
