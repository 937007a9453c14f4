// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package util

import (
	"fmt"
	"net/netip"

	"github.com/noisysockets/rawsockets/types"
)

// ParseAddrList parses a list of IP address strings and returns a list of netip.Addr.
func ParseAddrList(addrList []string) ([]netip.Addr, error) {
	var addrs []netip.Addr
	for _, ip := range addrList {
		addr, err := netip.ParseAddr(ip)
		if err != nil {
			return nil, fmt.Errorf("could not parse address: %w", err)
		}

		addrs = append(addrs, addr.Unmap())
	}

	return addrs, nil
}

// ParseEndpointList parses a list of "ip" or "ip:port" strings.
func ParseEndpointList(endpointList []string) ([]types.Endpoint, error) {
	var endpoints []types.Endpoint
	for _, s := range endpointList {
		var ep types.Endpoint
		if err := ep.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("could not parse endpoint: %w", err)
		}

		endpoints = append(endpoints, ep)
	}

	return endpoints, nil
}

// HasIPv4 returns true if the list of addresses contains an IPv4 address.
func HasIPv4(addrs []netip.Addr) bool {
	return HasIPVersion(addrs, types.IPv4)
}

// HasIPv6 returns true if the list of addresses contains an IPv6 address.
func HasIPv6(addrs []netip.Addr) bool {
	return HasIPVersion(addrs, types.IPv6)
}

// HasIPVersion returns true if the list of addresses contains an address of
// the given version. IPv4-mapped IPv6 addresses count as IPv4.
func HasIPVersion(addrs []netip.Addr, version types.IPVersion) bool {
	for _, addr := range addrs {
		if types.IPVersionOf(addr.Unmap()) == version {
			return true
		}
	}

	return false
}
