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
	"fmt"
	stdnet "net"
	"net/netip"

	"github.com/noisysockets/rawsockets/types"
)

// LocalIPAddress returns the first global unicast address of the given
// version assigned to one of the host's interfaces.
func LocalIPAddress(version types.IPVersion) (string, error) {
	if !version.Valid() {
		return "", fmt.Errorf("%w: %s", types.ErrInvalidIPVersion, version)
	}

	addrs, err := InterfaceAddrs()
	if err != nil {
		return "", err
	}

	for _, addr := range addrs {
		if types.IPVersionOf(addr) == version && addr.IsGlobalUnicast() {
			return addr.String(), nil
		}
	}

	return "", fmt.Errorf("could not find a local %s address", version)
}

// InterfaceAddrs returns the IP addresses assigned to the host's interfaces.
func InterfaceAddrs() ([]netip.Addr, error) {
	interfaceAddrs, err := stdnet.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("could not get interface addresses: %w", err)
	}

	return toNetIPAddrs(interfaceAddrs), nil
}

// toNetIPAddrs converts interface addresses into unmapped netip.Addrs,
// skipping anything that is not an IP address.
func toNetIPAddrs(addrs []stdnet.Addr) []netip.Addr {
	netipAddrs := make([]netip.Addr, 0, len(addrs))
	for _, a := range addrs {
		var ip stdnet.IP
		switch a := a.(type) {
		case *stdnet.IPAddr:
			ip = a.IP
		case *stdnet.IPNet:
			ip = a.IP
		default:
			continue
		}

		if addr, ok := netip.AddrFromSlice(ip); ok {
			netipAddrs = append(netipAddrs, addr.Unmap())
		}
	}

	return netipAddrs
}
