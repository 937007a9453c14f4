// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package types

import (
	"fmt"
	"net/netip"
	"strconv"
)

// Endpoint is the human facing form of a socket address.
// An empty IP denotes the wildcard (any) address of the IP version.
type Endpoint struct {
	IPVersion IPVersion
	IP        string
	Port      uint16
}

// MustParseEndpoint is a helper function that parses an Endpoint from a string.
func MustParseEndpoint(text string) Endpoint {
	var ep Endpoint
	if err := ep.UnmarshalText([]byte(text)); err != nil {
		panic(err)
	}
	return ep
}

// IsWildcard returns true if the endpoint refers to any address.
func (ep Endpoint) IsWildcard() bool {
	return ep.IP == ""
}

// String renders the endpoint, eg. "10.0.0.1:80", "[::1]:80", "0.0.0.0:80" or
// "[::/0]:80" for the wildcard forms.
func (ep Endpoint) String() string {
	port := strconv.Itoa(int(ep.Port))

	if ep.IPVersion == IPv6 {
		if ep.IP == "" {
			return "[::/0]:" + port
		}
		return "[" + ep.IP + "]:" + port
	}

	if ep.IP == "" {
		return "0.0.0.0:" + port
	}
	return ep.IP + ":" + port
}

// Custom unmarshal text for Endpoint, if no port is specified, a default port of '0' is used.
func (ep *Endpoint) UnmarshalText(text []byte) error {
	var addr netip.Addr
	var port uint16

	addrPort, err := netip.ParseAddrPort(string(text))
	if err == nil {
		addr, port = addrPort.Addr(), addrPort.Port()
	} else {
		addr, err = netip.ParseAddr(string(text))
		if err != nil {
			return fmt.Errorf("could not parse endpoint: %w", err)
		}
	}

	if addr.Zone() != "" {
		return fmt.Errorf("could not parse endpoint %q: zones are not supported", string(text))
	}

	*ep = Endpoint{
		IPVersion: IPVersionOf(addr),
		IP:        addr.String(),
		Port:      port,
	}
	return nil
}

// Custom marshal text for Endpoint, if the port is '0', it is omitted.
func (ep Endpoint) MarshalText() ([]byte, error) {
	if ep.IP == "" {
		return nil, fmt.Errorf("cannot marshal wildcard endpoint")
	}
	if ep.Port == 0 {
		return []byte(ep.IP), nil
	}
	return []byte(ep.String()), nil
}
