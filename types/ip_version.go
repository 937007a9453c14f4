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
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

var (
	// ErrInvalidIPVersion is returned for an IP version other than IPv4 or IPv6.
	ErrInvalidIPVersion = errors.New("invalid ip version")
	// ErrInvalidProtocol is returned for a protocol other than TCP or UDP.
	ErrInvalidProtocol = errors.New("invalid ip protocol")
)

// IPVersion is the internet protocol version of a socket or address.
type IPVersion int

const (
	// IPVersionUnspecified is only meaningful as a resolution hint, a socket
	// always has a concrete version.
	IPVersionUnspecified IPVersion = iota
	IPv4
	IPv6
)

// IPVersionOf returns the version of the given address.
func IPVersionOf(addr netip.Addr) IPVersion {
	switch {
	case addr.Is4():
		return IPv4
	case addr.Is6():
		return IPv6
	default:
		return IPVersionUnspecified
	}
}

// Valid returns true if the version is either IPv4 or IPv6.
func (v IPVersion) Valid() bool {
	return v == IPv4 || v == IPv6
}

func (v IPVersion) String() string {
	switch v {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case IPVersionUnspecified:
		return "unspecified"
	default:
		return fmt.Sprintf("IPVersion(%d)", int(v))
	}
}

func (v IPVersion) MarshalText() ([]byte, error) {
	if !v.Valid() && v != IPVersionUnspecified {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIPVersion, int(v))
	}
	return []byte(v.String()), nil
}

func (v *IPVersion) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "ipv4", "v4", "4":
		*v = IPv4
	case "ipv6", "v6", "6":
		*v = IPv6
	case "", "unspecified", "any":
		*v = IPVersionUnspecified
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIPVersion, string(text))
	}
	return nil
}

// IPProtocol is the transport protocol of a socket.
type IPProtocol int

const (
	TCP IPProtocol = iota + 1
	UDP
)

// Valid returns true if the protocol is either TCP or UDP.
func (p IPProtocol) Valid() bool {
	return p == TCP || p == UDP
}

func (p IPProtocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	default:
		return fmt.Sprintf("IPProtocol(%d)", int(p))
	}
}

func (p IPProtocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidProtocol, int(p))
	}
	return []byte(p.String()), nil
}

func (p *IPProtocol) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "tcp":
		*p = TCP
	case "udp":
		*p = UDP
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, string(text))
	}
	return nil
}
