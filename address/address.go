// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package address implements the platform neutral socket address model.
package address

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/noisysockets/rawsockets/types"
)

// ErrInvalidAddress is returned for text that is not a numeric IP address of
// the requested version.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a socket address of either IP version, stored by value.
// IPv4 addresses occupy the first four bytes of ip. The version tag always
// agrees with the stored family, the zero Address is invalid.
type Address struct {
	version types.IPVersion
	ip      [16]byte
	port    uint16
}

// CreateAddr converts a numeric IP string and port into an Address.
// An empty ip yields the wildcard address of the requested version.
// No name resolution is performed.
func CreateAddr(version types.IPVersion, ip string, port uint16) (Address, error) {
	if !version.Valid() {
		return Address{}, fmt.Errorf("%w: %s", types.ErrInvalidIPVersion, version)
	}

	if ip == "" {
		return Wildcard(version, port), nil
	}

	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %q is not a numeric ip address", ErrInvalidAddress, ip)
	}

	if addr.Zone() != "" {
		return Address{}, fmt.Errorf("%w: %q has an unsupported zone", ErrInvalidAddress, ip)
	}

	if types.IPVersionOf(addr) != version {
		return Address{}, fmt.Errorf("%w: %q is not an %s address", ErrInvalidAddress, ip, version)
	}

	return FromAddrPort(netip.AddrPortFrom(addr, port))
}

// FromEndpoint converts an endpoint into an Address.
func FromEndpoint(ep types.Endpoint) (Address, error) {
	return CreateAddr(ep.IPVersion, ep.IP, ep.Port)
}

// FromAddrPort converts a netip.AddrPort into an Address.
func FromAddrPort(addrPort netip.AddrPort) (Address, error) {
	addr := addrPort.Addr()
	switch {
	case addr.Is4():
		return FromIPv4(addr.As4(), addrPort.Port()), nil
	case addr.Is6():
		return FromIPv6(addr.As16(), addrPort.Port()), nil
	default:
		return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, addrPort)
	}
}

// FromIPv4 constructs an IPv4 Address from its raw form.
func FromIPv4(ip [4]byte, port uint16) Address {
	a := Address{version: types.IPv4, port: port}
	copy(a.ip[:4], ip[:])
	return a
}

// FromIPv6 constructs an IPv6 Address from its raw form.
func FromIPv6(ip [16]byte, port uint16) Address {
	return Address{version: types.IPv6, ip: ip, port: port}
}

// Wildcard returns the any address of the given version.
func Wildcard(version types.IPVersion, port uint16) Address {
	return Address{version: version, port: port}
}

// Loopback returns the loopback address of the given version.
func Loopback(version types.IPVersion, port uint16) Address {
	if version == types.IPv6 {
		return FromIPv6(netip.IPv6Loopback().As16(), port)
	}
	return FromIPv4([4]byte{127, 0, 0, 1}, port)
}

// IsValid returns true if the address has a concrete IP version.
func (a Address) IsValid() bool {
	return a.version.Valid()
}

// IsWildcard returns true if the address is the any address of its version.
func (a Address) IsWildcard() bool {
	return a.IsValid() && a.ip == [16]byte{}
}

// Version returns the IP version of the address.
func (a Address) Version() types.IPVersion {
	return a.version
}

// Port returns the port of the address.
func (a Address) Port() uint16 {
	return a.port
}

// As4 returns the raw IPv4 address. Only meaningful for IPv4 addresses.
func (a Address) As4() (ip [4]byte) {
	copy(ip[:], a.ip[:4])
	return ip
}

// As16 returns the raw IPv6 address. Only meaningful for IPv6 addresses.
func (a Address) As16() [16]byte {
	return a.ip
}

// Addr returns the IP portion of the address.
func (a Address) Addr() netip.Addr {
	switch a.version {
	case types.IPv4:
		return netip.AddrFrom4(a.As4())
	case types.IPv6:
		return netip.AddrFrom16(a.ip)
	default:
		return netip.Addr{}
	}
}

// Endpoint renders the address in its human facing form.
func (a Address) Endpoint() types.Endpoint {
	if !a.IsValid() {
		return types.Endpoint{}
	}

	return types.Endpoint{
		IPVersion: a.version,
		IP:        a.Addr().String(),
		Port:      a.port,
	}
}

func (a Address) String() string {
	if !a.IsValid() {
		return "invalid address"
	}
	return a.Endpoint().String()
}
