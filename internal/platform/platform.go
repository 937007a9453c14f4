// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package platform is a thin shim over the operating system's socket calls.
// It knows nothing about socket state, every function maps onto a single
// system call (or a small fixed sequence of them) and returns the raw OS
// error.
package platform

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/types"
)

var (
	// ErrUnsupportedFamily is returned for addresses that are neither IPv4 nor IPv6.
	ErrUnsupportedFamily = errors.New("unsupported address family")
	// ErrCleanup is returned by Close when the handle was closed but the
	// socket subsystem could not be shut down.
	ErrCleanup = errors.New("could not shut down socket subsystem")
)

// NativeDomain returns the native address family for the given IP version.
func NativeDomain(version types.IPVersion) (int, error) {
	switch version {
	case types.IPv4:
		return afInet, nil
	case types.IPv6:
		return afInet6, nil
	default:
		return 0, fmt.Errorf("%w: %s", types.ErrInvalidIPVersion, version)
	}
}

// NativeType returns the native socket type for the given protocol.
func NativeType(protocol types.IPProtocol) (int, error) {
	switch protocol {
	case types.TCP:
		return sockStream, nil
	case types.UDP:
		return sockDgram, nil
	default:
		return 0, fmt.Errorf("%w: %s", types.ErrInvalidProtocol, protocol)
	}
}

// NativeProtocol returns the native protocol number for the given protocol.
func NativeProtocol(protocol types.IPProtocol) (int, error) {
	switch protocol {
	case types.TCP:
		return ipProtoTCP, nil
	case types.UDP:
		return ipProtoUDP, nil
	default:
		return 0, fmt.Errorf("%w: %s", types.ErrInvalidProtocol, protocol)
	}
}

// IPVersionOf maps a native address family back onto an IP version.
func IPVersionOf(family int) (types.IPVersion, error) {
	switch family {
	case afInet:
		return types.IPv4, nil
	case afInet6:
		return types.IPv6, nil
	default:
		return types.IPVersionUnspecified, fmt.Errorf("%w: %d", ErrUnsupportedFamily, family)
	}
}

// SetTimeout sets the send and/or receive timeout of a socket. A zero
// duration disables the timeout.
func SetTimeout(h Handle, direction types.Direction, d time.Duration) error {
	if direction.IsEmpty() {
		return errors.New("no direction selected")
	}

	if d < 0 {
		return fmt.Errorf("invalid timeout: %s", d)
	}

	if direction.IsSet(types.DirectionSend) {
		if err := setTimeout(h, soSndTimeo, d); err != nil {
			return err
		}
	}

	if direction.IsSet(types.DirectionReceive) {
		if err := setTimeout(h, soRcvTimeo, d); err != nil {
			return err
		}
	}

	return nil
}

// FormatError returns the operating system's description of an error.
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno.Error()
	}

	return err.Error()
}

func checkAddress(addr address.Address) error {
	if !addr.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedFamily, addr.Version())
	}
	return nil
}

func clamp(b []byte) []byte {
	if len(b) > MaxTransferSize {
		return b[:MaxTransferSize]
	}
	return b
}

// isSocketError reports whether the return value of a Winsock call that
// returns a 32 bit int is SOCKET_ERROR. The value is zero extended in r1.
func isSocketError(r1 uintptr) bool {
	return uint32(r1) == ^uint32(0)
}
