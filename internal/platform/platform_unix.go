//go:build unix

// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package platform

import (
	"errors"
	"fmt"
	"math"
	"syscall"
	"time"

	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/types"
	"golang.org/x/sys/unix"
)

// Handle is a native socket descriptor.
type Handle = int

const (
	// InvalidHandle is never returned for an open socket.
	InvalidHandle Handle = -1
	// MaxTransferSize is the largest buffer handed to a single send/receive call.
	MaxTransferSize = math.MaxInt
)

const (
	afInet     = unix.AF_INET
	afInet6    = unix.AF_INET6
	sockStream = unix.SOCK_STREAM
	sockDgram  = unix.SOCK_DGRAM
	ipProtoTCP = unix.IPPROTO_TCP
	ipProtoUDP = unix.IPPROTO_UDP
	soSndTimeo = unix.SO_SNDTIMEO
	soRcvTimeo = unix.SO_RCVTIMEO
)

// Open creates a new socket.
func Open(protocol types.IPProtocol, version types.IPVersion) (Handle, error) {
	domain, err := NativeDomain(version)
	if err != nil {
		return InvalidHandle, err
	}

	typ, err := NativeType(protocol)
	if err != nil {
		return InvalidHandle, err
	}

	proto, err := NativeProtocol(protocol)
	if err != nil {
		return InvalidHandle, err
	}

	h, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return InvalidHandle, err
	}

	unix.CloseOnExec(h)

	return h, nil
}

// Close closes a socket.
func Close(h Handle) error {
	return unix.Close(h)
}

// Send sends data on a connected socket.
func Send(h Handle, b []byte) (int, error) {
	return ignoringEINTR(func() (int, error) {
		return unix.SendmsgN(h, clamp(b), nil, nil, 0)
	})
}

// SendTo sends a datagram to the given address.
func SendTo(h Handle, b []byte, to address.Address) (int, error) {
	sa, err := toSockaddr(to)
	if err != nil {
		return 0, err
	}

	return ignoringEINTR(func() (int, error) {
		return unix.SendmsgN(h, clamp(b), nil, sa, 0)
	})
}

// Receive receives data from a connected socket.
func Receive(h Handle, b []byte) (int, error) {
	return ignoringEINTR(func() (int, error) {
		n, _, err := unix.Recvfrom(h, clamp(b), 0)
		return n, err
	})
}

// ReceiveFrom receives a single datagram. If from is not nil it is populated
// with the source address of the datagram.
func ReceiveFrom(h Handle, b []byte, from *address.Address) (int, error) {
	var sa unix.Sockaddr
	n, err := ignoringEINTR(func() (int, error) {
		var (
			n   int
			err error
		)
		n, sa, err = unix.Recvfrom(h, clamp(b), 0)
		return n, err
	})
	if err != nil {
		return n, err
	}

	if from != nil {
		if *from, err = fromSockaddr(sa); err != nil {
			return n, err
		}
	}

	return n, nil
}

// SetBlocked switches a socket between blocking and non-blocking mode.
func SetBlocked(h Handle, blocked bool) error {
	return unix.SetNonblock(h, !blocked)
}

func setTimeout(h Handle, opt int, d time.Duration) error {
	// A zero timeval disables the timeout.
	if d > 0 && d < time.Microsecond {
		d = time.Microsecond
	}

	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(h, unix.SOL_SOCKET, opt, &tv)
}

// Bind binds a socket to a local address.
func Bind(h Handle, addr address.Address) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}

	return unix.Bind(h, sa)
}

// Connect connects a socket to a remote address.
func Connect(h Handle, addr address.Address) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}

	err = unix.Connect(h, sa)
	if errors.Is(err, unix.EINTR) {
		// The connection attempt carries on in the background.
		return waitForConnect(h)
	}

	return err
}

func waitForConnect(h Handle) error {
	for {
		fds := []unix.PollFd{{Fd: int32(h), Events: unix.POLLOUT}}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		soErr, err := unix.GetsockoptInt(h, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}

		if soErr != 0 {
			return syscall.Errno(soErr)
		}

		return nil
	}
}

// Listen marks a socket as accepting connections.
func Listen(h Handle, backlog int) error {
	return unix.Listen(h, backlog)
}

// Accept accepts a pending connection, returning the new socket and the
// address of the peer.
func Accept(h Handle) (Handle, address.Address, error) {
	var (
		nh  Handle
		sa  unix.Sockaddr
		err error
	)
	for {
		nh, sa, err = unix.Accept(h)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		return InvalidHandle, address.Address{}, err
	}

	unix.CloseOnExec(nh)

	peer, err := fromSockaddr(sa)
	if err != nil {
		_ = unix.Close(nh)
		return InvalidHandle, address.Address{}, err
	}

	return nh, peer, nil
}

// LocalAddress returns the address a socket is bound to.
func LocalAddress(h Handle) (address.Address, error) {
	sa, err := unix.Getsockname(h)
	if err != nil {
		return address.Address{}, err
	}

	return fromSockaddr(sa)
}

// IsWouldBlock returns true if the error signals that a non-blocking
// operation could not complete immediately.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsTimeout returns true if the error signals the expiry of a send or
// receive timeout on a blocking socket.
func IsTimeout(err error) bool {
	return IsWouldBlock(err)
}

func toSockaddr(addr address.Address) (unix.Sockaddr, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}

	if addr.Version() == types.IPv6 {
		return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: addr.As16()}, nil
	}

	return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.As4()}, nil
}

func fromSockaddr(sa unix.Sockaddr) (address.Address, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return address.FromIPv4(sa.Addr, uint16(sa.Port)), nil
	case *unix.SockaddrInet6:
		return address.FromIPv6(sa.Addr, uint16(sa.Port)), nil
	default:
		return address.Address{}, fmt.Errorf("%w: %T", ErrUnsupportedFamily, sa)
	}
}

func ignoringEINTR(fn func() (int, error)) (int, error) {
	for {
		n, err := fn()
		if !errors.Is(err, unix.EINTR) {
			return n, err
		}
	}
}
