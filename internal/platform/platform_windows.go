//go:build windows

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
	"unsafe"

	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/types"
	"golang.org/x/sys/windows"
)

// Handle is a native socket handle.
type Handle = windows.Handle

const (
	// InvalidHandle is never returned for an open socket.
	InvalidHandle Handle = windows.InvalidHandle
	// MaxTransferSize is the largest buffer handed to a single send/receive
	// call, Winsock lengths are 32 bit.
	MaxTransferSize = math.MaxInt32
)

const (
	afInet     = windows.AF_INET
	afInet6    = windows.AF_INET6
	sockStream = windows.SOCK_STREAM
	sockDgram  = windows.SOCK_DGRAM
	ipProtoTCP = windows.IPPROTO_TCP
	ipProtoUDP = windows.IPPROTO_UDP
	soSndTimeo = 0x1005
	soRcvTimeo = 0x1006
)

const (
	fionbio = 0x8004667e

	wsaeWouldBlock = syscall.Errno(10035)
	wsaeMsgSize    = syscall.Errno(10040)
	wsaeTimedOut   = syscall.Errno(10060)
)

var (
	modws2_32       = windows.NewLazySystemDLL("ws2_32.dll")
	procAccept      = modws2_32.NewProc("accept")
	procIoctlSocket = modws2_32.NewProc("ioctlsocket")
)

// Open creates a new socket, starting the Winsock subsystem if this is the
// first socket of the process.
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

	if err := winsock.acquire(); err != nil {
		return InvalidHandle, fmt.Errorf("could not start winsock: %w", err)
	}

	h, err := windows.Socket(domain, typ, proto)
	if err != nil {
		_ = winsock.release()
		return InvalidHandle, err
	}

	// Equivalent of close-on-exec.
	_ = windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, 0)

	return h, nil
}

// Close closes a socket, the Winsock subsystem is shut down once the last
// socket has been closed.
func Close(h Handle) error {
	return winsock.closeWith(h, windows.Closesocket)
}

// Send sends data on a connected socket.
func Send(h Handle, b []byte) (int, error) {
	buf := toWSABuf(clamp(b))

	var n uint32
	err := windows.WSASend(h, &buf, 1, &n, 0, nil, nil)
	return int(n), err
}

// SendTo sends a datagram to the given address.
func SendTo(h Handle, b []byte, to address.Address) (int, error) {
	sa, err := toSockaddr(to)
	if err != nil {
		return 0, err
	}

	buf := toWSABuf(clamp(b))

	var n uint32
	err = windows.WSASendto(h, &buf, 1, &n, 0, sa, nil, nil)
	return int(n), err
}

// Receive receives data from a connected socket.
func Receive(h Handle, b []byte) (int, error) {
	buf := toWSABuf(clamp(b))

	var n, flags uint32
	err := windows.WSARecv(h, &buf, 1, &n, &flags, nil, nil)
	return int(n), err
}

// ReceiveFrom receives a single datagram. If from is not nil it is populated
// with the source address of the datagram.
func ReceiveFrom(h Handle, b []byte, from *address.Address) (int, error) {
	buf := toWSABuf(clamp(b))

	var (
		n, flags uint32
		rsa      windows.RawSockaddrAny
	)
	rsaLen := int32(unsafe.Sizeof(rsa))
	err := windows.WSARecvFrom(h, &buf, 1, &n, &flags, &rsa, &rsaLen, nil, nil)
	if errors.Is(err, wsaeMsgSize) {
		// Truncated datagram, the tail has already been discarded.
		n, err = buf.Len, nil
	}
	if err != nil {
		return int(n), err
	}

	if from != nil {
		sa, err := rsa.Sockaddr()
		if err != nil {
			return int(n), err
		}

		if *from, err = fromSockaddr(sa); err != nil {
			return int(n), err
		}
	}

	return int(n), nil
}

// SetBlocked switches a socket between blocking and non-blocking mode.
func SetBlocked(h Handle, blocked bool) error {
	var mode uint32
	if !blocked {
		mode = 1
	}

	r1, _, e1 := syscall.SyscallN(procIoctlSocket.Addr(), uintptr(h), fionbio, uintptr(unsafe.Pointer(&mode)))
	if isSocketError(r1) {
		return errnoOrInvalid(e1)
	}

	return nil
}

// Winsock timeouts are a DWORD of milliseconds.
func setTimeout(h Handle, opt int, d time.Duration) error {
	ms := d.Milliseconds()
	if d > 0 && ms == 0 {
		ms = 1
	}
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}

	return windows.SetsockoptInt(h, windows.SOL_SOCKET, opt, int(ms))
}

// Bind binds a socket to a local address.
func Bind(h Handle, addr address.Address) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}

	return windows.Bind(h, sa)
}

// Connect connects a socket to a remote address.
func Connect(h Handle, addr address.Address) error {
	sa, err := toSockaddr(addr)
	if err != nil {
		return err
	}

	return windows.Connect(h, sa)
}

// Listen marks a socket as accepting connections.
func Listen(h Handle, backlog int) error {
	return windows.Listen(h, backlog)
}

// Accept accepts a pending connection, returning the new socket and the
// address of the peer.
func Accept(h Handle) (Handle, address.Address, error) {
	if err := winsock.acquire(); err != nil {
		return InvalidHandle, address.Address{}, fmt.Errorf("could not start winsock: %w", err)
	}

	var rsa windows.RawSockaddrAny
	rsaLen := int32(unsafe.Sizeof(rsa))

	r1, _, e1 := syscall.SyscallN(procAccept.Addr(), uintptr(h),
		uintptr(unsafe.Pointer(&rsa)), uintptr(unsafe.Pointer(&rsaLen)))
	nh := Handle(r1)
	if nh == InvalidHandle {
		_ = winsock.release()
		return InvalidHandle, address.Address{}, errnoOrInvalid(e1)
	}

	_ = windows.SetHandleInformation(nh, windows.HANDLE_FLAG_INHERIT, 0)

	sa, err := rsa.Sockaddr()
	if err == nil {
		var peer address.Address
		if peer, err = fromSockaddr(sa); err == nil {
			return nh, peer, nil
		}
	}

	_ = Close(nh)

	return InvalidHandle, address.Address{}, err
}

// LocalAddress returns the address a socket is bound to.
func LocalAddress(h Handle) (address.Address, error) {
	sa, err := windows.Getsockname(h)
	if err != nil {
		return address.Address{}, err
	}

	return fromSockaddr(sa)
}

// IsWouldBlock returns true if the error signals that a non-blocking
// operation could not complete immediately.
func IsWouldBlock(err error) bool {
	return errors.Is(err, wsaeWouldBlock)
}

// IsTimeout returns true if the error signals the expiry of a send or
// receive timeout on a blocking socket.
func IsTimeout(err error) bool {
	return errors.Is(err, wsaeTimedOut)
}

func toWSABuf(b []byte) windows.WSABuf {
	buf := windows.WSABuf{Len: uint32(len(b))}
	if len(b) > 0 {
		buf.Buf = &b[0]
	}
	return buf
}

func toSockaddr(addr address.Address) (windows.Sockaddr, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}

	if addr.Version() == types.IPv6 {
		return &windows.SockaddrInet6{Port: int(addr.Port()), Addr: addr.As16()}, nil
	}

	return &windows.SockaddrInet4{Port: int(addr.Port()), Addr: addr.As4()}, nil
}

func fromSockaddr(sa windows.Sockaddr) (address.Address, error) {
	switch sa := sa.(type) {
	case *windows.SockaddrInet4:
		return address.FromIPv4(sa.Addr, uint16(sa.Port)), nil
	case *windows.SockaddrInet6:
		return address.FromIPv6(sa.Addr, uint16(sa.Port)), nil
	default:
		return address.Address{}, fmt.Errorf("%w: %T", ErrUnsupportedFamily, sa)
	}
}

func errnoOrInvalid(errno syscall.Errno) error {
	if errno != 0 {
		return errno
	}
	return syscall.EINVAL
}
