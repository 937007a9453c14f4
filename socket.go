// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package rawsockets provides ownership governed TCP and UDP sockets built
// directly on the operating system's socket calls.
package rawsockets

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/internal/platform"
	"github.com/noisysockets/rawsockets/types"
)

// Handle is a native socket handle.
type Handle = platform.Handle

// InvalidHandle is the handle of a closed socket.
const InvalidHandle = platform.InvalidHandle

// Socket is the state shared by TCP and UDP sockets. A Socket exclusively
// owns its native handle, it must not be copied. Use Move to transfer
// ownership to a new value.
//
// Operating system calls are not serialized, concurrent use of a single
// socket behaves like concurrent use of the underlying handle.
type Socket struct {
	_ noCopy

	logger   *slog.Logger
	protocol types.IPProtocol
	version  types.IPVersion

	mu       sync.Mutex
	handle   Handle
	blocking bool
}

// newSocket creates and opens a new socket.
func newSocket(logger *slog.Logger, protocol types.IPProtocol, version types.IPVersion) (*Socket, error) {
	if !protocol.Valid() {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidProtocol, protocol)
	}

	if !version.Valid() {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidIPVersion, version)
	}

	s := wrapSocket(logger, protocol, version, InvalidHandle)
	if err := s.Open(); err != nil {
		return nil, err
	}

	return s, nil
}

// wrapSocket takes ownership of an existing handle.
func wrapSocket(logger *slog.Logger, protocol types.IPProtocol, version types.IPVersion, h Handle) *Socket {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Socket{
		logger: logger.With(
			slog.String("protocol", protocol.String()),
			slog.String("ipVersion", version.String()),
		),
		protocol: protocol,
		version:  version,
		handle:   h,
		blocking: true,
	}

	// Reclaim the handle of a socket that was never closed.
	runtime.SetFinalizer(s, (*Socket).finalize)

	return s
}

// IsOpen returns true if the socket holds an open handle.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle != InvalidHandle
}

// Open opens a new handle for a closed socket. The protocol and IP version
// are those the socket was created with.
func (s *Socket) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != InvalidHandle {
		return ErrAlreadyOpen
	}

	h, err := platform.Open(s.protocol, s.version)
	if err != nil {
		return fmt.Errorf("could not open socket: %w", err)
	}

	s.handle = h
	s.blocking = true

	s.logger.Debug("Opened socket")

	return nil
}

// Close closes the socket. If the operating system fails to close the handle
// the socket remains open.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == InvalidHandle {
		return ErrNotOpen
	}

	if err := platform.Close(s.handle); err != nil {
		if !errors.Is(err, platform.ErrCleanup) {
			return fmt.Errorf("could not close socket: %w", err)
		}

		s.logger.Warn("Closed socket but failed to shut down the socket subsystem",
			slog.Any("error", err))
	}

	s.handle = InvalidHandle

	s.logger.Debug("Closed socket")

	return nil
}

// Bind binds the socket to a local numeric IP address and port. An empty ip
// binds to every interface, a zero port picks an ephemeral port. The port
// actually bound is returned.
func (s *Socket) Bind(ip string, port uint16) (uint16, error) {
	h, err := s.openHandle()
	if err != nil {
		return 0, err
	}
	defer runtime.KeepAlive(s)

	addr, err := address.CreateAddr(s.version, ip, port)
	if err != nil {
		return 0, fmt.Errorf("could not bind socket: %w", err)
	}

	if err := platform.Bind(h, addr); err != nil {
		return 0, fmt.Errorf("could not bind socket to %s: %w", addr, err)
	}

	local, err := platform.LocalAddress(h)
	if err != nil {
		return 0, fmt.Errorf("could not get local address: %w", err)
	}

	s.logger.Debug("Bound socket", slog.String("endpoint", local.String()))

	return local.Port(), nil
}

// BindAll binds the socket to the given port on every interface.
func (s *Socket) BindAll(port uint16) (uint16, error) {
	return s.Bind("", port)
}

// SetBlocked switches the socket between blocking and non-blocking mode.
// Sockets start out blocking.
func (s *Socket) SetBlocked(blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == InvalidHandle {
		return ErrNotOpen
	}

	if err := platform.SetBlocked(s.handle, blocked); err != nil {
		return fmt.Errorf("could not set blocking mode: %w", err)
	}

	s.blocking = blocked

	return nil
}

// IsBlocking returns true if the socket is in blocking mode.
func (s *Socket) IsBlocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.blocking
}

// SetTimeout sets the timeout of blocking sends and/or receives. A zero
// duration waits forever.
func (s *Socket) SetTimeout(d time.Duration, direction types.Direction) error {
	h, err := s.openHandle()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(s)

	if err := platform.SetTimeout(h, direction, d); err != nil {
		return fmt.Errorf("could not set %s timeout: %w", direction, err)
	}

	return nil
}

// LocalEndpoint returns the local endpoint the socket is bound to.
func (s *Socket) LocalEndpoint() (types.Endpoint, error) {
	h, err := s.openHandle()
	if err != nil {
		return types.Endpoint{}, err
	}
	defer runtime.KeepAlive(s)

	local, err := platform.LocalAddress(h)
	if err != nil {
		return types.Endpoint{}, fmt.Errorf("could not get local address: %w", err)
	}

	return local.Endpoint(), nil
}

// Handle returns the native handle, or InvalidHandle if the socket is closed.
// The socket retains ownership of the handle.
func (s *Socket) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.handle
}

// Protocol returns the transport protocol of the socket.
func (s *Socket) Protocol() types.IPProtocol {
	return s.protocol
}

// IPVersion returns the IP version of the socket.
func (s *Socket) IPVersion() types.IPVersion {
	return s.version
}

func (s *Socket) openHandle() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == InvalidHandle {
		return InvalidHandle, ErrNotOpen
	}

	return s.handle, nil
}

// move transfers the handle into a new Socket, leaving s closed.
func (s *Socket) move() *Socket {
	s.mu.Lock()
	h, blocking := s.handle, s.blocking
	s.handle = InvalidHandle
	s.mu.Unlock()

	moved := &Socket{
		logger:   s.logger,
		protocol: s.protocol,
		version:  s.version,
		handle:   h,
		blocking: blocking,
	}
	runtime.SetFinalizer(moved, (*Socket).finalize)

	return moved
}

func (s *Socket) finalize() {
	if !s.IsOpen() {
		return
	}

	if err := s.Close(); err != nil {
		s.logger.Debug("Failed to close leaked socket", slog.Any("error", err))
	}
}

// ioResult splits the outcome of a send or receive into the would-block and
// hard error channels.
func ioResult[T any](s *Socket, v T, err error) (Result[T], error) {
	if err == nil {
		return Ready(v), nil
	}

	blocking := s.IsBlocking()
	if !blocking && platform.IsWouldBlock(err) {
		return WouldBlock[T](), nil
	}

	if blocking && platform.IsTimeout(err) {
		return Result[T]{}, fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return Result[T]{}, err
}

// noCopy may be embedded into structs which must not be copied after first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
