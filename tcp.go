// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rawsockets

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/internal/platform"
	"github.com/noisysockets/rawsockets/types"
)

// DefaultBacklog is the listen backlog used when none is given.
const DefaultBacklog = 128

// TCPSocket is a stream socket.
type TCPSocket struct {
	*Socket
	remote types.Endpoint
}

// NewTCPSocket creates and opens a new TCP socket of the given IP version.
func NewTCPSocket(logger *slog.Logger, version types.IPVersion) (*TCPSocket, error) {
	s, err := newSocket(logger, types.TCP, version)
	if err != nil {
		return nil, err
	}

	return &TCPSocket{Socket: s}, nil
}

// Connect connects the socket to the given numeric IP address and port.
func (s *TCPSocket) Connect(ip string, port uint16) error {
	h, err := s.openHandle()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(s)

	addr, err := address.CreateAddr(s.version, ip, port)
	if err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}

	if err := platform.Connect(h, addr); err != nil {
		return fmt.Errorf("could not connect to %s: %w", addr, err)
	}

	s.remote = addr.Endpoint()

	s.logger.Debug("Connected socket", slog.String("remote", addr.String()))

	return nil
}

// Listen starts accepting connections. A backlog less than or equal to
// zero uses DefaultBacklog.
func (s *TCPSocket) Listen(backlog int) error {
	h, err := s.openHandle()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(s)

	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	if err := platform.Listen(h, backlog); err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}

	s.logger.Debug("Listening", slog.Int("backlog", backlog))

	return nil
}

// Accept accepts a pending connection. The accepted socket is in blocking
// mode regardless of the mode of the listening socket. On a non-blocking
// listener with no pending connection the Result would block.
func (s *TCPSocket) Accept() (Result[*TCPSocket], error) {
	h, err := s.openHandle()
	if err != nil {
		return Result[*TCPSocket]{}, err
	}
	defer runtime.KeepAlive(s)

	nh, peer, err := platform.Accept(h)
	if err != nil {
		res, err := ioResult[*TCPSocket](s.Socket, nil, err)
		if err != nil {
			return res, fmt.Errorf("could not accept connection: %w", err)
		}
		return res, nil
	}

	if err := platform.SetBlocked(nh, true); err != nil {
		_ = platform.Close(nh)
		return Result[*TCPSocket]{}, fmt.Errorf("could not set accepted socket blocking: %w", err)
	}

	accepted := &TCPSocket{
		Socket: wrapSocket(s.logger, types.TCP, peer.Version(), nh),
		remote: peer.Endpoint(),
	}

	s.logger.Debug("Accepted connection", slog.String("remote", peer.String()))

	return Ready(accepted), nil
}

// RemoteEndpoint returns the endpoint of the peer, it is only known for
// connected and accepted sockets.
func (s *TCPSocket) RemoteEndpoint() types.Endpoint {
	return s.remote
}

// Send sends as much of b as the operating system accepts in a single call
// and returns the number of bytes sent.
func (s *TCPSocket) Send(b []byte) (Result[int], error) {
	h, err := s.openHandle()
	if err != nil {
		return Result[int]{}, err
	}
	defer runtime.KeepAlive(s)

	n, err := platform.Send(h, b)
	res, err := ioResult(s.Socket, n, err)
	if err != nil {
		return res, fmt.Errorf("could not send: %w", err)
	}

	return res, nil
}

// Receive reads up to len(b) bytes in a single call. Zero bytes on a
// blocking socket means the peer has closed the connection.
func (s *TCPSocket) Receive(b []byte) (Result[int], error) {
	h, err := s.openHandle()
	if err != nil {
		return Result[int]{}, err
	}
	defer runtime.KeepAlive(s)

	n, err := platform.Receive(h, b)
	res, err := ioResult(s.Socket, n, err)
	if err != nil {
		return res, fmt.Errorf("could not receive: %w", err)
	}

	return res, nil
}

// Move transfers ownership of the handle to a new TCPSocket, leaving s
// closed.
func (s *TCPSocket) Move() *TCPSocket {
	moved := &TCPSocket{Socket: s.Socket.move(), remote: s.remote}
	s.remote = types.Endpoint{}
	return moved
}
