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

// UDPSocket is a datagram socket.
type UDPSocket struct {
	*Socket
}

// NewUDPSocket creates and opens a new UDP socket of the given IP version.
func NewUDPSocket(logger *slog.Logger, version types.IPVersion) (*UDPSocket, error) {
	s, err := newSocket(logger, types.UDP, version)
	if err != nil {
		return nil, err
	}

	return &UDPSocket{Socket: s}, nil
}

// SendTo sends b as a single datagram to the given numeric IP address and port.
func (s *UDPSocket) SendTo(b []byte, ip string, port uint16) (Result[int], error) {
	h, err := s.openHandle()
	if err != nil {
		return Result[int]{}, err
	}
	defer runtime.KeepAlive(s)

	to, err := address.CreateAddr(s.version, ip, port)
	if err != nil {
		return Result[int]{}, fmt.Errorf("could not send: %w", err)
	}

	n, err := platform.SendTo(h, b, to)
	res, err := ioResult(s.Socket, n, err)
	if err != nil {
		return res, fmt.Errorf("could not send to %s: %w", to, err)
	}

	return res, nil
}

// ReceiveFrom receives a single datagram into b. Bytes beyond len(b) are
// discarded. If source is not nil it is set to the sender's endpoint.
func (s *UDPSocket) ReceiveFrom(b []byte, source *types.Endpoint) (Result[int], error) {
	h, err := s.openHandle()
	if err != nil {
		return Result[int]{}, err
	}
	defer runtime.KeepAlive(s)

	var (
		from    address.Address
		fromPtr *address.Address
	)
	if source != nil {
		fromPtr = &from
	}

	n, err := platform.ReceiveFrom(h, b, fromPtr)
	res, err := ioResult(s.Socket, n, err)
	if err != nil {
		return res, fmt.Errorf("could not receive: %w", err)
	}

	if source != nil && res.IsReady() {
		*source = from.Endpoint()
	}

	return res, nil
}

// Move transfers ownership of the handle to a new UDPSocket, leaving s
// closed.
func (s *UDPSocket) Move() *UDPSocket {
	return &UDPSocket{Socket: s.Socket.move()}
}
