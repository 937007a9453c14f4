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

	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/types"
)

// FreePort returns a port that was free on every interface at the time of
// the call. The port may be taken by another process before it is used.
func FreePort(logger *slog.Logger, protocol types.IPProtocol, version types.IPVersion) (uint16, error) {
	s, err := newSocket(logger, protocol, version)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	port, err := s.BindAll(0)
	if err != nil {
		return 0, fmt.Errorf("could not find a free port: %w", err)
	}

	return port, nil
}

// SupportsIPVersion returns true if the host can bind a TCP socket to the
// loopback address of the given IP version.
func SupportsIPVersion(logger *slog.Logger, version types.IPVersion) bool {
	s, err := NewTCPSocket(logger, version)
	if err != nil {
		return false
	}
	defer s.Close()

	loopback := address.Loopback(version, 0).Endpoint()
	_, err = s.Bind(loopback.IP, 0)
	return err == nil
}
