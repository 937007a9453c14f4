// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rawsockets_test

import (
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/noisysockets/rawsockets"
	"github.com/noisysockets/rawsockets/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

var ipVersions = []types.IPVersion{types.IPv4, types.IPv6}

func skipIfUnsupported(t *testing.T, version types.IPVersion) {
	t.Helper()

	if version == types.IPv6 && !nettest.SupportsIPv6() {
		t.Skip("IPv6 is not supported on this host")
	}
}

func loopbackIP(version types.IPVersion) string {
	if version == types.IPv6 {
		return "::1"
	}
	return "127.0.0.1"
}

func newSocket(t *testing.T, protocol types.IPProtocol, version types.IPVersion) *rawsockets.Socket {
	t.Helper()

	logger := slogt.New(t)

	switch protocol {
	case types.TCP:
		s, err := rawsockets.NewTCPSocket(logger, version)
		require.NoError(t, err)
		return s.Socket
	default:
		s, err := rawsockets.NewUDPSocket(logger, version)
		require.NoError(t, err)
		return s.Socket
	}
}

func TestSocketLifecycle(t *testing.T) {
	for _, protocol := range []types.IPProtocol{types.TCP, types.UDP} {
		for _, version := range ipVersions {
			t.Run(protocol.String()+" "+version.String(), func(t *testing.T) {
				skipIfUnsupported(t, version)

				s := newSocket(t, protocol, version)

				assert.True(t, s.IsOpen())
				assert.True(t, s.IsBlocking())
				assert.Equal(t, protocol, s.Protocol())
				assert.Equal(t, version, s.IPVersion())
				assert.NotEqual(t, rawsockets.InvalidHandle, s.Handle())

				require.ErrorIs(t, s.Open(), rawsockets.ErrAlreadyOpen)

				require.NoError(t, s.Close())
				assert.False(t, s.IsOpen())
				assert.Equal(t, rawsockets.InvalidHandle, s.Handle())

				require.ErrorIs(t, s.Close(), rawsockets.ErrNotOpen)

				// A closed socket can be reopened with the same protocol and version.
				require.NoError(t, s.Open())
				assert.True(t, s.IsOpen())
				require.NoError(t, s.Close())
			})
		}
	}
}

func TestInvalidSocket(t *testing.T) {
	logger := slogt.New(t)

	_, err := rawsockets.NewTCPSocket(logger, types.IPVersionUnspecified)
	require.ErrorIs(t, err, types.ErrInvalidIPVersion)

	_, err = rawsockets.NewUDPSocket(logger, types.IPVersion(7))
	require.ErrorIs(t, err, types.ErrInvalidIPVersion)
}

func TestBind(t *testing.T) {
	for _, protocol := range []types.IPProtocol{types.TCP, types.UDP} {
		for _, version := range ipVersions {
			t.Run(protocol.String()+" "+version.String(), func(t *testing.T) {
				skipIfUnsupported(t, version)

				s := newSocket(t, protocol, version)
				t.Cleanup(func() {
					require.NoError(t, s.Close())
				})

				port, err := s.Bind(loopbackIP(version), 0)
				require.NoError(t, err)
				assert.NotZero(t, port)

				local, err := s.LocalEndpoint()
				require.NoError(t, err)

				assert.Equal(t, version, local.IPVersion)
				assert.Equal(t, loopbackIP(version), local.IP)
				assert.Equal(t, port, local.Port)

				// The bound port is stable.
				local, err = s.LocalEndpoint()
				require.NoError(t, err)
				assert.Equal(t, port, local.Port)

				_, err = s.Bind(loopbackIP(version), 0)
				require.Error(t, err)
			})
		}
	}

	t.Run("All Interfaces", func(t *testing.T) {
		s := newSocket(t, types.UDP, types.IPv4)
		t.Cleanup(func() {
			require.NoError(t, s.Close())
		})

		port, err := s.BindAll(0)
		require.NoError(t, err)

		local, err := s.LocalEndpoint()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", local.IP)
		assert.Equal(t, port, local.Port)
	})

	t.Run("Address Family Mismatch", func(t *testing.T) {
		s := newSocket(t, types.UDP, types.IPv4)
		t.Cleanup(func() {
			require.NoError(t, s.Close())
		})

		_, err := s.Bind("::1", 0)
		require.Error(t, err)

		_, err = s.Bind("localhost", 0)
		require.Error(t, err)
	})

	t.Run("Port In Use", func(t *testing.T) {
		first := newSocket(t, types.TCP, types.IPv4)
		t.Cleanup(func() {
			require.NoError(t, first.Close())
		})

		port, err := first.Bind("127.0.0.1", 0)
		require.NoError(t, err)

		second := newSocket(t, types.TCP, types.IPv4)
		t.Cleanup(func() {
			require.NoError(t, second.Close())
		})

		_, err = second.Bind("127.0.0.1", port)
		require.Error(t, err)
	})
}

func TestClosedSocket(t *testing.T) {
	logger := slogt.New(t)

	tcp, err := rawsockets.NewTCPSocket(logger, types.IPv4)
	require.NoError(t, err)
	require.NoError(t, tcp.Close())

	_, err = tcp.Bind("127.0.0.1", 0)
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)

	_, err = tcp.BindAll(0)
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)

	require.ErrorIs(t, tcp.SetBlocked(false), rawsockets.ErrNotOpen)
	require.ErrorIs(t, tcp.SetTimeout(time.Second, types.DirectionBoth), rawsockets.ErrNotOpen)

	_, err = tcp.LocalEndpoint()
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)

	require.ErrorIs(t, tcp.Connect("127.0.0.1", 80), rawsockets.ErrNotOpen)
	require.ErrorIs(t, tcp.Listen(0), rawsockets.ErrNotOpen)

	_, err = tcp.Accept()
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)

	_, err = tcp.Send([]byte("hello"))
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)

	_, err = tcp.Receive(make([]byte, 16))
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)

	udp, err := rawsockets.NewUDPSocket(logger, types.IPv4)
	require.NoError(t, err)
	require.NoError(t, udp.Close())

	_, err = udp.SendTo([]byte("hello"), "127.0.0.1", 9)
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)

	_, err = udp.ReceiveFrom(make([]byte, 16), nil)
	require.ErrorIs(t, err, rawsockets.ErrNotOpen)
}

func TestSetTimeout(t *testing.T) {
	s := newSocket(t, types.UDP, types.IPv4)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	require.NoError(t, s.SetTimeout(time.Second, types.DirectionSend))
	require.NoError(t, s.SetTimeout(time.Second, types.DirectionReceive))
	require.NoError(t, s.SetTimeout(0, types.DirectionBoth))

	require.Error(t, s.SetTimeout(time.Second, 0))
}

func TestSetBlocked(t *testing.T) {
	s := newSocket(t, types.TCP, types.IPv4)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	require.NoError(t, s.SetBlocked(false))
	assert.False(t, s.IsBlocking())

	require.NoError(t, s.SetBlocked(true))
	assert.True(t, s.IsBlocking())
}

func TestFreePort(t *testing.T) {
	logger := slogt.New(t)

	for _, protocol := range []types.IPProtocol{types.TCP, types.UDP} {
		port, err := rawsockets.FreePort(logger, protocol, types.IPv4)
		require.NoError(t, err)
		assert.NotZero(t, port)
	}
}

func TestSupportsIPVersion(t *testing.T) {
	logger := slogt.New(t)

	assert.True(t, rawsockets.SupportsIPVersion(logger, types.IPv4))
	if nettest.SupportsIPv6() {
		assert.True(t, rawsockets.SupportsIPVersion(logger, types.IPv6))
	}

	assert.False(t, rawsockets.SupportsIPVersion(logger, types.IPVersionUnspecified))
}

func TestResult(t *testing.T) {
	ready := rawsockets.Ready(42)
	assert.True(t, ready.IsReady())
	assert.False(t, ready.IsWouldBlock())
	assert.Equal(t, 42, ready.Value())

	v, ok := ready.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	wouldBlock := rawsockets.WouldBlock[int]()
	assert.False(t, wouldBlock.IsReady())
	assert.True(t, wouldBlock.IsWouldBlock())

	_, ok = wouldBlock.Get()
	assert.False(t, ok)

	assert.Panics(t, func() {
		_ = wouldBlock.Value()
	})
}
