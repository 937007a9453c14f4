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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/noisysockets/rawsockets"
	"github.com/noisysockets/rawsockets/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestTCPSocket(t *testing.T) {
	for _, version := range ipVersions {
		t.Run("Loopback "+version.String(), func(t *testing.T) {
			skipIfUnsupported(t, version)

			logger := slogt.New(t)

			listener, err := rawsockets.NewTCPSocket(logger, version)
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, listener.Close())
			})

			port, err := listener.Bind(loopbackIP(version), 0)
			require.NoError(t, err)

			require.NoError(t, listener.Listen(0))

			client, err := rawsockets.NewTCPSocket(logger, version)
			require.NoError(t, err)
			t.Cleanup(func() {
				require.NoError(t, client.Close())
			})

			require.NoError(t, client.SetTimeout(5*time.Second, types.DirectionBoth))

			var g errgroup.Group
			var remote types.Endpoint

			g.Go(func() error {
				res, err := listener.Accept()
				if err != nil {
					return err
				}

				conn := res.Value()
				defer conn.Close()

				remote = conn.RemoteEndpoint()

				if conn.IPVersion() != version {
					return fmt.Errorf("unexpected accepted socket version: %s", conn.IPVersion())
				}

				if err := conn.SetTimeout(5*time.Second, types.DirectionBoth); err != nil {
					return err
				}

				buf := make([]byte, 4)
				if err := receiveFull(conn, buf); err != nil {
					return err
				}

				if string(buf) != "ping" {
					return fmt.Errorf("unexpected request: %q", buf)
				}

				return sendAll(conn, []byte("pong"))
			})

			require.NoError(t, client.Connect(loopbackIP(version), port))
			assert.Equal(t, types.Endpoint{IPVersion: version, IP: loopbackIP(version), Port: port}, client.RemoteEndpoint())

			require.NoError(t, sendAll(client, []byte("ping")))

			buf := make([]byte, 4)
			require.NoError(t, receiveFull(client, buf))
			assert.Equal(t, "pong", string(buf))

			require.NoError(t, g.Wait())

			local, err := client.LocalEndpoint()
			require.NoError(t, err)
			assert.Equal(t, local, remote)

			// The peer has closed its end of the connection.
			res, err := client.Receive(buf)
			require.NoError(t, err)
			assert.Zero(t, res.Value())
		})
	}

	t.Run("Non Blocking Accept", func(t *testing.T) {
		logger := slogt.New(t)

		listener, err := rawsockets.NewTCPSocket(logger, types.IPv4)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, listener.Close())
		})

		port, err := listener.Bind("127.0.0.1", 0)
		require.NoError(t, err)

		require.NoError(t, listener.Listen(16))
		require.NoError(t, listener.SetBlocked(false))

		res, err := listener.Accept()
		require.NoError(t, err)
		assert.True(t, res.IsWouldBlock())

		client, err := rawsockets.NewTCPSocket(logger, types.IPv4)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, client.Close())
		})

		require.NoError(t, client.Connect("127.0.0.1", port))

		var conn *rawsockets.TCPSocket
		require.Eventually(t, func() bool {
			res, err := listener.Accept()
			if !assert.NoError(t, err) {
				return false
			}

			var ok bool
			conn, ok = res.Get()
			return ok
		}, 5*time.Second, 10*time.Millisecond)
		t.Cleanup(func() {
			require.NoError(t, conn.Close())
		})

		// Accepted sockets are always blocking, so an idle receive times out
		// rather than reporting would-block.
		assert.True(t, conn.IsBlocking())

		require.NoError(t, conn.SetTimeout(50*time.Millisecond, types.DirectionReceive))

		_, err = conn.Receive(make([]byte, 16))
		require.ErrorIs(t, err, rawsockets.ErrTimeout)
	})

	t.Run("Non Blocking Receive", func(t *testing.T) {
		logger := slogt.New(t)

		listener, err := rawsockets.NewTCPSocket(logger, types.IPv4)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, listener.Close())
		})

		port, err := listener.Bind("127.0.0.1", 0)
		require.NoError(t, err)
		require.NoError(t, listener.Listen(0))

		client, err := rawsockets.NewTCPSocket(logger, types.IPv4)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, client.Close())
		})

		require.NoError(t, client.Connect("127.0.0.1", port))

		res, err := listener.Accept()
		require.NoError(t, err)

		conn := res.Value()
		t.Cleanup(func() {
			require.NoError(t, conn.Close())
		})

		require.NoError(t, client.SetBlocked(false))

		recvRes, err := client.Receive(make([]byte, 16))
		require.NoError(t, err)
		assert.True(t, recvRes.IsWouldBlock())

		sendRes, err := conn.Send([]byte("hello"))
		require.NoError(t, err)
		require.Equal(t, 5, sendRes.Value())

		buf := make([]byte, 16)
		require.Eventually(t, func() bool {
			recvRes, err = client.Receive(buf)
			return assert.NoError(t, err) && recvRes.IsReady()
		}, 5*time.Second, 10*time.Millisecond)

		assert.Equal(t, "hello", string(buf[:recvRes.Value()]))
	})

	t.Run("Connection Refused", func(t *testing.T) {
		logger := slogt.New(t)

		port, err := rawsockets.FreePort(logger, types.TCP, types.IPv4)
		require.NoError(t, err)

		client, err := rawsockets.NewTCPSocket(logger, types.IPv4)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, client.Close())
		})

		err = client.Connect("127.0.0.1", port)
		require.Error(t, err)
		assert.ErrorContains(t, err, fmt.Sprintf("127.0.0.1:%d", port))
	})

	t.Run("Invalid Address", func(t *testing.T) {
		client, err := rawsockets.NewTCPSocket(slogt.New(t), types.IPv4)
		require.NoError(t, err)
		t.Cleanup(func() {
			require.NoError(t, client.Close())
		})

		require.Error(t, client.Connect("example.com", 80))
	})

	t.Run("Move", func(t *testing.T) {
		s, err := rawsockets.NewTCPSocket(slogt.New(t), types.IPv4)
		require.NoError(t, err)

		h := s.Handle()

		moved := s.Move()
		t.Cleanup(func() {
			require.NoError(t, moved.Close())
		})

		assert.False(t, s.IsOpen())
		assert.True(t, moved.IsOpen())
		assert.Equal(t, h, moved.Handle())
		assert.Equal(t, types.TCP, moved.Protocol())

		// The moved from socket can be reopened independently.
		require.NoError(t, s.Open())
		assert.NotEqual(t, moved.Handle(), s.Handle())
		require.NoError(t, s.Close())
	})
}

func sendAll(s *rawsockets.TCPSocket, b []byte) error {
	for len(b) > 0 {
		res, err := s.Send(b)
		if err != nil {
			return err
		}

		b = b[res.Value():]
	}

	return nil
}

func receiveFull(s *rawsockets.TCPSocket, b []byte) error {
	for len(b) > 0 {
		res, err := s.Receive(b)
		if err != nil {
			return err
		}

		n := res.Value()
		if n == 0 {
			return errors.New("connection closed")
		}

		b = b[n:]
	}

	return nil
}
