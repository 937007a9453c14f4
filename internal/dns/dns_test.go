// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dns_test

import (
	"context"
	"errors"
	stdnet "net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/neilotoole/slogt"
	"github.com/noisysockets/rawsockets"
	"github.com/noisysockets/rawsockets/address"
	rawdns "github.com/noisysockets/rawsockets/internal/dns"
	"github.com/noisysockets/rawsockets/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPResolver(t *testing.T) {
	nameserver := startNameserver(t)

	logger := slogt.New(t)
	resolver := rawdns.NewUDPResolver(logger, []types.Endpoint{nameserver})

	t.Run("Lookup Host", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)

		addrs, err := resolver.LookupHost(ctx, "www.noisysockets.github.com")
		require.NoError(t, err)

		assert.Contains(t, addrs, netip.MustParseAddr("192.168.1.2"))
	})

	t.Run("Resolve Hostname", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)

		ep, ok := address.ResolveHostname(ctx, resolver, "https://www.noisysockets.github.com/index.html", 443, types.IPv4)
		require.True(t, ok)

		assert.Equal(t, "192.168.1.2:443", ep.String())
	})

	t.Run("No Such Host", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		t.Cleanup(cancel)

		_, err := resolver.LookupHost(ctx, "nonexistent.example.com")
		require.Error(t, err)

		var dnsErr *stdnet.DNSError
		require.True(t, errors.As(err, &dnsErr))
		assert.Equal(t, "nonexistent.example.com", dnsErr.Name)

		_, ok := address.ResolveHostname(ctx, resolver, "nonexistent.example.com", 80, types.IPVersionUnspecified)
		assert.False(t, ok)
	})

	t.Run("Unreachable Nameserver", func(t *testing.T) {
		port, err := rawsockets.FreePort(logger, types.UDP, types.IPv4)
		require.NoError(t, err)

		resolver := rawdns.NewUDPResolver(logger, []types.Endpoint{
			{IPVersion: types.IPv4, IP: "127.0.0.1", Port: port},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		t.Cleanup(cancel)

		_, err = resolver.LookupHost(ctx, "www.noisysockets.github.com")
		require.Error(t, err)
	})

	t.Run("Mismatched Replies", func(t *testing.T) {
		noisy := startMismatchedNameserver(t)

		resolver := rawdns.NewUDPResolver(logger, []types.Endpoint{noisy})

		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		t.Cleanup(cancel)

		start := time.Now()
		_, err := resolver.LookupHost(ctx, "www.noisysockets.github.com")
		require.Error(t, err)

		// The reply stream never stops, only the deadline ends the query.
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("No Nameservers", func(t *testing.T) {
		resolver := rawdns.NewUDPResolver(logger, nil)

		_, err := resolver.LookupHost(context.Background(), "www.noisysockets.github.com")
		require.Error(t, err)
	})
}

// startNameserver runs an in-process authoritative nameserver on the IPv4
// loopback address.
func startNameserver(t *testing.T) types.Endpoint {
	t.Helper()

	pc, err := stdnet.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("www.noisysockets.github.com.", func(w dns.ResponseWriter, req *dns.Msg) {
		reply := new(dns.Msg)
		reply.SetReply(req)

		q := req.Question[0]
		hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: 60}

		switch q.Qtype {
		case dns.TypeA:
			reply.Answer = append(reply.Answer, &dns.A{Hdr: hdr, A: stdnet.ParseIP("192.168.1.2")})
		case dns.TypeAAAA:
			reply.Answer = append(reply.Answer, &dns.AAAA{Hdr: hdr, AAAA: stdnet.ParseIP("2001:db8::1")})
		}

		_ = w.WriteMsg(reply)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		reply := new(dns.Msg)
		reply.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(reply)
	})

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           mux,
		NotifyStartedFunc: func() { close(started) },
	}

	go func() {
		_ = srv.ActivateAndServe()
	}()
	<-started

	t.Cleanup(func() {
		_ = srv.Shutdown()
	})

	udpAddr := pc.LocalAddr().(*stdnet.UDPAddr)

	return types.Endpoint{
		IPVersion: types.IPv4,
		IP:        "127.0.0.1",
		Port:      uint16(udpAddr.Port),
	}
}

// startMismatchedNameserver runs a nameserver that answers the first query it
// receives with an endless stream of replies carrying the wrong message id.
func startMismatchedNameserver(t *testing.T) types.Endpoint {
	t.Helper()

	pc, err := stdnet.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		_ = pc.Close()
	})

	go func() {
		buf := make([]byte, dns.MaxMsgSize)
		n, src, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}

		req := new(dns.Msg)
		if err := req.Unpack(buf[:n]); err != nil {
			return
		}

		reply := new(dns.Msg)
		reply.SetReply(req)
		reply.Id = req.Id + 1

		packed, err := reply.Pack()
		if err != nil {
			return
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := pc.WriteTo(packed, src); err != nil {
					return
				}
			}
		}
	}()

	udpAddr := pc.LocalAddr().(*stdnet.UDPAddr)

	return types.Endpoint{
		IPVersion: types.IPv4,
		IP:        "127.0.0.1",
		Port:      uint16(udpAddr.Port),
	}
}
