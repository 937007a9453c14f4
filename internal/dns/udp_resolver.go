// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package dns implements a minimal DNS over UDP stub resolver on top of
// rawsockets.UDPSocket.
package dns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdnet "net"
	"net/netip"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
	"github.com/noisysockets/rawsockets"
	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/internal/util"
	"github.com/noisysockets/rawsockets/types"
	netutil "github.com/noisysockets/rawsockets/util"
)

const (
	// DefaultPort is the port used for nameservers without one.
	DefaultPort = 53
	// DefaultTimeout bounds each query when the context has no deadline.
	DefaultTimeout = 5 * time.Second
)

var errNoSuchHost = errors.New("no such host")

// udpResolver is a DNS resolver that uses DNS over UDP.
type udpResolver struct {
	logger      *slog.Logger
	nameservers []types.Endpoint
	queryTypes  []uint16
}

// NewUDPResolver creates a new DNS resolver that uses DNS over UDP.
func NewUDPResolver(logger *slog.Logger, nameservers []types.Endpoint) address.Resolver {
	nameservers = append([]types.Endpoint(nil), nameservers...)

	// Use the default DNS port if none is specified.
	for i, ns := range nameservers {
		if ns.Port == 0 {
			nameservers[i].Port = DefaultPort
		}
	}

	return &udpResolver{
		logger:      logger,
		nameservers: nameservers,
		queryTypes:  localQueryTypes(),
	}
}

func (r *udpResolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	if len(r.nameservers) == 0 {
		return nil, &stdnet.DNSError{Err: "no nameservers configured", Name: host}
	}

	// Shuffle the nameserver list for load balancing.
	shuffledNameservers := util.Shuffled(r.nameservers)

	var addrs []netip.Addr
	var queryErr *multierror.Error

	for _, ns := range shuffledNameservers {
		for _, queryType := range r.queryTypes {
			if err := ctx.Err(); err != nil {
				queryErr = multierror.Append(queryErr, err)
				return nil, &stdnet.DNSError{Err: queryErr.Error(), Name: host}
			}

			reply, err := r.queryNameserver(ctx, ns, queryType, host)
			if err != nil {
				queryErr = multierror.Append(queryErr, err)
				continue
			}

			for _, rr := range reply.Answer {
				switch rr := rr.(type) {
				case *dns.A:
					if addr, ok := netip.AddrFromSlice(rr.A.To4()); ok {
						addrs = append(addrs, addr)
					}
				case *dns.AAAA:
					if addr, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
						addrs = append(addrs, addr)
					}
				}
			}
		}

		if len(addrs) > 0 {
			return addrs, nil
		}
	}

	if queryErr != nil {
		return nil, &stdnet.DNSError{Err: queryErr.Error(), Name: host}
	}

	return nil, &stdnet.DNSError{Err: errNoSuchHost.Error(), Name: host, IsNotFound: true}
}

func (r *udpResolver) queryNameserver(ctx context.Context, nameserver types.Endpoint, queryType uint16, host string) (*dns.Msg, error) {
	logger := r.logger.With(slog.String("nameserver", nameserver.String()),
		slog.String("type", dns.TypeToString[queryType]))

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}

	sock, err := rawsockets.NewUDPSocket(logger, nameserver.IPVersion)
	if err != nil {
		return nil, fmt.Errorf("could not create socket: %w", err)
	}
	defer sock.Close()

	if err := setRemainingTimeout(ctx, sock, deadline, types.DirectionBoth); err != nil {
		return nil, err
	}

	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(host), queryType)

	packed, err := req.Pack()
	if err != nil {
		return nil, fmt.Errorf("could not pack query: %w", err)
	}

	logger.Debug("Querying nameserver", slog.String("host", host))

	if _, err := sock.SendTo(packed, nameserver.IP, nameserver.Port); err != nil {
		return nil, fmt.Errorf("could not query DNS server %s: %w", nameserver, err)
	}

	buf := make([]byte, dns.MaxMsgSize)
	for {
		// Stray datagrams must not extend the query past its deadline.
		if err := setRemainingTimeout(ctx, sock, deadline, types.DirectionReceive); err != nil {
			return nil, err
		}

		var source types.Endpoint
		res, err := sock.ReceiveFrom(buf, &source)
		if err != nil {
			return nil, fmt.Errorf("could not read reply from DNS server %s: %w", nameserver, err)
		}

		// Ignore stray datagrams.
		if !sameEndpoint(source, nameserver) {
			logger.Debug("Ignoring datagram from unexpected source", slog.String("source", source.String()))
			continue
		}

		reply := new(dns.Msg)
		if err := reply.Unpack(buf[:res.Value()]); err != nil {
			return nil, fmt.Errorf("could not unpack reply from DNS server %s: %w", nameserver, err)
		}

		if reply.Id != req.Id {
			continue
		}

		switch reply.Rcode {
		case dns.RcodeSuccess:
			return reply, nil
		case dns.RcodeNameError:
			return nil, errNoSuchHost
		default:
			return nil, fmt.Errorf("DNS server %s replied with %s", nameserver, dns.RcodeToString[reply.Rcode])
		}
	}
}

func setRemainingTimeout(ctx context.Context, sock *rawsockets.UDPSocket, deadline time.Time, direction types.Direction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return context.DeadlineExceeded
	}

	return sock.SetTimeout(remaining, direction)
}

func sameEndpoint(a, b types.Endpoint) bool {
	addrA, errA := netip.ParseAddr(a.IP)
	addrB, errB := netip.ParseAddr(b.IP)
	return errA == nil && errB == nil && addrA == addrB && a.Port == b.Port
}

// localQueryTypes selects the record types worth asking for based on the
// address families configured on this host.
func localQueryTypes() []uint16 {
	// On error addrs is empty and both types are queried.
	addrs, _ := address.InterfaceAddrs()

	var queryTypes []uint16
	if netutil.HasIPv4(addrs) {
		queryTypes = append(queryTypes, dns.TypeA)
	}
	if netutil.HasIPv6(addrs) {
		queryTypes = append(queryTypes, dns.TypeAAAA)
	}

	if len(queryTypes) == 0 {
		queryTypes = []uint16{dns.TypeA, dns.TypeAAAA}
	}

	return queryTypes
}
