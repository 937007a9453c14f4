// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/noisysockets/rawsockets"
	"github.com/noisysockets/rawsockets/address"
	"github.com/noisysockets/rawsockets/config"
	latestconfig "github.com/noisysockets/rawsockets/config/v1alpha1"
	"github.com/noisysockets/rawsockets/internal/dns"
	"github.com/noisysockets/rawsockets/internal/util"
	"github.com/noisysockets/rawsockets/types"
	netutil "github.com/noisysockets/rawsockets/util"
	"github.com/urfave/cli/v2"
)

const (
	pollInterval = 10 * time.Millisecond
	bufferSize   = 64 * 1024
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	conf := config.Default()

	sharedFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "The configuration file to use",
		},
		&cli.GenericFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Set the log level",
			Value:   fromLogLevel(slog.LevelInfo),
		},
		&cli.BoolFlag{
			Name:    "ipv6",
			Aliases: []string{"6"},
			Usage:   "Use IPv6 regardless of the configured IP version",
		},
	}

	before := func(c *cli.Context) error {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: (*slog.Level)(c.Generic("log-level").(*logLevelFlag)),
		}))

		if path := c.String("config"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open config: %w", err)
			}
			defer f.Close()

			conf, err = config.FromYAML(f)
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}

		if c.Bool("ipv6") {
			conf.IPVersion = types.IPv6
		}

		config.ApplyDefaults(conf)

		return nil
	}

	dnsServerFlag := &cli.StringSliceFlag{
		Name:  "dns-server",
		Usage: "Resolve hostnames using the given DNS server(s) instead of the system resolver",
	}

	app := &cli.App{
		Name:  "rawsock",
		Usage: "Exercise raw TCP and UDP sockets",
		Commands: []*cli.Command{
			{
				Name:  "listen",
				Usage: "Accept a single TCP connection and copy what it sends to stdout",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "bind",
						Aliases: []string{"b"},
						Usage:   "The local endpoint to listen on",
					},
				}, sharedFlags...),
				Before: before,
				Action: func(c *cli.Context) error {
					lis, err := rawsockets.NewTCPSocket(logger, conf.IPVersion)
					if err != nil {
						return fmt.Errorf("failed to create socket: %w", err)
					}
					defer lis.Close()

					if err := configureSocket(lis.Socket, conf); err != nil {
						return err
					}

					bind, err := bindEndpoint(c.String("bind"), conf)
					if err != nil {
						return err
					}

					port, err := lis.Bind(bind.IP, bind.Port)
					if err != nil {
						return err
					}

					if err := lis.Listen(conf.Backlog); err != nil {
						return err
					}

					logger.Info("Listening for TCP connections", "port", port)

					conn, err := poll(lis.Accept)
					if err != nil {
						return err
					}
					defer conn.Close()

					logger.Info("Accepted connection", "remote", conn.RemoteEndpoint())

					return receiveAll(conn, os.Stdout)
				},
			},
			{
				Name:      "connect",
				Usage:     "Connect to a TCP endpoint and send stdin",
				ArgsUsage: "<host> <port>",
				Flags:     append([]cli.Flag{dnsServerFlag}, sharedFlags...),
				Before:    before,
				Action: func(c *cli.Context) error {
					remote, err := resolveArgs(c, logger, conf)
					if err != nil {
						return err
					}

					conn, err := rawsockets.NewTCPSocket(logger, remote.IPVersion)
					if err != nil {
						return fmt.Errorf("failed to create socket: %w", err)
					}
					defer conn.Close()

					if err := configureTimeouts(conn.Socket, conf); err != nil {
						return err
					}

					if err := conn.Connect(remote.IP, remote.Port); err != nil {
						return err
					}

					logger.Info("Connected", "remote", remote)

					if err := configureBlocking(conn.Socket, conf); err != nil {
						return err
					}

					return sendAll(conn, os.Stdin)
				},
			},
			{
				Name:      "send",
				Usage:     "Send a single UDP datagram, read from stdin if no message is given",
				ArgsUsage: "<host> <port> [message]",
				Flags:     append([]cli.Flag{dnsServerFlag}, sharedFlags...),
				Before:    before,
				Action: func(c *cli.Context) error {
					remote, err := resolveArgs(c, logger, conf)
					if err != nil {
						return err
					}

					var msg []byte
					if c.NArg() > 2 {
						msg = []byte(c.Args().Get(2))
					} else {
						msg, err = io.ReadAll(io.LimitReader(os.Stdin, bufferSize))
						if err != nil {
							return fmt.Errorf("failed to read message: %w", err)
						}
					}

					sock, err := rawsockets.NewUDPSocket(logger, remote.IPVersion)
					if err != nil {
						return fmt.Errorf("failed to create socket: %w", err)
					}
					defer sock.Close()

					if err := configureSocket(sock.Socket, conf); err != nil {
						return err
					}

					if conf.Bind != nil {
						if _, err := sock.Bind(conf.Bind.IP, conf.Bind.Port); err != nil {
							return err
						}
					}

					n, err := poll(func() (rawsockets.Result[int], error) {
						return sock.SendTo(msg, remote.IP, remote.Port)
					})
					if err != nil {
						return err
					}

					logger.Info("Sent datagram", "remote", remote, "bytes", n)

					return nil
				},
			},
			{
				Name:  "recv",
				Usage: "Receive UDP datagrams and print them with their source endpoint",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "bind",
						Aliases: []string{"b"},
						Usage:   "The local endpoint to receive on",
					},
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "The number of datagrams to receive, zero for unlimited",
						Value:   1,
					},
				}, sharedFlags...),
				Before: before,
				Action: func(c *cli.Context) error {
					sock, err := rawsockets.NewUDPSocket(logger, conf.IPVersion)
					if err != nil {
						return fmt.Errorf("failed to create socket: %w", err)
					}
					defer sock.Close()

					if err := configureSocket(sock.Socket, conf); err != nil {
						return err
					}

					bind, err := bindEndpoint(c.String("bind"), conf)
					if err != nil {
						return err
					}

					port, err := sock.Bind(bind.IP, bind.Port)
					if err != nil {
						return err
					}

					logger.Info("Receiving UDP datagrams", "port", port)

					buf := make([]byte, bufferSize)
					for i := 0; c.Int("count") == 0 || i < c.Int("count"); i++ {
						var source types.Endpoint
						n, err := poll(func() (rawsockets.Result[int], error) {
							return sock.ReceiveFrom(buf, &source)
						})
						if err != nil {
							return err
						}

						fmt.Printf("%s: %s\n", source, buf[:n])
					}

					return nil
				},
			},
			{
				Name:      "resolve",
				Usage:     "Resolve a hostname or URL to an endpoint",
				ArgsUsage: "<name> [port]",
				Flags:     append([]cli.Flag{dnsServerFlag}, sharedFlags...),
				Before:    before,
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return errors.New("missing name")
					}

					var port uint16
					if c.NArg() > 1 {
						p, err := strconv.ParseUint(c.Args().Get(1), 10, 16)
						if err != nil {
							return fmt.Errorf("invalid port: %w", err)
						}
						port = uint16(p)
					}

					resolver, err := newResolver(c, logger, conf)
					if err != nil {
						return err
					}

					ep, ok := address.ResolveHostname(c.Context, resolver, c.Args().First(), port, conf.IPVersion)
					if !ok {
						return fmt.Errorf("could not resolve %q", c.Args().First())
					}

					fmt.Println(ep)

					return nil
				},
			},
			{
				Name:   "local-ip",
				Usage:  "Print a non-loopback IP address of this host",
				Flags:  sharedFlags,
				Before: before,
				Action: func(c *cli.Context) error {
					ip, err := address.LocalIPAddress(conf.IPVersion)
					if err != nil {
						return err
					}

					fmt.Println(ip)

					return nil
				},
			},
			{
				Name:   "free-port",
				Usage:  "Print a port that is currently free for the configured protocol",
				Flags:  sharedFlags,
				Before: before,
				Action: func(c *cli.Context) error {
					port, err := rawsockets.FreePort(logger, conf.Protocol, conf.IPVersion)
					if err != nil {
						return err
					}

					fmt.Println(port)

					return nil
				},
			},
			{
				Name:  "bench",
				Usage: "Measure UDP round trip latency over the loopback interface",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "requests",
						Usage: "The number of round trips",
						Value: nRequests,
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "The number of concurrent clients",
						Value: nConcurrent,
					},
					&cli.IntFlag{
						Name:  "size",
						Usage: "The size of each datagram in bytes",
						Value: defaultMessageSize,
					},
				}, sharedFlags...),
				Before: before,
				Action: func(c *cli.Context) error {
					return runBenchmark(c.Context, logger, conf, benchmarkOptions{
						requests:    c.Int("requests"),
						concurrency: c.Int("concurrency"),
						size:        c.Int("size"),
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("Failed to run app", "error", err)
		return 1
	}

	return 0
}

func configureSocket(s *rawsockets.Socket, conf *latestconfig.Config) error {
	if err := configureTimeouts(s, conf); err != nil {
		return err
	}

	return configureBlocking(s, conf)
}

func configureTimeouts(s *rawsockets.Socket, conf *latestconfig.Config) error {
	if conf.Timeouts == nil {
		return nil
	}

	if err := s.SetTimeout(conf.Timeouts.Send, types.DirectionSend); err != nil {
		return err
	}

	return s.SetTimeout(conf.Timeouts.Receive, types.DirectionReceive)
}

func configureBlocking(s *rawsockets.Socket, conf *latestconfig.Config) error {
	if conf.Blocking == nil || *conf.Blocking {
		return nil
	}

	return s.SetBlocked(false)
}

func bindEndpoint(flag string, conf *latestconfig.Config) (types.Endpoint, error) {
	if flag != "" {
		var ep types.Endpoint
		if err := ep.UnmarshalText([]byte(flag)); err != nil {
			return types.Endpoint{}, err
		}

		if ep.IPVersion != conf.IPVersion {
			return types.Endpoint{}, fmt.Errorf("bind endpoint %s is not an %s address", ep, conf.IPVersion)
		}

		return ep, nil
	}

	if conf.Bind != nil {
		return *conf.Bind, nil
	}

	return types.Endpoint{IPVersion: conf.IPVersion}, nil
}

func newResolver(c *cli.Context, logger *slog.Logger, conf *latestconfig.Config) (address.Resolver, error) {
	servers, err := netutil.ParseEndpointList(c.StringSlice("dns-server"))
	if err != nil {
		return nil, err
	}

	if len(servers) == 0 && conf.DNS != nil {
		servers = conf.DNS.Servers
	}

	if len(servers) == 0 {
		return address.SystemResolver(), nil
	}

	logger.Debug("Using DNS servers", "servers", util.Strings(servers))

	return dns.NewUDPResolver(logger, servers), nil
}

func resolveArgs(c *cli.Context, logger *slog.Logger, conf *latestconfig.Config) (types.Endpoint, error) {
	if c.NArg() < 2 {
		return types.Endpoint{}, errors.New("missing host and port")
	}

	port, err := strconv.ParseUint(c.Args().Get(1), 10, 16)
	if err != nil {
		return types.Endpoint{}, fmt.Errorf("invalid port: %w", err)
	}

	resolver, err := newResolver(c, logger, conf)
	if err != nil {
		return types.Endpoint{}, err
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	host := c.Args().First()
	remote, ok := address.ResolveHostname(ctx, resolver, host, uint16(port), conf.IPVersion)
	if !ok {
		return types.Endpoint{}, fmt.Errorf("could not resolve %q to an %s address", host, conf.IPVersion)
	}

	return remote, nil
}

// poll retries an operation until it stops reporting would-block.
func poll[T any](op func() (rawsockets.Result[T], error)) (T, error) {
	for {
		res, err := op()
		if err != nil {
			var zero T
			return zero, err
		}

		if v, ok := res.Get(); ok {
			return v, nil
		}

		time.Sleep(pollInterval)
	}
}

func sendAll(conn *rawsockets.TCPSocket, r io.Reader) error {
	buf := make([]byte, bufferSize)
	for {
		n, readErr := r.Read(buf)

		b := buf[:n]
		for len(b) > 0 {
			sent, err := poll(func() (rawsockets.Result[int], error) {
				return conn.Send(b)
			})
			if err != nil {
				return err
			}

			b = b[sent:]
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		} else if readErr != nil {
			return fmt.Errorf("failed to read input: %w", readErr)
		}
	}
}

func receiveAll(conn *rawsockets.TCPSocket, w io.Writer) error {
	buf := make([]byte, bufferSize)
	for {
		n, err := poll(func() (rawsockets.Result[int], error) {
			return conn.Receive(buf)
		})
		if err != nil {
			return err
		}

		// The peer closed the connection.
		if n == 0 {
			return nil
		}

		if _, err := w.Write(buf[:n]); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
}

type logLevelFlag slog.Level

func fromLogLevel(l slog.Level) *logLevelFlag {
	f := logLevelFlag(l)
	return &f
}

func (f *logLevelFlag) Set(value string) error {
	return (*slog.Level)(f).UnmarshalText([]byte(value))
}

func (f *logLevelFlag) String() string {
	return (*slog.Level)(f).String()
}
