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
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cheggaaa/pb/v3"
	"github.com/hashicorp/go-multierror"
	"github.com/noisysockets/rawsockets"
	"github.com/noisysockets/rawsockets/address"
	latestconfig "github.com/noisysockets/rawsockets/config/v1alpha1"
	"github.com/noisysockets/rawsockets/types"
	"github.com/rogpeppe/go-internal/par"
	"golang.org/x/sync/errgroup"
)

const (
	nRequests          = 10000
	nConcurrent        = 10
	defaultMessageSize = 512
	// Largest UDP payload that fits in a single IPv4 datagram.
	maxMessageSize = 65507
	requestTimeout = time.Second
)

type benchmarkOptions struct {
	requests    int
	concurrency int
	size        int
}

func runBenchmark(ctx context.Context, logger *slog.Logger, conf *latestconfig.Config, opts benchmarkOptions) error {
	if opts.requests <= 0 || opts.concurrency <= 0 {
		return errors.New("requests and concurrency must be positive")
	}

	if opts.size <= 0 || opts.size > maxMessageSize {
		return fmt.Errorf("size must be between 1 and %d bytes", maxMessageSize)
	}

	server, err := rawsockets.NewUDPSocket(logger, conf.IPVersion)
	if err != nil {
		return fmt.Errorf("failed to create server socket: %w", err)
	}
	defer server.Close()

	loopback := address.Loopback(conf.IPVersion, 0).Endpoint()

	port, err := server.Bind(loopback.IP, 0)
	if err != nil {
		return err
	}

	// Wake up periodically to notice cancellation.
	if err := server.SetTimeout(100*time.Millisecond, types.DirectionReceive); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return echo(ctx, server)
	})

	payload := make([]byte, opts.size)
	if _, err := rand.Read(payload); err != nil {
		return fmt.Errorf("failed to read random data: %w", err)
	}

	var work par.Work
	for i := 0; i < opts.requests; i++ {
		work.Add(i)
	}

	var errsMu sync.Mutex
	var errs *multierror.Error

	var roundTripDurationsMu sync.Mutex
	roundTripDurations := hdrhistogram.New(1, requestTimeout.Microseconds(), 3)

	bar := pb.StartNew(opts.requests)

	startTime := time.Now()
	work.Do(opts.concurrency, func(item any) {
		defer bar.Increment()

		roundTripDuration, err := roundTrip(logger, conf.IPVersion, loopback.IP, port, payload)
		if err != nil {
			errsMu.Lock()
			errs = multierror.Append(errs, fmt.Errorf("request %d: %w", item.(int), err))
			errsMu.Unlock()
			return
		}

		roundTripDurationsMu.Lock()
		if err := roundTripDurations.RecordValue(roundTripDuration.Microseconds()); err != nil {
			logger.Error("Failed to record round trip duration", "error", err)
		}
		roundTripDurationsMu.Unlock()
	})
	totalDuration := time.Since(startTime)

	bar.Finish()

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("echo server failed: %w", err)
	}

	var nErrors int
	if errs != nil {
		nErrors = len(errs.Errors)
		fmt.Println("Errors:")
		for _, err := range errs.Errors {
			fmt.Println(err)
		}
	}

	fmt.Printf("Total round trips: %d\n", opts.requests)
	fmt.Printf("Total errors: %d\n", nErrors)
	fmt.Printf("Total duration: %.2fs\n", totalDuration.Seconds())
	fmt.Printf("Round trips per second: %.2f\n", float64(opts.requests)/totalDuration.Seconds())

	fmt.Println("Round trip durations:")
	fmt.Printf("  Median: %dµs\n", roundTripDurations.ValueAtQuantile(50))
	fmt.Printf("  95th: %dµs\n", roundTripDurations.ValueAtQuantile(95))
	fmt.Printf("  99th: %dµs\n", roundTripDurations.ValueAtQuantile(99))
	fmt.Printf("  99.9th: %dµs\n", roundTripDurations.ValueAtQuantile(99.9))
	fmt.Printf("  Max: %dµs\n", roundTripDurations.Max())

	return nil
}

// echo sends every datagram it receives back to its source.
func echo(ctx context.Context, s *rawsockets.UDPSocket) error {
	buf := make([]byte, maxMessageSize)
	for ctx.Err() == nil {
		var source types.Endpoint
		res, err := s.ReceiveFrom(buf, &source)
		if errors.Is(err, rawsockets.ErrTimeout) {
			continue
		} else if err != nil {
			return err
		}

		if _, err := s.SendTo(buf[:res.Value()], source.IP, source.Port); err != nil {
			return err
		}
	}

	return ctx.Err()
}

func roundTrip(logger *slog.Logger, version types.IPVersion, ip string, port uint16, payload []byte) (time.Duration, error) {
	s, err := rawsockets.NewUDPSocket(logger, version)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	if err := s.SetTimeout(requestTimeout, types.DirectionBoth); err != nil {
		return 0, err
	}

	buf := make([]byte, len(payload)+1)

	startTime := time.Now()

	if _, err := s.SendTo(payload, ip, port); err != nil {
		return 0, err
	}

	res, err := s.ReceiveFrom(buf, nil)
	if err != nil {
		return 0, err
	}

	duration := time.Since(startTime)

	if !bytes.Equal(buf[:res.Value()], payload) {
		return 0, errors.New("echoed datagram does not match")
	}

	return duration, nil
}
