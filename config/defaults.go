// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package config

import (
	"github.com/noisysockets/rawsockets"
	latestconfig "github.com/noisysockets/rawsockets/config/v1alpha1"
	"github.com/noisysockets/rawsockets/internal/dns"
	"github.com/noisysockets/rawsockets/types"
)

const (
	// DefaultBacklog is the default listen backlog.
	DefaultBacklog = rawsockets.DefaultBacklog
	// DefaultDNSPort is the port used for DNS servers without one.
	DefaultDNSPort = dns.DefaultPort
)

// Default returns the default configuration, a blocking IPv4 TCP socket.
func Default() *latestconfig.Config {
	conf := &latestconfig.Config{}
	conf.PopulateTypeMeta()

	ApplyDefaults(conf)

	return conf
}

// ApplyDefaults fills in any unset fields of the given config.
func ApplyDefaults(conf *latestconfig.Config) {
	if conf.IPVersion == types.IPVersionUnspecified {
		conf.IPVersion = types.IPv4
	}

	if conf.Protocol == 0 {
		conf.Protocol = types.TCP
	}

	if conf.Blocking == nil {
		blocking := true
		conf.Blocking = &blocking
	}

	if conf.Backlog <= 0 {
		conf.Backlog = DefaultBacklog
	}

	if conf.DNS != nil {
		for i, server := range conf.DNS.Servers {
			if server.Port == 0 {
				conf.DNS.Servers[i].Port = DefaultDNSPort
			}
		}
	}
}
