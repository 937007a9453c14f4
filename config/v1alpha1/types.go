// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package v1alpha1

import (
	"fmt"
	"time"

	configtypes "github.com/noisysockets/rawsockets/config/types"
	"github.com/noisysockets/rawsockets/types"
)

const APIVersion = "rawsockets.noisysockets.github.com/v1alpha1"

// Config is the configuration for a raw socket.
type Config struct {
	configtypes.TypeMeta `yaml:",inline"`
	// IPVersion is the IP version of the socket, either ipv4 or ipv6.
	IPVersion types.IPVersion `yaml:"ipVersion,omitempty"`
	// Protocol is the transport protocol of the socket, either tcp or udp.
	Protocol types.IPProtocol `yaml:"protocol,omitempty"`
	// Bind is the optional local endpoint to bind the socket to.
	// An endpoint without a port binds to an ephemeral port.
	Bind *types.Endpoint `yaml:"bind,omitempty"`
	// Blocking selects blocking (the default) or non-blocking mode.
	Blocking *bool `yaml:"blocking,omitempty"`
	// Timeouts are the optional send and receive timeouts of a blocking socket.
	Timeouts *TimeoutConfig `yaml:"timeouts,omitempty"`
	// Backlog is the listen backlog of a TCP socket.
	Backlog int `yaml:"backlog,omitempty"`
	// DNS is the DNS configuration used for hostname resolution.
	DNS *DNSConfig `yaml:"dns,omitempty"`
}

// TimeoutConfig is the configuration for socket timeouts.
// A zero timeout waits forever.
type TimeoutConfig struct {
	Send    time.Duration `yaml:"send,omitempty"`
	Receive time.Duration `yaml:"receive,omitempty"`
}

// DNSConfig is the configuration for DNS resolution.
type DNSConfig struct {
	// Servers is a list of DNS servers to use for DNS resolution.
	// If not specified, the system resolver will be used.
	Servers []types.Endpoint `yaml:"servers,omitempty"`
}

func (c *Config) GetAPIVersion() string {
	return APIVersion
}

func (c *Config) GetKind() string {
	return "Config"
}

func (c *Config) PopulateTypeMeta() {
	c.TypeMeta = configtypes.TypeMeta{
		APIVersion: APIVersion,
		Kind:       "Config",
	}
}

func GetConfigByKind(kind string) (configtypes.Config, error) {
	switch kind {
	case "Config":
		return &Config{}, nil
	default:
		return nil, fmt.Errorf("unsupported kind: %s", kind)
	}
}
