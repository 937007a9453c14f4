//go:build windows

// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package platform

import "golang.org/x/sys/windows"

// winsock tracks the number of open sockets so that Winsock is started
// before the first socket and shut down after the last one.
var winsock = &refCounter{
	startup: func() error {
		var data windows.WSAData
		return windows.WSAStartup(uint32(0x202), &data)
	},
	cleanup: windows.WSACleanup,
}
