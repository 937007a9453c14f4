// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rawsockets

import "errors"

var (
	// ErrNotOpen is returned when operating on a closed socket.
	ErrNotOpen = errors.New("socket is not open")
	// ErrAlreadyOpen is returned when opening a socket that is already open.
	ErrAlreadyOpen = errors.New("socket is already open")
	// ErrTimeout is returned when a blocking send or receive exceeds the
	// configured socket timeout.
	ErrTimeout = errors.New("socket operation timed out")
)
