// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package types

import "strings"

// Direction is a set of data transfer directions.
type Direction uint8

const (
	DirectionSend Direction = 1 << iota
	DirectionReceive

	DirectionBoth = DirectionSend | DirectionReceive
)

// IsSet returns true if every flag in other is also set in d.
func (d Direction) IsSet(other Direction) bool {
	return other != 0 && d&other == other
}

// IsEmpty returns true if no direction is set.
func (d Direction) IsEmpty() bool {
	return d&DirectionBoth == 0
}

func (d Direction) String() string {
	var parts []string
	if d.IsSet(DirectionSend) {
		parts = append(parts, "send")
	}
	if d.IsSet(DirectionReceive) {
		parts = append(parts, "receive")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
