// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rawsockets

// Result is the outcome of an operation that may not be able to complete
// immediately on a non-blocking socket. It either holds a value or reports
// that the operation would block.
//
// Hard failures are reported through a separate error return, when that
// error is non-nil the Result must be ignored.
type Result[T any] struct {
	value T
	ready bool
}

// Ready returns a Result holding v.
func Ready[T any](v T) Result[T] {
	return Result[T]{value: v, ready: true}
}

// WouldBlock returns a Result signalling that the operation would block.
func WouldBlock[T any]() Result[T] {
	return Result[T]{}
}

// IsReady returns true if the Result holds a value.
func (r Result[T]) IsReady() bool {
	return r.ready
}

// IsWouldBlock returns true if the operation would have blocked.
func (r Result[T]) IsWouldBlock() bool {
	return !r.ready
}

// Get returns the value and whether it is present.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.ready
}

// Value returns the value, it panics if the operation would have blocked.
func (r Result[T]) Value() T {
	if !r.ready {
		panic("rawsockets: value of a would-block result")
	}
	return r.value
}

func (r Result[T]) String() string {
	if !r.ready {
		return "would block"
	}
	return "ready"
}
