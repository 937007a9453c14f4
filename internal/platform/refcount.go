// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 The Noisy Sockets Authors.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package platform

import (
	"errors"
	"fmt"
	"sync"
)

// refCounter runs startup when the first reference is acquired and cleanup
// when the last one is released.
type refCounter struct {
	mu      sync.Mutex
	count   int
	startup func() error
	cleanup func() error
}

func (rc *refCounter) acquire() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.count == 0 && rc.startup != nil {
		if err := rc.startup(); err != nil {
			return err
		}
	}

	rc.count++

	return nil
}

func (rc *refCounter) release() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.count == 0 {
		return errors.New("released more references than were acquired")
	}

	if rc.count == 1 && rc.cleanup != nil {
		if err := rc.cleanup(); err != nil {
			return err
		}
	}

	rc.count--

	return nil
}

func (rc *refCounter) references() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.count
}

// closeWith closes a handle and drops its reference. Once closeFn succeeds the
// handle is gone, so a failed release is reported as ErrCleanup.
func (rc *refCounter) closeWith(h Handle, closeFn func(Handle) error) error {
	if err := closeFn(h); err != nil {
		return err
	}

	if err := rc.release(); err != nil {
		return fmt.Errorf("%w: %w", ErrCleanup, err)
	}

	return nil
}
