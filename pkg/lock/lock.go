// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package lock provides fail-fast exclusive locks keyed by upload ID.
//
// Acquisition never blocks: a lock that is already held is reported with
// ErrLockHeld so the client can retry. Every acquired Lock must be released
// on every exit path of the request that took it.
package lock

import (
	"context"
	"fmt"

	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
)

// ErrLockHeld is returned when another request holds the lock. It carries
// tuserr.ErrUploadAlreadyLocked.
var ErrLockHeld = fmt.Errorf("lock held: %w", tuserr.ErrUploadAlreadyLocked)

// Lock is an acquired upload lock.
type Lock interface {
	ID() upload.ID
	// Release gives the lock up. Calling it more than once is a no-op.
	Release() error
}

type Locker interface {
	// LockByURI locks the upload addressed by uri. It returns a nil Lock and
	// nil error when uri carries no upload ID.
	LockByURI(ctx context.Context, uri string) (Lock, error)
	Lock(ctx context.Context, id upload.ID) (Lock, error)
	IsLocked(ctx context.Context, id upload.ID) (bool, error)
	// CleanupStaleLocks removes abandoned lock artifacts and returns how many it removed.
	CleanupStaleLocks(ctx context.Context) (int, error)
}

func lockByURI(ctx context.Context, l Locker, ids upload.IDFactory, uri string) (Lock, error) {
	id, ok := ids.ReadIDFromURI(uri)
	if !ok {
		return nil, nil
	}
	return l.Lock(ctx, id)
}

func heldError(id upload.ID) error {
	return fmt.Errorf("%w: %s", ErrLockHeld, id)
}
