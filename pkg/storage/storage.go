// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage persists upload records and their bytes.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
)

// ErrNotFound is returned when no upload exists for an ID and owner key.
// It carries tuserr.ErrUploadNotFound.
var ErrNotFound = fmt.Errorf("storage: %w", tuserr.ErrUploadNotFound)

// Storage is everything the protocol engine needs from persistence.
// Info values are passed and returned by value; callers persist changes
// explicitly through Update.
type Storage interface {
	// Get returns the upload with id if it belongs to ownerKey.
	Get(ctx context.Context, id upload.ID, ownerKey string) (upload.Info, error)
	// GetByURI resolves the upload ID embedded in uri first.
	GetByURI(ctx context.Context, uri, ownerKey string) (upload.Info, error)

	// Create assigns a fresh ID to info and stores it with a zero offset.
	Create(ctx context.Context, info upload.Info, ownerKey string) (upload.Info, error)
	Update(ctx context.Context, info upload.Info) error

	// Append stores bytes from r at the current offset and returns the
	// updated info. Bytes beyond a known length are not read. When r fails midway the bytes received so far are kept,
	// the offset reflects them and the read error is returned as well.
	Append(ctx context.Context, info upload.Info, r io.Reader) (upload.Info, error)
	// RemoveLastBytes discards the n most recently appended bytes.
	RemoveLastBytes(ctx context.Context, info upload.Info, n int64) (upload.Info, error)

	// CopyTo writes the complete content of the upload to w.
	CopyTo(ctx context.Context, info upload.Info, w io.Writer) error
	// UploadedBytes streams the bytes stored so far for a regular or partial upload.
	UploadedBytes(ctx context.Context, id upload.ID) (io.ReadCloser, error)

	Terminate(ctx context.Context, info upload.Info) error

	// ForEach calls fn for every stored upload regardless of owner.
	ForEach(ctx context.Context, fn func(upload.Info) error) error

	// MaxUploadSize is the largest accepted upload length, 0 when unbounded.
	MaxUploadSize() int64
	// ExpirationPeriod is how long an idle upload lives, 0 when uploads never expire.
	ExpirationPeriod() time.Duration
	UploadURI() string
	IDFactory() upload.IDFactory
}

// Concatenator assembles the bytes of concatenated uploads from their parts.
// ok is false while any part is still in progress.
type Concatenator interface {
	ConcatenatedBytes(ctx context.Context, info upload.Info) (rc io.ReadCloser, ok bool, err error)
}
