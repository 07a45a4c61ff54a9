// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("index: key not found")

type Indexer[K comparable, V any] interface {
	io.Closer
	Put(key K, value V) error
	Get(key K) (V, error)
	Delete(key K) error
	Iterate(func(key K, value V) error) error

	// Stream sends every value accepted by filter. A nil filter accepts all.
	Stream(filter func(value V) bool) <-chan V

	// PutSync writes with immediate fsync (slower but durable).
	PutSync(key K, value V) error

	// DeleteSync deletes with immediate fsync.
	DeleteSync(key K) error

	// Destroy removes the underlying index files
	Destroy() error
}

// StringKey returns the byte codecs for string-like keys.
func StringKey[K ~string]() (func(K) []byte, func([]byte) (K, error)) {
	return func(k K) []byte { return []byte(k) },
		func(b []byte) (K, error) { return K(b), nil }
}
