// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha512"
	"hash"
	"hash/crc32"
	"sort"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/minio/sha256-simd"
)

var (
	syncPool = sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	}

	// hasherPools is keyed by the lower-case algorithm name used in Upload-Checksum.
	hasherPools = map[string]*sync.Pool{
		"md5":       {New: func() any { return md5.New() }},
		"sha1":      {New: func() any { return sha1.New() }},
		"sha256":    {New: func() any { return sha256.New() }},
		"sha384":    {New: func() any { return sha512.New384() }},
		"sha512":    {New: func() any { return sha512.New() }},
		"crc32":     {New: func() any { return crc32.NewIEEE() }},
		"crc64nvme": {New: func() any { return crc64nvme.New() }},
	}
)

func SyncPoolGetBuffer() *bytes.Buffer {
	return syncPool.Get().(*bytes.Buffer)
}

func SyncPoolPutBuffer(buffer *bytes.Buffer) {
	buffer.Reset()
	syncPool.Put(buffer)
}

// HasherPoolGet returns a reset hasher for algorithm, or false when the
// algorithm is not supported.
func HasherPoolGet(algorithm string) (hash.Hash, bool) {
	p, ok := hasherPools[algorithm]
	if !ok {
		return nil, false
	}
	return p.Get().(hash.Hash), true
}

func HasherPoolPut(algorithm string, h hash.Hash) {
	p, ok := hasherPools[algorithm]
	if !ok || h == nil {
		return
	}
	h.Reset()
	p.Put(h)
}

// HashAlgorithms lists the supported algorithm names in sorted order.
func HashAlgorithms() []string {
	names := make([]string, 0, len(hasherPools))
	for name := range hasherPools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
