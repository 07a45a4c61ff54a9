// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package backend

import "os"

func syncData(f *os.File) error {
	return f.Sync()
}

// syncDir is a no-op where directories cannot be fsynced portably.
func syncDir(string) error {
	return nil
}
