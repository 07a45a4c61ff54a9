// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"slices"
	"time"
)

// Type is how an upload takes part in concatenation.
type Type int

const (
	TypeRegular Type = iota
	TypePartial
	TypeConcatenated
)

func (t Type) String() string {
	switch t {
	case TypePartial:
		return "partial"
	case TypeConcatenated:
		return "concatenated"
	default:
		return "regular"
	}
}

const DefaultContentType = "application/octet-stream"

var (
	fileNameKeys = []string{"filename", "name"}
	mimeTypeKeys = []string{"mimetype", "filetype", "type"}
)

// Info is the persisted state of one upload.
//
// A Length of zero means the length is not known yet, either because the
// client deferred it or because it depends on a concatenation that has not
// been resolved. Offset never exceeds a known Length.
type Info struct {
	ID     ID
	Offset int64
	Length int64
	Type   Type

	// ConcatPartIDs is the ordered list of partial uploads a concatenated
	// upload is made of.
	ConcatPartIDs []string
	// ConcatHeader is the Upload-Concat value the upload was created with.
	ConcatHeader string

	Metadata           Metadata
	OwnerKey           string
	CreatorIPAddresses string
	CreatedAt          time.Time
	ExpiresAt          time.Time
}

// NewInfo returns an empty upload created now.
func NewInfo(creatorIPs string) Info {
	return Info{
		Metadata:           make(Metadata),
		CreatorIPAddresses: creatorIPs,
		CreatedAt:          time.Now(),
	}
}

// SetLength sets the total length. Values <= 0 clear it.
func (i *Info) SetLength(n int64) {
	if n <= 0 {
		n = 0
	}
	i.Length = n
}

func (i Info) HasLength() bool {
	return i.Length > 0
}

func (i Info) HasMetadata() bool {
	return len(i.Metadata) > 0
}

// InProgress reports whether bytes are still expected. An upload without a
// known length is always in progress.
func (i Info) InProgress() bool {
	return !i.HasLength() || i.Offset != i.Length
}

// IsExpired reports whether an expiration was set and lies before now.
func (i Info) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && i.ExpiresAt.Before(now)
}

// FileName guesses a file name from the metadata, falling back to the upload ID.
func (i Info) FileName() string {
	for _, key := range fileNameKeys {
		if v, ok := i.Metadata.Value(key); ok {
			return v
		}
	}
	return i.ID.String()
}

// ContentType guesses a MIME type from the metadata.
func (i Info) ContentType() string {
	for _, key := range mimeTypeKeys {
		if v, ok := i.Metadata.Value(key); ok && v != "" {
			return v
		}
	}
	return DefaultContentType
}

// Clone returns a copy that shares no mutable state with i.
func (i Info) Clone() Info {
	out := i
	out.ConcatPartIDs = slices.Clone(i.ConcatPartIDs)
	out.Metadata = i.Metadata.Clone()
	return out
}
