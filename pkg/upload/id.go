// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"net/url"
	"strings"
)

var ErrBlankID = errors.New("upload id cannot be blank")

// ID identifies an upload. Its value is always URL safe, so two IDs built
// from the encoded and decoded form of the same string are equal.
type ID string

// NewID normalizes raw into its URL-safe form. Values that are already
// encoded, or that cannot be decoded, are kept as given.
func NewID(raw string) (ID, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrBlankID
	}

	decoded, err := url.QueryUnescape(raw)
	if err != nil || decoded != raw {
		return ID(raw), nil
	}
	return ID(url.QueryEscape(raw)), nil
}

func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id == ""
}
