// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package context carries per request identifiers through a context.Context.
package context

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"

	// client supplied IDs longer than this are replaced
	maxRequestIDLength = 128
)

type requestIDKey struct{}

// WithUUID returns the request ID stored in c, attaching a new one if
// there is none.
func WithUUID(c context.Context) (context.Context, string) {
	if id, ok := c.Value(requestIDKey{}).(string); ok && id != "" {
		return c, id
	}
	newID := uuid.New().String()
	return context.WithValue(c, requestIDKey{}, newID), newID
}

func FromUUID(c context.Context, reqID string) context.Context {
	return context.WithValue(c, requestIDKey{}, reqID)
}

func RequestID(c context.Context) string {
	id, _ := c.Value(requestIDKey{}).(string)
	return id
}

// FromRequest reuses a well formed X-Request-Id sent by a proxy and
// generates one otherwise.
func FromRequest(r *http.Request) (context.Context, string) {
	if id := r.Header.Get(HeaderRequestID); validRequestID(id) {
		return FromUUID(r.Context(), id), id
	}
	return WithUUID(r.Context())
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
