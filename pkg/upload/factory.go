// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package upload

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlankUploadURI   = errors.New("upload uri cannot be blank")
	ErrInvalidUploadURI = errors.New("upload uri must start with / and must not end with $")
)

const DefaultUploadURI = "/"

// IDFactory creates upload IDs and recovers them from request URIs.
type IDFactory interface {
	// UploadURI is the creation endpoint. It may contain a regular expression.
	UploadURI() string
	// MatchesUploadURI reports whether uri addresses the creation endpoint itself.
	MatchesUploadURI(uri string) bool
	CreateID() ID
	// ReadIDFromURI extracts the ID that follows the upload URI. ok is false
	// when the URI carries no ID the factory could have produced.
	ReadIDFromURI(uri string) (id ID, ok bool)
}

// uriMatcher strips everything up to and including the upload URI from a request URI.
type uriMatcher struct {
	uploadURI string
	idPrefix  *regexp.Regexp
	creation  *regexp.Regexp
}

func newURIMatcher(uploadURI string) (uriMatcher, error) {
	if strings.TrimSpace(uploadURI) == "" {
		return uriMatcher{}, ErrBlankUploadURI
	}
	if !strings.HasPrefix(uploadURI, "/") || strings.HasSuffix(uploadURI, "$") {
		return uriMatcher{}, fmt.Errorf("%w: %q", ErrInvalidUploadURI, uploadURI)
	}

	suffix := "/?"
	if strings.HasSuffix(uploadURI, "/") {
		suffix = ""
	}
	idPrefix, err := regexp.Compile("^.*" + uploadURI + suffix)
	if err != nil {
		return uriMatcher{}, fmt.Errorf("compile upload uri: %w", err)
	}
	creation, err := regexp.Compile("^" + uploadURI + suffix + "$")
	if err != nil {
		return uriMatcher{}, fmt.Errorf("compile upload uri: %w", err)
	}

	return uriMatcher{uploadURI: uploadURI, idPrefix: idPrefix, creation: creation}, nil
}

func (m uriMatcher) UploadURI() string {
	return m.uploadURI
}

func (m uriMatcher) MatchesUploadURI(uri string) bool {
	return m.creation.MatchString(strings.TrimSpace(uri))
}

func (m uriMatcher) rawID(uri string) (string, bool) {
	uri = strings.TrimSpace(uri)
	loc := m.idPrefix.FindStringIndex(uri)
	if loc == nil {
		return "", false
	}
	raw := uri[loc[1]:]
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	return raw, true
}

// UUIDFactory issues random UUIDs.
type UUIDFactory struct {
	uriMatcher
}

func NewUUIDFactory(uploadURI string) (*UUIDFactory, error) {
	m, err := newURIMatcher(uploadURI)
	if err != nil {
		return nil, err
	}
	return &UUIDFactory{uriMatcher: m}, nil
}

func (f *UUIDFactory) CreateID() ID {
	return ID(uuid.NewString())
}

func (f *UUIDFactory) ReadIDFromURI(uri string) (ID, bool) {
	raw, ok := f.rawID(uri)
	if !ok {
		return "", false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return ID(parsed.String()), true
}

// TimeFactory issues IDs from the clock in milliseconds. IDs are strictly
// increasing within one factory even when the clock does not advance.
type TimeFactory struct {
	uriMatcher

	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewTimeFactory uses now as its clock; nil means time.Now.
func NewTimeFactory(uploadURI string, now func() time.Time) (*TimeFactory, error) {
	m, err := newURIMatcher(uploadURI)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &TimeFactory{uriMatcher: m, now: now}, nil
}

func (f *TimeFactory) CreateID() ID {
	f.mu.Lock()
	defer f.mu.Unlock()

	millis := f.now().UnixMilli()
	if millis <= f.last {
		millis = f.last + 1
	}
	f.last = millis
	return ID(strconv.FormatInt(millis, 10))
}

func (f *TimeFactory) ReadIDFromURI(uri string) (ID, bool) {
	raw, ok := f.rawID(uri)
	if !ok {
		return "", false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", false
	}
	return ID(strconv.FormatInt(n, 10)), true
}
