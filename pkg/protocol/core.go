// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
)

// Core returns the base protocol every server implements.
func Core() Extension {
	return Extension{
		Name:    ExtensionCore,
		Methods: []string{http.MethodOptions, http.MethodHead, http.MethodPatch},
		Validators: []Validator{
			&methodValidator{},
			tusResumableValidator{},
			idExistsValidator{methods{http.MethodGet, http.MethodHead, http.MethodPatch, http.MethodDelete}},
			contentTypeValidator{methods{http.MethodPatch}},
			uploadOffsetValidator{methods{http.MethodPatch}},
			contentLengthValidator{methods{http.MethodPatch}},
		},
		Handlers: []Handler{
			defaultHeadersHandler{},
			coreHeadHandler{methods{http.MethodHead}},
			corePatchHandler{methods{http.MethodPatch}},
			coreOptionsHandler{methods{http.MethodOptions}},
		},
	}
}

// lookup returns the upload addressed by uri. found is false when there is none.
func lookup(ctx context.Context, store storage.Storage, uri, ownerKey string) (info upload.Info, found bool, err error) {
	info, err = store.GetByURI(ctx, uri, ownerKey)
	if err != nil {
		if tuserr.CodeOf(err) == tuserr.ErrUploadNotFound {
			return upload.Info{}, false, nil
		}
		return upload.Info{}, false, err
	}
	return info, true, nil
}

// lookupExisting is lookup for steps that run after idExistsValidator.
func lookupExisting(ctx context.Context, store storage.Storage, uri, ownerKey string) (upload.Info, error) {
	info, found, err := lookup(ctx, store, uri, ownerKey)
	if err != nil {
		return upload.Info{}, err
	}
	if !found {
		return upload.Info{}, tuserr.Newf(tuserr.ErrUploadNotFound, "%s", uri)
	}
	return info, nil
}

type methodValidator struct {
	anyMethod
	supported []string
}

func (v *methodValidator) setSupportedMethods(m []string) {
	v.supported = m
}

func (v *methodValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	if req.Method() == "" {
		return tuserr.Newf(tuserr.ErrMethodUnsupported, "Supported methods: %s.", strings.Join(v.supported, ", "))
	}
	return nil
}

func (*methodValidator) Type() string {
	return "HttpMethodValidator"
}

type tusResumableValidator struct{}

func (tusResumableValidator) Supports(method string) bool {
	return method != http.MethodGet && method != http.MethodOptions
}

func (tusResumableValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	v := req.Header(HeaderTusResumable)
	if v == "" {
		return tuserr.ErrProtocolVersionMissing
	}
	if v != Version {
		return tuserr.Newf(tuserr.ErrProtocolVersionInvalid, "Got %q, expected %q.", v, Version)
	}
	return nil
}

func (tusResumableValidator) Type() string {
	return "TusResumableValidator"
}

type idExistsValidator struct {
	methods
}

func (idExistsValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return err
	}
	if info.IsExpired(time.Now()) {
		return tuserr.Newf(tuserr.ErrUploadGone, "%s", info.ID)
	}
	return nil
}

func (idExistsValidator) Type() string {
	return "IdExistsValidator"
}

type contentTypeValidator struct {
	methods
}

func (contentTypeValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	if ct := req.Header(HeaderContentType); ct != ContentTypeOffsetOctetStream {
		return tuserr.Newf(tuserr.ErrContentTypeInvalid, "Got %q.", ct)
	}
	return nil
}

func (contentTypeValidator) Type() string {
	return "ContentTypeValidator"
}

type uploadOffsetValidator struct {
	methods
}

func (uploadOffsetValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	info, found, err := lookup(ctx, store, req.URI(), ownerKey)
	if err != nil || !found {
		return err
	}
	offset, ok := req.Int64Header(HeaderUploadOffset)
	if !ok || offset != info.Offset {
		return tuserr.Newf(tuserr.ErrOffsetMismatch, "Expected %d, got %q.", info.Offset, req.Header(HeaderUploadOffset))
	}
	return nil
}

func (uploadOffsetValidator) Type() string {
	return "UploadOffsetValidator"
}

type contentLengthValidator struct {
	methods
}

func (contentLengthValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	n, ok := req.ContentLength()
	if !ok {
		return nil
	}
	info, found, err := lookup(ctx, store, req.URI(), ownerKey)
	if err != nil || !found {
		return err
	}
	if info.HasLength() && info.Offset+n > info.Length {
		return tuserr.Newf(tuserr.ErrContentLengthInvalid, "%d bytes at offset %d exceed the upload length %d.", n, info.Offset, info.Length)
	}
	return nil
}

func (contentLengthValidator) Type() string {
	return "ContentLengthValidator"
}

type defaultHeadersHandler struct {
	anyMethod
}

func (defaultHeadersHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	resp.SetHeader(HeaderTusResumable, Version)
	resp.SetHeader(HeaderContentLength, "0")
	return Next{}, nil
}

func (defaultHeadersHandler) Type() string {
	return "DefaultHeadersHandler"
}

type coreHeadHandler struct {
	methods
}

func (coreHeadHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}
	if info.HasLength() {
		resp.SetHeader(HeaderUploadLength, strconv.FormatInt(info.Length, 10))
	}
	resp.SetHeader(HeaderUploadOffset, strconv.FormatInt(info.Offset, 10))
	resp.SetHeader(HeaderCacheControl, "no-store")
	resp.SetStatus(http.StatusNoContent)
	return Next{}, nil
}

func (coreHeadHandler) Type() string {
	return "CoreHeadHandler"
}

type corePatchHandler struct {
	methods
}

func (corePatchHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}

	if n, ok := req.DeclaredLength(); ok && !info.HasLength() {
		if n < info.Offset {
			return nil, tuserr.Newf(tuserr.ErrUploadLengthInvalid, "%d is shorter than the %d bytes already received.", n, info.Offset)
		}
		info.SetLength(n)
	}

	if info.InProgress() {
		info, err = store.Append(ctx, info, req.Body())
		if err != nil {
			return nil, fmt.Errorf("append to upload %s: %w", info.ID, err)
		}
		if err := req.Drain(); err != nil {
			return nil, fmt.Errorf("drain body of upload %s: %w", info.ID, err)
		}
	}

	resp.SetHeader(HeaderUploadOffset, strconv.FormatInt(info.Offset, 10))
	resp.SetStatus(http.StatusNoContent)

	if !info.InProgress() {
		logger.Ctx(ctx).Info().
			Str("upload_id", info.ID.String()).
			Int64("length", info.Length).
			Msg("upload finished")
	}
	return Next{}, nil
}

func (corePatchHandler) Type() string {
	return "CorePatchHandler"
}

type coreOptionsHandler struct {
	methods
}

func (coreOptionsHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	resp.SetHeader(HeaderTusVersion, Version)
	if maxSize := store.MaxUploadSize(); maxSize > 0 {
		resp.SetHeader(HeaderTusMaxSize, strconv.FormatInt(maxSize, 10))
	}
	resp.SetStatus(http.StatusNoContent)
	return Next{}, nil
}

func (coreOptionsHandler) Type() string {
	return "CoreOptionsHandler"
}
