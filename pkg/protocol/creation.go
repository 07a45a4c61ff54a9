package protocol

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
)

// Creation lets clients create uploads with POST, optionally deferring the length.
func Creation() Extension {
	return Extension{
		Name:    ExtensionCreation,
		Methods: []string{http.MethodPost},
		Validators: []Validator{
			postURIValidator{methods{http.MethodPost}},
			postEmptyValidator{methods{http.MethodPost}},
			uploadDeferLengthValidator{methods{http.MethodPost}},
			uploadLengthValidator{methods{http.MethodPost}},
			deferredLengthPatchValidator{methods{http.MethodPatch}},
		},
		Handlers: []Handler{
			creationPostHandler{methods{http.MethodPost}},
			creationHeadHandler{methods{http.MethodHead}},
			deferredLengthPatchHandler{methods{http.MethodPatch}},
			advertise("creation", "creation-defer-length"),
		},
	}
}

func isFinalConcat(header string) bool {
	return strings.HasPrefix(strings.ToLower(header), "final")
}

func parseUploadLength(req *Request) (int64, error) {
	raw := req.Header(HeaderUploadLength)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, tuserr.Newf(tuserr.ErrUploadLengthInvalid, "Got %q.", raw)
	}
	return n, nil
}

type postURIValidator struct {
	methods
}

func (postURIValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	if !store.IDFactory().MatchesUploadURI(req.URI()) {
		return tuserr.Newf(tuserr.ErrPostURIInvalid, "Got %q.", req.URI())
	}
	return nil
}

func (postURIValidator) Type() string {
	return "PostURIValidator"
}

type postEmptyValidator struct {
	methods
}

func (postEmptyValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	if n, ok := req.ContentLength(); ok && n != 0 {
		return tuserr.Newf(tuserr.ErrContentLengthInvalid, "POST requests must not carry a body, got %d bytes.", n)
	}
	return nil
}

func (postEmptyValidator) Type() string {
	return "PostEmptyValidator"
}

type uploadDeferLengthValidator struct {
	methods
}

func (uploadDeferLengthValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	hasLength := req.Header(HeaderUploadLength) != ""
	deferred := req.Header(HeaderUploadDeferLength)

	switch {
	case hasLength && deferred != "":
		return tuserr.Newf(tuserr.ErrUploadLengthInvalid, "Upload-Length and Upload-Defer-Length are mutually exclusive.")
	case hasLength:
		_, err := parseUploadLength(req)
		return err
	case deferred != "":
		if deferred != "1" {
			return tuserr.Newf(tuserr.ErrUploadLengthInvalid, "Upload-Defer-Length must be 1, got %q.", deferred)
		}
		return nil
	case isFinalConcat(req.Header(HeaderUploadConcat)):
		return nil
	default:
		return tuserr.Newf(tuserr.ErrUploadLengthInvalid, "Neither Upload-Length nor Upload-Defer-Length was sent.")
	}
}

func (uploadDeferLengthValidator) Type() string {
	return "UploadDeferLengthValidator"
}

type uploadLengthValidator struct {
	methods
}

func (uploadLengthValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	n, ok := req.Int64Header(HeaderUploadLength)
	if !ok {
		return nil
	}
	if maxSize := store.MaxUploadSize(); maxSize > 0 && n > maxSize {
		return tuserr.Newf(tuserr.ErrMaxLengthExceeded, "%d exceeds %d.", n, maxSize)
	}
	return nil
}

func (uploadLengthValidator) Type() string {
	return "UploadLengthValidator"
}

// deferredLengthPatchValidator checks an Upload-Length sent on PATCH for an
// upload whose length was deferred.
type deferredLengthPatchValidator struct {
	methods
}

func (deferredLengthPatchValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	if req.Header(HeaderUploadLength) == "" {
		return nil
	}
	info, found, err := lookup(ctx, store, req.URI(), ownerKey)
	if err != nil || !found || info.HasLength() {
		return err
	}

	n, err := parseUploadLength(req)
	if err != nil {
		return err
	}
	contentLength, _ := req.ContentLength()
	if n < info.Offset+contentLength {
		return tuserr.Newf(tuserr.ErrUploadLengthInvalid, "%d is shorter than the %d bytes the upload would hold.", n, info.Offset+contentLength)
	}
	if maxSize := store.MaxUploadSize(); maxSize > 0 && n > maxSize {
		return tuserr.Newf(tuserr.ErrMaxLengthExceeded, "%d exceeds %d.", n, maxSize)
	}
	// chunked bodies carry no Content-Length; the append stops at n instead
	req.DeclareLength(n)
	return nil
}

func (deferredLengthPatchValidator) Type() string {
	return "DeferredLengthPatchValidator"
}

type creationPostHandler struct {
	methods
}

func (creationPostHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info := upload.NewInfo(req.RemoteIPs())
	if n, ok := req.Int64Header(HeaderUploadLength); ok {
		info.SetLength(n)
	}
	info.Metadata = upload.DecodeMetadata(req.Header(HeaderUploadMetadata))

	created, err := store.Create(ctx, info, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}

	location := req.URI()
	if !strings.HasSuffix(location, "/") {
		location += "/"
	}
	location += url.PathEscape(created.ID.String())

	resp.SetHeader(HeaderLocation, location)
	resp.SetStatus(http.StatusCreated)

	logger.Ctx(ctx).Info().
		Str("upload_id", created.ID.String()).
		Int64("length", created.Length).
		Str("creator", created.CreatorIPAddresses).
		Msg("upload created")
	return Next{}, nil
}

func (creationPostHandler) Type() string {
	return "CreationPostHandler"
}

type creationHeadHandler struct {
	methods
}

func (creationHeadHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}
	if info.HasMetadata() {
		resp.SetHeader(HeaderUploadMetadata, info.Metadata.Encode())
	}
	if !info.HasLength() && info.Type != upload.TypeConcatenated {
		resp.SetHeader(HeaderUploadDeferLength, "1")
	}
	return Next{}, nil
}

func (creationHeadHandler) Type() string {
	return "CreationHeadHandler"
}

// deferredLengthPatchHandler records the length of a deferred upload when
// the PATCH that declared it appended nothing. Otherwise the append already
// stored it.
type deferredLengthPatchHandler struct {
	methods
}

func (deferredLengthPatchHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}
	if info.HasLength() {
		return Next{}, nil
	}
	n, ok := req.DeclaredLength()
	if !ok {
		return Next{}, nil
	}
	if n < info.Offset {
		return nil, tuserr.Newf(tuserr.ErrUploadLengthInvalid, "%d is shorter than the %d bytes already received.", n, info.Offset)
	}

	info.SetLength(n)
	if err := store.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("set length of upload %s: %w", info.ID, err)
	}
	return Next{}, nil
}

func (deferredLengthPatchHandler) Type() string {
	return "DeferredLengthPatchHandler"
}
