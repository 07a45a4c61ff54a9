package protocol

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/concat"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
)

// Concatenation lets clients upload parts in parallel and combine them
// into a final upload. Parts may still be in progress when the final
// upload is created.
func Concatenation(svc *concat.Service) Extension {
	return Extension{
		Name:    ExtensionConcatenation,
		Methods: []string{http.MethodPost},
		Validators: []Validator{
			noUploadLengthOnFinalValidator{methods{http.MethodPost}},
			partialUploadsExistValidator{methods: methods{http.MethodPost}, svc: svc},
			patchFinalUploadValidator{methods{http.MethodPatch}},
		},
		Handlers: []Handler{
			concatPostHandler{methods: methods{http.MethodPost}, svc: svc},
			concatHeadHandler{methods: methods{http.MethodHead}, svc: svc},
			advertise("concatenation", "concatenation-unfinished"),
		},
	}
}

// parseConcatParts returns the part references of a "final;ref ref" header.
func parseConcatParts(header string) []string {
	_, refs, _ := strings.Cut(header, ";")
	return strings.Fields(refs)
}

type noUploadLengthOnFinalValidator struct {
	methods
}

func (noUploadLengthOnFinalValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	if isFinalConcat(req.Header(HeaderUploadConcat)) && req.Header(HeaderUploadLength) != "" {
		return tuserr.ErrUploadLengthForbiddenOnFinal
	}
	return nil
}

func (noUploadLengthOnFinalValidator) Type() string {
	return "NoUploadLengthOnFinalValidator"
}

type partialUploadsExistValidator struct {
	methods
	svc *concat.Service
}

func (v partialUploadsExistValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	header := req.Header(HeaderUploadConcat)
	if !isFinalConcat(header) {
		return nil
	}
	refs := parseConcatParts(header)
	if len(refs) == 0 {
		return tuserr.Newf(tuserr.ErrConcatenationPartInvalid, "No partial uploads listed.")
	}

	parts, err := v.svc.PartialUploads(ctx, upload.Info{ConcatPartIDs: refs, OwnerKey: ownerKey})
	if err != nil {
		if tuserr.CodeOf(err) == tuserr.ErrUploadNotFound {
			return tuserr.Newf(tuserr.ErrConcatenationPartInvalid, "%v", err)
		}
		return err
	}
	for i, part := range parts {
		if part.Type != upload.TypePartial {
			return tuserr.Newf(tuserr.ErrConcatenationPartInvalid, "%s is not a partial upload.", refs[i])
		}
	}
	return nil
}

func (partialUploadsExistValidator) Type() string {
	return "PartialUploadsExistValidator"
}

type patchFinalUploadValidator struct {
	methods
}

func (patchFinalUploadValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	info, found, err := lookup(ctx, store, req.URI(), ownerKey)
	if err != nil || !found {
		return err
	}
	if info.Type == upload.TypeConcatenated {
		return tuserr.ErrPatchOnFinalUploadForbidden
	}
	return nil
}

func (patchFinalUploadValidator) Type() string {
	return "PatchFinalUploadValidator"
}

// concatPostHandler marks a freshly created upload as partial or final.
type concatPostHandler struct {
	methods
	svc *concat.Service
}

func (h concatPostHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, found, err := lookup(ctx, store, resp.Header().Get(HeaderLocation), ownerKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return Next{}, nil
	}

	header := req.Header(HeaderUploadConcat)
	switch {
	case strings.HasPrefix(strings.ToLower(header), "partial"):
		info.Type = upload.TypePartial
	case isFinalConcat(header):
		info.SetLength(0)
		info.Type = upload.TypeConcatenated
		info.ConcatPartIDs = parseConcatParts(header)
		if info, err = h.svc.Merge(ctx, info); err != nil {
			return nil, fmt.Errorf("merge upload %s: %w", info.ID, err)
		}
	default:
		info.Type = upload.TypeRegular
	}
	info.ConcatHeader = header

	if err := store.Update(ctx, info); err != nil {
		return nil, fmt.Errorf("update upload %s: %w", info.ID, err)
	}
	return Next{}, nil
}

func (concatPostHandler) Type() string {
	return "ConcatenationPostHandler"
}

type concatHeadHandler struct {
	methods
	svc *concat.Service
}

func (h concatHeadHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}
	if info.Type == upload.TypeRegular {
		return Next{}, nil
	}
	resp.SetHeader(HeaderUploadConcat, info.ConcatHeader)
	if info.Type != upload.TypeConcatenated {
		return Next{}, nil
	}

	if info.InProgress() {
		if info, err = h.svc.Merge(ctx, info); err != nil {
			return nil, fmt.Errorf("merge upload %s: %w", info.ID, err)
		}
	}
	if info.HasLength() {
		resp.SetHeader(HeaderUploadLength, strconv.FormatInt(info.Length, 10))
	}
	if info.InProgress() {
		resp.Header().Del(HeaderUploadOffset)
	} else {
		resp.SetHeader(HeaderUploadOffset, strconv.FormatInt(info.Offset, 10))
	}
	return Next{}, nil
}

func (concatHeadHandler) Type() string {
	return "ConcatenationHeadHandler"
}
