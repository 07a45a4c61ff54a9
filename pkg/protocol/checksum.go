package protocol

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"
)

// Checksum verifies PATCH bodies against Upload-Checksum, sent either as a
// header or as a trailer of a chunked body. Bytes that fail verification
// are discarded.
func Checksum() Extension {
	return Extension{
		Name: ExtensionChecksum,
		Validators: []Validator{
			checksumAlgorithmValidator{methods{http.MethodPatch}},
		},
		Handlers: []Handler{
			checksumOptionsHandler{methods{http.MethodOptions}},
			checksumPatchHandler{methods{http.MethodPatch}},
		},
		Prepare: prepareChecksum,
	}
}

// parseChecksum splits "<algorithm> <base64 digest>".
func parseChecksum(header string) (algorithm, digest string, ok bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 {
		return "", "", false
	}
	return strings.ToLower(fields[0]), fields[1], true
}

func supportedAlgorithm(algorithm string) bool {
	return slices.Contains(utils.HashAlgorithms(), algorithm)
}

// prepareChecksum decides which digests to compute while the body streams.
// Without a header the digest may still arrive as a trailer, so a chunked
// body is hashed with every algorithm.
func prepareChecksum(req *Request) {
	if req.Method() != http.MethodPatch {
		return
	}
	if header := req.Header(HeaderUploadChecksum); header != "" {
		if alg, _, ok := parseChecksum(header); ok {
			req.HashWith(alg)
		}
		return
	}
	if req.IsChunked() {
		req.HashWith(utils.HashAlgorithms()...)
	}
}

type checksumAlgorithmValidator struct {
	methods
}

func (checksumAlgorithmValidator) Validate(ctx context.Context, req *Request, store storage.Storage, ownerKey string) error {
	header := req.Header(HeaderUploadChecksum)
	if header == "" {
		return nil
	}
	alg, _, ok := parseChecksum(header)
	if !ok || !supportedAlgorithm(alg) {
		return tuserr.Newf(tuserr.ErrChecksumAlgorithmUnsupported, "Got %q.", header)
	}
	return nil
}

func (checksumAlgorithmValidator) Type() string {
	return "ChecksumAlgorithmValidator"
}

type checksumOptionsHandler struct {
	methods
}

func (checksumOptionsHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	resp.AppendHeader(HeaderTusExtension, "checksum,checksum-trailer")
	resp.SetHeader(HeaderTusChecksumAlgorithm, strings.Join(utils.HashAlgorithms(), ","))
	return Next{}, nil
}

func (checksumOptionsHandler) Type() string {
	return "ChecksumOptionsHandler"
}

// checksumPatchHandler runs after the bytes were appended and rolls them
// back when the digest does not match.
type checksumPatchHandler struct {
	methods
}

func (checksumPatchHandler) Process(ctx context.Context, req *Request, resp *Response, store storage.Storage, ownerKey string) (Outcome, error) {
	header := req.Header(HeaderUploadChecksum)
	if header == "" {
		return Next{}, nil
	}
	alg, expected, ok := parseChecksum(header)
	if !ok || !supportedAlgorithm(alg) {
		return nil, tuserr.Newf(tuserr.ErrChecksumAlgorithmUnsupported, "Got %q.", header)
	}

	actual, hashed := req.Checksum(alg)
	if hashed && actual == expected {
		return Next{}, nil
	}

	info, err := lookupExisting(ctx, store, req.URI(), ownerKey)
	if err != nil {
		return nil, err
	}
	n := req.BytesRead()
	if _, err := store.RemoveLastBytes(ctx, info, n); err != nil {
		return nil, fmt.Errorf("discard %d bytes of upload %s: %w", n, info.ID, err)
	}
	logger.Ctx(ctx).Debug().
		Str("upload_id", info.ID.String()).
		Str("algorithm", alg).
		Int64("discarded", n).
		Msg("checksum mismatch")
	return nil, tuserr.Newf(tuserr.ErrChecksumMismatch, "Expected %s, computed %s.", expected, actual)
}

func (checksumPatchHandler) Type() string {
	return "ChecksumPatchHandler"
}
