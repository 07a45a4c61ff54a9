// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package tuserr

import (
	"net/http"
)

// APIError describes a protocol violation with its code, description, and HTTP status.
type APIError struct {
	Code           string
	Description    string
	HTTPStatusCode int
}

// ErrorCode is an enumeration of tus protocol violations.
type ErrorCode int

const (
	ErrNone ErrorCode = iota

	// =========================================================================
	// Request Errors
	// =========================================================================
	ErrProtocolVersionMissing
	ErrProtocolVersionInvalid
	ErrMethodUnsupported
	ErrPostURIInvalid
	ErrContentTypeInvalid
	ErrContentLengthInvalid
	ErrUploadLengthInvalid
	ErrMaxLengthExceeded
	ErrChunkDecoding
	ErrRateLimited

	// =========================================================================
	// Upload State Errors
	// =========================================================================
	ErrUploadNotFound
	ErrUploadGone
	ErrUploadAlreadyLocked
	ErrOffsetMismatch
	ErrUploadStillInProgress

	// =========================================================================
	// Concatenation Errors
	// =========================================================================
	ErrConcatenationPartInvalid
	ErrPatchOnFinalUploadForbidden
	ErrUploadLengthForbiddenOnFinal

	// =========================================================================
	// Checksum Errors
	// =========================================================================
	ErrChecksumAlgorithmUnsupported
	ErrChecksumMismatch

	ErrInternalError
)

// StatusChecksumMismatch is the status tus 1.0.0 assigns to checksum mismatches.
const StatusChecksumMismatch = 460

var errorCodeResponse = map[ErrorCode]APIError{
	ErrProtocolVersionMissing: {
		Code:           "ProtocolVersionMissing",
		Description:    "The Tus-Resumable header is missing.",
		HTTPStatusCode: http.StatusPreconditionFailed,
	},
	ErrProtocolVersionInvalid: {
		Code:           "ProtocolVersionInvalid",
		Description:    "The Tus-Resumable header does not match a supported protocol version.",
		HTTPStatusCode: http.StatusPreconditionFailed,
	},
	ErrMethodUnsupported: {
		Code:           "MethodUnsupported",
		Description:    "The requested HTTP method is not supported by this server.",
		HTTPStatusCode: http.StatusMethodNotAllowed,
	},
	ErrPostURIInvalid: {
		Code:           "PostUriInvalid",
		Description:    "POST requests can only be sent to the upload creation URI.",
		HTTPStatusCode: http.StatusMethodNotAllowed,
	},
	ErrContentTypeInvalid: {
		Code:           "ContentTypeInvalid",
		Description:    "The Content-Type header must be application/offset+octet-stream.",
		HTTPStatusCode: http.StatusUnsupportedMediaType,
	},
	ErrContentLengthInvalid: {
		Code:           "ContentLengthInvalid",
		Description:    "The Content-Length header is invalid for this upload.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrUploadLengthInvalid: {
		Code:           "UploadLengthInvalid",
		Description:    "The Upload-Length or Upload-Defer-Length header is missing or invalid.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrMaxLengthExceeded: {
		Code:           "MaxLengthExceeded",
		Description:    "The upload length exceeds the maximum upload size of this server.",
		HTTPStatusCode: http.StatusRequestEntityTooLarge,
	},
	ErrChunkDecoding: {
		Code:           "ChunkDecodingError",
		Description:    "The chunked request body could not be decoded.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrRateLimited: {
		Code:           "RateLimited",
		Description:    "Too many requests from this client. Please slow down.",
		HTTPStatusCode: http.StatusTooManyRequests,
	},
	ErrUploadNotFound: {
		Code:           "UploadNotFound",
		Description:    "The upload could not be found.",
		HTTPStatusCode: http.StatusNotFound,
	},
	ErrUploadGone: {
		Code:           "UploadGone",
		Description:    "The upload has expired.",
		HTTPStatusCode: http.StatusGone,
	},
	ErrUploadAlreadyLocked: {
		Code:           "UploadAlreadyLocked",
		Description:    "The upload is locked by another request.",
		HTTPStatusCode: http.StatusLocked,
	},
	ErrOffsetMismatch: {
		Code:           "OffsetMismatch",
		Description:    "The Upload-Offset header does not match the current offset of the upload.",
		HTTPStatusCode: http.StatusConflict,
	},
	ErrUploadStillInProgress: {
		Code:           "UploadStillInProgress",
		Description:    "The upload is not complete yet.",
		HTTPStatusCode: http.StatusUnprocessableEntity,
	},
	ErrConcatenationPartInvalid: {
		Code:           "ConcatenationPartInvalid",
		Description:    "The Upload-Concat header references invalid or missing partial uploads.",
		HTTPStatusCode: http.StatusPreconditionFailed,
	},
	ErrPatchOnFinalUploadForbidden: {
		Code:           "PatchOnFinalUploadForbidden",
		Description:    "PATCH requests are not allowed on final concatenated uploads.",
		HTTPStatusCode: http.StatusForbidden,
	},
	ErrUploadLengthForbiddenOnFinal: {
		Code:           "UploadLengthForbiddenOnFinal",
		Description:    "The Upload-Length header must not be sent for final concatenated uploads.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrChecksumAlgorithmUnsupported: {
		Code:           "ChecksumAlgorithmUnsupported",
		Description:    "The checksum algorithm is not supported by this server.",
		HTTPStatusCode: http.StatusBadRequest,
	},
	ErrChecksumMismatch: {
		Code:           "ChecksumMismatch",
		Description:    "The checksum of the uploaded bytes does not match the Upload-Checksum header.",
		HTTPStatusCode: StatusChecksumMismatch,
	},
	ErrInternalError: {
		Code:           "InternalError",
		Description:    "We encountered an internal error. Please try again.",
		HTTPStatusCode: http.StatusInternalServerError,
	},
}

// APIError returns the table entry for the code. Unknown codes map to InternalError.
func (e ErrorCode) APIError() APIError {
	if err, ok := errorCodeResponse[e]; ok {
		return err
	}
	return errorCodeResponse[ErrInternalError]
}

// Code returns the error code string.
func (e ErrorCode) Code() string {
	return e.APIError().Code
}

// Description returns the error description.
func (e ErrorCode) Description() string {
	return e.APIError().Description
}

// Error implements the error interface.
func (e ErrorCode) Error() string {
	return e.Description()
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e ErrorCode) HTTPStatusCode() int {
	return e.APIError().HTTPStatusCode
}
