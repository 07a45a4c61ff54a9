// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"net/http"
	"slices"
)

// Version is the only tus protocol version this server speaks.
const Version = "1.0.0"

const (
	HeaderTusResumable         = "Tus-Resumable"
	HeaderTusVersion           = "Tus-Version"
	HeaderTusMaxSize           = "Tus-Max-Size"
	HeaderTusExtension         = "Tus-Extension"
	HeaderTusChecksumAlgorithm = "Tus-Checksum-Algorithm"

	HeaderUploadOffset      = "Upload-Offset"
	HeaderUploadLength      = "Upload-Length"
	HeaderUploadDeferLength = "Upload-Defer-Length"
	HeaderUploadMetadata    = "Upload-Metadata"
	HeaderUploadConcat      = "Upload-Concat"
	HeaderUploadChecksum    = "Upload-Checksum"
	HeaderUploadExpires     = "Upload-Expires"

	HeaderLocation           = "Location"
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderContentDisposition = "Content-Disposition"
	HeaderCacheControl       = "Cache-Control"
	HeaderTransferEncoding   = "Transfer-Encoding"
	HeaderAllow              = "Allow"

	HeaderMethodOverride = "X-HTTP-Method-Override"
	HeaderForwardedFor   = "X-Forwarded-For"
)

// ContentTypeOffsetOctetStream is the only media type accepted for PATCH bodies.
const ContentTypeOffsetOctetStream = "application/offset+octet-stream"

// allMethods is the canonical order used when listing supported methods.
var allMethods = []string{
	http.MethodOptions,
	http.MethodHead,
	http.MethodPost,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodGet,
}

// methods implements Supports for a fixed set of HTTP methods.
type methods []string

func (m methods) Supports(method string) bool {
	return slices.Contains(m, method)
}

// anyMethod supports every method, including the unresolved one.
type anyMethod struct{}

func (anyMethod) Supports(string) bool {
	return true
}
