// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/protocol"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
)

type wrappedResponseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (w *wrappedResponseRecorder) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *wrappedResponseRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (w *wrappedResponseRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// headers a handler may have set for a successful response
var successHeaders = []string{
	protocol.HeaderContentLength,
	protocol.HeaderContentDisposition,
	protocol.HeaderUploadMetadata,
	protocol.HeaderLocation,
}

// writeErrorResponse renders err as a plain text tus error. HEAD responses
// carry no body. allow lists the methods for 405 responses.
func writeErrorResponse(resp *protocol.Response, method string, err error, allow []string) int {
	code := tuserr.CodeOf(err)
	apiErr := code.APIError()

	message := apiErr.Description
	var v *tuserr.Violation
	if errors.As(err, &v) {
		message = v.Error()
	}

	h := resp.Header()
	for _, name := range successHeaders {
		h.Del(name)
	}
	h.Set(protocol.HeaderTusResumable, protocol.Version)
	if code == tuserr.ErrMethodUnsupported {
		h.Set(protocol.HeaderAllow, strings.Join(allow, ", "))
	}
	h.Set(protocol.HeaderContentType, "text/plain; charset=utf-8")

	resp.SetStatus(apiErr.HTTPStatusCode)
	if method == http.MethodHead {
		resp.Commit()
		return apiErr.HTTPStatusCode
	}
	body := message + "\n"
	h.Set(protocol.HeaderContentLength, strconv.Itoa(len(body)))
	_, _ = resp.Write([]byte(body))
	return apiErr.HTTPStatusCode
}
