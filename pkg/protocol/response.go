// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"net/http"
)

// Response collects the headers and status handlers decide on. Nothing is
// sent until the first body write or Commit.
type Response struct {
	w           http.ResponseWriter
	status      int
	wroteHeader bool
	written     int64
}

func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, status: http.StatusOK}
}

func (r *Response) Header() http.Header {
	return r.w.Header()
}

// SetHeader sets name to value. Empty values are ignored.
func (r *Response) SetHeader(name, value string) {
	if value == "" {
		return
	}
	r.w.Header().Set(name, value)
}

// AppendHeader extends a comma separated header with value.
func (r *Response) AppendHeader(name, value string) {
	if value == "" {
		return
	}
	if cur := r.w.Header().Get(name); cur != "" {
		value = cur + "," + value
	}
	r.w.Header().Set(name, value)
}

func (r *Response) SetStatus(code int) {
	r.status = code
}

func (r *Response) Status() int {
	return r.status
}

// Write sends the status line on first use, then body bytes.
func (r *Response) Write(b []byte) (int, error) {
	r.Commit()
	n, err := r.w.Write(b)
	r.written += int64(n)
	return n, err
}

// Commit sends the status line and headers if that has not happened yet.
func (r *Response) Commit() {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.w.WriteHeader(r.status)
}

// Committed reports whether the status line has been sent.
func (r *Response) Committed() bool {
	return r.wroteHeader
}

func (r *Response) BytesWritten() int64 {
	return r.written
}
