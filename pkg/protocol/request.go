// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/base64"
	"errors"
	"hash"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/zaptus/pkg/chunked"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"
)

// Request is the view of an inbound HTTP request that validators and
// handlers work with. It resolves the effective method once and meters the
// body as it is consumed.
type Request struct {
	r      *http.Request
	method string

	decodeChunked bool
	decoder       *chunked.Reader
	trailers      map[string][]string

	body      io.Reader
	raw       io.Reader
	bytesRead int64

	declaredLength int64

	hashers map[string]hash.Hash
	sums    map[string]string
}

// EffectiveMethod resolves the method a request is dispatched under.
// X-HTTP-Method-Override wins when it names a supported method. An empty
// result means neither the override nor the request method is supported.
func EffectiveMethod(r *http.Request, supported []string) string {
	if override := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderMethodOverride))); override != "" {
		if slices.Contains(supported, override) {
			return override
		}
	}
	if slices.Contains(supported, r.Method) {
		return r.Method
	}
	return ""
}

// NewRequest wraps r. When decodeChunked is set, bodies announced with
// Transfer-Encoding: chunked in the header map are decoded here. net/http
// already removes the framing of requests it parsed itself, so this only
// matters behind transports that pass the framing through.
func NewRequest(r *http.Request, method string, decodeChunked bool) *Request {
	return &Request{
		r:             r,
		method:        method,
		decodeChunked: decodeChunked,
		trailers:      make(map[string][]string),
	}
}

func (r *Request) Method() string {
	return r.method
}

// URI is the request path used to address uploads.
func (r *Request) URI() string {
	return r.r.URL.Path
}

func (r *Request) HTTPRequest() *http.Request {
	return r.r
}

// Header returns the trimmed value of name. Trailer fields are consulted
// when the header is absent, so values sent after a chunked body become
// visible once the body has been read.
func (r *Request) Header(name string) string {
	if v := strings.TrimSpace(r.r.Header.Get(name)); v != "" {
		return v
	}
	if vs := r.trailers[strings.ToLower(name)]; len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	if r.r.Trailer != nil {
		return strings.TrimSpace(r.r.Trailer.Get(name))
	}
	return ""
}

// HasHeader reports whether name was sent, even with an empty value.
func (r *Request) HasHeader(name string) bool {
	_, ok := r.r.Header[http.CanonicalHeaderKey(name)]
	return ok
}

// Int64Header parses name as a decimal integer.
func (r *Request) Int64Header(name string) (int64, bool) {
	n, err := strconv.ParseInt(r.Header(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ContentLength returns the declared body length. ok is false for bodies of
// unknown length, such as chunked ones.
func (r *Request) ContentLength() (int64, bool) {
	if n, ok := r.Int64Header(HeaderContentLength); ok {
		return n, true
	}
	if r.r.ContentLength >= 0 && !r.IsChunked() {
		return r.r.ContentLength, true
	}
	return 0, false
}

// IsChunked reports whether the body uses chunked transfer-coding, either
// still framed or already decoded by net/http.
func (r *Request) IsChunked() bool {
	return r.framedChunked() || slices.Contains(r.r.TransferEncoding, "chunked")
}

func (r *Request) framedChunked() bool {
	for _, v := range r.r.Header.Values(HeaderTransferEncoding) {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

// RemoteIPs lists the X-Forwarded-For chain followed by the peer address.
func (r *Request) RemoteIPs() string {
	addr := r.r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if xff := r.Header(HeaderForwardedFor); xff != "" {
		return xff + ", " + addr
	}
	return addr
}

// HashWith makes the body be hashed with the given algorithms while it is
// read. It must be called before Body. Unknown algorithms are ignored.
func (r *Request) HashWith(algorithms ...string) {
	if r.body != nil {
		return
	}
	if r.hashers == nil {
		r.hashers = make(map[string]hash.Hash)
	}
	for _, alg := range algorithms {
		if _, ok := r.hashers[alg]; ok {
			continue
		}
		if h, ok := utils.HasherPoolGet(alg); ok {
			r.hashers[alg] = h
		}
	}
}

// Body returns the request body. It is built once; later calls return the
// same reader.
func (r *Request) Body() io.Reader {
	if r.body != nil {
		return r.body
	}

	var src io.Reader = r.r.Body
	if src == nil {
		src = http.NoBody
	}
	if r.decodeChunked && r.framedChunked() {
		if dec, err := chunked.NewReader(src, r.trailers); err == nil {
			r.decoder = dec
			src = decodeErrReader{dec}
		}
	}
	r.raw = src
	if len(r.hashers) > 0 {
		writers := make([]io.Writer, 0, len(r.hashers))
		for _, h := range r.hashers {
			writers = append(writers, h)
		}
		src = io.TeeReader(src, io.MultiWriter(writers...))
	}
	r.body = &meteredReader{r: src, n: &r.bytesRead}
	return r.body
}

// maxDrain bounds how much surplus body Drain is willing to discard.
const maxDrain = 64 << 10

// Drain consumes what is left of a chunked body so that its trailer fields
// become available. Drained bytes are neither counted by BytesRead nor
// hashed.
func (r *Request) Drain() error {
	if !r.IsChunked() {
		return nil
	}
	r.Body()
	_, err := io.Copy(io.Discard, io.LimitReader(r.raw, maxDrain))
	return err
}

// DeclareLength records an Upload-Length that was accepted for an upload
// whose length is still unknown, so the append is bounded by it.
func (r *Request) DeclareLength(n int64) {
	r.declaredLength = n
}

// DeclaredLength returns the length recorded by DeclareLength.
func (r *Request) DeclaredLength() (int64, bool) {
	return r.declaredLength, r.declaredLength > 0
}

// BytesRead is the number of body bytes consumed so far.
func (r *Request) BytesRead() int64 {
	return r.bytesRead
}

// Checksum returns the base64 digest of the bytes read so far. ok is false
// when the body was not hashed with algorithm.
func (r *Request) Checksum(algorithm string) (string, bool) {
	if sum, ok := r.sums[algorithm]; ok {
		return sum, true
	}
	h, ok := r.hashers[algorithm]
	if !ok {
		return "", false
	}
	if r.sums == nil {
		r.sums = make(map[string]string)
	}
	sum := base64.StdEncoding.EncodeToString(h.Sum(nil))
	r.sums[algorithm] = sum
	return sum, true
}

// Close returns pooled hashers. The Request must not be used afterwards.
func (r *Request) Close() {
	for alg, h := range r.hashers {
		utils.HasherPoolPut(alg, h)
	}
	r.hashers = nil
	if r.decoder != nil {
		r.decoder.Close()
	}
}

type meteredReader struct {
	r io.Reader
	n *int64
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	*m.n += int64(n)
	return n, err
}

// decodeErrReader reports framing errors as ChunkDecodingError violations.
type decodeErrReader struct {
	r *chunked.Reader
}

func (d decodeErrReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, &tuserr.Violation{Code: tuserr.ErrChunkDecoding, Message: err.Error()}
	}
	return n, err
}
