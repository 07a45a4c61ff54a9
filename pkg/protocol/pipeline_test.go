// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/zaptus/pkg/concat"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/index"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t             *testing.T
	store         *storage.Store
	svc           *concat.Service
	pipeline      *Pipeline
	decodeChunked bool
}

func newHarness(t *testing.T, cfg storage.Config) *harness {
	t.Helper()

	if cfg.IDFactory == nil {
		f, err := upload.NewUUIDFactory("/files")
		require.NoError(t, err)
		cfg.IDFactory = f
	}
	store, err := storage.NewStore(index.NewMemoryIndexer[upload.ID, storage.Record](), backend.NewMemory(), cfg)
	require.NoError(t, err)
	svc := concat.NewService(store, nil)
	store.SetConcatenator(svc)

	exts, err := ExtensionsByName(DefaultExtensions, svc)
	require.NoError(t, err)

	return &harness{t: t, store: store, svc: svc, pipeline: NewPipeline(exts...)}
}

func (h *harness) do(method, uri string, headers map[string]string, body string) (*httptest.ResponseRecorder, error) {
	return h.doAs("", method, uri, headers, body)
}

func (h *harness) doAs(ownerKey, method, uri string, headers map[string]string, body string) (*httptest.ResponseRecorder, error) {
	var rb io.Reader
	if body != "" {
		rb = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, uri, rb)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return h.serve(ownerKey, r)
}

func (h *harness) serve(ownerKey string, r *http.Request) (*httptest.ResponseRecorder, error) {
	rec := httptest.NewRecorder()
	req := NewRequest(r, EffectiveMethod(r, h.pipeline.Methods()), h.decodeChunked)
	defer req.Close()

	resp := NewResponse(rec)
	err := h.pipeline.Run(context.Background(), req, resp, h.store, ownerKey)
	if err == nil {
		resp.Commit()
	}
	return rec, err
}

// create POSTs a new upload of length n (0 defers the length) and returns its location.
func (h *harness) create(n int64, extra map[string]string) string {
	h.t.Helper()

	headers := map[string]string{HeaderTusResumable: Version}
	if n > 0 {
		headers[HeaderUploadLength] = strconv.FormatInt(n, 10)
	} else {
		headers[HeaderUploadDeferLength] = "1"
	}
	for k, v := range extra {
		headers[k] = v
	}
	rec, err := h.do(http.MethodPost, "/files", headers, "")
	require.NoError(h.t, err)
	require.Equal(h.t, http.StatusCreated, rec.Code)
	loc := rec.Header().Get(HeaderLocation)
	require.NotEmpty(h.t, loc)
	return loc
}

func (h *harness) patch(loc string, offset int64, body string, extra map[string]string) (*httptest.ResponseRecorder, error) {
	headers := map[string]string{
		HeaderTusResumable: Version,
		HeaderContentType:  ContentTypeOffsetOctetStream,
		HeaderUploadOffset: strconv.FormatInt(offset, 10),
	}
	for k, v := range extra {
		headers[k] = v
	}
	return h.do(http.MethodPatch, loc, headers, body)
}

func (h *harness) info(loc string) upload.Info {
	h.t.Helper()
	info, err := h.store.GetByURI(context.Background(), loc, "")
	require.NoError(h.t, err)
	return info
}

func head() map[string]string {
	return map[string]string{HeaderTusResumable: Version}
}

func assertCode(t *testing.T, want tuserr.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, tuserr.CodeOf(err), "error: %v", err)
}

// ============================================================================
// Pipeline construction
// ============================================================================

func TestNewPipeline_CoreFirstAndDeduplicated(t *testing.T) {
	t.Parallel()

	p := NewPipeline(Termination(), Creation(), Termination())
	assert.Equal(t, []string{ExtensionCore, ExtensionTermination, ExtensionCreation}, p.ExtensionNames())
	assert.Equal(t, []string{
		http.MethodOptions, http.MethodHead, http.MethodPost, http.MethodPatch, http.MethodDelete,
	}, p.Methods())

	p = NewPipeline(Creation(), Core())
	assert.Equal(t, []string{ExtensionCore, ExtensionCreation}, p.ExtensionNames())
}

func TestNewPipeline_CoreOnly(t *testing.T) {
	t.Parallel()

	p := NewPipeline()
	assert.Equal(t, []string{ExtensionCore}, p.ExtensionNames())
	assert.Equal(t, []string{http.MethodOptions, http.MethodHead, http.MethodPatch}, p.Methods())
}

func TestExtensionsByName(t *testing.T) {
	t.Parallel()

	exts, err := ExtensionsByName([]string{" Creation", "termination", ""}, nil)
	require.NoError(t, err)
	require.Len(t, exts, 2)
	assert.Equal(t, ExtensionCreation, exts[0].Name)
	assert.Equal(t, ExtensionTermination, exts[1].Name)

	_, err = ExtensionsByName([]string{"bogus"}, nil)
	assert.Error(t, err)

	_, err = ExtensionsByName([]string{ExtensionConcatenation}, nil)
	assert.Error(t, err)
}

func TestEffectiveMethod(t *testing.T) {
	t.Parallel()

	supported := []string{http.MethodOptions, http.MethodHead, http.MethodPatch, http.MethodPost}
	tests := []struct {
		name     string
		method   string
		override string
		want     string
	}{
		{"plain", http.MethodHead, "", http.MethodHead},
		{"override wins", http.MethodPost, "patch", http.MethodPatch},
		{"unsupported override ignored", http.MethodPost, "TRACE", http.MethodPost},
		{"unsupported method", http.MethodPut, "", ""},
		{"unsupported both", http.MethodPut, "CONNECT", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(tt.method, "/files", nil)
			if tt.override != "" {
				r.Header.Set(HeaderMethodOverride, tt.override)
			}
			assert.Equal(t, tt.want, EffectiveMethod(r, supported))
		})
	}
}

// ============================================================================
// Core protocol
// ============================================================================

func TestCore_UnsupportedMethod(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	_, err := h.do(http.MethodPut, "/files", head(), "")
	assertCode(t, tuserr.ErrMethodUnsupported, err)
	assert.Contains(t, err.Error(), "OPTIONS, HEAD, POST, PATCH, DELETE, GET")
}

func TestCore_TusResumable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})

	_, err := h.do(http.MethodPost, "/files", map[string]string{HeaderUploadLength: "10"}, "")
	assertCode(t, tuserr.ErrProtocolVersionMissing, err)

	_, err = h.do(http.MethodPost, "/files", map[string]string{
		HeaderTusResumable: "0.2.2",
		HeaderUploadLength: "10",
	}, "")
	assertCode(t, tuserr.ErrProtocolVersionInvalid, err)

	// OPTIONS and GET do not need the header
	rec, err := h.do(http.MethodOptions, "/files", nil, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCore_Options(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{MaxUploadSize: 1073741824})
	rec, err := h.do(http.MethodOptions, "/files", nil, "")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, Version, rec.Header().Get(HeaderTusResumable))
	assert.Equal(t, Version, rec.Header().Get(HeaderTusVersion))
	assert.Equal(t, "1073741824", rec.Header().Get(HeaderTusMaxSize))
	assert.Equal(t, "0", rec.Header().Get(HeaderContentLength))
	assert.Equal(t,
		"creation,creation-defer-length,concatenation,concatenation-unfinished,checksum,checksum-trailer,expiration,termination",
		rec.Header().Get(HeaderTusExtension))
	assert.Equal(t, "crc32,crc64nvme,md5,sha1,sha256,sha384,sha512", rec.Header().Get(HeaderTusChecksumAlgorithm))
}

func TestCore_OptionsWithoutMaxSize(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	rec, err := h.do(http.MethodOptions, "/files", nil, "")
	require.NoError(t, err)
	assert.Empty(t, rec.Header().Get(HeaderTusMaxSize))
	assert.Empty(t, rec.Header().Values(HeaderTusMaxSize))
}

func TestCore_PatchAndHead(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(11, nil)

	rec, err := h.patch(loc, 0, "hello ", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "6", rec.Header().Get(HeaderUploadOffset))

	rec, err = h.patch(loc, 6, "world", nil)
	require.NoError(t, err)
	assert.Equal(t, "11", rec.Header().Get(HeaderUploadOffset))

	rec, err = h.do(http.MethodHead, loc, head(), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "11", rec.Header().Get(HeaderUploadOffset))
	assert.Equal(t, "11", rec.Header().Get(HeaderUploadLength))
	assert.Equal(t, "no-store", rec.Header().Get(HeaderCacheControl))
	assert.Empty(t, rec.Header().Get(HeaderUploadDeferLength))

	info := h.info(loc)
	assert.False(t, info.InProgress())
}

func TestCore_PatchOnCompleteUpload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(3, nil)

	_, err := h.patch(loc, 0, "abc", nil)
	require.NoError(t, err)

	rec, err := h.patch(loc, 3, "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "3", rec.Header().Get(HeaderUploadOffset))
}

func TestCore_OffsetMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(20, nil)
	_, err := h.patch(loc, 0, "123456", nil)
	require.NoError(t, err)

	for _, declared := range []string{"0", "5", "7", "-6", "abc", ""} {
		t.Run("declared "+declared, func(t *testing.T) {
			_, err := h.do(http.MethodPatch, loc, map[string]string{
				HeaderTusResumable: Version,
				HeaderContentType:  ContentTypeOffsetOctetStream,
				HeaderUploadOffset: declared,
			}, "x")
			assertCode(t, tuserr.ErrOffsetMismatch, err)
		})
	}

	assert.Equal(t, int64(6), h.info(loc).Offset)
}

func TestCore_ContentType(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(10, nil)

	for _, ct := range []string{"application/octet-stream", "", "text/plain"} {
		_, err := h.patch(loc, 0, "abc", map[string]string{HeaderContentType: ct})
		assertCode(t, tuserr.ErrContentTypeInvalid, err)
	}
}

func TestCore_ContentLengthExceedsLength(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(4, nil)

	_, err := h.patch(loc, 0, "abcde", nil)
	assertCode(t, tuserr.ErrContentLengthInvalid, err)
	assert.Equal(t, int64(0), h.info(loc).Offset)
}

func TestCore_UnknownUpload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})

	_, err := h.do(http.MethodHead, "/files/4a2b8a0c-5d5b-4c8e-9d1f-3c9a1f2b7e60", head(), "")
	assertCode(t, tuserr.ErrUploadNotFound, err)

	_, err = h.patch("/files/not-a-uuid", 0, "abc", nil)
	assertCode(t, tuserr.ErrUploadNotFound, err)
}

func TestCore_OwnerKeyScopesLookups(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	rec, err := h.doAs("tenant-a", http.MethodPost, "/files", map[string]string{
		HeaderTusResumable: Version,
		HeaderUploadLength: "5",
	}, "")
	require.NoError(t, err)
	loc := rec.Header().Get(HeaderLocation)

	_, err = h.doAs("tenant-b", http.MethodHead, loc, head(), "")
	assertCode(t, tuserr.ErrUploadNotFound, err)

	rec, err = h.doAs("tenant-a", http.MethodHead, loc, head(), "")
	require.NoError(t, err)
	assert.Equal(t, "5", rec.Header().Get(HeaderUploadLength))
}

func TestCore_ExpiredUploadIsGone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(5, nil)

	info := h.info(loc)
	info.ExpiresAt = info.CreatedAt.Add(-1)
	require.NoError(t, h.store.Update(context.Background(), info))

	_, err := h.do(http.MethodHead, loc, head(), "")
	assertCode(t, tuserr.ErrUploadGone, err)
}
