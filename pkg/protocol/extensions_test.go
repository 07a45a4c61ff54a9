package protocol

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Expiration
// ============================================================================

func TestExpiration_PostAndPatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{ExpirationPeriod: time.Hour})

	before := time.Now().Truncate(time.Second)
	rec, err := h.do(http.MethodPost, "/files", map[string]string{
		HeaderTusResumable: Version,
		HeaderUploadLength: "10",
	}, "")
	require.NoError(t, err)

	expires, err := http.ParseTime(rec.Header().Get(HeaderUploadExpires))
	require.NoError(t, err)
	assert.False(t, expires.Before(before.Add(time.Hour)))
	assert.True(t, expires.Before(time.Now().Add(time.Hour+time.Second)))

	loc := rec.Header().Get(HeaderLocation)
	first := h.info(loc).ExpiresAt
	require.False(t, first.IsZero())

	rec, err = h.patch(loc, 0, "abc", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Header().Get(HeaderUploadExpires))
	assert.False(t, h.info(loc).ExpiresAt.Before(first))
}

func TestExpiration_Disabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(10, nil)

	rec, err := h.patch(loc, 0, "abc", nil)
	require.NoError(t, err)
	assert.Empty(t, rec.Header().Get(HeaderUploadExpires))
	assert.True(t, h.info(loc).ExpiresAt.IsZero())
}

func TestExpiration_FixedClock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{ExpirationPeriod: 30 * time.Minute})
	loc := h.create(10, nil)

	now := time.Date(2018, time.January, 20, 10, 43, 11, 0, time.UTC)
	handler := expirationHandler{methods: methods{http.MethodPatch}, now: func() time.Time { return now }}

	r := NewRequest(httptest.NewRequest(http.MethodPatch, loc, nil), http.MethodPatch, false)
	rec := httptest.NewRecorder()
	resp := NewResponse(rec)
	_, err := handler.Process(t.Context(), r, resp, h.store, "")
	require.NoError(t, err)

	assert.Equal(t, "Sat, 20 Jan 2018 11:13:11 GMT", rec.Header().Get(HeaderUploadExpires))
	assert.True(t, h.info(loc).ExpiresAt.Equal(now.Add(30*time.Minute)))
}

// ============================================================================
// Termination
// ============================================================================

func TestTermination(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(10, nil)
	_, err := h.patch(loc, 0, "abc", nil)
	require.NoError(t, err)

	rec, err := h.do(http.MethodDelete, loc, head(), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = h.do(http.MethodHead, loc, head(), "")
	assertCode(t, tuserr.ErrUploadNotFound, err)

	_, err = h.do(http.MethodDelete, loc, head(), "")
	assertCode(t, tuserr.ErrUploadNotFound, err)
}

func TestTermination_Disabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	h.pipeline = NewPipeline(Creation())
	loc := h.create(10, nil)

	_, err := h.do(http.MethodDelete, loc, head(), "")
	assertCode(t, tuserr.ErrMethodUnsupported, err)
}

// ============================================================================
// Download
// ============================================================================

func TestDownload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	// filename "Naïve file.txt", filetype "text/plain"
	loc := h.create(11, map[string]string{
		HeaderUploadMetadata: "filename TmHDr3ZlIGZpbGUudHh0,filetype dGV4dC9wbGFpbg==",
	})
	_, err := h.patch(loc, 0, "hello world", nil)
	require.NoError(t, err)

	rec, err := h.do(http.MethodGet, loc, nil, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Equal(t, "11", rec.Header().Get(HeaderContentLength))
	assert.Equal(t, "text/plain", rec.Header().Get(HeaderContentType))
	assert.Equal(t, `attachment; filename="Naïve file.txt"; filename*=UTF-8''Na%C3%AFve%20file.txt`,
		rec.Header().Get(HeaderContentDisposition))
	assert.Equal(t, "filename TmHDr3ZlIGZpbGUudHh0,filetype dGV4dC9wbGFpbg==", rec.Header().Get(HeaderUploadMetadata))
}

func TestDownload_DefaultsWithoutMetadata(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(2, nil)
	_, err := h.patch(loc, 0, "hi", nil)
	require.NoError(t, err)

	rec, err := h.do(http.MethodGet, loc, nil, "")
	require.NoError(t, err)
	id := h.info(loc).ID.String()
	assert.Equal(t, "application/octet-stream", rec.Header().Get(HeaderContentType))
	assert.Equal(t, `attachment; filename="`+id+`"; filename*=UTF-8''`+id, rec.Header().Get(HeaderContentDisposition))
	assert.Empty(t, rec.Header().Get(HeaderUploadMetadata))
}

func TestDownload_InProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(10, nil)
	_, err := h.patch(loc, 0, "abc", nil)
	require.NoError(t, err)

	_, err = h.do(http.MethodGet, loc, nil, "")
	assertCode(t, tuserr.ErrUploadStillInProgress, err)
	assert.Equal(t, http.StatusUnprocessableEntity, tuserr.CodeOf(err).HTTPStatusCode())
}

func TestDownload_Unknown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	_, err := h.do(http.MethodGet, "/files/5e1a5a4c-0b38-4f5e-9a51-8c27c7c29f1e", nil, "")
	assertCode(t, tuserr.ErrUploadNotFound, err)
}

func TestContentDisposition(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `attachment; filename="a \"b\".txt"; filename*=UTF-8''a%20%22b%22.txt`, contentDisposition(`a "b".txt`))
	assert.Equal(t, `attachment; filename="x;y"; filename*=UTF-8''x%3By`, contentDisposition("x;y"))
}
