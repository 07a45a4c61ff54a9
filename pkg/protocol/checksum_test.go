package protocol

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mdnBody = "Mozilla Developer Network"
	mdnSHA1 = "sha1 zYR9iS5Rya+WoH1fEyfKqqdPWWE="
)

func uploaded(t *testing.T, h *harness, loc string) string {
	t.Helper()
	rc, err := h.store.UploadedBytes(context.Background(), h.info(loc).ID)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func chunkedPatch(loc, framed string) *http.Request {
	r := httptest.NewRequest(http.MethodPatch, loc, strings.NewReader(framed))
	r.Header.Set(HeaderTusResumable, Version)
	r.Header.Set(HeaderContentType, ContentTypeOffsetOctetStream)
	r.Header.Set(HeaderUploadOffset, "0")
	r.Header.Set(HeaderTransferEncoding, "chunked")
	return r
}

func TestChecksum_HeaderMatches(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(int64(len(mdnBody)), nil)

	rec, err := h.patch(loc, 0, mdnBody, map[string]string{HeaderUploadChecksum: mdnSHA1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "25", rec.Header().Get(HeaderUploadOffset))
	assert.Equal(t, mdnBody, uploaded(t, h, loc))
}

func TestChecksum_HeaderMismatchDiscardsBytes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(100, nil)
	_, err := h.patch(loc, 0, "kept-", nil)
	require.NoError(t, err)

	_, err = h.patch(loc, 5, mdnBody, map[string]string{
		HeaderUploadChecksum: "sha1 AAAAAAAAAAAAAAAAAAAAAAAAAAA=",
	})
	assertCode(t, tuserr.ErrChecksumMismatch, err)
	assert.Equal(t, tuserr.StatusChecksumMismatch, tuserr.CodeOf(err).HTTPStatusCode())

	assert.Equal(t, int64(5), h.info(loc).Offset)
	assert.Equal(t, "kept-", uploaded(t, h, loc))
}

func TestChecksum_UnsupportedAlgorithm(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(25, nil)

	for _, header := range []string{"foo zYR9iS5Rya+WoH1fEyfKqqdPWWE=", "sha1", "sha1 a b"} {
		_, err := h.patch(loc, 0, mdnBody, map[string]string{HeaderUploadChecksum: header})
		assertCode(t, tuserr.ErrChecksumAlgorithmUnsupported, err)
	}
	assert.Equal(t, int64(0), h.info(loc).Offset)
}

func TestChecksum_AlgorithmNameIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(25, nil)

	_, err := h.patch(loc, 0, mdnBody, map[string]string{HeaderUploadChecksum: "SHA1 zYR9iS5Rya+WoH1fEyfKqqdPWWE="})
	require.NoError(t, err)
	assert.Equal(t, int64(25), h.info(loc).Offset)
}

func TestChecksum_Trailer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	h.decodeChunked = true
	loc := h.create(25, nil)

	framed := "19\r\n" + mdnBody + "\r\n0\r\nUpload-Checksum: " + mdnSHA1 + "\r\n\r\n"
	rec, err := h.serve("", chunkedPatch(loc, framed))
	require.NoError(t, err)
	assert.Equal(t, "25", rec.Header().Get(HeaderUploadOffset))
	assert.Equal(t, mdnBody, uploaded(t, h, loc))
}

func TestChecksum_TrailerMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	h.decodeChunked = true
	loc := h.create(25, nil)

	framed := "10\r\n" + mdnBody[:16] + "\r\n9\r\n" + mdnBody[16:] + "\r\n0\r\nupload-checksum: md5 AAAAAAAAAAAAAAAAAAAAAA==\r\n\r\n"
	_, err := h.serve("", chunkedPatch(loc, framed))
	assertCode(t, tuserr.ErrChecksumMismatch, err)
	assert.Equal(t, int64(0), h.info(loc).Offset)
	assert.Empty(t, uploaded(t, h, loc))
}

func TestChecksum_BrokenFraming(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	h.decodeChunked = true
	loc := h.create(25, nil)

	_, err := h.serve("", chunkedPatch(loc, "zz\r\nMozilla\r\n"))
	assertCode(t, tuserr.ErrChunkDecoding, err)
}

func TestChecksum_DecodedTrailer(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(25, nil)

	// net/http already removed the framing and exposes the trailer separately
	r := httptest.NewRequest(http.MethodPatch, loc, strings.NewReader(mdnBody))
	r.Header.Set(HeaderTusResumable, Version)
	r.Header.Set(HeaderContentType, ContentTypeOffsetOctetStream)
	r.Header.Set(HeaderUploadOffset, "0")
	r.ContentLength = -1
	r.TransferEncoding = []string{"chunked"}
	r.Trailer = http.Header{HeaderUploadChecksum: []string{mdnSHA1}}

	_, err := h.serve("", r)
	require.NoError(t, err)
	assert.Equal(t, int64(25), h.info(loc).Offset)
}

func TestChecksum_TrailerIgnoresSurplus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, storage.Config{})
	loc := h.create(25, nil)

	// the bytes past the upload length are discarded and must not be hashed
	r := httptest.NewRequest(http.MethodPatch, loc, strings.NewReader(mdnBody+"surplus"))
	r.Header.Set(HeaderTusResumable, Version)
	r.Header.Set(HeaderContentType, ContentTypeOffsetOctetStream)
	r.Header.Set(HeaderUploadOffset, "0")
	r.ContentLength = -1
	r.TransferEncoding = []string{"chunked"}
	r.Trailer = http.Header{HeaderUploadChecksum: []string{mdnSHA1}}

	rec, err := h.serve("", r)
	require.NoError(t, err)
	assert.Equal(t, "25", rec.Header().Get(HeaderUploadOffset))
	assert.Equal(t, mdnBody, uploaded(t, h, loc))
}
