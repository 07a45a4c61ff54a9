package utils

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAlgorithms(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"crc32", "crc64nvme", "md5", "sha1", "sha256", "sha384", "sha512"}, HashAlgorithms())
}

func TestHasherPool_Digest(t *testing.T) {
	t.Parallel()

	h, ok := HasherPoolGet("sha1")
	require.True(t, ok)
	defer HasherPoolPut("sha1", h)

	h.Write([]byte("Mozilla Developer Network"))
	assert.Equal(t, "zYR9iS5Rya+WoH1fEyfKqqdPWWE=", base64.StdEncoding.EncodeToString(h.Sum(nil)))
}

func TestHasherPool_ResetOnPut(t *testing.T) {
	t.Parallel()

	h, ok := HasherPoolGet("md5")
	require.True(t, ok)
	empty := h.Sum(nil)

	h.Write([]byte("dirty"))
	HasherPoolPut("md5", h)

	h2, ok := HasherPoolGet("md5")
	require.True(t, ok)
	assert.Equal(t, empty, h2.Sum(nil))
}

func TestHasherPool_Unknown(t *testing.T) {
	t.Parallel()

	h, ok := HasherPoolGet("whirlpool")
	assert.False(t, ok)
	assert.Nil(t, h)

	// no panic
	HasherPoolPut("whirlpool", nil)
}

func TestSyncPoolBuffer(t *testing.T) {
	t.Parallel()

	buf := SyncPoolGetBuffer()
	buf.WriteString("abc")
	SyncPoolPutBuffer(buf)

	buf = SyncPoolGetBuffer()
	assert.Equal(t, 0, buf.Len())
	SyncPoolPutBuffer(buf)
}
