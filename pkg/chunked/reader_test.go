// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeChunked frames payload pieces as a chunked body followed by trailers.
func encodeChunked(chunks []string, trailers ...string) string {
	var buf bytes.Buffer
	for _, chunk := range chunks {
		fmt.Fprintf(&buf, "%x\r\n%s\r\n", len(chunk), chunk)
	}
	buf.WriteString("0\r\n")
	for _, trailer := range trailers {
		buf.WriteString(trailer + "\r\n")
	}
	buf.WriteString("\r\n")
	return buf.String()
}

func decodeAll(t *testing.T, body string, trailers map[string][]string) (string, error) {
	t.Helper()
	r, err := NewReader(strings.NewReader(body), trailers)
	require.NoError(t, err)
	defer r.Close()

	out, err := io.ReadAll(r)
	return string(out), err
}

// ============================================================================
// Payload Decoding
// ============================================================================

func TestReader_WithoutTrailers(t *testing.T) {
	t.Parallel()

	body := "4\r\nWiki\r\n5\r\npedia\r\nD\r\n in\n\n\rchunks.\r\n0\r\n\r\n"
	out, err := decodeAll(t, body, nil)
	require.NoError(t, err)
	assert.Equal(t, "Wikipedia in\n\n\rchunks.", out)
}

func TestReader_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []string
	}{
		{"single chunk", []string{"hello world"}},
		{"many chunks", []string{"a", "bc", "def", "ghij"}},
		{"binary", []string{"\x00\x01\r\n\x02", "\xff\xfe"}},
		{"large chunk", []string{strings.Repeat("x", 100_000)}},
		{"no chunks", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := decodeAll(t, encodeChunked(tt.chunks), nil)
			require.NoError(t, err)
			assert.Equal(t, strings.Join(tt.chunks, ""), out)
		})
	}
}

func TestReader_ChunkExtensionWithQuotedNewline(t *testing.T) {
	t.Parallel()

	body := "10;key=\"value\r\nnewline\"\r\n1234567890123456\r\n5\r\n12345\r\n0\r\nFooter1: abcde\r\nFooter2: fghij\r\n"
	trailers := make(map[string][]string)

	out, err := decodeAll(t, body, trailers)
	require.NoError(t, err)
	assert.Equal(t, "123456789012345612345", out)
	assert.Equal(t, []string{"abcde"}, trailers["footer1"])
	assert.Equal(t, []string{"fghij"}, trailers["footer2"])
}

func TestReader_EmptyBody(t *testing.T) {
	t.Parallel()

	out, err := decodeAll(t, "0\r\n", make(map[string][]string))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReader_PartialReads(t *testing.T) {
	t.Parallel()

	r, err := NewReader(strings.NewReader("4\r\n0123\r\n6\r\n456789\r\n0\r\n"), nil)
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "0123456789", string(got))
}

// ============================================================================
// Trailers
// ============================================================================

func TestReader_Trailers(t *testing.T) {
	t.Parallel()

	trailers := make(map[string][]string)
	body := encodeChunked([]string{"Mozilla ", "Developer ", "Network"},
		"Expires: Wed, 21 Oct 2015 07:28:00 GMT",
		"Upload-Checksum: sha1 zYR9iS5Rya+WoH1fEyfKqqdPWWE=",
		"X-Multi: one",
		"x-multi: two",
	)

	out, err := decodeAll(t, body, trailers)
	require.NoError(t, err)
	assert.Equal(t, "Mozilla Developer Network", out)
	assert.Equal(t, []string{"Wed, 21 Oct 2015 07:28:00 GMT"}, trailers["expires"])
	assert.Equal(t, []string{"sha1 zYR9iS5Rya+WoH1fEyfKqqdPWWE="}, trailers["upload-checksum"])
	assert.Equal(t, []string{"one", "two"}, trailers["x-multi"])
}

func TestReader_FoldedTrailers(t *testing.T) {
	t.Parallel()

	trailers := make(map[string][]string)
	body := "8\r\nMozilla \r\nA\r\nDeveloper \r\n7\r\nNetwork\r\n0\r\n" +
		"Expires: Wed, 21 Oct 2015\n 07:28:00 GMT\r\n" +
		"Cookie: ABC\n\tDEF\r\n" +
		"\r\n"

	out, err := decodeAll(t, body, trailers)
	require.NoError(t, err)
	assert.Equal(t, "Mozilla Developer Network", out)
	assert.Equal(t, []string{"Wed, 21 Oct 2015 07:28:00 GMT"}, trailers["expires"])
	assert.Equal(t, []string{"ABC DEF"}, trailers["cookie"])
}

// ============================================================================
// Malformed Input
// ============================================================================

func TestReader_MissingCRLFAfterData(t *testing.T) {
	t.Parallel()

	body := "10;key=\"val\\ue\"\r\n123456789012345\r\n5\r\n12345\r\n0\r\n"
	_, err := decodeAll(t, body, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidChunkFormat)
}

func TestReader_InvalidChunkSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"negative", "-A\r\n0123456789\r\n0\r\n"},
		{"not hex", "XYZ\r\n0123\r\n0\r\n"},
		{"empty", "\r\n0123\r\n0\r\n"},
		{"truncated header", "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := NewReader(strings.NewReader(tt.body), nil)
			require.NoError(t, err)
			_, err = r.Read(make([]byte, 10))
			assert.ErrorIs(t, err, ErrInvalidChunkFormat)
		})
	}
}

func TestReader_TruncatedData(t *testing.T) {
	t.Parallel()

	_, err := decodeAll(t, "A\r\n01234", nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReader_NilSource(t *testing.T) {
	t.Parallel()

	r, err := NewReader(nil, nil)
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ErrNilSource)
}

// ============================================================================
// EOF and Close
// ============================================================================

func TestReader_RepeatedEOF(t *testing.T) {
	t.Parallel()

	r, err := NewReader(strings.NewReader("A\r\n0123456789\r\n0\r\n"), nil)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	for i := 0; i < 2; i++ {
		n, err = r.Read(buf)
		assert.Equal(t, 0, n)
		assert.Equal(t, io.EOF, err)
	}
}

func TestReader_ReadAfterClose(t *testing.T) {
	t.Parallel()

	r, err := NewReader(strings.NewReader("A\r\n0123456789\r\n0\r\n"), nil)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	_, err = r.Read(make([]byte, 10))
	assert.ErrorIs(t, err, ErrClosed)

	// double close is a no-op
	assert.NoError(t, r.Close())
}

type closeCounter struct {
	io.Reader
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func TestReader_ClosesSourceOnce(t *testing.T) {
	t.Parallel()

	src := &closeCounter{Reader: strings.NewReader("0\r\n")}
	r, err := NewReader(src, nil)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, src.closes)
}
