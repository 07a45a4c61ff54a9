// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// HTTP chunked transfer-coding (RFC 7230 section 4.1):
// <chunk-size-hex>[;ext-name[=ext-value]]\r\n
// <chunk-data>\r\n
// ... repeat ...
// 0\r\n
// [trailer-field\r\n]*
// \r\n

var (
	ErrInvalidChunkFormat = errors.New("invalid chunk format")
	ErrClosed             = errors.New("chunked reader is closed")
	ErrNilSource          = errors.New("chunked reader requires a source")
)

const (
	// MaxChunkSize bounds a single chunk; larger chunk-size lines are rejected.
	MaxChunkSize = 1 << 40

	maxLineLength = 64 * 1024
)

// Reader decodes a chunked body into its payload bytes. Trailer fields that
// follow the last chunk are merged into the trailer map given to NewReader,
// keyed by lower-cased field name.
type Reader struct {
	src      io.Reader
	reader   *bufio.Reader
	trailers map[string][]string

	chunkRemaining int64
	eof            bool
	closed         bool
	err            error
}

// NewReader wraps src. trailers may be nil when the caller does not care about them.
func NewReader(src io.Reader, trailers map[string][]string) (*Reader, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	return &Reader{
		src:      src,
		reader:   bufio.NewReaderSize(src, 32*1024),
		trailers: trailers,
	}, nil
}

// Trailers returns the trailer map populated once the terminating chunk is read.
func (c *Reader) Trailers() map[string][]string {
	return c.trailers
}

// Read implements io.Reader, returning payload bytes only.
func (c *Reader) Read(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if c.err != nil {
		return 0, c.err
	}
	if c.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if c.chunkRemaining == 0 {
		if err := c.readChunkHeader(); err != nil {
			c.err = err
			return 0, err
		}
		if c.chunkRemaining == 0 {
			if err := c.readTrailers(); err != nil {
				c.err = err
				return 0, err
			}
			c.eof = true
			return 0, io.EOF
		}
	}

	toRead := min(int64(len(p)), c.chunkRemaining)
	n, err := c.reader.Read(p[:toRead])
	c.chunkRemaining -= int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		c.err = err
		return n, err
	}

	if c.chunkRemaining == 0 {
		if err := c.readChunkTerminator(); err != nil {
			c.err = err
			return n, err
		}
	}
	return n, nil
}

// Close marks the reader closed and closes the source if it is an io.Closer.
// Closing twice is a no-op.
func (c *Reader) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if closer, ok := c.src.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// readChunkHeader parses the chunk-size line. Extensions are skipped,
// including quoted values that contain line breaks.
func (c *Reader) readChunkHeader() error {
	line, err := c.readSizeLine()
	if err != nil {
		return err
	}

	sizePart, _, _ := strings.Cut(line, ";")
	sizePart = strings.TrimSpace(sizePart)
	if sizePart == "" {
		return fmt.Errorf("%w: empty chunk size", ErrInvalidChunkFormat)
	}

	size, err := strconv.ParseUint(sizePart, 16, 63)
	if err != nil {
		return fmt.Errorf("%w: invalid chunk size %q", ErrInvalidChunkFormat, sizePart)
	}
	if size > MaxChunkSize {
		return fmt.Errorf("%w: chunk size %d exceeds maximum", ErrInvalidChunkFormat, size)
	}

	c.chunkRemaining = int64(size)
	return nil
}

func (c *Reader) readSizeLine() (string, error) {
	var b strings.Builder
	inQuotes := false
	escaped := false

	for {
		ch, err := c.reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				return "", fmt.Errorf("%w: unexpected end of stream in chunk header", ErrInvalidChunkFormat)
			}
			return "", err
		}

		switch {
		case escaped:
			escaped = false
		case inQuotes && ch == '\\':
			escaped = true
		case ch == '"':
			inQuotes = !inQuotes
		case ch == '\n' && !inQuotes:
			return strings.TrimSuffix(b.String(), "\r"), nil
		}

		b.WriteByte(ch)
		if b.Len() > maxLineLength {
			return "", fmt.Errorf("%w: chunk header too long", ErrInvalidChunkFormat)
		}
	}
}

func (c *Reader) readChunkTerminator() error {
	var crlf [2]byte
	if _, err := io.ReadFull(c.reader, crlf[:]); err != nil {
		return fmt.Errorf("%w: missing CRLF after chunk data", ErrInvalidChunkFormat)
	}
	if crlf[0] != '\r' || crlf[1] != '\n' {
		return fmt.Errorf("%w: missing CRLF after chunk data", ErrInvalidChunkFormat)
	}
	return nil
}

// readTrailers reads trailer fields until a blank line or end of stream.
// Continuation lines starting with a space or tab are folded into the
// previous field, joined by a single space.
func (c *Reader) readTrailers() error {
	var name, value string

	flush := func() {
		if name != "" && c.trailers != nil {
			c.trailers[name] = append(c.trailers[name], value)
		}
		name, value = "", ""
	}

	for {
		line, err := c.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if len(line) > maxLineLength {
			return fmt.Errorf("%w: trailer line too long", ErrInvalidChunkFormat)
		}

		atEOF := err == io.EOF
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			flush()
			return nil
		case line[0] == ' ' || line[0] == '\t':
			if name != "" {
				value = strings.TrimSpace(value + " " + strings.TrimSpace(line))
			}
		default:
			flush()
			k, v, ok := strings.Cut(line, ":")
			if ok {
				name = strings.ToLower(strings.TrimSpace(k))
				value = strings.TrimSpace(v)
			}
		}

		if atEOF {
			flush()
			return nil
		}
	}
}
