//go:build integration

// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/minio/sha256-simd"
	"github.com/stretchr/testify/require"
)

const tusVersion = "1.0.0"

// TusClient issues raw tus requests against a running server
type TusClient struct {
	t       *testing.T
	baseURL string
	client  *http.Client
}

// NewTusClient creates a client for the server at addr
func NewTusClient(t *testing.T, addr string) *TusClient {
	// Use a transport that doesn't keep connections alive to avoid goroutine leaks
	transport := &http.Transport{
		DisableKeepAlives: true,
	}
	tc := &TusClient{
		t:       t,
		baseURL: "http://" + addr,
		client:  &http.Client{Transport: transport},
	}
	t.Cleanup(func() {
		transport.CloseIdleConnections()
	})
	return tc
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends a request with the Tus-Resumable header set unless headers override it
func (c *TusClient) Do(method, path string, headers map[string]string, body []byte) *Response {
	c.t.Helper()

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + path
	}

	var rb io.Reader
	if body != nil {
		rb = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, rb)
	require.NoError(c.t, err)
	req.Header.Set("Tus-Resumable", tusVersion)
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	require.NoError(c.t, err, "%s %s", method, target)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
}

// Create starts an upload of the given length and returns its absolute URL
func (c *TusClient) Create(uploadURI string, length int, metadata map[string]string) string {
	c.t.Helper()

	headers := map[string]string{"Upload-Length": strconv.Itoa(length)}
	if len(metadata) > 0 {
		headers["Upload-Metadata"] = EncodeMetadata(metadata)
	}
	resp := c.Do(http.MethodPost, uploadURI, headers, nil)
	require.Equal(c.t, http.StatusCreated, resp.StatusCode, string(resp.Body))
	return c.resolve(resp.Header.Get("Location"))
}

// Patch appends data at offset and returns the new offset
func (c *TusClient) Patch(location string, offset int, data []byte) int {
	c.t.Helper()

	sum := sha256.Sum256(data)
	resp := c.Do(http.MethodPatch, location, map[string]string{
		"Content-Type":    "application/offset+octet-stream",
		"Upload-Offset":   strconv.Itoa(offset),
		"Upload-Checksum": "sha256 " + base64.StdEncoding.EncodeToString(sum[:]),
	}, data)
	require.Equal(c.t, http.StatusNoContent, resp.StatusCode, string(resp.Body))

	next, err := strconv.Atoi(resp.Header.Get("Upload-Offset"))
	require.NoError(c.t, err)
	return next
}

// Offset returns the server side offset of an upload
func (c *TusClient) Offset(location string) int {
	c.t.Helper()

	resp := c.Do(http.MethodHead, location, nil, nil)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	offset, err := strconv.Atoi(resp.Header.Get("Upload-Offset"))
	require.NoError(c.t, err)
	return offset
}

// Download returns the content of a finished upload
func (c *TusClient) Download(location string) []byte {
	c.t.Helper()

	resp := c.Do(http.MethodGet, location, nil, nil)
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(resp.Body))
	return resp.Body
}

func (c *TusClient) resolve(location string) string {
	c.t.Helper()

	base, err := url.Parse(c.baseURL + "/")
	require.NoError(c.t, err)
	ref, err := url.Parse(location)
	require.NoError(c.t, err)
	return base.ResolveReference(ref).String()
}

// EncodeMetadata renders an Upload-Metadata header value
func EncodeMetadata(metadata map[string]string) string {
	pairs := make([]string, 0, len(metadata))
	for k, v := range metadata {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(v)))
	}
	return strings.Join(pairs, ",")
}
