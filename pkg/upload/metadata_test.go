package upload

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetadata(t *testing.T) {
	t.Parallel()

	m := DecodeMetadata("name dGVzdC5qcGc=,type aW1hZ2UvanBlZw==, empty ,  spaced    dGVzdA==")

	v, ok := m.Value("name")
	require.True(t, ok)
	assert.Equal(t, "test.jpg", v)

	v, ok = m.Value("TYPE")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", v)

	assert.True(t, m.Has("empty"))
	_, ok = m.Value("empty")
	assert.False(t, ok)

	v, ok = m.Value("spaced")
	require.True(t, ok)
	assert.Equal(t, "test", v)
}

func TestDecodeMetadata_Blank(t *testing.T) {
	t.Parallel()

	assert.Empty(t, DecodeMetadata(""))
	assert.Empty(t, DecodeMetadata("   "))
	assert.Empty(t, DecodeMetadata(",,"))
}

func TestDecodeMetadata_InvalidBase64IsAbsent(t *testing.T) {
	t.Parallel()

	m := DecodeMetadata("key !!!notbase64")
	assert.True(t, m.Has("key"))
	_, ok := m.Value("key")
	assert.False(t, ok)
}

func TestMetadata_RoundTrip(t *testing.T) {
	t.Parallel()

	m := make(Metadata)
	m.SetString("name", "test.jpg")
	m.Set("flag", nil)

	decoded := DecodeMetadata(m.Encode())

	v, ok := decoded.Value("name")
	require.True(t, ok)
	assert.Equal(t, "test.jpg", v)
	assert.True(t, decoded.Has("flag"))
	assert.Nil(t, decoded["flag"])
}

func TestMetadata_EncodeOrder(t *testing.T) {
	t.Parallel()

	m := make(Metadata)
	m.SetString("type", "image/jpeg")
	m.SetString("Name", "test.jpg")
	m.Set("empty", nil)

	assert.Equal(t, "empty,Name dGVzdC5qcGc=,type aW1hZ2UvanBlZw==", m.Encode())
	assert.Equal(t, "", Metadata(nil).Encode())
}

func TestMetadata_SetIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	m := make(Metadata)
	m.SetString("FileName", "a.txt")
	m.SetString("filename", "b.txt")

	assert.Len(t, m, 1)
	v, _ := m.Value("FILENAME")
	assert.Equal(t, "b.txt", v)
}

func TestMetadata_GobKeepsKeyOnlyEntries(t *testing.T) {
	t.Parallel()

	info := Info{ID: "abc", Metadata: make(Metadata)}
	info.Metadata.SetString("name", "test.jpg")
	info.Metadata.Set("flag", nil)

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(info))

	var decoded Info
	require.NoError(t, gob.NewDecoder(&buf).Decode(&decoded))

	assert.Equal(t, info.Metadata.Encode(), decoded.Metadata.Encode())
	assert.True(t, decoded.Metadata.Has("flag"))
}
