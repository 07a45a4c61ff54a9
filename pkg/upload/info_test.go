package upload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInfo_InProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		offset int64
		length int64
		want   bool
	}{
		{"unknown length, nothing written", 0, 0, true},
		{"unknown length, bytes written", 10, 0, true},
		{"partially written", 5, 10, true},
		{"complete", 10, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info := Info{Offset: tt.offset}
			info.SetLength(tt.length)
			assert.Equal(t, tt.want, info.InProgress())
		})
	}
}

func TestInfo_SetLength(t *testing.T) {
	t.Parallel()

	var info Info
	info.SetLength(10)
	assert.True(t, info.HasLength())
	assert.Equal(t, int64(10), info.Length)

	info.SetLength(0)
	assert.False(t, info.HasLength())

	info.SetLength(-5)
	assert.False(t, info.HasLength())
	assert.Equal(t, int64(0), info.Length)
}

func TestInfo_IsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2018, 1, 20, 10, 43, 11, 0, time.UTC)

	var info Info
	assert.False(t, info.IsExpired(now), "no expiration set")

	info.ExpiresAt = now.Add(time.Second)
	assert.False(t, info.IsExpired(now))

	info.ExpiresAt = now.Add(-time.Second)
	assert.True(t, info.IsExpired(now))
}

func TestInfo_FileNameAndContentType(t *testing.T) {
	t.Parallel()

	info := Info{ID: "1911e8a4-6939-490c-b58b-a5d70f8d91fb", Metadata: make(Metadata)}
	assert.Equal(t, "1911e8a4-6939-490c-b58b-a5d70f8d91fb", info.FileName())
	assert.Equal(t, DefaultContentType, info.ContentType())

	info.Metadata.SetString("name", "fallback.jpg")
	info.Metadata.SetString("filetype", "image/png")
	assert.Equal(t, "fallback.jpg", info.FileName())
	assert.Equal(t, "image/png", info.ContentType())

	info.Metadata.SetString("filename", "test.jpg")
	info.Metadata.SetString("mimetype", "image/jpeg")
	assert.Equal(t, "test.jpg", info.FileName())
	assert.Equal(t, "image/jpeg", info.ContentType())
}

func TestInfo_Clone(t *testing.T) {
	t.Parallel()

	info := Info{ID: "a", ConcatPartIDs: []string{"p1", "p2"}, Metadata: make(Metadata)}
	info.Metadata.SetString("name", "a.txt")

	clone := info.Clone()
	clone.ConcatPartIDs[0] = "changed"
	clone.Metadata.SetString("name", "b.txt")

	assert.Equal(t, "p1", info.ConcatPartIDs[0])
	v, _ := info.Metadata.Value("name")
	assert.Equal(t, "a.txt", v)
}

func TestType_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "regular", TypeRegular.String())
	assert.Equal(t, "partial", TypePartial.String())
	assert.Equal(t, "concatenated", TypeConcatenated.String())
}
