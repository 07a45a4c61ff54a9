package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want ID
	}{
		{"not yet url safe", "my test id/1", "my+test+id%2F1"},
		{"already encoded with plus", "id+%2F1+/+1", "id+%2F1+/+1"},
		{"already url safe", "my+test+id%2F1", "my+test+id%2F1"},
		{"undecodable kept as is", "Invalid % value", "Invalid % value"},
		{"uuid", "1911e8a4-6939-490c-b58b-a5d70f8d91fb", "1911e8a4-6939-490c-b58b-a5d70f8d91fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id, err := NewID(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestNewID_Blank(t *testing.T) {
	t.Parallel()

	_, err := NewID(" \t")
	assert.ErrorIs(t, err, ErrBlankID)

	_, err = NewID("")
	assert.ErrorIs(t, err, ErrBlankID)
}

func TestNewID_EqualAcrossEncodings(t *testing.T) {
	t.Parallel()

	id1, err := NewID("id%2F1")
	require.NoError(t, err)
	id2, err := NewID("id/1")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}
