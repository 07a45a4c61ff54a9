package context

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithUUID(t *testing.T) {
	t.Parallel()

	ctx, id := WithUUID(context.Background())
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, RequestID(ctx))

	again, sameID := WithUUID(ctx)
	assert.Equal(t, id, sameID)
	assert.Equal(t, id, RequestID(again))
}

func TestRequestIDEmpty(t *testing.T) {
	t.Parallel()
	assert.Empty(t, RequestID(context.Background()))
}

func TestFromRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		reuse  bool
	}{
		{name: "no header", header: "", reuse: false},
		{name: "proxy id", header: "abc-123", reuse: true},
		{name: "contains space", header: "abc 123", reuse: false},
		{name: "too long", header: strings.Repeat("a", maxRequestIDLength+1), reuse: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("HEAD", "/files/x", nil)
			if tt.header != "" {
				r.Header.Set(HeaderRequestID, tt.header)
			}
			ctx, id := FromRequest(r)
			assert.Equal(t, id, RequestID(ctx))
			if tt.reuse {
				assert.Equal(t, tt.header, id)
			} else {
				assert.NotEqual(t, tt.header, id)
				_, err := uuid.Parse(id)
				assert.NoError(t, err)
			}
		})
	}
}
