package utils

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinHostPort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0.0.0.0:8080", JoinHostPort("0.0.0.0", 8080))
	assert.Equal(t, "[::1]:8080", JoinHostPort("::1", 8080))
	assert.Equal(t, "[::1]:8080", JoinHostPort("[::1]", 8080))
	assert.Equal(t, ":8080", JoinHostPort("", 8080))
}

func TestScaledTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, scaledTimeout(30*time.Second, 0))
	assert.Equal(t, 30*time.Second, scaledTimeout(30*time.Second, 119_999))
	assert.Equal(t, 60*time.Second, scaledTimeout(30*time.Second, 120_000))
	assert.Equal(t, 270*time.Second, scaledTimeout(30*time.Second, 1_000_000))
	assert.Equal(t, time.Nanosecond, scaledTimeout(time.Nanosecond, 0))
}

func TestNewListener(t *testing.T) {
	t.Parallel()

	plain, err := NewListener("127.0.0.1:0", 0)
	require.NoError(t, err)
	defer plain.Close()
	_, wrapped := plain.(*Listener)
	assert.False(t, wrapped)

	l, err := NewListener("127.0.0.1:0", time.Second)
	require.NoError(t, err)
	defer l.Close()
	require.IsType(t, &Listener{}, l)

	done := make(chan []byte, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			done <- nil
			return
		}
		defer c.Close()
		b, _ := io.ReadAll(c)
		done <- b
	}()

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, err = c.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case b := <-done:
		assert.Equal(t, "hello", string(b))
	case <-time.After(5 * time.Second):
		t.Fatal("accept timed out")
	}
}
