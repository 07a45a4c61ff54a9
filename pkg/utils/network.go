package utils

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// minThroughputBytesPerSecond is the slowest transfer rate a connection may
// sustain before its deadline fires (4KB/s).
const minThroughputBytesPerSecond = 4000

// Listener wraps accepted connections with Conn so every read and write
// carries a deadline.
type Listener struct {
	net.Listener
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{
		Conn:         c,
		ReadTimeout:  l.ReadTimeout,
		WriteTimeout: l.WriteTimeout,
	}, nil
}

// Conn grows its deadlines with the bytes already transferred, so a long
// PATCH body is not cut off while a stalled client still is.
type Conn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	bytesRead    int64
	bytesWritten int64
}

func bytesPerTimeout(timeout time.Duration) int64 {
	n := int64(float64(minThroughputBytesPerSecond) * timeout.Seconds())
	if n <= 0 {
		return 1
	}
	return n
}

// scaledTimeout returns base multiplied by one plus the number of full
// timeout windows that n bytes represent.
func scaledTimeout(base time.Duration, n int64) time.Duration {
	return base * time.Duration(n/bytesPerTimeout(base)+1)
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.ReadTimeout != 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(scaledTimeout(c.ReadTimeout, c.bytesRead))); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Read(b)
	c.bytesRead += int64(n)
	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.WriteTimeout != 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(scaledTimeout(c.WriteTimeout, c.bytesWritten))); err != nil {
			return 0, err
		}
	}
	n, err := c.Conn.Write(b)
	c.bytesWritten += int64(n)
	return n, err
}

// NewListener listens on addr. A zero timeout disables deadlines.
func NewListener(addr string, timeout time.Duration) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return l, nil
	}
	return &Listener{
		Listener:     l,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}, nil
}

func JoinHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + portStr
	}
	return net.JoinHostPort(host, portStr)
}
