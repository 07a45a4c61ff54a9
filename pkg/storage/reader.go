package storage

import (
	"context"
	"io"

	"github.com/LeeDigitalWorks/zaptus/pkg/storage/backend"
)

// partialReader turns the first read error of r into io.EOF so that
// whatever arrived before the failure can still be stored.
type partialReader struct {
	r   io.Reader
	err error
}

func (p *partialReader) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, io.EOF
	}
	n, err := p.r.Read(b)
	if err != nil && err != io.EOF {
		p.err = err
		return n, io.EOF
	}
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n += int64(n)
	return n, err
}

// segmentReader streams backend objects one after another, opening each lazily.
type segmentReader struct {
	ctx     context.Context
	backend backend.Backend
	keys    []string
	cur     io.ReadCloser
}

func (s *segmentReader) Read(b []byte) (int, error) {
	for {
		if s.cur == nil {
			if len(s.keys) == 0 {
				return 0, io.EOF
			}
			rc, err := s.backend.Read(s.ctx, s.keys[0])
			if err != nil {
				return 0, err
			}
			s.cur = rc
			s.keys = s.keys[1:]
		}

		n, err := s.cur.Read(b)
		if err == io.EOF {
			s.cur.Close()
			s.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *segmentReader) Close() error {
	s.keys = nil
	if s.cur != nil {
		err := s.cur.Close()
		s.cur = nil
		return err
	}
	return nil
}
