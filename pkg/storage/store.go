package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/debug"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/index"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	bytesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "storage",
		Name:      "bytes_appended_total",
		Help:      "Total upload bytes written to the backend",
	})

	uploadsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "storage",
		Name:      "uploads_created_total",
		Help:      "Total number of uploads created",
	})

	uploadsTerminated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zaptus",
		Subsystem: "storage",
		Name:      "uploads_terminated_total",
		Help:      "Total number of uploads removed",
	})
)

func init() {
	debug.Registry().MustRegister(
		bytesAppended,
		uploadsCreated,
		uploadsTerminated,
	)
}

// Record is what the index keeps per upload.
type Record struct {
	Info     upload.Info
	Segments []Segment
}

// Segment is one backend object holding the bytes of one append.
type Segment struct {
	Offset int64
	Size   int64
}

func segmentKey(id upload.ID, offset int64) string {
	return fmt.Sprintf("%s/%020d", id, offset)
}

// Config holds the upload limits and URI layout of a Store.
type Config struct {
	IDFactory        upload.IDFactory
	MaxUploadSize    int64
	ExpirationPeriod time.Duration
}

// Store implements Storage on top of an index for records and a backend for bytes.
// Every append lands in its own backend object so a failed append never
// rewrites bytes that are already durable.
type Store struct {
	idx     index.Indexer[upload.ID, Record]
	backend backend.Backend
	cfg     Config

	// mu serializes read-modify-write cycles on records
	mu sync.Mutex

	concatenator Concatenator
	now          func() time.Time
}

func NewStore(idx index.Indexer[upload.ID, Record], be backend.Backend, cfg Config) (*Store, error) {
	if cfg.IDFactory == nil {
		return nil, errors.New("storage: id factory required")
	}
	if cfg.MaxUploadSize < 0 {
		cfg.MaxUploadSize = 0
	}
	return &Store{
		idx:     idx,
		backend: be,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// SetConcatenator installs the service used to read concatenated uploads.
func (s *Store) SetConcatenator(c Concatenator) {
	s.concatenator = c
}

func (s *Store) MaxUploadSize() int64 {
	return s.cfg.MaxUploadSize
}

func (s *Store) ExpirationPeriod() time.Duration {
	return s.cfg.ExpirationPeriod
}

func (s *Store) UploadURI() string {
	return s.cfg.IDFactory.UploadURI()
}

func (s *Store) IDFactory() upload.IDFactory {
	return s.cfg.IDFactory
}

func (s *Store) record(id upload.ID) (Record, error) {
	rec, err := s.idx.Get(id)
	if errors.Is(err, index.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record %s: %w", id, err)
	}
	return rec, nil
}

func (s *Store) Get(ctx context.Context, id upload.ID, ownerKey string) (upload.Info, error) {
	if id.IsZero() {
		return upload.Info{}, ErrNotFound
	}
	rec, err := s.record(id)
	if err != nil {
		return upload.Info{}, err
	}
	if rec.Info.OwnerKey != ownerKey {
		return upload.Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Info, nil
}

func (s *Store) GetByURI(ctx context.Context, uri, ownerKey string) (upload.Info, error) {
	id, ok := s.cfg.IDFactory.ReadIDFromURI(uri)
	if !ok {
		return upload.Info{}, fmt.Errorf("%w: no upload id in %q", ErrNotFound, uri)
	}
	return s.Get(ctx, id, ownerKey)
}

func (s *Store) Create(ctx context.Context, info upload.Info, ownerKey string) (upload.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.cfg.IDFactory.CreateID()
	if _, err := s.idx.Get(id); err == nil {
		return upload.Info{}, fmt.Errorf("storage: id collision on %s", id)
	}

	info = info.Clone()
	info.ID = id
	info.Offset = 0
	info.OwnerKey = ownerKey
	if info.CreatedAt.IsZero() {
		info.CreatedAt = s.now()
	}

	if err := s.idx.PutSync(id, Record{Info: info}); err != nil {
		return upload.Info{}, fmt.Errorf("store record %s: %w", id, err)
	}
	uploadsCreated.Inc()
	logger.Ctx(ctx).Debug().Str("upload_id", id.String()).Msg("upload created")
	return info, nil
}

func (s *Store) Update(ctx context.Context, info upload.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(info.ID)
	if err != nil {
		return err
	}
	if info.HasLength() && info.Length < rec.Info.Offset {
		return tuserr.Newf(tuserr.ErrUploadLengthInvalid, "%d is shorter than the %d bytes already received.", info.Length, rec.Info.Offset)
	}
	rec.Info = info.Clone()
	return s.idx.PutSync(info.ID, rec)
}

// remaining returns how many more bytes the upload may receive, or -1 when unbounded.
func (s *Store) remaining(info upload.Info) int64 {
	switch {
	case info.HasLength():
		return info.Length - info.Offset
	case s.cfg.MaxUploadSize > 0:
		return s.cfg.MaxUploadSize - info.Offset
	default:
		return -1
	}
}

func (s *Store) Append(ctx context.Context, info upload.Info, r io.Reader) (upload.Info, error) {
	rec, err := s.record(info.ID)
	if err != nil {
		return info, err
	}
	current := rec.Info
	// the length may have been set by the caller in the same request
	if info.HasLength() && !current.HasLength() {
		if info.Length < current.Offset {
			return current, tuserr.Newf(tuserr.ErrUploadLengthInvalid, "%d is shorter than the %d bytes already received.", info.Length, current.Offset)
		}
		current.Length = info.Length
	}

	limit := s.remaining(current)
	if limit == 0 {
		return current, nil
	}

	body := &partialReader{r: r}
	var src io.Reader = body
	if limit > 0 {
		src = io.LimitReader(body, limit)
	}
	counted := &countingReader{r: src}

	key := segmentKey(current.ID, current.Offset)
	if err := s.backend.Write(ctx, key, counted, -1); err != nil {
		_ = s.backend.Delete(ctx, key)
		return current, fmt.Errorf("write segment %s: %w", key, err)
	}

	if counted.n == 0 {
		_ = s.backend.Delete(ctx, key)
		return current, body.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err = s.record(info.ID)
	if err != nil {
		_ = s.backend.Delete(ctx, key)
		return current, err
	}
	rec.Segments = append(rec.Segments, Segment{Offset: current.Offset, Size: counted.n})
	rec.Info = info.Clone()
	rec.Info.Length = current.Length
	rec.Info.Offset = current.Offset + counted.n
	if err := s.idx.PutSync(info.ID, rec); err != nil {
		return current, fmt.Errorf("store record %s: %w", info.ID, err)
	}
	bytesAppended.Add(float64(counted.n))

	if body.err != nil {
		return rec.Info, fmt.Errorf("read body: %w", body.err)
	}
	return rec.Info, nil
}

func (s *Store) RemoveLastBytes(ctx context.Context, info upload.Info, n int64) (upload.Info, error) {
	if n <= 0 {
		return info, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(info.ID)
	if err != nil {
		return info, err
	}
	if n > rec.Info.Offset {
		n = rec.Info.Offset
	}
	newOffset := rec.Info.Offset - n

	for len(rec.Segments) > 0 {
		last := rec.Segments[len(rec.Segments)-1]
		key := segmentKey(rec.Info.ID, last.Offset)

		if last.Offset >= newOffset {
			if err := s.backend.Delete(ctx, key); err != nil {
				return info, fmt.Errorf("delete segment %s: %w", key, err)
			}
			rec.Segments = rec.Segments[:len(rec.Segments)-1]
			continue
		}

		keep := newOffset - last.Offset
		if keep < last.Size {
			if err := s.shrinkSegment(ctx, key, keep); err != nil {
				return info, err
			}
			rec.Segments[len(rec.Segments)-1].Size = keep
		}
		break
	}

	rec.Info = info.Clone()
	rec.Info.Offset = newOffset
	if err := s.idx.PutSync(info.ID, rec); err != nil {
		return info, fmt.Errorf("store record %s: %w", info.ID, err)
	}
	return rec.Info, nil
}

func (s *Store) shrinkSegment(ctx context.Context, key string, keep int64) error {
	rc, err := s.backend.ReadRange(ctx, key, 0, keep)
	if err != nil {
		return fmt.Errorf("read segment %s: %w", key, err)
	}
	defer rc.Close()

	// backends write whole objects, so buffer the kept prefix first
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read segment %s: %w", key, err)
	}
	return s.backend.Write(ctx, key, bytes.NewReader(data), int64(len(data)))
}

func (s *Store) UploadedBytes(ctx context.Context, id upload.ID) (io.ReadCloser, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(rec.Segments))
	for i, seg := range rec.Segments {
		keys[i] = segmentKey(id, seg.Offset)
	}
	return &segmentReader{ctx: ctx, backend: s.backend, keys: keys}, nil
}

func (s *Store) CopyTo(ctx context.Context, info upload.Info, w io.Writer) error {
	var (
		rc  io.ReadCloser
		err error
	)
	if info.Type == upload.TypeConcatenated && s.concatenator != nil {
		var ok bool
		rc, ok, err = s.concatenator.ConcatenatedBytes(ctx, info)
		if err != nil {
			return err
		}
		if !ok {
			return tuserr.ErrUploadStillInProgress
		}
	} else {
		rc, err = s.UploadedBytes(ctx, info.ID)
		if err != nil {
			return err
		}
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy upload %s: %w", info.ID, err)
	}
	return nil
}

func (s *Store) Terminate(ctx context.Context, info upload.Info) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.record(info.ID)
	if err != nil {
		return err
	}
	for _, seg := range rec.Segments {
		key := segmentKey(info.ID, seg.Offset)
		if err := s.backend.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete segment %s: %w", key, err)
		}
	}
	if err := s.idx.DeleteSync(info.ID); err != nil {
		return fmt.Errorf("delete record %s: %w", info.ID, err)
	}
	uploadsTerminated.Inc()
	logger.Ctx(ctx).Debug().Str("upload_id", info.ID.String()).Msg("upload terminated")
	return nil
}

func (s *Store) ForEach(ctx context.Context, fn func(upload.Info) error) error {
	return s.idx.Iterate(func(_ upload.ID, rec Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(rec.Info)
	})
}

// Ping reports whether the index can still be read.
func (s *Store) Ping() error {
	_, err := s.idx.Get("")
	if err == nil || errors.Is(err, index.ErrNotFound) {
		return nil
	}
	return err
}

var _ Storage = (*Store)(nil)
