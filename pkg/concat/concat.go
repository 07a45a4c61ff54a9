// Package concat merges partial uploads into their concatenated parent.
//
// Concatenation is virtual: the parent owns no bytes of its own. Reading it
// streams the parts in their declared order.
package concat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/lock"
	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/tuserr"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
)

// Service implements merging on top of a storage.Storage.
type Service struct {
	store  storage.Storage
	locker lock.Locker
	now    func() time.Time
}

// NewService returns a merge service. locker may be nil; when set, every
// part is locked while its expiration is refreshed and parts that are
// locked by another request are skipped.
func NewService(store storage.Storage, locker lock.Locker) *Service {
	return &Service{
		store:  store,
		locker: locker,
		now:    time.Now,
	}
}

// PartialUploads resolves the parts of info in declared order. Any missing
// part fails the whole call with ErrUploadNotFound.
func (s *Service) PartialUploads(ctx context.Context, info upload.Info) ([]upload.Info, error) {
	parts := make([]upload.Info, 0, len(info.ConcatPartIDs))
	for _, ref := range info.ConcatPartIDs {
		part, err := s.resolve(ctx, ref, info.OwnerKey)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// resolve accepts both upload URIs and bare IDs.
func (s *Service) resolve(ctx context.Context, ref, ownerKey string) (upload.Info, error) {
	info, err := s.store.GetByURI(ctx, ref, ownerKey)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return upload.Info{}, err
	}

	id, idErr := upload.NewID(ref)
	if idErr == nil {
		info, err = s.store.Get(ctx, id, ownerKey)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return upload.Info{}, err
		}
	}
	return upload.Info{}, tuserr.Newf(tuserr.ErrUploadNotFound, "partial upload %q", ref)
}

// Merge recomputes length and offset of a concatenated upload from its parts
// and returns the updated parent.
//
// The length is the sum of the part lengths and stays unknown while any part
// length is unknown. The offset equals the length once every part is
// complete and is zero before. The parent is persisted whenever its length
// is known. With an expiration period configured, the parent and every
// complete part get a fresh expiration. Parts still in progress are never
// written, since a concurrent request may be appending to them.
func (s *Service) Merge(ctx context.Context, parent upload.Info) (upload.Info, error) {
	if !parent.InProgress() || len(parent.ConcatPartIDs) == 0 {
		return parent, nil
	}

	parts, err := s.PartialUploads(ctx, parent)
	if err != nil {
		return parent, err
	}

	period := s.store.ExpirationPeriod()
	var (
		total    int64
		known    = true
		complete = true
	)
	for _, part := range parts {
		if part.HasLength() {
			total += part.Length
		} else {
			known = false
		}

		if part.InProgress() {
			complete = false
			continue
		}
		if period > 0 {
			if err := s.refreshPart(ctx, part, period); err != nil {
				return parent, err
			}
		}
	}

	parent = parent.Clone()
	parent.Offset = 0
	if !known {
		parent.SetLength(0)
		return parent, nil
	}

	parent.SetLength(total)
	if complete {
		parent.Offset = total
	}
	if period > 0 {
		parent.ExpiresAt = s.now().Add(period)
	}
	if total > 0 {
		if err := s.store.Update(ctx, parent); err != nil {
			return parent, fmt.Errorf("update concatenated upload %s: %w", parent.ID, err)
		}
	}
	return parent, nil
}

func (s *Service) refreshPart(ctx context.Context, part upload.Info, period time.Duration) error {
	if s.locker != nil {
		l, err := s.locker.Lock(ctx, part.ID)
		if errors.Is(err, lock.ErrLockHeld) {
			logger.Ctx(ctx).Debug().Str("upload_id", part.ID.String()).Msg("part locked, expiration not refreshed")
			return nil
		}
		if err != nil {
			return err
		}
		defer l.Release()
	}

	part.ExpiresAt = s.now().Add(period)
	if err := s.store.Update(ctx, part); err != nil {
		return fmt.Errorf("update partial upload %s: %w", part.ID, err)
	}
	return nil
}

// ConcatenatedBytes merges info and, once every part is complete, returns a
// reader over all parts in declared order. ok is false while the upload is
// not complete yet.
func (s *Service) ConcatenatedBytes(ctx context.Context, info upload.Info) (io.ReadCloser, bool, error) {
	merged, err := s.Merge(ctx, info)
	if err != nil {
		return nil, false, err
	}
	if merged.InProgress() {
		return nil, false, nil
	}

	parts, err := s.PartialUploads(ctx, merged)
	if err != nil {
		return nil, false, err
	}
	ids := make([]upload.ID, len(parts))
	for i, p := range parts {
		ids[i] = p.ID
	}
	return &partsReader{ctx: ctx, store: s.store, ids: ids}, true, nil
}

var _ storage.Concatenator = (*Service)(nil)

// partsReader opens each part only when the previous one is exhausted.
type partsReader struct {
	ctx   context.Context
	store storage.Storage
	ids   []upload.ID
	cur   io.ReadCloser
}

func (r *partsReader) Read(b []byte) (int, error) {
	for {
		if r.cur == nil {
			if len(r.ids) == 0 {
				return 0, io.EOF
			}
			rc, err := r.store.UploadedBytes(r.ctx, r.ids[0])
			if errors.Is(err, storage.ErrNotFound) {
				return 0, tuserr.Newf(tuserr.ErrUploadNotFound, "partial upload %s", r.ids[0])
			}
			if err != nil {
				return 0, err
			}
			r.cur = rc
			r.ids = r.ids[1:]
		}

		n, err := r.cur.Read(b)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *partsReader) Close() error {
	r.ids = nil
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
