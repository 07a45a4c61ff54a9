// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/concat"
	"github.com/LeeDigitalWorks/zaptus/pkg/lock"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/backend"
	"github.com/LeeDigitalWorks/zaptus/pkg/storage/index"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/spf13/pflag"
)

// StorageOpts selects and configures the storage, lock and ID components
// shared by every command that touches uploads.
type StorageOpts struct {
	StoragePath string
	UploadURI   string
	IDFactory   string // uuid or time

	Backend backend.Config
	Index   string // leveldb or memory

	Locker             string // file or redis
	StaleLockThreshold time.Duration
	Redis              lock.RedisLockConfig

	MaxUploadSize    int64
	ExpirationPeriod time.Duration
}

func addStorageFlags(f *pflag.FlagSet) {
	f.String("storage_path", filepath.Join(".", "data"), "Directory holding the upload index, local upload bytes and lock files")
	f.String("upload_uri", "/files", "Path uploads are created at. May contain a regular expression")
	f.String("id_factory", "uuid", "Upload ID scheme: uuid or time")

	f.String("backend", string(backend.TypeLocal), "Byte backend: local, memory or s3")
	f.String("s3_endpoint", "", "S3 endpoint URL (empty for AWS)")
	f.String("s3_bucket", "", "S3 bucket for upload bytes")
	f.String("s3_prefix", "uploads/", "Key prefix inside the S3 bucket")
	f.String("s3_region", "us-east-1", "S3 region")
	f.String("s3_access_key", "", "S3 access key (empty for the default credential chain)")
	f.String("s3_secret_key", "", "S3 secret key")

	f.String("index", "leveldb", "Upload record index: leveldb or memory")

	f.String("locker", "file", "Upload lock implementation: file or redis")
	f.Duration("stale_lock_threshold", 10*time.Second, "Age after which an unheld lock file is removed")
	f.String("redis_addr", "localhost:6379", "Redis address for the redis locker")
	f.String("redis_password", "", "Redis password")
	f.Int("redis_db", 0, "Redis database")
	f.String("redis_key_prefix", "zaptus:lock:", "Prefix of redis lock keys")
	f.Duration("redis_lock_ttl", 30*time.Second, "TTL of redis lock keys, refreshed while held")

	f.String("max_upload_size", "0", "Largest accepted upload, e.g. 5GiB (0 = unbounded)")
	f.Duration("expiration_period", 0, "How long an idle upload lives (0 = never expires)")
}

func loadStorageOpts(f *FlagLoader) (StorageOpts, error) {
	maxSize, err := f.Bytes("max_upload_size")
	if err != nil {
		return StorageOpts{}, err
	}
	storagePath := utils.ResolvePath(f.String("storage_path"))

	return StorageOpts{
		StoragePath: storagePath,
		UploadURI:   f.String("upload_uri"),
		IDFactory:   strings.ToLower(f.String("id_factory")),
		Backend: backend.Config{
			Type:      backend.Type(strings.ToLower(f.String("backend"))),
			Path:      filepath.Join(storagePath, "uploads"),
			Endpoint:  f.String("s3_endpoint"),
			Bucket:    f.String("s3_bucket"),
			Prefix:    f.String("s3_prefix"),
			Region:    f.String("s3_region"),
			AccessKey: f.String("s3_access_key"),
			SecretKey: f.String("s3_secret_key"),
		},
		Index:              strings.ToLower(f.String("index")),
		Locker:             strings.ToLower(f.String("locker")),
		StaleLockThreshold: f.Duration("stale_lock_threshold"),
		Redis: lock.RedisLockConfig{
			Addr:      f.String("redis_addr"),
			Password:  f.String("redis_password"),
			DB:        f.Int("redis_db"),
			KeyPrefix: f.String("redis_key_prefix"),
			TTL:       f.Duration("redis_lock_ttl"),
		},
		MaxUploadSize:    maxSize,
		ExpirationPeriod: f.Duration("expiration_period"),
	}, nil
}

// components is everything built from StorageOpts. Close releases it.
type components struct {
	ids    upload.IDFactory
	index  index.Indexer[upload.ID, storage.Record]
	store  *storage.Store
	locker lock.Locker
	merger *concat.Service

	closers []io.Closer
}

func newIDFactory(kind, uploadURI string) (upload.IDFactory, error) {
	switch kind {
	case "", "uuid":
		return upload.NewUUIDFactory(uploadURI)
	case "time":
		return upload.NewTimeFactory(uploadURI, time.Now)
	default:
		return nil, fmt.Errorf("unknown id factory %q", kind)
	}
}

func newIndex(kind, dir string) (index.Indexer[upload.ID, storage.Record], error) {
	switch kind {
	case "", "leveldb":
		toBytes, fromBytes := index.StringKey[upload.ID]()
		return index.NewLevelDBIndexer[upload.ID, storage.Record](dir, nil, toBytes, fromBytes)
	case "memory":
		return index.NewMemoryIndexer[upload.ID, storage.Record](), nil
	default:
		return nil, fmt.Errorf("unknown index %q", kind)
	}
}

func newLocker(opts StorageOpts, ids upload.IDFactory) (lock.Locker, error) {
	switch opts.Locker {
	case "", "file":
		return lock.NewFileLocker(filepath.Join(opts.StoragePath, "locks"), ids, opts.StaleLockThreshold)
	case "redis":
		return lock.NewRedisLocker(opts.Redis, ids)
	default:
		return nil, fmt.Errorf("unknown locker %q", opts.Locker)
	}
}

func buildComponents(opts StorageOpts) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.ids, err = newIDFactory(opts.IDFactory, opts.UploadURI); err != nil {
		return nil, err
	}
	if err := utils.EnsureWritableDir(opts.StoragePath); err != nil {
		return nil, fmt.Errorf("storage path %s is not writable: %w", opts.StoragePath, err)
	}
	if c.index, err = newIndex(opts.Index, filepath.Join(opts.StoragePath, "index")); err != nil {
		return nil, err
	}
	c.closers = append(c.closers, c.index)

	be, err := backend.New(opts.Backend)
	if err != nil {
		return nil, err
	}

	c.store, err = storage.NewStore(c.index, be, storage.Config{
		IDFactory:        c.ids,
		MaxUploadSize:    opts.MaxUploadSize,
		ExpirationPeriod: opts.ExpirationPeriod,
	})
	if err != nil {
		return nil, err
	}

	if c.locker, err = newLocker(opts, c.ids); err != nil {
		return nil, err
	}
	if closer, ok := c.locker.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}

	c.merger = concat.NewService(c.store, c.locker)
	c.store.SetConcatenator(c.merger)
	return c, nil
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	c.closers = nil
	return errors.Join(errs...)
}
