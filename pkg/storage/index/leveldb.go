package index

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/utils"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type LevelDBIndexer[K comparable, V any] struct {
	db         *leveldb.DB
	dbDir      string
	keyToBytes func(K) []byte
	bytesToKey func([]byte) (K, error)

	writeOpts     *opt.WriteOptions
	writeOptsSync *opt.WriteOptions
}

func serialize[T any](v T) ([]byte, error) {
	buf := utils.SyncPoolGetBuffer()
	defer utils.SyncPoolPutBuffer(buf)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	// buf goes back to the pool, so hand leveldb its own copy
	return bytes.Clone(buf.Bytes()), nil
}

func deserialize[T any](data []byte) (T, error) {
	var v T
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v)
	return v, err
}

// DefaultLevelDBOptions adds a bloom filter so lookups of unknown upload
// IDs usually skip the disk.
func DefaultLevelDBOptions() *opt.Options {
	return &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
}

// NewLevelDBIndexer opens (or recovers) a leveldb database in dbDir. A nil
// opts means DefaultLevelDBOptions.
func NewLevelDBIndexer[K comparable, V any](
	dbDir string,
	opts *opt.Options,
	keyToBytes func(K) []byte,
	bytesToKey func([]byte) (K, error)) (Indexer[K, V], error) {
	if opts == nil {
		opts = DefaultLevelDBOptions()
	}
	m := &LevelDBIndexer[K, V]{
		dbDir:         dbDir,
		keyToBytes:    keyToBytes,
		bytesToKey:    bytesToKey,
		writeOpts:     &opt.WriteOptions{Sync: false},
		writeOptsSync: &opt.WriteOptions{Sync: true},
	}
	db, err := leveldb.OpenFile(dbDir, opts)
	if errors.IsCorrupted(err) {
		logger.Warn().Str("dir", dbDir).Err(err).Msg("index corrupted, recovering")
		db, err = leveldb.RecoverFile(dbDir, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", dbDir, err)
	}
	m.db = db
	return m, nil
}

func (m *LevelDBIndexer[K, V]) Put(key K, value V) error {
	return m.put(key, value, m.writeOpts)
}

func (m *LevelDBIndexer[K, V]) PutSync(key K, value V) error {
	return m.put(key, value, m.writeOptsSync)
}

func (m *LevelDBIndexer[K, V]) put(key K, value V, wo *opt.WriteOptions) error {
	data, err := serialize(value)
	if err != nil {
		return err
	}
	return m.db.Put(m.keyToBytes(key), data, wo)
}

func (m *LevelDBIndexer[K, V]) Get(key K) (V, error) {
	var zero V
	data, err := m.db.Get(m.keyToBytes(key), nil)
	if err == leveldb.ErrNotFound {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, err
	}
	v, err := deserialize[V](data)
	if err != nil {
		return zero, err
	}
	return v, nil
}

func (m *LevelDBIndexer[K, V]) Delete(key K) error {
	return m.db.Delete(m.keyToBytes(key), m.writeOpts)
}

func (m *LevelDBIndexer[K, V]) DeleteSync(key K) error {
	return m.db.Delete(m.keyToBytes(key), m.writeOptsSync)
}

func (m *LevelDBIndexer[K, V]) Close() error {
	return m.db.Close()
}

// Iterate walks a consistent snapshot in key order, so f may write to the
// index.
func (m *LevelDBIndexer[K, V]) Iterate(f func(key K, value V) error) error {
	snap, err := m.db.GetSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	iter := snap.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key, err := m.bytesToKey(iter.Key())
		if err != nil {
			return err
		}
		value, err := deserialize[V](iter.Value())
		if err != nil {
			// one unreadable record must not hide the rest
			logger.Warn().Str("dir", m.dbDir).Bytes("key", iter.Key()).Err(err).Msg("skipping undecodable index record")
			continue
		}
		if err := f(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (m *LevelDBIndexer[K, V]) Stream(filter func(value V) bool) <-chan V {
	ch := make(chan V)
	go func() {
		defer close(ch)
		iter := m.db.NewIterator(nil, nil)
		defer iter.Release()

		for iter.Next() {
			value, err := deserialize[V](iter.Value())
			if err != nil {
				logger.Error().Err(err).Msg("failed to deserialize value in stream")
				continue
			}

			if filter == nil || filter(value) {
				ch <- value
			}
		}

		if err := iter.Error(); err != nil {
			logger.Error().Err(err).Msg("leveldb iterator error in stream")
		}
	}()
	return ch
}

func (m *LevelDBIndexer[K, V]) Destroy() error {
	if err := m.Close(); err != nil {
		return err
	}
	return os.RemoveAll(m.dbDir)
}
