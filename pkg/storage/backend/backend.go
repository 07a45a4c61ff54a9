// Package backend provides byte stores for upload segments.
// All backends implement the Backend interface.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Type identifies the backend implementation
type Type string

const (
	TypeLocal  Type = "local"
	TypeS3     Type = "s3"
	TypeMemory Type = "memory"
)

var ErrNotFound = errors.New("key not found")

// Backend reads and writes immutable objects addressed by key.
type Backend interface {
	Type() Type

	// Write stores everything read from data under key. size is a hint and may be -1.
	Write(ctx context.Context, key string, data io.Reader, size int64) error

	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// ReadRange reads length bytes starting at offset.
	ReadRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error

	Close() error
}

// Config selects and configures a backend
type Config struct {
	Type      Type   `mapstructure:"type"`
	Path      string `mapstructure:"path"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// Registry holds registered backend factories
var (
	registryMu sync.RWMutex
	registry   = make(map[Type]Factory)
)

// Factory creates a Backend from config
type Factory func(cfg Config) (Backend, error)

// Register adds a factory for a backend type
func Register(t Type, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// New creates a Backend from config
func New(cfg Config) (Backend, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
	return f(cfg)
}
