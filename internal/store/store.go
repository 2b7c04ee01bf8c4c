// Package store holds the durable key-value backends for operational state.
package store

import (
	"context"
	"fmt"
	"sync"
)

// Store is the authoritative key-value persistence layer.
// A missing key is reported with ok=false, not with an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of "memory", "sqlite", "leveldb", "etcd".
	Driver string `koanf:"driver"`
	// Path is the database file (sqlite) or directory (leveldb).
	Path string     `koanf:"path"`
	Etcd EtcdConfig `koanf:"etcd"`
}

// Open creates the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.Path)
	case "leveldb":
		return NewLevelDB(cfg.Path)
	case "etcd":
		return NewEtcd(ctx, cfg.Etcd)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Memory is a Store living in process memory.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
	gets int
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Close() error { return nil }

// Gets returns how many reads hit the store. Tests use it to observe caching.
func (m *Memory) Gets() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gets
}
