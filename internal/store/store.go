// Package store provides the tenant-scoped key-value abstraction all durable
// correlation state lives in: values with per-key TTL, append-only lists,
// prefix scans and a publish/subscribe channel. TTL expiry is the only
// removal mechanism; nothing in normal operation deletes a key explicitly.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("store is closed")

// Backend is the raw store contract. Implementations must make AppendToList
// and SetNX safe under concurrent callers: multiple sellers may reply to the
// same broadcast at overlapping times.
type Backend interface {
	// SetWithTTL writes a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes the value only if the key does not exist yet and reports
	// whether the write happened. This is the atomic conditional set behind
	// first-write-wins correlation.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Get returns the value and whether the key currently exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// AppendToList appends to the list at key. The TTL is set when the list
	// is first created and is never shortened by later appends.
	AppendToList(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// GetList returns all list elements in insertion order.
	GetList(ctx context.Context, key string) ([][]byte, error)
	// ScanKeys returns keys matching a prefix pattern (trailing '*').
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	// Publish sends a payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers a handler for channel and returns an unsubscribe
	// function. After unsubscribe returns, the handler is never invoked again.
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (func(), error)
	Close() error
}

// TenantStore namespaces every key and channel of a Backend under a tenant
// prefix, so co-hosted tenants never observe each other's state.
type TenantStore struct {
	backend Backend
	prefix  string
}

func NewTenantStore(backend Backend, namespace string) *TenantStore {
	return &TenantStore{backend: backend, prefix: namespace + ":"}
}

func (s *TenantStore) key(k string) string { return s.prefix + k }

func (s *TenantStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.backend.SetWithTTL(ctx, s.key(key), value, ttl)
}

func (s *TenantStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.backend.SetNX(ctx, s.key(key), value, ttl)
}

func (s *TenantStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.backend.Get(ctx, s.key(key))
}

func (s *TenantStore) AppendToList(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.backend.AppendToList(ctx, s.key(key), value, ttl)
}

func (s *TenantStore) GetList(ctx context.Context, key string) ([][]byte, error) {
	return s.backend.GetList(ctx, s.key(key))
}

// ScanKeys matches against tenant-relative keys and returns them with the
// tenant prefix stripped.
func (s *TenantStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.backend.ScanKeys(ctx, s.prefix+pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(s.prefix):])
	}
	return out, nil
}

func (s *TenantStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.backend.Publish(ctx, s.key(channel), payload)
}

func (s *TenantStore) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	return s.backend.Subscribe(ctx, s.key(channel), handler)
}
