package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryValue struct {
	data      []byte
	expiresAt time.Time
}

type memoryList struct {
	items     [][]byte
	expiresAt time.Time
}

// MemoryBackend is an in-process Backend used by tests and single-process
// development runs. Expiry is checked lazily on read, which is enough because
// the correlation engine tracks deadlines separately from storage TTLs.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]memoryValue
	lists  map[string]memoryList
	bus    *broker
	closed bool
	now    func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string]memoryValue),
		lists:  make(map[string]memoryList),
		bus:    newBroker(),
		now:    time.Now,
	}
}

// NewMemoryBackendWithClock allows tests to control expiry.
func NewMemoryBackendWithClock(now func() time.Time) *MemoryBackend {
	b := NewMemoryBackend()
	b.now = now
	return b
}

func (b *MemoryBackend) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.values[key] = memoryValue{
		data:      append([]byte(nil), value...),
		expiresAt: b.now().Add(ttl),
	}
	return nil
}

func (b *MemoryBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}
	if existing, ok := b.values[key]; ok && b.now().Before(existing.expiresAt) {
		return false, nil
	}
	b.values[key] = memoryValue{
		data:      append([]byte(nil), value...),
		expiresAt: b.now().Add(ttl),
	}
	return true, nil
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false, ErrClosed
	}
	v, ok := b.values[key]
	if !ok || !b.now().Before(v.expiresAt) {
		delete(b.values, key)
		return nil, false, nil
	}
	return append([]byte(nil), v.data...), true, nil
}

func (b *MemoryBackend) AppendToList(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	l, ok := b.lists[key]
	if !ok || !b.now().Before(l.expiresAt) {
		// TTL is set on first append only; later appends never shorten it.
		l = memoryList{expiresAt: b.now().Add(ttl)}
	}
	l.items = append(l.items, append([]byte(nil), value...))
	b.lists[key] = l
	return nil
}

func (b *MemoryBackend) GetList(_ context.Context, key string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	l, ok := b.lists[key]
	if !ok || !b.now().Before(l.expiresAt) {
		delete(b.lists, key)
		return nil, nil
	}
	out := make([][]byte, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, append([]byte(nil), item...))
	}
	return out, nil
}

func (b *MemoryBackend) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	prefix := strings.TrimSuffix(pattern, "*")
	now := b.now()
	var keys []string
	for k, v := range b.values {
		if strings.HasPrefix(k, prefix) && now.Before(v.expiresAt) {
			keys = append(keys, k)
		}
	}
	for k, l := range b.lists {
		if strings.HasPrefix(k, prefix) && now.Before(l.expiresAt) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *MemoryBackend) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	b.bus.publish(channel, payload)
	return nil
}

func (b *MemoryBackend) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return b.bus.subscribe(channel, handler), nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
