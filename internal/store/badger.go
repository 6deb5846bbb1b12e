package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

const badgerMaxRetries = 16

// BadgerBackend backs the store with an embedded badger database, the
// single-node deployment shape. Values ride on badger's native TTL; lists are
// stored as one JSON-encoded value and mutated inside transactions, retried
// on conflict so concurrent appends all land. Pub/sub is in-process, which is
// exact for a single-node store.
type BadgerBackend struct {
	db  *badger.DB
	bus *broker
}

func NewBadgerBackend(path string) (*BadgerBackend, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "badger open")
	}
	return &BadgerBackend{db: db, bus: newBroker()}, nil
}

func (b *BadgerBackend) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	return errors.Wrap(err, "badger set")
}

func (b *BadgerBackend) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var wrote bool
	err := b.retryUpdate(func(txn *badger.Txn) error {
		wrote = false
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		wrote = true
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	return wrote, errors.Wrap(err, "badger setnx")
}

func (b *BadgerBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "badger get")
	}
	return value, true, nil
}

func (b *BadgerBackend) AppendToList(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.retryUpdate(func(txn *badger.Txn) error {
		var items [][]byte
		entryTTL := ttl

		item, err := txn.Get([]byte(key))
		switch err {
		case nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &items); err != nil {
				return err
			}
			// Carry the remaining TTL forward so appends never shorten it.
			if exp := item.ExpiresAt(); exp > 0 {
				entryTTL = time.Until(time.Unix(int64(exp), 0))
				if entryTTL <= 0 {
					entryTTL = time.Second
				}
			}
		case badger.ErrKeyNotFound:
		default:
			return err
		}

		items = append(items, value)
		raw, err := json.Marshal(items)
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(key), raw).WithTTL(entryTTL))
	})
	return errors.Wrap(err, "badger append")
}

func (b *BadgerBackend) GetList(ctx context.Context, key string) ([][]byte, error) {
	raw, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var items [][]byte
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrap(err, "badger list decode")
	}
	return items, nil
}

func (b *BadgerBackend) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	prefix := []byte(strings.TrimSuffix(pattern, "*"))
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, errors.Wrap(err, "badger scan")
}

func (b *BadgerBackend) Publish(_ context.Context, channel string, payload []byte) error {
	b.bus.publish(channel, payload)
	return nil
}

func (b *BadgerBackend) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	return b.bus.subscribe(channel, handler), nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func (b *BadgerBackend) retryUpdate(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerMaxRetries; i++ {
		err = b.db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
	return err
}
