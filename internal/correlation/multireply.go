// Package correlation ties fire-and-forget replies back to the request that
// caused them. Discovery broadcasts aggregate an unbounded set of seller
// replies against a deadline; order actions track exactly one reply per
// (transaction, message) pair. All durable state lives in the tenant store;
// the engines themselves hold no mutable state beyond an injectable clock.
package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"openbap/go-backend/internal/store"
)

// Retention keeps entries readable after their deadline so late snapshots and
// late replies still resolve; eviction is the store TTL's job, not ours.
const defaultRetention = time.Hour

// MultiReplySnapshot is the aggregate view of one discovery broadcast.
// Found=false distinguishes "never created or evicted" from "created and
// still empty". Complete is always computed from the deadline, never stored;
// zero replies is a valid complete state.
type MultiReplySnapshot struct {
	Found      bool              `json:"found"`
	ReplyCount int               `json:"reply_count"`
	Complete   bool              `json:"complete"`
	Deadline   time.Time         `json:"deadline"`
	Replies    []json.RawMessage `json:"replies"`
}

type multiReplyMeta struct {
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// MultiReply aggregates discovery replies. The number of respondents to a
// broadcast is unknown in advance, so "done" can only ever mean "deadline
// elapsed", never "all replies received".
type MultiReply struct {
	store     *store.TenantStore
	retention time.Duration
	now       func() time.Time
}

func NewMultiReply(ts *store.TenantStore) *MultiReply {
	return &MultiReply{store: ts, retention: defaultRetention, now: time.Now}
}

func entryKey(transactionID string) string {
	return "search:" + transactionID
}

func repliesKey(transactionID string) string {
	return entryKey(transactionID) + ":responses"
}

// Channel names the notification channel for a broadcast's updates.
func (m *MultiReply) Channel(transactionID string) string {
	return entryKey(transactionID)
}

// CreateEntry opens a broadcast entry with a deadline ttl from now. It is
// idempotent: an existing entry keeps its reply list and its deadline.
func (m *MultiReply) CreateEntry(ctx context.Context, transactionID string, ttl time.Duration) error {
	meta := multiReplyMeta{CreatedAt: m.now(), Deadline: m.now().Add(ttl)}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = m.store.SetNX(ctx, entryKey(transactionID), raw, ttl+m.retention)
	return err
}

// AddReply appends a seller reply and publishes an update notification.
// Replies are recorded even after the deadline; late arrivals stay
// retrievable for the retention window.
func (m *MultiReply) AddReply(ctx context.Context, transactionID string, payload []byte) error {
	meta, found, err := m.meta(ctx, transactionID)
	if err != nil {
		return err
	}
	ttl := m.retention
	if found {
		if remaining := meta.Deadline.Add(m.retention).Sub(m.now()); remaining > 0 {
			ttl = remaining
		}
	}
	if err := m.store.AppendToList(ctx, repliesKey(transactionID), payload, ttl); err != nil {
		return err
	}
	return m.store.Publish(ctx, m.Channel(transactionID), []byte(transactionID))
}

// Snapshot returns the current aggregate for a broadcast.
func (m *MultiReply) Snapshot(ctx context.Context, transactionID string) (MultiReplySnapshot, error) {
	meta, found, err := m.meta(ctx, transactionID)
	if err != nil {
		return MultiReplySnapshot{}, err
	}
	if !found {
		return MultiReplySnapshot{}, nil
	}
	items, err := m.store.GetList(ctx, repliesKey(transactionID))
	if err != nil {
		return MultiReplySnapshot{}, err
	}
	replies := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		replies = append(replies, json.RawMessage(item))
	}
	return MultiReplySnapshot{
		Found:      true,
		ReplyCount: len(replies),
		Complete:   !m.now().Before(meta.Deadline),
		Deadline:   meta.Deadline,
		Replies:    replies,
	}, nil
}

func (m *MultiReply) meta(ctx context.Context, transactionID string) (multiReplyMeta, bool, error) {
	raw, found, err := m.store.Get(ctx, entryKey(transactionID))
	if err != nil || !found {
		return multiReplyMeta{}, false, err
	}
	var meta multiReplyMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return multiReplyMeta{}, false, fmt.Errorf("corrupt entry %s: %w", entryKey(transactionID), err)
	}
	return meta, true, nil
}
