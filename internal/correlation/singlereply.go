package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"openbap/go-backend/internal/store"
)

// SellerContext captures the counterpart identity at send time, so the reply
// can be attributed even if the callback omits or garbles it.
type SellerContext struct {
	SellerID  string    `json:"seller_id"`
	SellerURI string    `json:"seller_uri"`
	SentAt    time.Time `json:"sent_at"`
}

// SingleReplyEntry is the tracked state of one point-to-point order action.
type SingleReplyEntry struct {
	Found       bool            `json:"found"`
	HasResponse bool            `json:"has_response"`
	Complete    bool            `json:"complete"`
	Deadline    time.Time       `json:"deadline"`
	Context     SellerContext   `json:"context"`
	Response    json.RawMessage `json:"response,omitempty"`
}

type singleReplyMeta struct {
	Context   SellerContext `json:"context"`
	CreatedAt time.Time     `json:"created_at"`
	Deadline  time.Time     `json:"deadline"`
}

// SingleReply tracks order actions (select/init/confirm) that expect exactly
// one reply. The key includes the message id: a buyer may re-issue the same
// action type within one transaction (retry, modified selection), and each
// issue is tracked independently.
type SingleReply struct {
	store     *store.TenantStore
	retention time.Duration
	now       func() time.Time
}

func NewSingleReply(ts *store.TenantStore) *SingleReply {
	return &SingleReply{store: ts, retention: defaultRetention, now: time.Now}
}

func actionKey(action, transactionID, messageID string) string {
	return fmt.Sprintf("%s:%s:%s", action, transactionID, messageID)
}

// Channel names the notification channel for one tracked action.
func (s *SingleReply) Channel(action, transactionID, messageID string) string {
	return actionKey(action, transactionID, messageID)
}

// CreateEntry records the send and the seller context captured at send time.
func (s *SingleReply) CreateEntry(ctx context.Context, action, transactionID, messageID string, seller SellerContext, ttl time.Duration) error {
	meta := singleReplyMeta{Context: seller, CreatedAt: s.now(), Deadline: s.now().Add(ttl)}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.store.SetWithTTL(ctx, actionKey(action, transactionID, messageID), raw, ttl+s.retention)
}

// RecordReply sets the response if none is stored yet. First write wins: the
// store's atomic conditional set decides, so there is no read-then-write race
// window. A notification is always published, even for a discarded duplicate,
// so live subscribers are never starved of an event.
func (s *SingleReply) RecordReply(ctx context.Context, action, transactionID, messageID string, payload []byte) error {
	key := actionKey(action, transactionID, messageID)
	ttl := s.retention
	if meta, found, err := s.meta(ctx, key); err != nil {
		return err
	} else if found {
		if remaining := meta.Deadline.Add(s.retention).Sub(s.now()); remaining > 0 {
			ttl = remaining
		}
	}
	if _, err := s.store.SetNX(ctx, key+":response", payload, ttl); err != nil {
		return err
	}
	return s.store.Publish(ctx, s.Channel(action, transactionID, messageID), []byte(transactionID))
}

// GetEntry returns the tracked state. Complete means a response arrived or
// the deadline passed.
func (s *SingleReply) GetEntry(ctx context.Context, action, transactionID, messageID string) (SingleReplyEntry, error) {
	key := actionKey(action, transactionID, messageID)
	meta, found, err := s.meta(ctx, key)
	if err != nil || !found {
		return SingleReplyEntry{}, err
	}
	response, hasResponse, err := s.store.Get(ctx, key+":response")
	if err != nil {
		return SingleReplyEntry{}, err
	}
	return SingleReplyEntry{
		Found:       true,
		HasResponse: hasResponse,
		Complete:    hasResponse || !s.now().Before(meta.Deadline),
		Deadline:    meta.Deadline,
		Context:     meta.Context,
		Response:    json.RawMessage(response),
	}, nil
}

func (s *SingleReply) meta(ctx context.Context, key string) (singleReplyMeta, bool, error) {
	raw, found, err := s.store.Get(ctx, key)
	if err != nil || !found {
		return singleReplyMeta{}, false, err
	}
	var meta singleReplyMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return singleReplyMeta{}, false, fmt.Errorf("corrupt entry %s: %w", key, err)
	}
	return meta, true, nil
}
