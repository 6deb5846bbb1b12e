package correlation

import (
	"context"
	"strings"
	"time"

	"openbap/go-backend/internal/store"
)

// StatusStore keeps the latest settlement/fulfillment snapshot per order.
// Each status callback overwrites the previous one; there is no history.
type StatusStore struct {
	store     *store.TenantStore
	retention time.Duration
}

func NewStatusStore(ts *store.TenantStore) *StatusStore {
	return &StatusStore{store: ts, retention: defaultRetention}
}

func statusKey(orderID string) string {
	return "status:" + orderID
}

func (s *StatusStore) Set(ctx context.Context, orderID string, payload []byte) error {
	return s.store.SetWithTTL(ctx, statusKey(orderID), payload, s.retention)
}

func (s *StatusStore) Get(ctx context.Context, orderID string) ([]byte, bool, error) {
	return s.store.Get(ctx, statusKey(orderID))
}

// OrderIDs lists orders with a known status snapshot.
func (s *StatusStore) OrderIDs(ctx context.Context) ([]string, error) {
	keys, err := s.store.ScanKeys(ctx, "status:*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, "status:"))
	}
	return ids, nil
}
