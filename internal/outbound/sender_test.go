package outbound

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"openbap/go-backend/internal/correlation"
	"openbap/go-backend/internal/identity"
	"openbap/go-backend/internal/protocol"
	"openbap/go-backend/internal/signing"
	"openbap/go-backend/internal/store"
)

type senderFixture struct {
	tenant  *identity.Tenant
	multi   *correlation.MultiReply
	single  *correlation.SingleReply
	store   *store.TenantStore
}

func newSenderFixture(t *testing.T) *senderFixture {
	t.Helper()
	keys, err := identity.DeriveKeys(make([]byte, 64))
	require.NoError(t, err)
	tenant, err := identity.NewTenant("buyer.example.org", "key-1", "RETAIL", "https://registry.example.org", keys)
	require.NoError(t, err)
	ts := store.NewTenantStore(store.NewMemoryBackend(), tenant.Namespace())
	return &senderFixture{
		tenant: tenant,
		multi:  correlation.NewMultiReply(ts),
		single: correlation.NewSingleReply(ts),
		store:  ts,
	}
}

func TestSearchSignsAndOpensEntry(t *testing.T) {
	f := newSenderFixture(t)

	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(protocol.NewAck())
	}))
	defer srv.Close()

	sender := NewSender(f.tenant, srv.Client(), f.multi, f.single, srv.URL, "https://buyer.example.org/callbacks", 30*time.Second, 30*time.Second, nil)
	result, err := sender.Search(context.Background(), "", json.RawMessage(`{"intent":{"category":"insurance"}}`))
	require.NoError(t, err)
	require.NotEmpty(t, result.TransactionID)
	require.NotEmpty(t, result.MessageID)

	// The signature must verify against the exact transmitted bytes.
	_, err = signing.VerifyAuthorizationHeader(gotAuth, gotBody, f.tenant.SigningPublicKey, time.Now())
	require.NoError(t, err)

	var sent struct {
		Context protocol.Context `json:"context"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &sent))
	require.Equal(t, "search", sent.Context.Action)
	require.Equal(t, "buyer.example.org", sent.Context.BuyerID)
	require.Equal(t, result.TransactionID, sent.Context.TransactionID)

	snap, err := f.multi.Snapshot(context.Background(), result.TransactionID)
	require.NoError(t, err)
	require.True(t, snap.Found, "search must open a multi-reply entry")
	require.False(t, snap.Complete)
}

func TestActionOpensSingleReplyEntry(t *testing.T) {
	f := newSenderFixture(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/select", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(protocol.NewAck())
	}))
	defer srv.Close()

	sender := NewSender(f.tenant, srv.Client(), f.multi, f.single, "https://gateway.example.org", "https://buyer.example.org/callbacks", 30*time.Second, 30*time.Second, nil)
	result, err := sender.Action(context.Background(), protocol.ActionSelect, "seller.example.org", srv.URL, "txn-1", json.RawMessage(`{"order":{"items":[{"id":"i1"}]}}`))
	require.NoError(t, err)

	entry, err := f.single.GetEntry(context.Background(), "select", "txn-1", result.MessageID)
	require.NoError(t, err)
	require.True(t, entry.Found)
	require.False(t, entry.HasResponse)
	require.Equal(t, "seller.example.org", entry.Context.SellerID)
}

func TestActionRequiresTransactionID(t *testing.T) {
	f := newSenderFixture(t)
	sender := NewSender(f.tenant, nil, f.multi, f.single, "https://gateway.example.org", "", time.Second, time.Second, nil)
	_, err := sender.Action(context.Background(), protocol.ActionInit, "s", "https://seller.example.org", "", nil)
	require.Error(t, err)
}

func TestSendFailsOnErrorStatus(t *testing.T) {
	f := newSenderFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewSender(f.tenant, srv.Client(), f.multi, f.single, srv.URL, "", time.Second, time.Second, nil)
	_, err := sender.Search(context.Background(), "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestRegistrySubscribe(t *testing.T) {
	f := newSenderFixture(t)

	var got SubscribeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/subscribe", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tenant := *f.tenant
	tenant.RegistryURL = srv.URL
	client := NewRegistryClient(&tenant, srv.Client(), nil)
	require.NoError(t, client.Subscribe(context.Background(), "https://buyer.example.org/callbacks", 24*time.Hour))
	require.Equal(t, "buyer.example.org", got.SubscriberID)
	require.NotEmpty(t, got.SigningKey)
	require.NotEmpty(t, got.EncryptionKey)
}

func TestLookupSigningKeyCachesResult(t *testing.T) {
	f := newSenderFixture(t)

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lookup", r.URL.Path)
		calls++
		_ = json.NewEncoder(w).Encode([]map[string]string{{
			"subscriber_id":      "seller.example.org",
			"ukid":               "sk-1",
			"signing_public_key": base64.StdEncoding.EncodeToString(f.tenant.SigningPublicKey),
		}})
	}))
	defer srv.Close()

	tenant := *f.tenant
	tenant.RegistryURL = srv.URL
	client := NewRegistryClient(&tenant, srv.Client(), nil)

	key, ok := client.LookupSigningKey(context.Background(), "seller.example.org", "sk-1")
	require.True(t, ok)
	require.Equal(t, []byte(f.tenant.SigningPublicKey), []byte(key))

	_, ok = client.LookupSigningKey(context.Background(), "seller.example.org", "sk-1")
	require.True(t, ok)
	require.Equal(t, 1, calls, "second lookup must be served from cache")

	_, ok = client.LookupSigningKey(context.Background(), "unknown.example.org", "sk-9")
	require.False(t, ok)
}
