package outbound

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"openbap/go-backend/internal/identity"
	"openbap/go-backend/internal/signing"
)

// SubscribeRequest is the registration record published to the network
// registry. The registry answers out-of-band with an encrypted challenge on
// the subscriber's /on_subscribe endpoint.
type SubscribeRequest struct {
	SubscriberID  string `json:"subscriber_id"`
	UniqueKeyID   string `json:"ukid"`
	Domain        string `json:"domain"`
	CallbackURL   string `json:"callback_url"`
	SigningKey    string `json:"signing_public_key"`
	EncryptionKey string `json:"encr_public_key"`
	ValidFrom     string `json:"valid_from"`
	ValidUntil    string `json:"valid_until"`
}

type RegistryClient struct {
	tenant *identity.Tenant
	client *http.Client
	log    *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedKey
}

type cachedKey struct {
	key       ed25519.PublicKey
	fetchedAt time.Time
}

// keyCacheTTL bounds how long a looked-up signing key is trusted without
// re-consulting the registry. Records rotate rarely; revocation latency is
// bounded by this window.
const keyCacheTTL = 5 * time.Minute

func NewRegistryClient(tenant *identity.Tenant, client *http.Client, log *slog.Logger) *RegistryClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &RegistryClient{tenant: tenant, client: client, log: log, cache: make(map[string]cachedKey)}
}

// Subscribe publishes the tenant's keys to the registry. The registration
// only completes once the registry's challenge is answered on /on_subscribe.
func (c *RegistryClient) Subscribe(ctx context.Context, callbackURL string, validity time.Duration) error {
	now := time.Now().UTC()
	body, err := json.Marshal(SubscribeRequest{
		SubscriberID:  c.tenant.SubscriberID,
		UniqueKeyID:   c.tenant.UniqueKeyID,
		Domain:        c.tenant.Domain,
		CallbackURL:   callbackURL,
		SigningKey:    base64.StdEncoding.EncodeToString(c.tenant.SigningPublicKey),
		EncryptionKey: base64.StdEncoding.EncodeToString(c.tenant.EncryptionPublicKey),
		ValidFrom:     now.Format(time.RFC3339),
		ValidUntil:    now.Add(validity).Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	header, err := signing.BuildAuthorizationHeader(c.tenant, body)
	if err != nil {
		return fmt.Errorf("sign subscribe: %w", err)
	}

	url := strings.TrimSuffix(c.tenant.RegistryURL, "/") + "/subscribe"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", header)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("subscribe: status %d: %s", resp.StatusCode, payload)
	}
	c.log.Info("registry subscription submitted", "registry", c.tenant.RegistryURL, "subscriber_id", c.tenant.SubscriberID)
	return nil
}

type lookupRequest struct {
	SubscriberID string `json:"subscriber_id"`
	UniqueKeyID  string `json:"ukid"`
}

type lookupRecord struct {
	SubscriberID string `json:"subscriber_id"`
	UniqueKeyID  string `json:"ukid"`
	SigningKey   string `json:"signing_public_key"`
}

// LookupSigningKey resolves a counterpart's published signing key from the
// registry. Results are cached for keyCacheTTL; a lookup miss is not cached,
// so an unknown caller hits the registry on every attempt.
func (c *RegistryClient) LookupSigningKey(ctx context.Context, subscriberID, uniqueKeyID string) (ed25519.PublicKey, bool) {
	cacheKey := subscriberID + "|" + uniqueKeyID

	c.mu.Lock()
	if entry, ok := c.cache[cacheKey]; ok && time.Since(entry.fetchedAt) < keyCacheTTL {
		c.mu.Unlock()
		return entry.key, true
	}
	c.mu.Unlock()

	key, err := c.fetchSigningKey(ctx, subscriberID, uniqueKeyID)
	if err != nil {
		c.log.Warn("registry lookup failed", "subscriber_id", subscriberID, "ukid", uniqueKeyID, "err", err)
		return nil, false
	}

	c.mu.Lock()
	c.cache[cacheKey] = cachedKey{key: key, fetchedAt: time.Now()}
	c.mu.Unlock()
	return key, true
}

func (c *RegistryClient) fetchSigningKey(ctx context.Context, subscriberID, uniqueKeyID string) (ed25519.PublicKey, error) {
	body, err := json.Marshal(lookupRequest{SubscriberID: subscriberID, UniqueKeyID: uniqueKeyID})
	if err != nil {
		return nil, err
	}
	url := strings.TrimSuffix(c.tenant.RegistryURL, "/") + "/lookup"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup: status %d", resp.StatusCode)
	}

	var records []lookupRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&records); err != nil {
		return nil, fmt.Errorf("lookup: decode: %w", err)
	}
	for _, rec := range records {
		if rec.SubscriberID != subscriberID || rec.UniqueKeyID != uniqueKeyID {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(rec.SigningKey)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("lookup: malformed signing key for %s", subscriberID)
		}
		return ed25519.PublicKey(raw), nil
	}
	return nil, fmt.Errorf("lookup: no record for %s/%s", subscriberID, uniqueKeyID)
}
