package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingSubscriberID  = errors.New("subscriber id is required")
	ErrInvalidSigningKey    = errors.New("invalid signing key")
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
)

// KeyMaterial is the serialized form of a tenant's key pairs, base64
// (standard encoding) as stored in configuration.
type KeyMaterial struct {
	SigningPrivate    string
	EncryptionPrivate string
}

// NewTenant assembles an immutable tenant identity from derived keys.
func NewTenant(subscriberID, uniqueKeyID, domain, registryURL string, keys *DerivedKeys) (*Tenant, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return nil, ErrMissingSubscriberID
	}
	if len(keys.SigningPrivateKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSigningKey
	}
	if len(keys.EncryptionPrivate) != 32 {
		return nil, ErrInvalidEncryptionKey
	}
	if uniqueKeyID == "" {
		uniqueKeyID = KeyFingerprint(keys.SigningPublicKey)
	}
	return &Tenant{
		SubscriberID:         subscriberID,
		UniqueKeyID:          uniqueKeyID,
		Domain:               domain,
		RegistryURL:          registryURL,
		SigningPrivateKey:    append(ed25519.PrivateKey(nil), keys.SigningPrivateKey...),
		SigningPublicKey:     append(ed25519.PublicKey(nil), keys.SigningPublicKey...),
		EncryptionPrivateKey: append([]byte(nil), keys.EncryptionPrivate...),
		EncryptionPublicKey:  append([]byte(nil), keys.EncryptionPublic...),
	}, nil
}

// LoadTenant rebuilds a tenant from serialized key material.
func LoadTenant(subscriberID, uniqueKeyID, domain, registryURL string, material KeyMaterial) (*Tenant, error) {
	signingPriv, err := base64.StdEncoding.DecodeString(material.SigningPrivate)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(signingPriv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidSigningKey
	}
	encryptionPriv, err := base64.StdEncoding.DecodeString(material.EncryptionPrivate)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(encryptionPriv) != 32 {
		return nil, ErrInvalidEncryptionKey
	}

	priv := ed25519.PrivateKey(signingPriv)
	keys := &DerivedKeys{
		SigningPrivateKey: priv,
		SigningPublicKey:  priv.Public().(ed25519.PublicKey),
		EncryptionPrivate: encryptionPriv,
	}
	pub, err := encryptionPublic(encryptionPriv)
	if err != nil {
		return nil, err
	}
	keys.EncryptionPublic = pub
	return NewTenant(subscriberID, uniqueKeyID, domain, registryURL, keys)
}

// Export serializes the tenant's private key material for configuration.
func (t *Tenant) Export() KeyMaterial {
	return KeyMaterial{
		SigningPrivate:    base64.StdEncoding.EncodeToString(t.SigningPrivateKey),
		EncryptionPrivate: base64.StdEncoding.EncodeToString(t.EncryptionPrivateKey),
	}
}

// Namespace is the per-tenant prefix under which all correlation state lives.
func (t *Tenant) Namespace() string {
	return t.SubscriberID
}
