package identity

import "crypto/ed25519"

// Tenant is the caller's cryptographic and network identity. It is loaded
// once at process start and shared read-only; nothing in it mutates after
// construction, so concurrent use needs no locking.
type Tenant struct {
	SubscriberID string
	UniqueKeyID  string
	Domain       string
	RegistryURL  string

	SigningPrivateKey ed25519.PrivateKey
	SigningPublicKey  ed25519.PublicKey

	// X25519 key pair used for the registry challenge handshake.
	EncryptionPrivateKey []byte
	EncryptionPublicKey  []byte
}

// DerivedKeys holds key material derived from a recovery mnemonic.
type DerivedKeys struct {
	SigningPrivateKey []byte // Ed25519 private key bytes (64)
	SigningPublicKey  []byte // Ed25519 public key bytes (32)
	EncryptionPrivate []byte // X25519 private scalar bytes (32)
	EncryptionPublic  []byte // X25519 public point bytes (32)
}
