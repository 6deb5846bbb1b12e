// Package signing implements the outbound authentication scheme of the
// network: a BLAKE-512 digest of the exact transmitted body, an Ed25519
// signature over a (created)/(expires)/digest signing string, and the
// structured Authorization header carrying both. All key material is
// immutable after load, so every function here is safe for concurrent use.
package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"openbap/go-backend/internal/identity"
)

const (
	// SigningAlgorithm names the signature scheme in header key ids.
	SigningAlgorithm = "ed25519"
	// DigestAlgorithm names the body hash in the signing string.
	DigestAlgorithm = "BLAKE-512"

	// createdSkew backdates the signature window to absorb clock drift
	// between the parties; validity runs for signatureTTL from there.
	createdSkew  = 3 * time.Second
	signatureTTL = 300 * time.Second
)

var (
	ErrSigningFailed    = errors.New("request signing failed")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature window expired")
)

// Digest hashes the exact byte serialization that will be transmitted.
// Reformatting the body after hashing invalidates the signature.
func Digest(body []byte) string {
	sum := blake2b.Sum512(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SigningString builds the canonical string covered by the signature.
func SigningString(created, expires int64, digest string) string {
	return fmt.Sprintf("(created): %d\n(expires): %d\ndigest: %s=%s",
		created, expires, DigestAlgorithm, digest)
}

// SignRequest signs the body for an explicit validity window. Callers that
// just want "now" should use BuildAuthorizationHeader.
func SignRequest(tenant *identity.Tenant, body []byte, created, expires int64) (string, error) {
	if len(tenant.SigningPrivateKey) != ed25519.PrivateKeySize {
		return "", ErrSigningFailed
	}
	sig := ed25519.Sign(tenant.SigningPrivateKey, []byte(SigningString(created, expires, Digest(body))))
	return formatHeader(tenant.SubscriberID, tenant.UniqueKeyID, created, expires,
		base64.StdEncoding.EncodeToString(sig)), nil
}

// BuildAuthorizationHeader signs the body with a window starting slightly in
// the past. A signing failure aborts the outbound send; there is never a
// partial or unsigned send.
func BuildAuthorizationHeader(tenant *identity.Tenant, body []byte) (string, error) {
	created := time.Now().Add(-createdSkew).Unix()
	return SignRequest(tenant, body, created, created+int64(signatureTTL/time.Second))
}

func formatHeader(subscriberID, uniqueKeyID string, created, expires int64, signature string) string {
	return fmt.Sprintf(
		`Signature keyId="%s|%s|%s",algorithm="%s",created="%d",expires="%d",headers="(created) (expires) digest",signature="%s"`,
		subscriberID, uniqueKeyID, SigningAlgorithm, SigningAlgorithm, created, expires, signature)
}
