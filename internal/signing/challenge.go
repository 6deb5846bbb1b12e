package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrChallengeDecrypt = errors.New("challenge decryption failed")
	ErrInvalidPeerKey   = errors.New("invalid peer key")
)

const challengeInfo = "bap/registry/challenge/v1"

// ChallengeSharedKey derives the symmetric key for the registry handshake:
// X25519 between our encryption private key and the network's published
// public key, expanded with HKDF-SHA256.
func ChallengeSharedKey(privateKey, peerPublicKey []byte) ([]byte, error) {
	if len(privateKey) != 32 || len(peerPublicKey) != 32 {
		return nil, ErrInvalidPeerKey
	}
	shared, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		return nil, err
	}
	reader := hkdf.New(sha256.New, shared, nil, []byte(challengeInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// DecryptChallenge answers a registry handshake challenge. The ciphertext
// layout is nonce || sealed box. Failure is fatal for the handshake attempt;
// the registry retries per its own protocol.
func DecryptChallenge(ciphertext, privateKey, networkPublicKey []byte) ([]byte, error) {
	key, err := ChallengeSharedKey(privateKey, networkPublicKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrChallengeDecrypt
	}
	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrChallengeDecrypt
	}
	return plaintext, nil
}

// EncryptChallenge is the registry side of the handshake, kept here for the
// local registry simulator and round-trip tests.
func EncryptChallenge(plaintext, privateKey, peerPublicKey []byte) ([]byte, error) {
	key, err := ChallengeSharedKey(privateKey, peerPublicKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}
