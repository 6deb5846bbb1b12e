package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning    = "bap/identity/signing/v1"
	hkdfInfoEncryption = "bap/identity/encryption/v1"
)

var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrMnemonicRequired = errors.New("mnemonic is required")
)

// NewMnemonic generates a fresh 24-word recovery phrase.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// DeriveFromMnemonic deterministically derives the tenant key pairs from a
// recovery mnemonic, so an identity can always be recreated from its phrase.
func DeriveFromMnemonic(mnemonic string) (*DerivedKeys, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrMnemonicRequired
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	return DeriveKeys(bip39.NewSeed(mnemonic, ""))
}

func DeriveKeys(seedBytes []byte) (*DerivedKeys, error) {
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, 32)
	if err != nil {
		return nil, err
	}
	encryptionPriv, err := hkdfExpand(seedBytes, hkdfInfoEncryption, 32)
	if err != nil {
		return nil, err
	}

	signingPriv := ed25519.NewKeyFromSeed(signingSeed)
	signingPub := signingPriv.Public().(ed25519.PublicKey)

	encryptionPub, err := curve25519.X25519(encryptionPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	return &DerivedKeys{
		SigningPrivateKey: signingPriv,
		SigningPublicKey:  signingPub,
		EncryptionPrivate: encryptionPriv,
		EncryptionPublic:  encryptionPub,
	}, nil
}

// KeyFingerprint builds a short stable identifier for a signing public key,
// used as the default unique key id in registry records.
func KeyFingerprint(signingPublicKey []byte) string {
	h := blake2b.Sum256(signingPublicKey)
	return "bapk1" + base58.Encode(h[:16])
}

func encryptionPublic(priv []byte) ([]byte, error) {
	return curve25519.X25519(priv, curve25519.Basepoint)
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
