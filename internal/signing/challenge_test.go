package signing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"openbap/go-backend/internal/identity"
)

func TestChallengeRoundTrip(t *testing.T) {
	tenantSeed := make([]byte, 64)
	networkSeed := make([]byte, 64)
	for i := range tenantSeed {
		tenantSeed[i] = byte(i)
		networkSeed[i] = byte(255 - i)
	}
	tenantKeys, err := identity.DeriveKeys(tenantSeed)
	require.NoError(t, err)
	networkKeys, err := identity.DeriveKeys(networkSeed)
	require.NoError(t, err)

	plaintext := []byte("prove-you-hold-the-key-7731")
	ciphertext, err := EncryptChallenge(plaintext, networkKeys.EncryptionPrivate, tenantKeys.EncryptionPublic)
	require.NoError(t, err)

	answer, err := DecryptChallenge(ciphertext, tenantKeys.EncryptionPrivate, networkKeys.EncryptionPublic)
	require.NoError(t, err)
	require.Equal(t, plaintext, answer)
}

func TestDecryptChallengeFailures(t *testing.T) {
	tenantKeys, err := identity.DeriveKeys(make([]byte, 64))
	require.NoError(t, err)
	otherSeed := make([]byte, 64)
	otherSeed[0] = 1
	otherKeys, err := identity.DeriveKeys(otherSeed)
	require.NoError(t, err)

	ciphertext, err := EncryptChallenge([]byte("answer"), otherKeys.EncryptionPrivate, tenantKeys.EncryptionPublic)
	require.NoError(t, err)

	// Wrong counterpart public key derives a different shared secret.
	_, err = DecryptChallenge(ciphertext, tenantKeys.EncryptionPrivate, tenantKeys.EncryptionPublic)
	require.ErrorIs(t, err, ErrChallengeDecrypt)

	_, err = DecryptChallenge([]byte("short"), tenantKeys.EncryptionPrivate, otherKeys.EncryptionPublic)
	require.ErrorIs(t, err, ErrChallengeDecrypt)

	_, err = DecryptChallenge(ciphertext, []byte("bad"), otherKeys.EncryptionPublic)
	require.ErrorIs(t, err, ErrInvalidPeerKey)
}
