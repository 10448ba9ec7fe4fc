package hashing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"powerguard-service/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Hashing: config.HashingConfig{
			Iterations: 100000,
			SaltLength: 32,
			KeyLength:  32,
		},
	}
}

func TestHashAndVerifyRoundTrip(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	require.NoError(t, err)

	result, err := hasher.HashCredential("1234")
	require.NoError(t, err)
	require.NotEmpty(t, result.Hash)
	require.NotEmpty(t, result.Salt)
	require.Equal(t, 100000, result.Iterations)
	require.Equal(t, "pbkdf2-sha256-v1", result.Algorithm)

	match, err := hasher.VerifyCredential("1234", result)
	require.NoError(t, err)
	require.True(t, match)

	match, err = hasher.VerifyCredential("0000", result)
	require.NoError(t, err)
	require.False(t, match)
}

func TestHashProducesUniqueSalts(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	require.NoError(t, err)

	first, err := hasher.HashCredential("secretpass")
	require.NoError(t, err)
	second, err := hasher.HashCredential("secretpass")
	require.NoError(t, err)

	require.NotEqual(t, first.Salt, second.Salt)
	require.NotEqual(t, first.Hash, second.Hash)
}

func TestVerifyUsesStoredIterations(t *testing.T) {
	cfg := testConfig()
	hasher, err := NewHasher(cfg)
	require.NoError(t, err)

	result, err := hasher.HashCredential("1234")
	require.NoError(t, err)

	// A hasher configured with different iterations must still verify
	// against the iteration count recorded with the hash.
	cfg2 := testConfig()
	cfg2.Hashing.Iterations = 150000
	other, err := NewHasher(cfg2)
	require.NoError(t, err)

	match, err := other.VerifyCredential("1234", result)
	require.NoError(t, err)
	require.True(t, match)
}

func TestWeakParametersRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Hashing.Iterations = 5000
	_, err := NewHasher(cfg)
	require.ErrorIs(t, err, ErrWeakParameters)

	cfg = testConfig()
	cfg.Hashing.SaltLength = 8
	_, err = NewHasher(cfg)
	require.ErrorIs(t, err, ErrWeakParameters)
}

func TestVerifyRejectsMalformedStoredHash(t *testing.T) {
	hasher, err := NewHasher(testConfig())
	require.NoError(t, err)

	_, err = hasher.VerifyCredential("1234", &HashResult{
		Hash:       "%%%not-base64%%%",
		Salt:       "also bad",
		Iterations: 100000,
	})
	require.ErrorIs(t, err, ErrInvalidHash)

	_, err = hasher.VerifyCredential("1234", &HashResult{
		Hash:       "aaaa",
		Salt:       "aaaa",
		Iterations: 0,
	})
	require.ErrorIs(t, err, ErrInvalidHash)
}
