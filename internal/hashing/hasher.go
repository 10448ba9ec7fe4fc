package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"powerguard-service/internal/config"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidHash    = errors.New("invalid hash format")
	ErrWeakParameters = errors.New("kdf parameters below minimum")
)

const (
	minIterations = 100000
	minSaltLength = 32
)

type Params struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

type Hasher struct {
	params Params
}

type HashResult struct {
	Hash       string `json:"hash"`
	Salt       string `json:"salt"`
	Iterations int    `json:"iterations"`
	Algorithm  string `json:"algorithm"`
}

func NewHasher(cfg *config.Config) (*Hasher, error) {
	params := Params{
		Iterations: cfg.Hashing.Iterations,
		SaltLength: cfg.Hashing.SaltLength,
		KeyLength:  cfg.Hashing.KeyLength,
	}

	if params.Iterations < minIterations || params.SaltLength < minSaltLength {
		return nil, ErrWeakParameters
	}

	return &Hasher{params: params}, nil
}

// HashCredential derives a PBKDF2-SHA256 hash with a fresh random salt.
// The raw credential is never retained.
func (h *Hasher) HashCredential(raw string) (*HashResult, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(raw), salt, h.params.Iterations, h.params.KeyLength, sha256.New)

	return &HashResult{
		Hash:       base64.RawURLEncoding.EncodeToString(key),
		Salt:       base64.RawURLEncoding.EncodeToString(salt),
		Iterations: h.params.Iterations,
		Algorithm:  "pbkdf2-sha256-v1",
	}, nil
}

// VerifyCredential re-derives with the stored salt and iteration count and
// compares in constant time.
func (h *Hasher) VerifyCredential(raw string, stored *HashResult) (bool, error) {
	salt, err := base64.RawURLEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false, ErrInvalidHash
	}

	expected, err := base64.RawURLEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false, ErrInvalidHash
	}

	iterations := stored.Iterations
	if iterations <= 0 {
		return false, ErrInvalidHash
	}

	computed := pbkdf2.Key([]byte(raw), salt, iterations, len(expected), sha256.New)

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
