package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

// defaultKey is used when no deployment secret is configured. ASCII of
// "authgate.identity-cache", zero-padded to 32 bytes.
var defaultKey = [32]byte{
	'a', 'u', 't', 'h', 'g', 'a', 't', 'e', '.', 'i', 'd', 'e', 'n', 't', 'i', 't',
	'y', '-', 'c', 'a', 'c', 'h', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

const keyInfo = "authgate identity-cache key v1"

// Keyer derives cache keys from bearer tokens. Keys are keyed BLAKE3 digests,
// so raw tokens never reach a cache backend and keys cannot be reversed.
type Keyer struct {
	// hasher is keyed but never written; Key clones it per call.
	hasher *blake3.Hasher
}

// NewKeyer builds a Keyer. A non-empty secret is stretched with HKDF-SHA256 so
// keys differ between deployments sharing a Redis instance.
func NewKeyer(secret string) (*Keyer, error) {
	key := defaultKey
	if secret != "" {
		reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
		if _, err := io.ReadFull(reader, key[:]); err != nil {
			return nil, fmt.Errorf("derive cache key: %w", err)
		}
	}
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		return nil, fmt.Errorf("init keyed hash: %w", err)
	}
	return &Keyer{hasher: hasher}, nil
}

// Key returns the hex digest for token.
func (k *Keyer) Key(token string) string {
	h := k.hasher.Clone()
	_, _ = h.WriteString(token)
	return hex.EncodeToString(h.Sum(nil))
}
