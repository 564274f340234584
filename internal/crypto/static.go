package crypto

import (
	"context"
	"crypto/hkdf"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const hkdfInfo = "rhesis organization key v1"

// StaticProvider derives one key per organization from a single master key
// with HKDF-SHA256. Suitable when no external key manager is configured.
type StaticProvider struct {
	master []byte
}

// NewStaticProvider creates a StaticProvider from a hex-encoded 32-byte key.
func NewStaticProvider(hexKey string) (*StaticProvider, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/static: invalid hex key: %w", err)
	}

	if len(key) != keySize {
		return nil, fmt.Errorf("crypto/static: key must be %d bytes, got %d", keySize, len(key))
	}

	return &StaticProvider{master: key}, nil
}

// GetKey derives the organization's key. Equal inputs give equal keys.
func (p *StaticProvider) GetKey(_ context.Context, organizationID string) ([]byte, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("crypto/static: organization id is required")
	}

	key, err := hkdf.Key(sha256.New, p.master, []byte(organizationID), hkdfInfo, keySize)
	if err != nil {
		return nil, fmt.Errorf("crypto/static: derive key: %w", err)
	}

	return key, nil
}
