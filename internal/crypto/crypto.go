package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrCiphertextTooShort is returned when a ciphertext cannot hold a nonce.
var ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")

// Service seals secrets with AES-256-GCM using a per-organization key. The
// organization id is the additional authenticated data, so a value copied
// into another organization's row fails to open.
type Service struct {
	keys KeyProvider
}

// NewService creates an encryption service backed by the given key provider.
func NewService(keys KeyProvider) *Service {
	return &Service{keys: keys}
}

func (s *Service) aead(ctx context.Context, organizationID string) (cipher.AEAD, error) {
	key, err := s.keys.GetKey(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("crypto: get key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}

	return gcm, nil
}

// Encrypt seals plaintext for the organization and returns nonce+ciphertext.
func (s *Service) Encrypt(ctx context.Context, organizationID string, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, []byte(organizationID)), nil
}

// Decrypt opens a value produced by Encrypt for the same organization.
func (s *Service) Decrypt(ctx context.Context, organizationID string, sealed []byte) ([]byte, error) {
	gcm, err := s.aead(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(organizationID))
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt failed: %w", err)
	}

	return plaintext, nil
}

// EncryptString is Encrypt with base64 output, for text columns and logs.
func (s *Service) EncryptString(ctx context.Context, organizationID, plaintext string) (string, error) {
	sealed, err := s.Encrypt(ctx, organizationID, []byte(plaintext))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func (s *Service) DecryptString(ctx context.Context, organizationID, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: base64 decode: %w", err)
	}

	plaintext, err := s.Decrypt(ctx, organizationID, sealed)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}
