package store

import (
	"context"
	"fmt"
)

// sealSecret encrypts an endpoint credential for the BYTEA column. An empty
// secret is stored as NULL.
func (b *Base) sealSecret(ctx context.Context, organizationID, secret string) ([]byte, error) {
	if secret == "" {
		return nil, nil
	}

	sealed, err := b.Crypto.Encrypt(ctx, organizationID, []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("encrypting secret: %w", err)
	}

	return sealed, nil
}

// openSecret reverses sealSecret.
func (b *Base) openSecret(ctx context.Context, organizationID string, sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}

	plain, err := b.Crypto.Decrypt(ctx, organizationID, sealed)
	if err != nil {
		return "", fmt.Errorf("decrypting secret: %w", err)
	}

	return string(plain), nil
}
