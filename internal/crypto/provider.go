// Package crypto encrypts organization secrets (endpoint credentials) at
// rest with AES-256-GCM.
package crypto

import "context"

// keySize is the AES-256 key length in bytes.
const keySize = 32

// KeyProvider returns AES-256 encryption keys for organizations.
type KeyProvider interface {
	// GetKey returns the 32-byte AES-256 key for the given organization.
	GetKey(ctx context.Context, organizationID string) ([]byte, error)
}
