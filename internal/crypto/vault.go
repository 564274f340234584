package crypto

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/rhesis-ai/rhesis/internal/config"
	"github.com/rhesis-ai/rhesis/internal/models"
)

// Vault key lookup settings.
const (
	vaultKeyPath     = "/v1/secret/data/rhesis/organization-keys/"
	vaultKeyField    = "encryption_key"
	vaultKeyTTL      = 15 * time.Minute
	vaultMaxTries    = 3
	vaultMaxBodySize = 1 << 20
)

// ErrKeyNotFound is returned when Vault holds no key for an organization.
var ErrKeyNotFound = errors.New("crypto: organization key not found")

type vaultEntry struct {
	key     []byte
	expires time.Time
}

// VaultProvider reads one AES-256 key per organization from the Vault KV v2
// engine at secret/rhesis/organization-keys/<organization id>, field
// encryption_key (base64). Keys are cached for vaultKeyTTL and concurrent
// misses for one organization share a single request.
type VaultProvider struct {
	addr   string
	token  config.Secret
	client *http.Client

	mu    sync.RWMutex
	cache map[string]vaultEntry
	group singleflight.Group
	now   func() time.Time
}

// NewVaultProvider creates a VaultProvider for the Vault server at addr.
func NewVaultProvider(addr, token string) *VaultProvider {
	return &VaultProvider{
		addr:  addr,
		token: config.Secret(token),
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		cache: make(map[string]vaultEntry),
		now:   time.Now,
	}
}

func (p *VaultProvider) cached(organizationID string) ([]byte, bool) {
	p.mu.RLock()
	e, ok := p.cache[organizationID]
	p.mu.RUnlock()

	if !ok || !p.now().Before(e.expires) {
		return nil, false
	}

	return append([]byte(nil), e.key...), true
}

// GetKey returns the organization's key. Callers get their own copy.
func (p *VaultProvider) GetKey(ctx context.Context, organizationID string) ([]byte, error) {
	if !models.IsUUID(organizationID) {
		return nil, fmt.Errorf("crypto/vault: invalid organization id %q", organizationID)
	}

	if key, ok := p.cached(organizationID); ok {
		return key, nil
	}

	v, err, _ := p.group.Do(organizationID, func() (any, error) {
		if key, ok := p.cached(organizationID); ok {
			return key, nil
		}

		key, err := backoff.Retry(ctx, func() ([]byte, error) {
			return p.fetch(ctx, organizationID)
		}, backoff.WithMaxTries(vaultMaxTries))
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.cache[organizationID] = vaultEntry{key: key, expires: p.now().Add(vaultKeyTTL)}
		p.mu.Unlock()

		return key, nil
	})
	if err != nil {
		return nil, err
	}

	return append([]byte(nil), v.([]byte)...), nil
}

// fetch performs one lookup. Errors that a retry cannot fix are permanent.
func (p *VaultProvider) fetch(ctx context.Context, organizationID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.addr+vaultKeyPath+url.PathEscape(organizationID), http.NoBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("crypto/vault: create request: %w", err))
	}
	req.Header.Set("X-Vault-Token", p.token.Value())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crypto/vault: request failed: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, vaultMaxBodySize)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, body)
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrKeyNotFound, organizationID))
	case resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, body)
		return nil, fmt.Errorf("crypto/vault: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(body)
		return nil, backoff.Permanent(fmt.Errorf("crypto/vault: status %d: %s", resp.StatusCode, msg))
	}

	var secret struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&secret); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("crypto/vault: decode response: %w", err))
	}

	key, err := decodeVaultKey(secret.Data.Data[vaultKeyField])
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("crypto/vault: organization %s: %w", organizationID, err))
	}

	return key, nil
}

func decodeVaultKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%s field missing", vaultKeyField)
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", vaultKeyField, err)
	}

	if len(key) != keySize {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", vaultKeyField, keySize, len(key))
	}

	return key, nil
}
