package crypto_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rhesis-ai/rhesis/internal/crypto"
)

// fakeVault serves KV v2 responses for orgA. failFirst makes the first
// request return 503.
func fakeVault(t *testing.T, key []byte, failFirst bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)

		if r.Header.Get("X-Vault-Token") != "vault-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if failFirst && n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/organization-keys/"+orgA) {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		body := map[string]any{"data": map[string]any{"data": map[string]string{
			"encryption_key": base64.StdEncoding.EncodeToString(key),
		}}}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func TestVaultProviderCachesKey(t *testing.T) {
	want := bytes.Repeat([]byte{7}, 32)
	srv, calls := fakeVault(t, want, false)
	p := crypto.NewVaultProvider(srv.URL, "vault-token")
	ctx := context.Background()

	for range 3 {
		got, err := p.GetKey(ctx, orgA)
		if err != nil {
			t.Fatalf("GetKey: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("key = %x", got)
		}
		got[0] = 0 // callers own their copy
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("vault calls = %d, want 1", n)
	}
}

func TestVaultProviderRetriesServerErrors(t *testing.T) {
	srv, calls := fakeVault(t, bytes.Repeat([]byte{1}, 32), true)
	p := crypto.NewVaultProvider(srv.URL, "vault-token")

	if _, err := p.GetKey(context.Background(), orgA); err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("vault calls = %d, want 2", n)
	}
}

func TestVaultProviderMissingKey(t *testing.T) {
	srv, calls := fakeVault(t, bytes.Repeat([]byte{1}, 32), false)
	p := crypto.NewVaultProvider(srv.URL, "vault-token")

	_, err := p.GetKey(context.Background(), orgB)
	if !errors.Is(err, crypto.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("not-found was retried: %d calls", n)
	}
}

func TestVaultProviderRejectsBadInput(t *testing.T) {
	srv, calls := fakeVault(t, []byte("short"), false)
	p := crypto.NewVaultProvider(srv.URL, "vault-token")
	ctx := context.Background()

	if _, err := p.GetKey(ctx, "../../sys/seal"); err == nil {
		t.Fatal("expected error for a non-UUID organization id")
	}
	if calls.Load() != 0 {
		t.Fatal("invalid id reached vault")
	}

	if _, err := p.GetKey(ctx, orgA); err == nil || !strings.Contains(err.Error(), "must be 32 bytes") {
		t.Fatalf("expected key length error, got %v", err)
	}
}
