package crypto_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rhesis-ai/rhesis/internal/crypto"
)

const (
	testKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	orgA       = "0b8f5c52-6a0e-4c1e-9d3c-1f1f4f6c0a01"
	orgB       = "0b8f5c52-6a0e-4c1e-9d3c-1f1f4f6c0a02"
)

func newService(t *testing.T) *crypto.Service {
	t.Helper()

	provider, err := crypto.NewStaticProvider(testKeyHex)
	if err != nil {
		t.Fatalf("new static provider: %v", err)
	}

	return crypto.NewService(provider)
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	plaintext := []byte("sk-endpoint-secret")

	sealed, err := svc.Encrypt(ctx, orgA, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if bytes.Contains(sealed, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	opened, err := svc.Decrypt(ctx, orgA, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}
}

func TestEncryptProducesDifferentCiphertexts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	a, _ := svc.Encrypt(ctx, orgA, []byte("same"))
	b, _ := svc.Encrypt(ctx, orgA, []byte("same"))

	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of same plaintext should differ (random nonce)")
	}
}

func TestDecryptOtherOrganizationFails(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	sealed, err := svc.Encrypt(ctx, orgA, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := svc.Decrypt(ctx, orgB, sealed); err == nil {
		t.Fatal("value sealed for one organization opened under another")
	}
}

func TestDecryptWrongMasterKey(t *testing.T) {
	p2, _ := crypto.NewStaticProvider("abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789")
	ctx := context.Background()

	sealed, _ := newService(t).Encrypt(ctx, orgA, []byte("secret"))

	if _, err := crypto.NewService(p2).Decrypt(ctx, orgA, sealed); err == nil {
		t.Fatal("expected error decrypting with wrong key")
	}
}

func TestDecryptCorruptedCiphertext(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	sealed, _ := svc.Encrypt(ctx, orgA, []byte("data"))
	sealed[len(sealed)-1] ^= 0xff

	if _, err := svc.Decrypt(ctx, orgA, sealed); err == nil {
		t.Fatal("expected error decrypting corrupted ciphertext")
	}
}

func TestDecryptTooShort(t *testing.T) {
	_, err := newService(t).Decrypt(context.Background(), orgA, []byte("tiny"))
	if !errors.Is(err, crypto.ErrCiphertextTooShort) {
		t.Fatalf("got %v, want ErrCiphertextTooShort", err)
	}
}

func TestStringHelpers(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	enc, err := svc.EncryptString(ctx, orgA, "token")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}

	got, err := svc.DecryptString(ctx, orgA, enc)
	if err != nil || got != "token" {
		t.Fatalf("DecryptString = %q, %v", got, err)
	}

	if _, err := svc.DecryptString(ctx, orgA, "not-valid-base64!!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestStaticProviderDerivesPerOrganizationKeys(t *testing.T) {
	provider, err := crypto.NewStaticProvider(testKeyHex)
	if err != nil {
		t.Fatalf("new static provider: %v", err)
	}
	ctx := context.Background()

	a1, err := provider.GetKey(ctx, orgA)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	a2, _ := provider.GetKey(ctx, orgA)
	b, _ := provider.GetKey(ctx, orgB)

	if len(a1) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(a1))
	}
	if !bytes.Equal(a1, a2) {
		t.Error("derivation is not deterministic")
	}
	if bytes.Equal(a1, b) {
		t.Error("organizations share a key")
	}

	if _, err := provider.GetKey(ctx, ""); err == nil {
		t.Error("expected error for empty organization")
	}
}

func TestStaticProviderBadKey(t *testing.T) {
	if _, err := crypto.NewStaticProvider("not-hex"); err == nil {
		t.Fatal("expected error for bad hex")
	}

	if _, err := crypto.NewStaticProvider("0123456789abcdef"); err == nil {
		t.Fatal("expected error for wrong key length")
	}
}
