package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/authforge/identity/internal"
	"github.com/authforge/identity/token"
)

func refreshRecord(identityID, secret string, expiresAt time.Time) token.RefreshRecord {
	return token.RefreshRecord{
		ID:         "rec-" + identityID,
		IdentityID: identityID,
		SecretHash: internal.HashSecret([]byte(secret)),
		IssuedIP:   "10.0.0.1",
		UserAgent:  "test-agent",
		CreatedAt:  storeTime,
		ExpiresAt:  expiresAt,
	}
}

func TestRefreshStoreRevokeReturnsPriorState(t *testing.T) {
	store := NewRedisRefreshStore(newTestRedis(t), "test")
	ctx := context.Background()

	rec := refreshRecord("identity-1", "secret-a", storeTime.Add(time.Hour))
	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	prior, err := store.Revoke(ctx, rec.SecretHash, storeTime)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if prior.ID != rec.ID || prior.IdentityID != "identity-1" {
		t.Fatalf("prior = %+v", prior)
	}
	if prior.IssuedIP != "10.0.0.1" || prior.UserAgent != "test-agent" {
		t.Fatalf("prior metadata = %+v", prior)
	}
	if !prior.RevokedAt.IsZero() {
		t.Fatal("prior state already revoked")
	}
	if !prior.CreatedAt.Equal(rec.CreatedAt) || !prior.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Fatalf("prior times = %v/%v", prior.CreatedAt, prior.ExpiresAt)
	}
}

func TestRefreshStoreSecondRevokeIsReuse(t *testing.T) {
	store := NewRedisRefreshStore(newTestRedis(t), "test")
	ctx := context.Background()

	rec := refreshRecord("identity-1", "secret-a", storeTime.Add(time.Hour))
	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Revoke(ctx, rec.SecretHash, storeTime); err != nil {
		t.Fatalf("first revoke: %v", err)
	}

	_, err := store.Revoke(ctx, rec.SecretHash, storeTime)
	if !errors.Is(err, token.ErrRefreshReused) {
		t.Fatalf("second revoke = %v, want ErrRefreshReused", err)
	}
	if !errors.Is(err, token.ErrRefreshInvalid) {
		t.Fatal("reuse does not wrap the uniform invalid error")
	}
}

func TestRefreshStoreUnknownHashIsInvalid(t *testing.T) {
	store := NewRedisRefreshStore(newTestRedis(t), "test")

	_, err := store.Revoke(context.Background(), internal.HashSecret([]byte("never-saved")), storeTime)
	if !errors.Is(err, token.ErrRefreshInvalid) {
		t.Fatalf("err = %v, want ErrRefreshInvalid", err)
	}
	if errors.Is(err, token.ErrRefreshReused) {
		t.Fatal("unknown hash misreported as reuse")
	}
}

func TestRefreshStoreExpiredRecordIsInvalidNotReuse(t *testing.T) {
	store := NewRedisRefreshStore(newTestRedis(t), "test")
	ctx := context.Background()

	rec := refreshRecord("identity-1", "secret-a", storeTime.Add(time.Minute))
	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	later := storeTime.Add(2 * time.Minute)
	_, err := store.Revoke(ctx, rec.SecretHash, later)
	if !errors.Is(err, token.ErrRefreshInvalid) {
		t.Fatalf("err = %v, want ErrRefreshInvalid", err)
	}
	if errors.Is(err, token.ErrRefreshReused) {
		t.Fatal("expired record misreported as reuse")
	}
}

func TestRefreshRecordCodecHandlesEmptyMetadata(t *testing.T) {
	store := NewRedisRefreshStore(newTestRedis(t), "test")
	ctx := context.Background()

	rec := token.RefreshRecord{
		ID:         "rec-1",
		IdentityID: "identity-1",
		SecretHash: internal.HashSecret([]byte("secret-b")),
		CreatedAt:  storeTime,
		ExpiresAt:  storeTime.Add(time.Hour),
	}
	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	prior, err := store.Revoke(ctx, rec.SecretHash, storeTime)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if prior.IssuedIP != "" || prior.UserAgent != "" {
		t.Fatalf("metadata = %q/%q, want empty", prior.IssuedIP, prior.UserAgent)
	}
}

func TestRefreshRecordTruncatesOversizedMetadata(t *testing.T) {
	store := NewRedisRefreshStore(newTestRedis(t), "test")
	ctx := context.Background()

	// A hostile user agent longer than a uint16 length prefix can carry
	// must not corrupt the record and lock the token out of validation.
	longAgent := strings.Repeat("a", maxRefreshFieldLen+5000)
	rec := refreshRecord("identity-1", "secret-a", storeTime.Add(time.Hour))
	rec.UserAgent = longAgent
	if err := store.Save(ctx, rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	prior, err := store.Revoke(ctx, rec.SecretHash, storeTime)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(prior.UserAgent) != maxRefreshFieldLen {
		t.Fatalf("user agent length = %d, want %d", len(prior.UserAgent), maxRefreshFieldLen)
	}
	if prior.UserAgent != longAgent[:maxRefreshFieldLen] {
		t.Fatal("truncated user agent is not a prefix of the original")
	}
	if prior.ID != rec.ID || prior.IdentityID != rec.IdentityID || prior.IssuedIP != rec.IssuedIP {
		t.Fatalf("prior = %+v", prior)
	}
}

func TestDecodeRefreshRecordRejectsMalformedPayload(t *testing.T) {
	cases := [][]byte{
		nil,
		{0},
		{refreshRecordVersion, 1, 2, 3},
		append([]byte{99}, make([]byte, 40)...), // wrong version byte
	}
	for _, raw := range cases {
		if _, err := decodeRefreshRecord(raw); err == nil {
			t.Fatalf("payload %v accepted", raw)
		}
	}
}
