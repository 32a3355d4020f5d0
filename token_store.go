package identity

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authforge/identity/token"
)

const refreshRecordVersion byte = 1

// RedisRefreshStore persists refresh token records in Redis keyed by the
// secret hash. Revoked records stay until their natural expiry so a
// replayed token is recognized as reuse rather than reported as unknown.
type RedisRefreshStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRefreshStore creates a refresh token store writing under the
// given key prefix.
func NewRedisRefreshStore(client *redis.Client, prefix string) *RedisRefreshStore {
	return &RedisRefreshStore{client: client, prefix: prefix}
}

func (s *RedisRefreshStore) key(hash [32]byte) string {
	return s.prefix + ":refresh:" + base64.RawURLEncoding.EncodeToString(hash[:])
}

// Save inserts a new record under its secret hash.
func (s *RedisRefreshStore) Save(ctx context.Context, rec token.RefreshRecord, ttl time.Duration) error {
	payload := encodeRefreshRecord(rec)
	if err := s.client.Set(ctx, s.key(rec.SecretHash), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Revoke atomically marks the live record revoked and returns its prior
// state. Missing and expired records are [token.ErrRefreshInvalid];
// already-revoked records are [token.ErrRefreshReused].
func (s *RedisRefreshStore) Revoke(ctx context.Context, hash [32]byte, now time.Time) (token.RefreshRecord, error) {
	key := s.key(hash)
	var prior token.RefreshRecord

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return token.ErrRefreshInvalid
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		rec, err := decodeRefreshRecord(raw)
		if err != nil {
			return token.ErrRefreshInvalid
		}
		rec.SecretHash = hash
		if !rec.RevokedAt.IsZero() {
			return token.ErrRefreshReused
		}
		if !rec.ExpiresAt.After(now) {
			return token.ErrRefreshInvalid
		}

		prior = rec
		rec.RevokedAt = now
		payload := encodeRefreshRecord(rec)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return prior, err
	}
	// A concurrent transaction revoked the record first: that is reuse.
	return token.RefreshRecord{}, token.ErrRefreshReused
}

// maxRefreshFieldLen caps each length-prefixed string at what a uint16
// prefix can carry. Oversized metadata (a hostile User-Agent header) is
// truncated rather than silently wrapping the prefix.
const maxRefreshFieldLen = 1<<16 - 1

// refresh record layout: version(1) | created unix(8) | expires unix(8) |
// revoked unix(8, zero when live) | 4 length-prefixed strings: id,
// identity id, issued ip, user agent. The secret hash is the key and is
// not stored in the payload.
func encodeRefreshRecord(rec token.RefreshRecord) []byte {
	strs := []string{rec.ID, rec.IdentityID, rec.IssuedIP, rec.UserAgent}
	for i, s := range strs {
		if len(s) > maxRefreshFieldLen {
			strs[i] = s[:maxRefreshFieldLen]
		}
	}
	size := 1 + 8*3
	for _, s := range strs {
		size += 2 + len(s)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, refreshRecordVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(rec.CreatedAt.Unix()))
	buf = binary.BigEndian.AppendUint64(buf, uint64(rec.ExpiresAt.Unix()))
	var revoked uint64
	if !rec.RevokedAt.IsZero() {
		revoked = uint64(rec.RevokedAt.Unix())
	}
	buf = binary.BigEndian.AppendUint64(buf, revoked)
	for _, s := range strs {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

func decodeRefreshRecord(raw []byte) (token.RefreshRecord, error) {
	var rec token.RefreshRecord
	if len(raw) < 1+8*3 || raw[0] != refreshRecordVersion {
		return rec, errors.New("malformed refresh record")
	}

	rec.CreatedAt = time.Unix(int64(binary.BigEndian.Uint64(raw[1:9])), 0).UTC()
	rec.ExpiresAt = time.Unix(int64(binary.BigEndian.Uint64(raw[9:17])), 0).UTC()
	if revoked := int64(binary.BigEndian.Uint64(raw[17:25])); revoked != 0 {
		rec.RevokedAt = time.Unix(revoked, 0).UTC()
	}

	rest := raw[25:]
	fields := [4]string{}
	for i := range fields {
		if len(rest) < 2 {
			return rec, errors.New("malformed refresh record")
		}
		n := int(binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
		if len(rest) < n {
			return rec, errors.New("malformed refresh record")
		}
		fields[i] = string(rest[:n])
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return rec, errors.New("malformed refresh record")
	}

	rec.ID, rec.IdentityID, rec.IssuedIP, rec.UserAgent = fields[0], fields[1], fields[2], fields[3]
	return rec, nil
}
