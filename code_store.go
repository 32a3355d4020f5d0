package identity

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authforge/identity/otp"
)

// maxTxRetries bounds optimistic WATCH retries before a conflicting
// transaction is reported as lost.
const maxTxRetries = 4

const codeRecordVersion byte = 1

// code record layout: version(1) | secret hash(32) | expires unix(8) |
// consumed unix(8, zero when live)
const codeRecordSize = 1 + 32 + 8 + 8

// RedisCodeStore persists hashed one-time codes in Redis, one record per
// (identity, purpose) key. Consumption is a WATCH-guarded conditional
// write, so two concurrent validations of the same code cannot both
// succeed.
type RedisCodeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCodeStore creates a code store writing under the given key
// prefix.
func NewRedisCodeStore(client *redis.Client, prefix string) *RedisCodeStore {
	return &RedisCodeStore{client: client, prefix: prefix}
}

func (s *RedisCodeStore) key(identityID string, purpose otp.Purpose) string {
	return s.prefix + ":otp:" + string(purpose) + ":" + identityID
}

// Save inserts or replaces the record for its key; the Redis TTL bounds
// the record's lifetime independently of the embedded expiry.
func (s *RedisCodeStore) Save(ctx context.Context, rec otp.Record, ttl time.Duration) error {
	payload := encodeCodeRecord(rec)
	if err := s.client.Set(ctx, s.key(rec.IdentityID, rec.Purpose), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Consume atomically marks the live matching record consumed. Every miss
// is the uniform [otp.ErrNoMatch]: absent key, expired record, already
// consumed, and hash mismatch are indistinguishable to the caller.
func (s *RedisCodeStore) Consume(ctx context.Context, identityID string, purpose otp.Purpose, hash [32]byte, now time.Time) error {
	key := s.key(identityID, purpose)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return otp.ErrNoMatch
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		rec, err := decodeCodeRecord(raw)
		if err != nil {
			return otp.ErrNoMatch
		}
		if !rec.ConsumedAt.IsZero() || !rec.ExpiresAt.After(now) {
			return otp.ErrNoMatch
		}
		if subtle.ConstantTimeCompare(rec.SecretHash[:], hash[:]) != 1 {
			return otp.ErrNoMatch
		}

		rec.ConsumedAt = now
		payload := encodeCodeRecord(rec)
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
		return err
	}
	// The key kept changing under us; whoever raced us consumed it.
	return otp.ErrNoMatch
}

// Delete removes the record for the key, if any.
func (s *RedisCodeStore) Delete(ctx context.Context, identityID string, purpose otp.Purpose) error {
	if err := s.client.Del(ctx, s.key(identityID, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func encodeCodeRecord(rec otp.Record) []byte {
	buf := make([]byte, codeRecordSize)
	buf[0] = codeRecordVersion
	copy(buf[1:33], rec.SecretHash[:])
	binary.BigEndian.PutUint64(buf[33:41], uint64(rec.ExpiresAt.Unix()))
	if !rec.ConsumedAt.IsZero() {
		binary.BigEndian.PutUint64(buf[41:49], uint64(rec.ConsumedAt.Unix()))
	}
	return buf
}

func decodeCodeRecord(raw []byte) (otp.Record, error) {
	if len(raw) != codeRecordSize || raw[0] != codeRecordVersion {
		return otp.Record{}, errors.New("malformed code record")
	}
	var rec otp.Record
	copy(rec.SecretHash[:], raw[1:33])
	rec.ExpiresAt = time.Unix(int64(binary.BigEndian.Uint64(raw[33:41])), 0).UTC()
	if consumed := int64(binary.BigEndian.Uint64(raw[41:49])); consumed != 0 {
		rec.ConsumedAt = time.Unix(consumed, 0).UTC()
	}
	return rec, nil
}
