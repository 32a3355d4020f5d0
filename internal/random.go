package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32
	refreshIDSize       = 16
	twoFactorSecretSize = 20
)

// NewRefreshSecret returns a fresh high-entropy refresh token secret.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the canonical secret-to-storage-key digest. Only this hash
// is ever persisted; the raw secret is unrecoverable.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// EncodeRefreshToken packs a 16-byte token id and a 32-byte secret into
// the opaque wire form handed to clients.
func EncodeRefreshToken(id [refreshIDSize]byte, secret [refreshSecretSize]byte) string {
	var raw [refreshTokenRawSize]byte
	copy(raw[:refreshIDSize], id[:])
	copy(raw[refreshIDSize:], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeRefreshToken splits the opaque wire form back into id and secret.
func DecodeRefreshToken(token string) ([refreshIDSize]byte, [refreshSecretSize]byte, error) {
	var id [refreshIDSize]byte
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return id, secret, errors.New("invalid refresh token size")
	}

	copy(id[:], raw[:refreshIDSize])
	copy(secret[:], raw[refreshIDSize:])
	return id, secret, nil
}

// NewNumericCode returns a zero-padded numeric one-time code drawn from
// crypto/rand. digits must be between 4 and 10.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("numeric code digits out of range")
	}

	limit := big.NewInt(10)
	limit.Exp(limit, big.NewInt(int64(digits)), nil)

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// NewTwoFactorSecret returns a base32-encoded opaque second-factor secret.
func NewTwoFactorSecret() (string, error) {
	var raw [twoFactorSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:]), nil
}
