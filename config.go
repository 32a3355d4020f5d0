package identity

import (
	"errors"
	"time"

	"github.com/authforge/identity/internal/audit"
	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/password"
	"github.com/authforge/identity/token"
)

// Config is the full engine configuration. Zero values are filled in by
// [DefaultConfig]; Validate rejects anything a running engine cannot
// tolerate.
type Config struct {
	// Issuer is stamped into access token claims and verified on parse.
	Issuer string
	// Audience, when set, is stamped and verified on access tokens.
	Audience string

	// AccessTTL is the access token lifetime.
	AccessTTL time.Duration
	// AccessLeeway tolerates clock skew when validating access tokens.
	// At most two minutes.
	AccessLeeway time.Duration
	// SigningMethod selects the access token algorithm.
	SigningMethod token.SigningMethod
	// PrivateKey signs access tokens: an ed25519 seed/PEM, or the HMAC
	// secret for HS256.
	PrivateKey []byte
	// PublicKey verifies ed25519 access tokens. Unused for HS256.
	PublicKey []byte

	// RefreshTTL is the refresh token lifetime.
	RefreshTTL time.Duration

	// Codes configures the one-time code service.
	Codes CodeConfig

	// Password holds the argon2id cost parameters.
	Password password.Config

	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string

	// Audit configures the async audit pipeline.
	Audit audit.Config
	// Metrics configures in-process counters.
	Metrics metrics.Config
}

// CodeConfig holds one-time code lengths and per-purpose lifetimes.
type CodeConfig struct {
	Digits       int
	EmailTTL     time.Duration
	PhoneTTL     time.Duration
	TwoFactorTTL time.Duration
	ResetTTL     time.Duration
}

// DefaultConfig returns a production-reasonable configuration. Signing
// keys are deliberately absent; the builder rejects a config without
// them.
func DefaultConfig() Config {
	return Config{
		Issuer:        "authforge",
		AccessTTL:     10 * time.Minute,
		AccessLeeway:  30 * time.Second,
		SigningMethod: token.MethodEd25519,
		RefreshTTL:    30 * 24 * time.Hour,
		Codes: CodeConfig{
			Digits:       6,
			EmailTTL:     30 * time.Minute,
			PhoneTTL:     10 * time.Minute,
			TwoFactorTTL: 5 * time.Minute,
			ResetTTL:     15 * time.Minute,
		},
		Password: password.Config{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		KeyPrefix: "authforge",
		Audit: audit.Config{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: metrics.Config{
			Enabled:       true,
			EnableLatency: true,
		},
	}
}

// Validate checks the configuration for values the engine cannot run
// with. Key material is validated separately by the token manager.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 {
		return errors.New("identity: access TTL must be positive")
	}
	if c.AccessLeeway < 0 || c.AccessLeeway > 2*time.Minute {
		return errors.New("identity: access leeway out of range")
	}
	if c.RefreshTTL <= c.AccessTTL {
		return errors.New("identity: refresh TTL must exceed access TTL")
	}
	if c.Codes.Digits < 4 || c.Codes.Digits > 10 {
		return errors.New("identity: code digits must be between 4 and 10")
	}
	for _, ttl := range []time.Duration{c.Codes.EmailTTL, c.Codes.PhoneTTL, c.Codes.TwoFactorTTL, c.Codes.ResetTTL} {
		if ttl <= 0 {
			return errors.New("identity: code TTLs must be positive")
		}
	}
	if c.KeyPrefix == "" {
		return errors.New("identity: key prefix required")
	}
	return nil
}

func cloneConfig(c Config) Config {
	cp := c
	cp.PrivateKey = append([]byte(nil), c.PrivateKey...)
	cp.PublicKey = append([]byte(nil), c.PublicKey...)
	return cp
}
