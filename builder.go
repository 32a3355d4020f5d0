package identity

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authforge/identity/internal"
	"github.com/authforge/identity/internal/audit"
	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/otp"
	"github.com/authforge/identity/password"
	"github.com/authforge/identity/token"
)

// Builder assembles an [Engine]. Configure with the With* methods, then
// call Build. A Redis client covers the default code and refresh token
// stores; either can be replaced with a custom implementation.
type Builder struct {
	config       *Config
	redis        *redis.Client
	identities   IdentityStore
	codeStore    otp.Store
	refreshStore token.RefreshStore
	subscribers  []Subscriber
	auditSink    AuditSink
	logger       *slog.Logger
	clock        Clock
}

// NewBuilder starts an engine build from [DefaultConfig].
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	cfg = cloneConfig(cfg)
	b.config = &cfg
	return b
}

// WithRedis supplies the Redis client backing the default code and
// refresh token stores.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore replaces the default in-memory identity store.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identities = store
	return b
}

// WithCodeStore replaces the default Redis-backed one-time code store.
func (b *Builder) WithCodeStore(store otp.Store) *Builder {
	b.codeStore = store
	return b
}

// WithRefreshStore replaces the default Redis-backed refresh token store.
func (b *Builder) WithRefreshStore(store token.RefreshStore) *Builder {
	b.refreshStore = store
	return b
}

// WithSubscriber registers a domain event subscriber.
func (b *Builder) WithSubscriber(s Subscriber) *Builder {
	if s != nil {
		b.subscribers = append(b.subscribers, s)
	}
	return b
}

// WithAuditSink sets the sink receiving audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock injects the time source used for every expiry and lockout
// decision. Intended for tests.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration, wires the stores and services, and
// returns a ready engine.
func (b *Builder) Build() (*Engine, error) {
	cfg := DefaultConfig()
	if b.config != nil {
		cfg = cloneConfig(*b.config)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	identities := b.identities
	if identities == nil {
		identities = NewMemoryIdentityStore()
	}

	codeStore := b.codeStore
	if codeStore == nil {
		if b.redis == nil {
			return nil, errors.New("identity: redis client or code store required")
		}
		codeStore = NewRedisCodeStore(b.redis, cfg.KeyPrefix)
	}
	refreshStore := b.refreshStore
	if refreshStore == nil {
		if b.redis == nil {
			return nil, errors.New("identity: redis client or refresh store required")
		}
		refreshStore = NewRedisRefreshStore(b.redis, cfg.KeyPrefix)
	}

	codes, err := otp.NewService(codeStore, cfg.Codes.Digits, clock)
	if err != nil {
		return nil, err
	}

	access, err := token.NewAccessManager(token.AccessConfig{
		TTL:           cfg.AccessTTL,
		SigningMethod: cfg.SigningMethod,
		PrivateKey:    cfg.PrivateKey,
		PublicKey:     cfg.PublicKey,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		Leeway:        cfg.AccessLeeway,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}

	refresh, err := token.NewRefreshService(refreshStore, cfg.RefreshTTL, clock)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	// Hash of a random throwaway secret, verified on login rejections that
	// have no stored hash so their cost matches a real mismatch.
	dummySecret, err := internal.NewTwoFactorSecret()
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(dummySecret)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:     cfg,
		clock:      clock,
		identities: identities,
		codes:      codes,
		access:     access,
		refresh:    refresh,
		hasher:     hasher,
		dummyHash:  dummyHash,
		events:     NewEventDispatcher(b.subscribers...),
		audit:      audit.NewDispatcher(cfg.Audit, b.auditSink),
		metrics:    metrics.New(cfg.Metrics),
		logger:     logger,
	}, nil
}
