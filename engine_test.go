package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/authforge/identity/es"
	"github.com/authforge/identity/internal/metrics"
	"github.com/authforge/identity/password"
	"github.com/authforge/identity/token"
	"github.com/authforge/identity/user"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const testPassword = "battery horse staple"

func newTestEngine(t *testing.T, opts ...func(*Builder)) (*Engine, *testClock) {
	t.Helper()

	clock := &testClock{now: storeTime}
	cfg := DefaultConfig()
	cfg.SigningMethod = token.MethodHS256
	cfg.PrivateKey = []byte("a-32-byte-shared-hmac-secret!!!!")
	cfg.Password = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	}

	b := NewBuilder().
		WithConfig(cfg).
		WithRedis(newTestRedis(t)).
		WithClock(clock.Now).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine, clock
}

// registerActive registers an identity and walks it through email
// verification so it can authenticate.
func registerActive(t *testing.T, e *Engine, email, username string) string {
	t.Helper()
	ctx := context.Background()

	reg, err := e.Register(ctx, RegisterRequest{
		Email:     email,
		Username:  username,
		FirstName: "Test",
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	code, err := e.RequestEmailVerification(ctx, reg.IdentityID)
	if err != nil {
		t.Fatalf("request verification: %v", err)
	}
	if err := e.ConfirmEmailVerification(ctx, reg.IdentityID, code); err != nil {
		t.Fatalf("confirm verification: %v", err)
	}
	return reg.IdentityID
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	reg, err := e.Register(ctx, RegisterRequest{
		Email:     "ada@example.com",
		Username:  "ada",
		FirstName: "Ada",
		Password:  testPassword,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Status != user.StatusPending {
		t.Fatalf("status = %v, want pending", reg.Status)
	}

	// The account cannot authenticate before verification, and the
	// rejection is indistinguishable from bad credentials.
	_, err = e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("pending login = %v, want ErrInvalidCredentials", err)
	}

	code, err := e.RequestEmailVerification(ctx, reg.IdentityID)
	if err != nil {
		t.Fatalf("request verification: %v", err)
	}
	if err := e.ConfirmEmailVerification(ctx, reg.IdentityID, "000000"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("wrong code = %v, want ErrCodeInvalid", err)
	}
	if err := e.ConfirmEmailVerification(ctx, reg.IdentityID, code); err != nil {
		t.Fatalf("confirm verification: %v", err)
	}
	// A verification code is single-use.
	if err := e.ConfirmEmailVerification(ctx, reg.IdentityID, code); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("code replay = %v, want ErrCodeInvalid", err)
	}

	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("login returned empty tokens")
	}

	auth, err := e.ValidateAccess(login.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if auth.IdentityID != reg.IdentityID {
		t.Fatalf("subject = %q, want %q", auth.IdentityID, reg.IdentityID)
	}

	// Username works as a login identifier too.
	if _, err := e.Login(ctx, LoginRequest{Identifier: "ada", Password: testPassword}); err != nil {
		t.Fatalf("username login: %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Register(ctx, RegisterRequest{
		Email: "ada@example.com", Username: "ada", FirstName: "Ada", Password: testPassword,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := e.Register(ctx, RegisterRequest{
		Email: "ADA@example.com", Username: "other", FirstName: "Imp", Password: testPassword,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate email = %v, want ErrConflict", err)
	}

	_, err = e.Register(ctx, RegisterRequest{
		Email: "new@example.com", Username: "new", FirstName: "New", Password: "short",
	})
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("weak password = %v, want ErrPasswordPolicy", err)
	}

	_, err = e.Register(ctx, RegisterRequest{FirstName: "Nobody", Password: testPassword})
	if !errors.Is(err, user.ErrMissingIdentifier) {
		t.Fatalf("no identifier = %v, want ErrMissingIdentifier", err)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")

	if err := e.Suspend(ctx, id, "abuse"); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	cases := []LoginRequest{
		{Identifier: "nobody@example.com", Password: testPassword}, // unknown identity
		{Identifier: "ada@example.com", Password: "wrong password"},
		{Identifier: "ada@example.com", Password: testPassword}, // right password, suspended
		{Identifier: "", Password: testPassword},
	}
	for i, req := range cases {
		if _, err := e.Login(ctx, req); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("case %d err = %v, want ErrInvalidCredentials", i, err)
		}
	}
}

func TestUnknownIdentifierPaysFullVerifyCost(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	registerActive(t, e, "ada@example.com", "ada")

	// The burned verification runs against a real hash produced by the
	// configured hasher, so its cost tracks the configured parameters.
	if !password.IsValidHash(e.dummyHash) {
		t.Fatalf("throwaway hash = %q, not a usable hash", e.dummyHash)
	}

	best := func(identifier string) time.Duration {
		bestD := time.Hour
		for i := 0; i < 5; i++ {
			start := time.Now()
			_, err := e.Login(ctx, LoginRequest{Identifier: identifier, Password: "wrong password"})
			if !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("login = %v, want ErrInvalidCredentials", err)
			}
			if d := time.Since(start); d < bestD {
				bestD = d
			}
		}
		return bestD
	}

	wrongPassword := best("ada@example.com")
	unknown := best("nobody@example.com")

	// Both rejections must cost one password verification; a fast unknown
	// path would let callers probe which identifiers exist.
	if unknown*5 < wrongPassword {
		t.Fatalf("unknown identifier rejected in %v, wrong password in %v", unknown, wrongPassword)
	}
}

func TestLoginWithUnreadableStoredHashIsUniform(t *testing.T) {
	store := NewMemoryIdentityStore()
	e, _ := newTestEngine(t, func(b *Builder) { b.WithIdentityStore(store) })
	ctx := context.Background()

	u, err := user.Register(user.Registration{
		Email:        "ada@example.com",
		Username:     "ada",
		FirstName:    "Ada",
		PasswordHash: "not-a-hash",
	}, storeTime)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := u.Activate(storeTime); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Add(ctx, u); err != nil {
		t.Fatalf("add: %v", err)
	}

	_, err = e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("login = %v, want ErrInvalidCredentials", err)
	}
}

func TestLockoutCascadeAndExpiry(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	registerActive(t, e, "ada@example.com", "ada")

	for i := 0; i < user.MaxAccessFailures; i++ {
		_, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: "wrong password"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("failure %d = %v", i, err)
		}
	}

	// Locked: even the correct password is rejected, uniformly.
	_, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("locked login = %v, want ErrInvalidCredentials", err)
	}

	snap := e.MetricsSnapshot()
	if got := snap.Counters[metrics.MetricLockoutTriggered]; got != 1 {
		t.Fatalf("lockouts = %d, want 1", got)
	}

	clock.Advance(user.AutoLockoutDuration + time.Second)
	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login after window: %v", err)
	}
	if login.AccessToken == "" {
		t.Fatal("no access token after lockout expiry")
	}
}

func TestTwoFactorLoginFlow(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")

	secret, err := e.EnableTwoFactor(ctx, id)
	if err != nil {
		t.Fatalf("enable two-factor: %v", err)
	}
	if secret == "" {
		t.Fatal("empty two-factor secret")
	}

	challenge, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !challenge.TwoFactorRequired || challenge.TwoFactorCode == "" {
		t.Fatalf("challenge = %+v, want two-factor required with code", challenge)
	}
	if challenge.AccessToken != "" || challenge.RefreshToken != "" {
		t.Fatal("tokens issued before the second factor")
	}

	login, err := e.ConfirmLoginTwoFactor(ctx, id, challenge.TwoFactorCode, "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("confirm two-factor: %v", err)
	}
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatal("no tokens after the second factor")
	}

	// The challenge code is single-use.
	_, err = e.ConfirmLoginTwoFactor(ctx, id, challenge.TwoFactorCode, "10.0.0.1", "agent")
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("code replay = %v, want ErrCodeInvalid", err)
	}

	// Disabling restores single-step login.
	if err := e.DisableTwoFactor(ctx, id); err != nil {
		t.Fatalf("disable two-factor: %v", err)
	}
	direct, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login after disable: %v", err)
	}
	if direct.TwoFactorRequired {
		t.Fatal("still challenged after disable")
	}
}

func TestTwoFactorConfirmOnSuspendedAccountLooksLikeCodeMiss(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")
	if _, err := e.EnableTwoFactor(ctx, id); err != nil {
		t.Fatalf("enable two-factor: %v", err)
	}

	challenge, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil || !challenge.TwoFactorRequired {
		t.Fatalf("challenge = (%+v, %v)", challenge, err)
	}
	if err := e.Suspend(ctx, id, "abuse"); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	// The correct code on a suspended account must be indistinguishable
	// from a wrong guess, or the error itself confirms the code.
	_, err = e.ConfirmLoginTwoFactor(ctx, id, challenge.TwoFactorCode, "", "")
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("confirm while suspended = %v, want ErrCodeInvalid", err)
	}

	// The code was consumed: it stays dead after reactivation.
	if err := e.Activate(ctx, id); err != nil {
		t.Fatalf("activate: %v", err)
	}
	_, err = e.ConfirmLoginTwoFactor(ctx, id, challenge.TwoFactorCode, "", "")
	if !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("replay after reactivation = %v, want ErrCodeInvalid", err)
	}
}

func TestRefreshRotationDetectsReplay(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	registerActive(t, e, "ada@example.com", "ada")

	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	pair, err := e.Refresh(ctx, login.RefreshToken, "10.0.0.1", "agent")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if pair.RefreshToken == login.RefreshToken {
		t.Fatal("rotation returned the same refresh token")
	}

	_, err = e.Refresh(ctx, login.RefreshToken, "10.0.0.1", "agent")
	if !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("replay = %v, want ErrRefreshInvalid", err)
	}
	if got := e.MetricsSnapshot().Counters[metrics.MetricRefreshReuseDetected]; got != 1 {
		t.Fatalf("reuse detected = %d, want 1", got)
	}

	// The replacement still rotates.
	if _, err := e.Refresh(ctx, pair.RefreshToken, "10.0.0.1", "agent"); err != nil {
		t.Fatalf("refresh replacement: %v", err)
	}
}

func TestRefreshRejectedForSuspendedIdentity(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")

	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := e.Suspend(ctx, id, "abuse"); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	if _, err := e.Refresh(ctx, login.RefreshToken, "", ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("suspended refresh = %v, want ErrRefreshInvalid", err)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	registerActive(t, e, "ada@example.com", "ada")

	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := e.Logout(ctx, login.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	// Logging out twice is fine; refreshing the revoked token is not.
	if err := e.Logout(ctx, login.RefreshToken); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	if _, err := e.Refresh(ctx, login.RefreshToken, "", ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("refresh after logout = %v, want ErrRefreshInvalid", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")

	// Unknown addresses do not reveal themselves.
	code, err := e.RequestPasswordReset(ctx, "nobody@example.com")
	if err != nil || code != "" {
		t.Fatalf("unknown email = (%q, %v), want empty success", code, err)
	}

	code, err = e.RequestPasswordReset(ctx, "ada@example.com")
	if err != nil || code == "" {
		t.Fatalf("reset request = (%q, %v)", code, err)
	}

	if err := e.ConfirmPasswordReset(ctx, id, "000000", "a brand new password"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("wrong code = %v, want ErrCodeInvalid", err)
	}
	if err := e.ConfirmPasswordReset(ctx, id, code, "a brand new password"); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}
	if err := e.ConfirmPasswordReset(ctx, id, code, "another password"); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("code replay = %v, want ErrCodeInvalid", err)
	}

	if _, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: "a brand new password"}); err != nil {
		t.Fatalf("new password login: %v", err)
	}
}

func TestPasswordResetClearsLockout(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")

	for i := 0; i < user.MaxAccessFailures; i++ {
		_, _ = e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: "wrong password"})
	}

	code, err := e.RequestPasswordReset(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("reset request: %v", err)
	}
	if err := e.ConfirmPasswordReset(ctx, id, code, "a brand new password"); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	// No waiting out the window: the owner proved control of the email.
	if _, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: "a brand new password"}); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}

func TestChangePasswordRequiresCurrent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")

	err := e.ChangePassword(ctx, id, "wrong password", "a brand new password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current = %v, want ErrInvalidCredentials", err)
	}
	if err := e.ChangePassword(ctx, id, testPassword, "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("weak new = %v, want ErrPasswordPolicy", err)
	}
	if err := e.ChangePassword(ctx, id, testPassword, "a brand new password"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: "a brand new password"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestRolesAppearInAccessClaims(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	id := registerActive(t, e, "ada@example.com", "ada")

	if err := e.AssignRole(ctx, id, "r1", "admin"); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	if err := e.AssignRole(ctx, id, "r2", "editor"); err != nil {
		t.Fatalf("assign role: %v", err)
	}

	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	auth, err := e.ValidateAccess(login.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(auth.Permissions) != 2 || auth.Permissions[0] != "admin" || auth.Permissions[1] != "editor" {
		t.Fatalf("permissions = %v, want sorted [admin editor]", auth.Permissions)
	}

	if err := e.RemoveRole(ctx, id, "r1"); err != nil {
		t.Fatalf("remove role: %v", err)
	}
	// The already-issued token keeps its claims; a fresh one does not.
	again, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	auth2, err := e.ValidateAccess(again.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(auth2.Permissions) != 1 || auth2.Permissions[0] != "editor" {
		t.Fatalf("permissions = %v, want [editor]", auth2.Permissions)
	}
}

func TestValidateAccessRejectsTamperedToken(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	registerActive(t, e, "ada@example.com", "ada")

	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	tampered := login.AccessToken[:len(login.AccessToken)-2] + "xx"
	if _, err := e.ValidateAccess(tampered); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("tampered = %v, want ErrInvalidCredentials", err)
	}
	if _, err := e.ValidateAccess(""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("empty = %v, want ErrInvalidCredentials", err)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	registerActive(t, e, "ada@example.com", "ada")

	login, err := e.Login(ctx, LoginRequest{Identifier: "ada@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	clock.Advance(DefaultConfig().AccessTTL + DefaultConfig().AccessLeeway + time.Minute)
	if _, err := e.ValidateAccess(login.AccessToken); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expired = %v, want ErrInvalidCredentials", err)
	}
}

func TestSubscriberReceivesEventsExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	counting := SubscriberFunc(func(_ context.Context, ev es.Event) error {
		mu.Lock()
		seen[ev.EventName()]++
		mu.Unlock()
		return nil
	})

	e, _ := newTestEngine(t, func(b *Builder) { b.WithSubscriber(counting) })
	registerActive(t, e, "ada@example.com", "ada")
	if _, err := e.Login(context.Background(), LoginRequest{Identifier: "ada@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{
		user.EventRegistered,
		user.EventEmailVerified,
		user.EventActivated,
		user.EventLoginSucceeded,
	} {
		if seen[name] != 1 {
			t.Fatalf("%s delivered %d times, want 1", name, seen[name])
		}
	}
}

func TestSubscriberErrorPropagatesFromCommand(t *testing.T) {
	boom := errors.New("projection down")
	failing := SubscriberFunc(func(context.Context, es.Event) error { return boom })

	e, _ := newTestEngine(t, func(b *Builder) { b.WithSubscriber(failing) })
	_, err := e.Register(context.Background(), RegisterRequest{
		Email: "ada@example.com", FirstName: "Ada", Password: testPassword,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("register = %v, want projection down", err)
	}
	if got := e.MetricsSnapshot().Counters[metrics.MetricEventDispatchFailure]; got != 1 {
		t.Fatalf("dispatch failures = %d, want 1", got)
	}
}

func TestClosedEngineRejectsCommands(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("repeat close: %v", err)
	}

	if _, err := e.Register(context.Background(), RegisterRequest{
		Email: "ada@example.com", FirstName: "Ada", Password: testPassword,
	}); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("register after close = %v, want ErrEngineClosed", err)
	}
	if _, err := e.ValidateAccess("x"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("validate after close = %v, want ErrEngineClosed", err)
	}
}

func TestAuditEventsReachSink(t *testing.T) {
	sink := NewChannelAuditSink(64)
	e, _ := newTestEngine(t, func(b *Builder) { b.WithAuditSink(sink) })

	registerActive(t, e, "ada@example.com", "ada")
	_ = e.Close() // drain the async pipeline

	var actions []string
	for {
		select {
		case ev := <-sink.Events():
			actions = append(actions, ev.Action)
			continue
		default:
		}
		break
	}

	want := map[string]bool{"identity.register": false, "identity.email_verified": false}
	for _, action := range actions {
		if _, tracked := want[action]; tracked {
			want[action] = true
		}
	}
	for action, found := range want {
		if !found {
			t.Fatalf("audit action %s not observed in %v", action, actions)
		}
	}
}

func TestBuilderValidation(t *testing.T) {
	if _, err := NewBuilder().Build(); err == nil {
		t.Fatal("build without redis or stores succeeded")
	}

	cfg := DefaultConfig()
	cfg.SigningMethod = token.MethodHS256
	cfg.PrivateKey = []byte("secret")
	cfg.Codes.Digits = 2
	if _, err := NewBuilder().WithConfig(cfg).WithRedis(newTestRedis(t)).Build(); err == nil {
		t.Fatal("invalid code digits accepted")
	}
}
