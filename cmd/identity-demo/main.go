// Command identity-demo walks one identity through the full credential
// lifecycle against a running Redis: register, verify email, log in,
// rotate the refresh token, and log out. It generates a throwaway
// ed25519 keypair on startup.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authforge/identity"
)

func main() {
	redisAddr := flag.String("redis", "127.0.0.1:6379", "redis address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(context.Background(), *redisAddr, logger); err != nil {
		logger.Error("demo failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, redisAddr string, logger *slog.Logger) error {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	cfg := identity.DefaultConfig()
	cfg.PrivateKey = private
	cfg.PublicKey = public

	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}

	engine, err := identity.NewBuilder().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		WithAuditSink(identity.NewJSONWriterAuditSink(os.Stdout)).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	reg, err := engine.Register(ctx, identity.RegisterRequest{
		Email:     "ada@example.com",
		Username:  "ada",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "correct horse battery staple",
	})
	if err != nil {
		return err
	}
	logger.Info("registered", slog.String("id", reg.IdentityID), slog.String("status", reg.Status.String()))

	code, err := engine.RequestEmailVerification(ctx, reg.IdentityID)
	if err != nil {
		return err
	}
	if err := engine.ConfirmEmailVerification(ctx, reg.IdentityID, code); err != nil {
		return err
	}
	logger.Info("email verified, account active")

	login, err := engine.Login(ctx, identity.LoginRequest{
		Identifier: "ada@example.com",
		Password:   "correct horse battery staple",
		IP:         "127.0.0.1",
		UserAgent:  "identity-demo",
	})
	if err != nil {
		return err
	}
	logger.Info("logged in", slog.Int("access_len", len(login.AccessToken)))

	auth, err := engine.ValidateAccess(login.AccessToken)
	if err != nil {
		return err
	}
	logger.Info("access validated", slog.String("subject", auth.IdentityID), slog.String("jti", auth.TokenID))

	pair, err := engine.Refresh(ctx, login.RefreshToken, "127.0.0.1", "identity-demo")
	if err != nil {
		return err
	}
	logger.Info("refresh rotated")

	// The consumed token must now be rejected as a replay.
	if _, err := engine.Refresh(ctx, login.RefreshToken, "127.0.0.1", "identity-demo"); err == nil {
		logger.Warn("expected replay rejection, got success")
	} else {
		logger.Info("replay rejected", slog.Any("error", err))
	}

	if err := engine.Logout(ctx, pair.RefreshToken); err != nil {
		return err
	}
	logger.Info("logged out")

	// Give the async audit pipeline a moment before Close drains it.
	time.Sleep(50 * time.Millisecond)
	return nil
}
