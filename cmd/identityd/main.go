package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/config"
	"github.com/layer-3/passport/identityserver"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/transport/http"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	if err := run(cfg, logger); err != nil {
		logger.Error("identityd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Server, logger *slog.Logger) error {
	privateKey, err := signingKey(cfg.SigningKey)
	if err != nil {
		return err
	}
	if cfg.SigningKey == "" {
		logger.Warn("no signing key configured, access tokens will not survive a restart")
	}

	var (
		nonces ports.NonceStore = store.NewMemoryNonceStore()
		opts                    = []identityserver.Option{
			identityserver.WithNonceTTL(cfg.NonceTTL),
			identityserver.WithLogger(logger),
		}
	)

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()

		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			watermill.NewSlogLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("failed to create redis publisher: %w", err)
		}
		defer publisher.Close()

		nonces = store.NewRedisNonceStore(redisClient)
		opts = append(opts, identityserver.WithEventPublisher(events.NewWatermillPublisher(publisher)))
	}

	tok := tokenizer.NewJWTTokenizer(privateKey, []byte(cfg.FederationSecret), cfg.AccessTTL)
	identity := identityserver.NewService(tok, nonces, opts...)

	limiter := http.NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	router := http.SetupRouter(identity, logger, limiter)

	logger.Info("identityd listening", "addr", cfg.Addr, "redis", cfg.RedisURL != "")
	return router.Run(cfg.Addr)
}

// signingKey parses a hex encoded SEC 1 DER key, or generates one
func signingKey(encoded string) (*ecdsa.PrivateKey, error) {
	if encoded == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	der, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode signing key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key must be on P-256, got %s", key.Curve.Params().Name)
	}
	return key, nil
}
