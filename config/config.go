/*
Package config loads passport settings from the environment.

Client settings use the PASSPORT_ prefix, the reference identity service's
settings the IDENTITYD_ prefix:

	cfg, err := config.LoadClient()
	if err != nil {
	    log.Fatal(err)
	}

Configuration is read once at startup and passed to constructors.
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/layer-3/passport/adapters/store"
)

// Session store backends
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// Event bus backends
const (
	EventsNone   = "none"
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Client holds the configuration of the passport client and CLI
type Client struct {
	// Identity service
	APIBaseURL    string        `env:"API_BASE_URL"   envDefault:"https://api.dvs.dyung.me"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT"   envDefault:"15s"`
	AllowInsecure bool          `env:"ALLOW_INSECURE" envDefault:"false"`

	// Credential persistence
	Store     string `env:"STORE"      envDefault:"file"`
	StoreKey  string `env:"STORE_KEY"  envDefault:"access_token"`
	StorePath string `env:"STORE_PATH"`
	RedisURL  string `env:"REDIS_URL"  envDefault:"redis://localhost:6379/0"`

	// Session transition events
	Events string `env:"EVENTS" envDefault:"memory"`

	// Wallet, either a hex private key or a keystore file
	WalletKey        string `env:"WALLET_KEY"`
	WalletKeystore   string `env:"WALLET_KEYSTORE"`
	WalletPassphrase string `env:"WALLET_PASSPHRASE"`

	// Where unauthenticated users are sent
	LoginPath string `env:"LOGIN_PATH" envDefault:"/"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// Server holds the configuration of the reference identity service
type Server struct {
	Addr string `env:"ADDR" envDefault:":9000"`

	// Nonces go to Redis when set, memory otherwise. Issued sessions are
	// published to a Redis stream on the same server.
	RedisURL string `env:"REDIS_URL"`

	NonceTTL  time.Duration `env:"NONCE_TTL"  envDefault:"5m"`
	AccessTTL time.Duration `env:"ACCESS_TTL" envDefault:"24h"`

	// Hex encoded SEC 1 DER P-256 key signing access tokens; generated per
	// run if empty
	SigningKey       string `env:"SIGNING_KEY"`
	FederationSecret string `env:"FEDERATION_SECRET"`

	// Requests per second and burst allowed per client IP on /auth
	RateLimit      float64 `env:"RATE_LIMIT"       envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
}

// LoadClient reads the client configuration from the process environment
func LoadClient() (*Client, error) {
	return loadClient(env.Options{Prefix: "PASSPORT_"})
}

// LoadClientFrom reads the client configuration from environ, keys without
// prefix
func LoadClientFrom(environ map[string]string) (*Client, error) {
	return loadClient(env.Options{Environment: environ})
}

func loadClient(opts env.Options) (*Client, error) {
	cfg := &Client{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Client) validate() error {
	switch c.Store {
	case StoreMemory, StoreFile, StoreRedis:
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	switch c.Events {
	case EventsNone, EventsMemory, EventsRedis:
	default:
		return fmt.Errorf("config: unknown event bus %q", c.Events)
	}
	if c.WalletKey != "" && c.WalletKeystore != "" {
		return errors.New("config: set either a wallet key or a wallet keystore, not both")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("config: http timeout must be positive")
	}
	if c.StoreKey == "" {
		return errors.New("config: store key must not be empty")
	}
	return nil
}

// CredentialPath returns the file the file store writes to
func (c *Client) CredentialPath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}
	return store.DefaultFilePath(c.StoreKey)
}

// HasWallet reports whether a wallet is configured
func (c *Client) HasWallet() bool {
	return c.WalletKey != "" || c.WalletKeystore != ""
}

// LoadServer reads the identity service configuration from the process
// environment
func LoadServer() (*Server, error) {
	return loadServer(env.Options{Prefix: "IDENTITYD_"})
}

// LoadServerFrom reads the identity service configuration from environ, keys
// without prefix
func LoadServerFrom(environ map[string]string) (*Server, error) {
	return loadServer(env.Options{Environment: environ})
}

func loadServer(opts env.Options) (*Server, error) {
	cfg := &Server{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}
	if cfg.NonceTTL <= 0 || cfg.AccessTTL <= 0 {
		return nil, errors.New("config: ttls must be positive")
	}
	if cfg.RateLimit <= 0 || cfg.RateLimitBurst <= 0 {
		return nil, errors.New("config: rate limit must be positive")
	}
	return cfg, nil
}
