// Package passport assembles the session manager and its adapters from
// configuration.
package passport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/identity"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/wallet"
	"github.com/layer-3/passport/config"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
)

// Passport is a configured session manager together with the resources it
// owns
type Passport struct {
	*service.SessionManager

	Guard *service.RouteGuard

	subscriber message.Subscriber
	closers    []func() error
}

type options struct {
	identity ports.IdentityService
	confirm  wallet.ConfirmFunc
	observer func(service.FlowState)
}

// Option customizes New
type Option func(*options)

// WithIdentityService replaces the HTTP identity client
func WithIdentityService(identity ports.IdentityService) Option {
	return func(o *options) { o.identity = identity }
}

// WithConfirm asks confirm before every wallet signature
func WithConfirm(confirm wallet.ConfirmFunc) Option {
	return func(o *options) { o.confirm = confirm }
}

// WithFlowObserver reports wallet challenge progress
func WithFlowObserver(observer func(service.FlowState)) Option {
	return func(o *options) { o.observer = observer }
}

// New builds a Passport from cfg. The session starts Unauthenticated; call
// Hydrate to restore a persisted one.
func New(cfg *config.Client, logger *slog.Logger, opts ...Option) (*Passport, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	p := &Passport{Guard: service.NewRouteGuard(cfg.LoginPath)}

	var redisClient *redis.Client
	if cfg.Store == config.StoreRedis || cfg.Events == config.EventsRedis {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		p.closers = append(p.closers, redisClient.Close)
	}

	sessionStore, err := newSessionStore(cfg, redisClient)
	if err != nil {
		p.Close()
		return nil, err
	}

	publisher, err := p.newPublisher(cfg, redisClient, logger)
	if err != nil {
		p.Close()
		return nil, err
	}

	w, err := newWallet(cfg, o.confirm)
	if err != nil {
		p.Close()
		return nil, err
	}

	identityService := o.identity
	if identityService == nil {
		identityService = identity.NewHTTPClient(cfg.APIBaseURL, cfg.HTTPTimeout, cfg.AllowInsecure)
	}

	managerOpts := []service.Option{
		service.WithLogger(logger),
		service.WithWallet(w),
		service.WithEventPublisher(publisher),
	}
	if o.observer != nil {
		managerOpts = append(managerOpts, service.WithFlowObserver(o.observer))
	}
	p.SessionManager = service.NewSessionManager(identityService, sessionStore, managerOpts...)

	return p, nil
}

func newSessionStore(cfg *config.Client, redisClient *redis.Client) (ports.SessionStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreRedis:
		return store.NewRedisStore(redisClient, cfg.StoreKey), nil
	default:
		path, err := cfg.CredentialPath()
		if err != nil {
			return nil, err
		}
		return store.NewFileStore(path)
	}
}

func (p *Passport) newPublisher(cfg *config.Client, redisClient *redis.Client, logger *slog.Logger) (ports.EventPublisher, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.Events {
	case config.EventsMemory:
		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		p.subscriber = pubSub
		p.closers = append(p.closers, pubSub.Close)
		return events.NewWatermillPublisher(pubSub), nil

	case config.EventsRedis:
		publisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			wmLogger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		subscriber, err := redisstream.NewSubscriber(
			redisstream.SubscriberConfig{
				Client: redisClient,
			},
			wmLogger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
		}
		p.subscriber = subscriber
		p.closers = append(p.closers, publisher.Close, subscriber.Close)
		return events.NewWatermillPublisher(publisher), nil

	default:
		return events.Discard{}, nil
	}
}

func newWallet(cfg *config.Client, confirm wallet.ConfirmFunc) (ports.Wallet, error) {
	switch {
	case cfg.WalletKey != "":
		return wallet.NewKeyWalletFromHex(cfg.WalletKey, confirm)
	case cfg.WalletKeystore != "":
		return wallet.NewKeyWalletFromKeystore(cfg.WalletKeystore, cfg.WalletPassphrase, confirm)
	default:
		return wallet.Unavailable{}, nil
	}
}

// Transitions subscribes to published session transitions
func (p *Passport) Transitions(ctx context.Context) (<-chan *message.Message, error) {
	if p.subscriber == nil {
		return nil, errors.New("no event bus configured")
	}
	return p.subscriber.Subscribe(ctx, events.TopicTransitions)
}

// Close releases the event bus and store connections
func (p *Passport) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
