// Package identityserver is a reference implementation of the identity
// service the passport client talks to. It keeps accounts in memory and is
// meant for local development and integration tests.
package identityserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/ports"
)

// Response messages. Clients match on some of them, so they are part of the
// contract.
const (
	MsgInvalidRequest   = "Invalid request"
	MsgEmailTaken       = "Email already registered"
	MsgInvalidLogin     = "Invalid email or password"
	MsgUnauthorized     = "Unauthorized"
	MsgTokenExpired     = "Token expired"
	MsgInvalidIDToken   = "Invalid id token"
	MsgInvalidAddress   = "Invalid address"
	MsgNonceExpired     = "Nonce expired or consumed"
	MsgInvalidSignature = "Invalid signature"
	MsgWalletNotFound   = "Wallet not registered"
	MsgWalletTaken      = "Wallet already linked to another account"
)

const (
	DefaultNonceTTL   = 5 * time.Minute
	MinPasswordLength = 8
)

// Service implements ports.IdentityService on top of an in-memory registry.
// Failures are *core.Error values carrying the HTTP status to answer with.
type Service struct {
	users      *Registry
	nonces     ports.NonceStore
	tokenizer  ports.Tokenizer
	events     ports.EventPublisher
	logger     *slog.Logger
	nonceTTL   time.Duration
	bcryptCost int
	now        func() time.Time
}

var _ ports.IdentityService = (*Service)(nil)

// Option configures a Service
type Option func(*Service)

// WithNonceTTL sets how long an issued nonce stays valid
func WithNonceTTL(ttl time.Duration) Option {
	return func(s *Service) { s.nonceTTL = ttl }
}

// WithBcryptCost sets the password hashing cost
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithEventPublisher publishes an event for every session the service issues
func WithEventPublisher(events ports.EventPublisher) Option {
	return func(s *Service) { s.events = events }
}

// WithRegistry shares an account registry between services
func WithRegistry(users *Registry) Option {
	return func(s *Service) { s.users = users }
}

// NewService creates the identity service
func NewService(tokenizer ports.Tokenizer, nonces ports.NonceStore, opts ...Option) *Service {
	s := &Service{
		users:      NewRegistry(),
		nonces:     nonces,
		tokenizer:  tokenizer,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		nonceTTL:   DefaultNonceTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Users returns the account registry
func (s *Service) Users() *Registry {
	return s.users
}

func reject(op string, status int, kind error, message string) *core.Error {
	return &core.Error{Op: op, Kind: kind, Message: message, StatusCode: status}
}

// Signup registers an account and opens a session for it
func (s *Service) Signup(ctx context.Context, username, email, password string) (core.AuthResult, error) {
	const op = "signup"
	username = strings.TrimSpace(username)
	if username == "" || !strings.Contains(email, "@") || len(password) < MinPasswordLength {
		return core.AuthResult{}, reject(op, http.StatusBadRequest, core.ErrInvalidCredential, MsgInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return core.AuthResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.create(username, email, hash, "")
	if errors.Is(err, errEmailTaken) {
		return core.AuthResult{}, reject(op, http.StatusConflict, core.ErrInvalidCredential, MsgEmailTaken)
	}
	if err != nil {
		return core.AuthResult{}, err
	}

	s.logger.Info("account created", "op", op, "user_id", user.ID)
	return s.issue(ctx, op, user)
}

// Login opens a session for an email and password
func (s *Service) Login(ctx context.Context, email, password string) (core.AuthResult, error) {
	const op = "login"
	user, hash, ok := s.users.credentials(email)
	if !ok || len(hash) == 0 {
		return core.AuthResult{}, reject(op, http.StatusUnauthorized, core.ErrInvalidCredential, MsgInvalidLogin)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return core.AuthResult{}, reject(op, http.StatusUnauthorized, core.ErrInvalidCredential, MsgInvalidLogin)
	}
	return s.issue(ctx, op, user)
}

// WhoAmI resolves an access token to its user
func (s *Service) WhoAmI(ctx context.Context, credential string) (core.User, error) {
	const op = "whoami"
	id, err := s.tokenizer.AccessTokenToUserID(credential)
	if err != nil {
		message := MsgUnauthorized
		if errors.Is(err, tokenizer.ErrTokenExpired) {
			message = MsgTokenExpired
		}
		return core.User{}, &core.Error{Op: op, Kind: core.ErrInvalidCredential, Message: message, StatusCode: http.StatusUnauthorized, Err: err}
	}
	user, ok := s.users.User(id)
	if !ok {
		return core.User{}, reject(op, http.StatusUnauthorized, core.ErrInvalidCredential, MsgUnauthorized)
	}
	return user, nil
}

// FederatedLogin opens a session for a federated id token, provisioning the
// account on first login
func (s *Service) FederatedLogin(ctx context.Context, idToken string) (core.AuthResult, error) {
	const op = "federated-login"
	identity, err := s.tokenizer.FederatedTokenToIdentity(idToken)
	if err != nil {
		return core.AuthResult{}, &core.Error{Op: op, Kind: core.ErrInvalidCredential, Message: MsgInvalidIDToken, StatusCode: http.StatusUnauthorized, Err: err}
	}
	return s.issue(ctx, op, s.users.federated(*identity))
}

// RequestNonce issues a fresh nonce for address, superseding any earlier one
func (s *Service) RequestNonce(ctx context.Context, address string) (string, error) {
	const op = "request-nonce"
	checksummed, err := eth.ChecksumAddress(address)
	if err != nil {
		return "", reject(op, http.StatusBadRequest, core.ErrChallengeRequestFailed, MsgInvalidAddress)
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	if err := s.nonces.Issue(ctx, checksummed, nonce, s.nonceTTL); err != nil {
		return "", err
	}
	s.logger.Debug("nonce issued", "op", op, "address", checksummed)
	return nonce, nil
}

// WalletLogin opens a session for the account linked to a wallet that signed
// its active nonce
func (s *Service) WalletLogin(ctx context.Context, address, signature string) (core.AuthResult, error) {
	const op = "wallet-login"
	if err := s.verifyWallet(ctx, op, address, signature); err != nil {
		return core.AuthResult{}, err
	}

	user, ok := s.users.UserByWallet(address)
	if !ok {
		return core.AuthResult{}, reject(op, http.StatusNotFound, core.ErrWalletNotRegistered, MsgWalletNotFound)
	}
	return s.issue(ctx, op, user)
}

// WalletLink links a wallet that signed its active nonce to the caller
func (s *Service) WalletLink(ctx context.Context, credential, address, signature string) (core.User, error) {
	const op = "wallet-link"
	caller, err := s.WhoAmI(ctx, credential)
	if err != nil {
		return core.User{}, err
	}
	if err := s.verifyWallet(ctx, op, address, signature); err != nil {
		return core.User{}, err
	}

	user, err := s.users.linkWallet(caller.ID, address)
	if errors.Is(err, errWalletTaken) {
		return core.User{}, reject(op, http.StatusConflict, core.ErrInvalidCredential, MsgWalletTaken)
	}
	if err != nil {
		return core.User{}, err
	}

	s.logger.Info("wallet linked", "op", op, "user_id", user.ID, "address", address)
	s.publish(ctx, op, user)
	return user, nil
}

// verifyWallet consumes the active nonce for address and checks signature
// against it. address must be in checksummed form, exactly as the nonce was
// issued for. A signature over an already spent nonce is reported as such.
func (s *Service) verifyWallet(ctx context.Context, op, address, signature string) error {
	checksummed, err := eth.ChecksumAddress(address)
	if err != nil || checksummed != address {
		return reject(op, http.StatusUnauthorized, core.ErrInvalidSignature, MsgInvalidSignature)
	}

	nonce, err := s.nonces.Consume(ctx, address)
	if errors.Is(err, core.ErrChallengeExpiredOrConsumed) {
		return reject(op, http.StatusGone, core.ErrChallengeExpiredOrConsumed, MsgNonceExpired)
	}
	if err != nil {
		return err
	}

	if eth.VerifyTextSignature(eth.NonceMessage(nonce), signature, address) == nil {
		return nil
	}

	retired, err := s.nonces.Retired(ctx, address)
	if err != nil {
		return err
	}
	for _, spent := range retired {
		if spent != nonce && eth.VerifyTextSignature(eth.NonceMessage(spent), signature, address) == nil {
			return reject(op, http.StatusGone, core.ErrChallengeExpiredOrConsumed, MsgNonceExpired)
		}
	}
	s.logger.Warn("signature rejected", "op", op, "address", address)
	return reject(op, http.StatusUnauthorized, core.ErrInvalidSignature, MsgInvalidSignature)
}

// issue creates an access token for user
func (s *Service) issue(ctx context.Context, op string, user core.User) (core.AuthResult, error) {
	token, err := s.tokenizer.UserToAccessToken(&user)
	if err != nil {
		return core.AuthResult{}, fmt.Errorf("failed to create access token: %w", err)
	}
	s.publish(ctx, op, user)
	return core.AuthResult{User: user, AccessToken: token}, nil
}

func (s *Service) publish(ctx context.Context, op string, user core.User) {
	if s.events == nil {
		return
	}
	event := core.Transition{
		ID:     uuid.New().String(),
		Op:     op,
		To:     core.StatusAuthenticated.String(),
		UserID: user.ID,
		At:     s.now(),
	}
	if err := s.events.PublishTransition(ctx, event); err != nil {
		// The session is already issued
		s.logger.Warn("failed to publish event", "op", op, "error", err)
	}
}
