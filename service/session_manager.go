package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/ports"
)

// Operation names recorded in transitions, logs and errors
const (
	OpHydrate        = "hydrate"
	OpLogin          = "login"
	OpSignup         = "signup"
	OpFederatedLogin = "federated-login"
	OpWalletLogin    = "wallet-login"
	OpLinkWallet     = "link-wallet"
	OpLogout         = "logout"
)

// SessionManager owns the session of this process. Every operation starts a
// new attempt; only the most recently started attempt may commit its result.
//
// The state lock is held across SessionStore calls so that a commit and a
// logout can never interleave their writes, but never across identity
// service or wallet calls.
type SessionManager struct {
	identity ports.IdentityService
	store    ports.SessionStore
	events   ports.EventPublisher
	flow     *ChallengeFlow
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	session core.Session
	latest  uint64
	restore *core.User // user to fall back to if the running attempt fails

	// Observer bookkeeping, guarded by mu
	version     uint64
	pending     []pendingTransition
	watchers    map[uint64]*watcher
	nextWatcher uint64

	// dispatchMu serializes delivery so observers see transitions in commit order
	dispatchMu sync.Mutex
}

type pendingTransition struct {
	version    uint64
	session    core.Session
	transition core.Transition
}

type watcher struct {
	since uint64
	fn    func(core.Session)
}

// Option configures a SessionManager
type Option func(*SessionManager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(m *SessionManager) { m.logger = logger }
}

// WithEventPublisher publishes every committed transition
func WithEventPublisher(events ports.EventPublisher) Option {
	return func(m *SessionManager) { m.events = events }
}

// WithWallet sets the wallet used by the challenge flows
func WithWallet(wallet ports.Wallet) Option {
	return func(m *SessionManager) { m.flow.wallet = wallet }
}

// WithFlowObserver reports every challenge flow state change
func WithFlowObserver(observer func(FlowState)) Option {
	return func(m *SessionManager) { m.flow.observer = observer }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *SessionManager) {
		m.now = now
		m.flow.now = now
	}
}

// NewSessionManager creates the session manager. It starts Unauthenticated;
// call Hydrate once at startup to restore a persisted session.
func NewSessionManager(identity ports.IdentityService, store ports.SessionStore, opts ...Option) *SessionManager {
	m := &SessionManager{
		identity: identity,
		store:    store,
		flow:     NewChallengeFlow(identity, nil),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		session:  core.Session{Status: core.StatusUnauthenticated},
		watchers: make(map[uint64]*watcher),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the current snapshot
func (m *SessionManager) Session() core.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Watch calls fn with the current snapshot and then with every subsequent
// transition, in order. fn runs synchronously on whichever goroutine
// delivers the change and must not call Watch itself. The returned func unregisters fn.
func (m *SessionManager) Watch(fn func(core.Session)) func() {
	m.dispatchMu.Lock()

	m.mu.Lock()
	m.nextWatcher++
	id := m.nextWatcher
	m.watchers[id] = &watcher{since: m.version, fn: fn}
	current := m.session
	m.mu.Unlock()

	fn(current)

	// commits made while fn ran found dispatchMu taken and left their
	// transitions queued
	m.dispatchMu.Unlock()
	m.flush()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Hydrate restores the session from the stored credential. A missing
// credential yields Unauthenticated without any network call; a credential
// the identity service does not accept is cleared.
func (m *SessionManager) Hydrate(ctx context.Context) error {
	attempt := m.begin(OpHydrate, core.StatusHydrating)

	credential, err := m.store.Read(ctx)
	if errors.Is(err, core.ErrNoCredential) {
		return m.settle(ctx, attempt, OpHydrate)
	}
	if err != nil {
		m.logger.Error("failed to read stored credential", "op", OpHydrate, "attempt", attempt, "error", err)
		if clearErr := m.rejectStored(ctx, attempt, err); clearErr != nil {
			return clearErr
		}
		return fmt.Errorf("failed to read stored credential: %w", err)
	}

	user, err := m.identity.WhoAmI(ctx, credential)
	if err != nil {
		return m.rejectStored(ctx, attempt, err)
	}

	m.mu.Lock()
	if err := m.checkCurrent(ctx, attempt, OpHydrate); err != nil {
		m.mu.Unlock()
		m.flush()
		return err
	}
	m.restore = nil
	m.transitionLocked(OpHydrate, core.Session{Status: core.StatusAuthenticated, User: &user, Attempt: attempt})
	m.mu.Unlock()
	m.flush()

	m.logger.Info("session restored", "op", OpHydrate, "attempt", attempt, "user_id", user.ID)
	return nil
}

// LoginWithPassword authenticates with an email and password
func (m *SessionManager) LoginWithPassword(ctx context.Context, email, password string) (core.User, error) {
	attempt := m.begin(OpLogin, core.StatusAuthenticating)
	return m.authenticate(ctx, attempt, OpLogin, func(ctx context.Context) (core.AuthResult, error) {
		return m.identity.Login(ctx, email, password)
	})
}

// Signup registers a new account and authenticates as it
func (m *SessionManager) Signup(ctx context.Context, username, email, password string) (core.User, error) {
	attempt := m.begin(OpSignup, core.StatusAuthenticating)
	return m.authenticate(ctx, attempt, OpSignup, func(ctx context.Context) (core.AuthResult, error) {
		return m.identity.Signup(ctx, username, email, password)
	})
}

// LoginWithFederatedToken exchanges an identity provider's id token for a
// session
func (m *SessionManager) LoginWithFederatedToken(ctx context.Context, idToken string) (core.User, error) {
	attempt := m.begin(OpFederatedLogin, core.StatusAuthenticating)
	return m.authenticate(ctx, attempt, OpFederatedLogin, func(ctx context.Context) (core.AuthResult, error) {
		return m.identity.FederatedLogin(ctx, idToken)
	})
}

// LoginWithWallet exchanges a signature over a freshly issued nonce for a
// session. Nonces are single use: retrying with the same signature fails with
// core.ErrChallengeExpiredOrConsumed, which is distinct from
// core.ErrWalletNotRegistered.
func (m *SessionManager) LoginWithWallet(ctx context.Context, address, signature string) (core.User, error) {
	attempt := m.begin(OpWalletLogin, core.StatusAuthenticating)

	checksummed, err := eth.ChecksumAddress(address)
	if err != nil {
		return core.User{}, m.fail(ctx, attempt, OpWalletLogin, &core.Error{Op: OpWalletLogin, Kind: core.ErrAddressMismatch, Err: err})
	}
	return m.authenticate(ctx, attempt, OpWalletLogin, func(ctx context.Context) (core.AuthResult, error) {
		return m.identity.WalletLogin(context.WithoutCancel(ctx), checksummed, signature)
	})
}

// LoginWithWalletFlow runs the full challenge flow with the configured wallet
// and logs in with the result
func (m *SessionManager) LoginWithWalletFlow(ctx context.Context) (core.User, error) {
	attempt := m.begin(OpWalletLogin, core.StatusAuthenticating)

	var result core.AuthResult
	_, err := m.flow.Run(ctx, func(ctx context.Context, address, signature string) error {
		var err error
		result, err = m.identity.WalletLogin(context.WithoutCancel(ctx), address, signature)
		return err
	})
	if err != nil {
		return core.User{}, m.fail(ctx, attempt, OpWalletLogin, err)
	}
	return m.commitAuth(ctx, attempt, OpWalletLogin, result)
}

// LinkWallet associates a signed wallet address with the authenticated user.
// It fails with core.ErrPreconditionFailed, without any network call, unless
// the session is authenticated.
func (m *SessionManager) LinkWallet(ctx context.Context, address, signature string) (core.User, error) {
	attempt, credential, err := m.beginLink(ctx)
	if err != nil {
		return core.User{}, err
	}

	checksummed, err := eth.ChecksumAddress(address)
	if err != nil {
		return core.User{}, m.fail(ctx, attempt, OpLinkWallet, &core.Error{Op: OpLinkWallet, Kind: core.ErrAddressMismatch, Err: err})
	}

	linked, err := m.identity.WalletLink(context.WithoutCancel(ctx), credential, checksummed, signature)
	if err != nil {
		return core.User{}, m.fail(ctx, attempt, OpLinkWallet, err)
	}
	return m.commitLink(ctx, attempt, checksummed, linked)
}

// LinkWalletFlow runs the challenge flow with the configured wallet and links
// the resulting address to the authenticated user
func (m *SessionManager) LinkWalletFlow(ctx context.Context) (core.User, error) {
	attempt, credential, err := m.beginLink(ctx)
	if err != nil {
		return core.User{}, err
	}

	var linked core.User
	challenge, err := m.flow.Run(ctx, func(ctx context.Context, address, signature string) error {
		var err error
		linked, err = m.identity.WalletLink(context.WithoutCancel(ctx), credential, address, signature)
		return err
	})
	if err != nil {
		return core.User{}, m.fail(ctx, attempt, OpLinkWallet, err)
	}
	return m.commitLink(ctx, attempt, challenge.Challenge.Address, linked)
}

// Logout ends the session from any state. Attempts still in flight are
// superseded and their results discarded.
func (m *SessionManager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.latest++
	attempt := m.latest
	m.restore = nil
	err := m.store.Clear(ctx)
	m.transitionLocked(OpLogout, core.Session{Status: core.StatusUnauthenticated, Attempt: attempt})
	m.mu.Unlock()
	m.flush()

	if err != nil {
		m.logger.Error("failed to clear stored credential", "op", OpLogout, "attempt", attempt, "error", err)
		return fmt.Errorf("failed to clear stored credential: %w", err)
	}
	m.logger.Info("logged out", "op", OpLogout, "attempt", attempt)
	return nil
}

// begin starts a new attempt, superseding all attempts in flight
func (m *SessionManager) begin(op string, status core.Status) uint64 {
	m.mu.Lock()
	attempt := m.beginLocked(op, status)
	m.mu.Unlock()
	m.flush()
	return attempt
}

// beginLink starts a link attempt if the session is authenticated and a
// credential is stored
func (m *SessionManager) beginLink(ctx context.Context) (uint64, string, error) {
	m.mu.Lock()
	if m.session.Status != core.StatusAuthenticated {
		m.mu.Unlock()
		return 0, "", core.NewError(OpLinkWallet, core.ErrPreconditionFailed, "")
	}
	credential, err := m.store.Read(ctx)
	if err != nil {
		m.mu.Unlock()
		return 0, "", &core.Error{Op: OpLinkWallet, Kind: core.ErrPreconditionFailed, Err: err}
	}
	attempt := m.beginLocked(OpLinkWallet, core.StatusAuthenticating)
	m.mu.Unlock()
	m.flush()
	return attempt, credential, nil
}

func (m *SessionManager) beginLocked(op string, status core.Status) uint64 {
	m.latest++
	attempt := m.latest

	switch m.session.Status {
	case core.StatusAuthenticated:
		m.restore = m.session.User
	case core.StatusAuthenticating, core.StatusHydrating:
		// keep the user from before the first attempt in flight
	default:
		m.restore = nil
	}
	if status == core.StatusHydrating {
		m.restore = nil
	}

	m.transitionLocked(op, core.Session{Status: status, Attempt: attempt})
	m.logger.Debug("attempt started", "op", op, "attempt", attempt)
	return attempt
}

// authenticate runs call and commits its outcome for attempt
func (m *SessionManager) authenticate(
	ctx context.Context,
	attempt uint64,
	op string,
	call func(context.Context) (core.AuthResult, error),
) (core.User, error) {
	result, err := call(ctx)
	if err != nil {
		return core.User{}, m.fail(ctx, attempt, op, err)
	}
	return m.commitAuth(ctx, attempt, op, result)
}

// commitAuth persists the credential of a successful attempt and replaces
// the session user
func (m *SessionManager) commitAuth(ctx context.Context, attempt uint64, op string, result core.AuthResult) (core.User, error) {
	m.mu.Lock()
	if err := m.checkCurrent(ctx, attempt, op); err != nil {
		m.mu.Unlock()
		m.flush()
		return core.User{}, err
	}

	if err := m.store.Write(ctx, result.AccessToken); err != nil {
		err = fmt.Errorf("failed to store credential: %w", err)
		m.failLocked(attempt, op, err)
		m.mu.Unlock()
		m.flush()
		m.logger.Error("failed to store credential", "op", op, "attempt", attempt, "error", err)
		return core.User{}, err
	}

	user := result.User
	m.restore = nil
	m.transitionLocked(op, core.Session{Status: core.StatusAuthenticated, User: &user, Attempt: attempt})
	m.mu.Unlock()
	m.flush()

	m.logger.Info("authenticated", "op", op, "attempt", attempt, "user_id", user.ID)
	return user, nil
}

// commitLink merges the linked address into the user the attempt started
// from; the rest of the user record is kept
func (m *SessionManager) commitLink(ctx context.Context, attempt uint64, address string, linked core.User) (core.User, error) {
	m.mu.Lock()
	if err := m.checkCurrent(ctx, attempt, OpLinkWallet); err != nil {
		m.mu.Unlock()
		m.flush()
		return core.User{}, err
	}
	if m.restore == nil {
		m.transitionLocked(OpLinkWallet, core.Session{Status: core.StatusUnauthenticated, Attempt: attempt})
		m.mu.Unlock()
		m.flush()
		return core.User{}, core.NewError(OpLinkWallet, core.ErrPreconditionFailed, "")
	}

	merged := *m.restore
	merged.WalletAddress = address
	if linked.WalletAddress != "" {
		merged.WalletAddress = linked.WalletAddress
	}
	m.restore = nil
	m.transitionLocked(OpLinkWallet, core.Session{Status: core.StatusAuthenticated, User: &merged, Attempt: attempt})
	m.mu.Unlock()
	m.flush()

	m.logger.Info("wallet linked", "op", OpLinkWallet, "attempt", attempt, "user_id", merged.ID, "address", merged.WalletAddress)
	return merged, nil
}

// fail records a failed attempt. A superseded attempt changes nothing.
func (m *SessionManager) fail(ctx context.Context, attempt uint64, op string, cause error) error {
	m.mu.Lock()
	if err := m.checkCurrent(ctx, attempt, op); err != nil {
		m.mu.Unlock()
		m.flush()
		return errors.Join(err, cause)
	}
	m.failLocked(attempt, op, cause)
	m.mu.Unlock()
	m.flush()

	m.logger.Warn("attempt failed", "op", op, "attempt", attempt, "error", cause)
	return cause
}

// failLocked restores the user the attempt started from, if any, otherwise
// moves to Error
func (m *SessionManager) failLocked(attempt uint64, op string, cause error) {
	if m.restore != nil {
		user := m.restore
		m.restore = nil
		m.transitionLocked(op, core.Session{Status: core.StatusAuthenticated, User: user, Attempt: attempt})
		return
	}
	m.transitionLocked(op, core.Session{Status: core.StatusError, Err: cause, Attempt: attempt})
}

// settle ends a hydration that found nothing usable
func (m *SessionManager) settle(ctx context.Context, attempt uint64, op string) error {
	m.mu.Lock()
	if err := m.checkCurrent(ctx, attempt, op); err != nil {
		m.mu.Unlock()
		m.flush()
		return err
	}
	m.transitionLocked(op, core.Session{Status: core.StatusUnauthenticated, Attempt: attempt})
	m.mu.Unlock()
	m.flush()
	return nil
}

// rejectStored clears a stored credential that could not be read or that the
// identity service refused
func (m *SessionManager) rejectStored(ctx context.Context, attempt uint64, cause error) error {
	m.mu.Lock()
	if err := m.checkCurrent(ctx, attempt, OpHydrate); err != nil {
		m.mu.Unlock()
		m.flush()
		return err
	}
	clearErr := m.store.Clear(ctx)
	m.transitionLocked(OpHydrate, core.Session{Status: core.StatusUnauthenticated, Attempt: attempt})
	m.mu.Unlock()
	m.flush()

	m.logger.Warn("discarding stored credential", "op", OpHydrate, "attempt", attempt, "error", cause)
	if clearErr != nil {
		m.logger.Error("failed to clear stored credential", "op", OpHydrate, "attempt", attempt, "error", clearErr)
		return fmt.Errorf("failed to clear stored credential: %w", clearErr)
	}
	return nil
}

// checkCurrent reports whether attempt may still commit. An attempt whose
// caller went away is abandoned: if it is still the latest, the session goes
// back to where it was before the attempt. Callers hold mu.
func (m *SessionManager) checkCurrent(ctx context.Context, attempt uint64, op string) error {
	if attempt != m.latest {
		m.logger.Info("discarding superseded result", "op", op, "attempt", attempt, "latest", m.latest)
		return fmt.Errorf("%s attempt %d: %w", op, attempt, core.ErrSuperseded)
	}
	if err := ctx.Err(); err != nil {
		m.logger.Info("discarding abandoned result", "op", op, "attempt", attempt)
		next := core.Session{Status: core.StatusUnauthenticated, Attempt: attempt}
		if m.restore != nil {
			next = core.Session{Status: core.StatusAuthenticated, User: m.restore, Attempt: attempt}
			m.restore = nil
		}
		m.transitionLocked(op, next)
		return fmt.Errorf("%s attempt %d abandoned: %w", op, attempt, err)
	}
	return nil
}

// transitionLocked replaces the snapshot and queues the change for observers.
// Callers hold mu and call flush after unlocking.
func (m *SessionManager) transitionLocked(op string, next core.Session) {
	prev := m.session
	m.session = next
	m.version++

	transition := core.Transition{
		ID:      uuid.New().String(),
		Op:      op,
		From:    prev.Status.String(),
		To:      next.Status.String(),
		Attempt: next.Attempt,
		At:      m.now(),
	}
	if next.User != nil {
		transition.UserID = next.User.ID
	}
	m.pending = append(m.pending, pendingTransition{version: m.version, session: next, transition: transition})
}

// flush delivers queued transitions. Whoever holds dispatchMu drains the
// queue, including entries queued by its own observers.
func (m *SessionManager) flush() {
	for {
		if !m.dispatchMu.TryLock() {
			return
		}
		for {
			m.mu.Lock()
			batch := m.pending
			m.pending = nil
			watchers := make([]*watcher, 0, len(m.watchers))
			for _, w := range m.watchers {
				watchers = append(watchers, w)
			}
			m.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, p := range batch {
				for _, w := range watchers {
					if p.version > w.since {
						w.fn(p.session)
					}
				}
				m.publish(p.transition)
			}
		}
		m.dispatchMu.Unlock()

		m.mu.Lock()
		more := len(m.pending) > 0
		m.mu.Unlock()
		if !more {
			return
		}
	}
}

func (m *SessionManager) publish(transition core.Transition) {
	if m.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.events.PublishTransition(ctx, transition); err != nil {
		m.logger.Warn("failed to publish transition", "op", transition.Op, "attempt", transition.Attempt, "error", err)
	}
}
