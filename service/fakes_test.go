package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"sync"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/ports"
)

var errUnexpectedCall = errors.New("unexpected call")

// fakeIdentity records calls and delegates to per-operation funcs
type fakeIdentity struct {
	mu    sync.Mutex
	calls map[string]int

	login       func(ctx context.Context, email, password string) (core.AuthResult, error)
	signup      func(ctx context.Context, username, email, password string) (core.AuthResult, error)
	whoami      func(ctx context.Context, credential string) (core.User, error)
	federated   func(ctx context.Context, idToken string) (core.AuthResult, error)
	nonce       func(ctx context.Context, address string) (string, error)
	walletLogin func(ctx context.Context, address, signature string) (core.AuthResult, error)
	walletLink  func(ctx context.Context, credential, address, signature string) (core.User, error)
}

var _ ports.IdentityService = (*fakeIdentity)(nil)

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{calls: make(map[string]int)}
}

func (f *fakeIdentity) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
}

func (f *fakeIdentity) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeIdentity) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeIdentity) Login(ctx context.Context, email, password string) (core.AuthResult, error) {
	f.record("login")
	if f.login == nil {
		return core.AuthResult{}, errUnexpectedCall
	}
	return f.login(ctx, email, password)
}

func (f *fakeIdentity) Signup(ctx context.Context, username, email, password string) (core.AuthResult, error) {
	f.record("signup")
	if f.signup == nil {
		return core.AuthResult{}, errUnexpectedCall
	}
	return f.signup(ctx, username, email, password)
}

func (f *fakeIdentity) WhoAmI(ctx context.Context, credential string) (core.User, error) {
	f.record("whoami")
	if f.whoami == nil {
		return core.User{}, errUnexpectedCall
	}
	return f.whoami(ctx, credential)
}

func (f *fakeIdentity) FederatedLogin(ctx context.Context, idToken string) (core.AuthResult, error) {
	f.record("federated-login")
	if f.federated == nil {
		return core.AuthResult{}, errUnexpectedCall
	}
	return f.federated(ctx, idToken)
}

func (f *fakeIdentity) RequestNonce(ctx context.Context, address string) (string, error) {
	f.record("nonce")
	if f.nonce == nil {
		return "", errUnexpectedCall
	}
	return f.nonce(ctx, address)
}

func (f *fakeIdentity) WalletLogin(ctx context.Context, address, signature string) (core.AuthResult, error) {
	f.record("wallet-login")
	if f.walletLogin == nil {
		return core.AuthResult{}, errUnexpectedCall
	}
	return f.walletLogin(ctx, address, signature)
}

func (f *fakeIdentity) WalletLink(ctx context.Context, credential, address, signature string) (core.User, error) {
	f.record("wallet-link")
	if f.walletLink == nil {
		return core.User{}, errUnexpectedCall
	}
	return f.walletLink(ctx, credential, address, signature)
}

// nonceIssuer hands out distinct nonces and verifies signatures over the
// latest one issued per address, the way the identity service does
type nonceIssuer struct {
	mu        sync.Mutex
	n         int
	issued    map[string]string
	requested []string
	signed    []string
}

func newNonceIssuer() *nonceIssuer {
	return &nonceIssuer{issued: make(map[string]string)}
}

func (i *nonceIssuer) issue(_ context.Context, address string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
	nonce := "nonce-" + strings.Repeat("x", i.n)
	i.issued[address] = nonce
	i.requested = append(i.requested, address)
	return nonce, nil
}

func (i *nonceIssuer) verify(address, signature string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	nonce, ok := i.issued[address]
	if !ok {
		return core.NewError(OpWalletLogin, core.ErrChallengeExpiredOrConsumed, "Nonce expired or consumed")
	}
	delete(i.issued, address)
	if err := eth.VerifyTextSignature(eth.NonceMessage(nonce), signature, address); err != nil {
		return core.NewError(OpWalletLogin, core.ErrInvalidSignature, "Invalid signature")
	}
	i.signed = append(i.signed, signature)
	return nil
}

// fakeWallet signs with an in-memory key and reports its address in lower
// case, the way most injected wallets do
type fakeWallet struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	signKey   *ecdsa.PrivateKey
	addresses []string
	addrCalls int
	reject    bool
	block     bool
	messages  []string
}

func (w *fakeWallet) Address(context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer func() { w.addrCalls++ }()
	if len(w.addresses) > 0 {
		i := w.addrCalls
		if i >= len(w.addresses) {
			i = len(w.addresses) - 1
		}
		return w.addresses[i], nil
	}
	return strings.ToLower(eth.AddressOf(w.key)), nil
}

func (w *fakeWallet) Connect(context.Context) (string, error) {
	return strings.ToLower(eth.AddressOf(w.key)), nil
}

func (w *fakeWallet) SignMessage(ctx context.Context, _, text string) (string, error) {
	w.mu.Lock()
	block, reject := w.block, w.reject
	key := w.key
	if w.signKey != nil {
		key = w.signKey
	}
	w.messages = append(w.messages, text)
	w.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if reject {
		return "", ports.ErrUserRejected
	}
	return eth.SignText(key, text)
}

func (w *fakeWallet) signedMessages() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.messages...)
}

// recordingPublisher collects published transitions
type recordingPublisher struct {
	mu          sync.Mutex
	transitions []core.Transition
}

func (p *recordingPublisher) PublishTransition(_ context.Context, t core.Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, t)
	return nil
}

func (p *recordingPublisher) all() []core.Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Transition(nil), p.transitions...)
}

// unreadableStore fails every Read and counts Clear calls
type unreadableStore struct {
	ports.SessionStore
	err error

	mu      sync.Mutex
	cleared int
}

func (s *unreadableStore) Read(context.Context) (string, error) {
	return "", s.err
}

func (s *unreadableStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
	return s.SessionStore.Clear(ctx)
}
