package identityserver

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
)

var (
	errEmailTaken  = errors.New("email already registered")
	errWalletTaken = errors.New("wallet linked to another account")
)

type account struct {
	user         core.User
	passwordHash []byte
	subject      string // federated subject, if provisioned that way
}

// Registry holds the service's accounts in memory
type Registry struct {
	accounts  map[string]*account
	byEmail   map[string]string
	byWallet  map[string]string
	bySubject map[string]string
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		accounts:  make(map[string]*account),
		byEmail:   make(map[string]string),
		byWallet:  make(map[string]string),
		bySubject: make(map[string]string),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// create registers a new account; the email must be unused
func (r *Registry) create(username, email string, passwordHash []byte, subject string) (core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := normalizeEmail(email)
	if _, ok := r.byEmail[key]; ok {
		return core.User{}, errEmailTaken
	}

	acc := &account{
		user: core.User{
			ID:       uuid.New().String(),
			Username: username,
			Email:    key,
		},
		passwordHash: passwordHash,
		subject:      subject,
	}
	r.accounts[acc.user.ID] = acc
	r.byEmail[key] = acc.user.ID
	if subject != "" {
		r.bySubject[subject] = acc.user.ID
	}
	return acc.user, nil
}

func (r *Registry) byEmailLocked(email string) (*account, bool) {
	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, false
	}
	return r.accounts[id], true
}

// credentials returns the user and password hash registered for email
func (r *Registry) credentials(email string) (core.User, []byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.byEmailLocked(email)
	if !ok {
		return core.User{}, nil, false
	}
	return acc.user, acc.passwordHash, true
}

// User returns the account with id
func (r *Registry) User(id string) (core.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return core.User{}, false
	}
	return acc.user, true
}

// UserByWallet returns the account address is linked to
func (r *Registry) UserByWallet(address string) (core.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byWallet[address]
	if !ok {
		return core.User{}, false
	}
	return r.accounts[id].user, true
}

// federated returns the account for a federated identity, provisioning it on
// first sight. An existing password account with the same email is adopted.
func (r *Registry) federated(identity core.FederatedIdentity) core.User {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.bySubject[identity.Subject]; ok {
		return r.accounts[id].user
	}
	if acc, ok := r.byEmailLocked(identity.Email); ok {
		acc.subject = identity.Subject
		r.bySubject[identity.Subject] = acc.user.ID
		return acc.user
	}

	username := identity.Name
	if username == "" {
		username = strings.SplitN(identity.Email, "@", 2)[0]
	}
	acc := &account{
		user: core.User{
			ID:       uuid.New().String(),
			Username: username,
			Email:    normalizeEmail(identity.Email),
		},
		subject: identity.Subject,
	}
	r.accounts[acc.user.ID] = acc
	r.byEmail[acc.user.Email] = acc.user.ID
	r.bySubject[identity.Subject] = acc.user.ID
	return acc.user
}

// linkWallet links address to the account with id. An account holds one
// wallet; linking another replaces it.
func (r *Registry) linkWallet(id, address string) (core.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return core.User{}, errors.New("account not found")
	}
	if owner, ok := r.byWallet[address]; ok && owner != id {
		return core.User{}, errWalletTaken
	}

	if acc.user.WalletAddress != "" {
		delete(r.byWallet, acc.user.WalletAddress)
	}
	acc.user.WalletAddress = address
	r.byWallet[address] = id
	return acc.user, nil
}
