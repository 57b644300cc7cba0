package passport

import (
	"context"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/service"
)

// Client represents the public interface for driving the session
type Client interface {
	// Hydrate restores a persisted session; call once at startup
	Hydrate(ctx context.Context) error

	// Password and federated logins
	LoginWithPassword(ctx context.Context, email, password string) (core.User, error)
	Signup(ctx context.Context, username, email, password string) (core.User, error)
	LoginWithFederatedToken(ctx context.Context, idToken string) (core.User, error)

	// Wallet logins with a signature produced elsewhere
	LoginWithWallet(ctx context.Context, address, signature string) (core.User, error)
	LinkWallet(ctx context.Context, address, signature string) (core.User, error)

	// Wallet logins driven through the configured wallet
	LoginWithWalletFlow(ctx context.Context) (core.User, error)
	LinkWalletFlow(ctx context.Context) (core.User, error)

	// Logout ends the session from any state
	Logout(ctx context.Context) error

	// Session returns the current snapshot
	Session() core.Session

	// Watch observes every transition until the returned func is called
	Watch(fn func(core.Session)) func()
}

var _ Client = (*service.SessionManager)(nil)
