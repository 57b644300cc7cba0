package ports

import (
	"context"

	"github.com/layer-3/passport/core"
)

// IdentityService is the remote identity service as seen by the client.
// Implementations return *core.Error values classified by kind.
type IdentityService interface {
	Login(ctx context.Context, email, password string) (core.AuthResult, error)
	Signup(ctx context.Context, username, email, password string) (core.AuthResult, error)
	WhoAmI(ctx context.Context, credential string) (core.User, error)
	FederatedLogin(ctx context.Context, idToken string) (core.AuthResult, error)

	// Challenge operations
	RequestNonce(ctx context.Context, address string) (string, error)
	WalletLogin(ctx context.Context, address, signature string) (core.AuthResult, error)
	WalletLink(ctx context.Context, credential, address, signature string) (core.User, error)
}
