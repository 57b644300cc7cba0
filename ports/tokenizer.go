package ports

import "github.com/layer-3/passport/core"

// Tokenizer issues and validates the reference identity service's tokens
type Tokenizer interface {
	// Access tokens
	UserToAccessToken(user *core.User) (string, error)
	AccessTokenToUserID(token string) (string, error)

	// FederatedTokenToIdentity validates an id token from the federation
	// provider and returns the identity it asserts
	FederatedTokenToIdentity(token string) (*core.FederatedIdentity, error)
}
