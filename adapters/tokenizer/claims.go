package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims are the claims of an access token issued by the reference
// identity service
type AccessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// FederatedClaims are the claims of a federated id token
type FederatedClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
