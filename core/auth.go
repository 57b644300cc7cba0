package core

import "time"

// User represents the identity a session is authenticated as
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	WalletAddress string `json:"walletAddress,omitempty"`
}

// Challenge represents a server-issued nonce bound to a wallet address
type Challenge struct {
	Address  string    // Checksummed address the nonce was requested for
	Nonce    string    // Opaque single-use value issued by the identity service
	Message  string    // Exact text the wallet is asked to sign
	IssuedAt time.Time // When the client received the nonce
}

// AuthResult is what a successful login, signup or wallet login returns
type AuthResult struct {
	User        User
	AccessToken string
}

// FederatedIdentity is the identity asserted by a federated id token
type FederatedIdentity struct {
	Subject string
	Email   string
	Name    string
}
