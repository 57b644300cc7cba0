package ports

import (
	"context"
	"errors"
)

var (
	// ErrNoWallet is returned when no wallet capability is installed
	ErrNoWallet = errors.New("no wallet available")

	// ErrUserRejected is returned when the user declines a wallet prompt
	ErrUserRejected = errors.New("user rejected the request")
)

// Wallet is an installed wallet capability. Every call may block until the
// user acts on a prompt.
type Wallet interface {
	// Address returns the selected account, or "" if none is connected yet
	Address(ctx context.Context) (string, error)

	// Connect asks the user to expose an account
	Connect(ctx context.Context) (string, error)

	// SignMessage produces a personal_sign signature over text
	SignMessage(ctx context.Context, address, text string) (string, error)
}
