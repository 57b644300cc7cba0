package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/ports"
)

// ConfirmFunc is asked before every signature. Returning false rejects the
// request the way a user dismissing a wallet prompt would.
type ConfirmFunc func(ctx context.Context, address, text string) (bool, error)

// KeyWallet is a wallet capability backed by a local secp256k1 key
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address string
	confirm ConfirmFunc
}

// NewKeyWallet creates a wallet around key. confirm may be nil, in which case
// every signature request is approved.
func NewKeyWallet(key *ecdsa.PrivateKey, confirm ConfirmFunc) *KeyWallet {
	return &KeyWallet{
		key:     key,
		address: eth.AddressOf(key),
		confirm: confirm,
	}
}

// NewKeyWalletFromHex creates a wallet from a hex encoded private key
func NewKeyWalletFromHex(hexKey string, confirm ConfirmFunc) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet key: %w", err)
	}
	return NewKeyWallet(key, confirm), nil
}

// NewKeyWalletFromKeystore decrypts a go-ethereum keystore file
func NewKeyWalletFromKeystore(path, passphrase string, confirm ConfirmFunc) (*KeyWallet, error) {
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore %s: %w", path, err)
	}
	key, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore %s: %w", path, err)
	}
	return NewKeyWallet(key.PrivateKey, confirm), nil
}

// Address returns the wallet's checksummed address
func (w *KeyWallet) Address(ctx context.Context) (string, error) {
	return w.address, nil
}

// Connect returns the wallet's address; a local key is always connected
func (w *KeyWallet) Connect(ctx context.Context) (string, error) {
	return w.address, nil
}

// SignMessage signs text with personal_sign semantics after confirmation
func (w *KeyWallet) SignMessage(ctx context.Context, address, text string) (string, error) {
	if !strings.EqualFold(address, w.address) {
		return "", fmt.Errorf("wallet does not hold account %s", address)
	}
	if w.confirm != nil {
		ok, err := w.confirm(ctx, w.address, text)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ports.ErrUserRejected
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return eth.SignText(w.key, text)
}

// Unavailable is the wallet capability of an environment with no wallet
// installed
type Unavailable struct{}

func (Unavailable) Address(ctx context.Context) (string, error) {
	return "", ports.ErrNoWallet
}

func (Unavailable) Connect(ctx context.Context) (string, error) {
	return "", ports.ErrNoWallet
}

func (Unavailable) SignMessage(ctx context.Context, address, text string) (string, error) {
	return "", ports.ErrNoWallet
}
