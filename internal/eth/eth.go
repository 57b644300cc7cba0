// Package eth holds the Ethereum primitives shared by the wallet challenge
// client and the reference identity service: EIP-55 address normalization,
// the nonce message both sides sign over, and EIP-191 text signatures.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidAddress   = errors.New("invalid ethereum address")
	ErrInvalidChecksum  = errors.New("address casing is not a valid checksum")
	ErrInvalidSignature = errors.New("invalid signature")
)

// ChecksumAddress returns the EIP-55 form of raw. All-lower and all-upper hex
// carry no checksum and are accepted; mixed case must already be the exact
// checksum, anything else is rejected rather than corrected.
func ChecksumAddress(raw string) (string, error) {
	if !common.IsHexAddress(raw) {
		return "", ErrInvalidAddress
	}
	checksummed := common.HexToAddress(raw).Hex()
	body := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && "0x"+body != checksummed {
		return "", ErrInvalidChecksum
	}
	return checksummed, nil
}

// NonceMessage derives the text a wallet signs for a nonce. The identity
// service re-derives it to verify, so it must never change independently on
// one side; wallets sign the nonce itself.
func NonceMessage(nonce string) string {
	return nonce
}

// SignText produces a personal_sign (EIP-191) signature over text, hex
// encoded with V in {27, 28} as browser wallets return it.
func SignText(key *ecdsa.PrivateKey, text string) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverTextSigner returns the checksummed address that produced signature
// over text
func RecoverTextSigner(text, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", ErrInvalidSignature)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, ErrInvalidSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(text)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", ErrInvalidSignature)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifyTextSignature checks that signature over text was produced by address.
// address is compared in checksummed form.
func VerifyTextSignature(text, signature, address string) error {
	expected, err := ChecksumAddress(address)
	if err != nil {
		return err
	}
	signer, err := RecoverTextSigner(text, signature)
	if err != nil {
		return err
	}
	if signer != expected {
		return ErrInvalidSignature
	}
	return nil
}

// AddressOf returns the checksummed address of key
func AddressOf(key *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}
