package service

import (
	"context"
	"errors"

	"github.com/layer-3/passport/core"
)

// GenericMessage is shown when nothing more specific is known
const GenericMessage = "Something went wrong. Please try again."

var kindMessages = []struct {
	kind    error
	message string
}{
	{core.ErrPreconditionFailed, "You need to be signed in to do that."},
	{core.ErrWalletUnavailable, "No wallet is available. Install or unlock a wallet and try again."},
	{core.ErrSignatureRejected, "The signature request was rejected in your wallet."},
	{core.ErrAddressMismatch, "The wallet account changed while signing. Please try again."},
	{core.ErrChallengeRequestFailed, "Could not start wallet sign-in. Please try again."},
	{core.ErrChallengeExpiredOrConsumed, "That sign-in request has expired. Please sign again."},
	{core.ErrWalletNotRegistered, "This wallet is not linked to an account. Sign in another way and link it first."},
	{core.ErrInvalidSignature, "The wallet signature could not be verified."},
	{core.ErrInvalidCredential, "Invalid credentials."},
	{core.ErrTransport, "Could not reach the server. Check your connection and try again."},
	{core.ErrSuperseded, "This request was replaced by a newer one."},
}

// UserMessage turns an operation error into text for the user: the server's
// message when there is one, otherwise a message for the error kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if msg := core.ServerMessage(err); msg != "" {
		return msg
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "The request was cancelled."
	}
	for _, km := range kindMessages {
		if errors.Is(err, km.kind) {
			return km.message
		}
	}
	return GenericMessage
}
