package passport

import (
	"github.com/layer-3/passport/core"
)

// Error kinds returned by Client operations, for use with errors.Is
var (
	ErrTransport                  = core.ErrTransport
	ErrInvalidCredential          = core.ErrInvalidCredential
	ErrWalletUnavailable          = core.ErrWalletUnavailable
	ErrSignatureRejected          = core.ErrSignatureRejected
	ErrChallengeExpiredOrConsumed = core.ErrChallengeExpiredOrConsumed
	ErrChallengeRequestFailed     = core.ErrChallengeRequestFailed
	ErrWalletNotRegistered        = core.ErrWalletNotRegistered
	ErrInvalidSignature           = core.ErrInvalidSignature
	ErrAddressMismatch            = core.ErrAddressMismatch
	ErrPreconditionFailed         = core.ErrPreconditionFailed
	ErrSuperseded                 = core.ErrSuperseded
)
