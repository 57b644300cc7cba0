package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/ports"
)

// FlowState is a step of the wallet challenge flow
type FlowState int

const (
	FlowIdle FlowState = iota
	FlowWalletConnecting
	FlowNonceRequested
	FlowAwaitingSignature
	FlowVerifying
	FlowSuccess
	FlowFailed
)

var flowStateNames = map[FlowState]string{
	FlowIdle:              "idle",
	FlowWalletConnecting:  "wallet-connecting",
	FlowNonceRequested:    "nonce-requested",
	FlowAwaitingSignature: "awaiting-signature",
	FlowVerifying:         "verifying",
	FlowSuccess:           "success",
	FlowFailed:            "failed",
}

func (s FlowState) String() string {
	if name, ok := flowStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("flow-state(%d)", int(s))
}

// Flow step names used as core.Error.Op
const (
	StepConnect = "wallet-connect"
	StepNonce   = "request-nonce"
	StepSign    = "sign-message"
)

// Verifier submits a signed challenge to the identity service
type Verifier func(ctx context.Context, address, signature string) error

// ChallengeAttempt is what one run of the flow produced
type ChallengeAttempt struct {
	ID        string
	Challenge core.Challenge
	Signature string
	State     FlowState
}

// ChallengeFlow drives one wallet challenge: connect, request a nonce, sign
// it and hand the signature to a verifier. Nothing is cached between runs.
type ChallengeFlow struct {
	identity ports.IdentityService
	wallet   ports.Wallet
	observer func(FlowState)
	now      func() time.Time
}

// NewChallengeFlow creates a flow. wallet may be nil, in which case every run
// fails with core.ErrWalletUnavailable.
func NewChallengeFlow(identity ports.IdentityService, wallet ports.Wallet) *ChallengeFlow {
	return &ChallengeFlow{
		identity: identity,
		wallet:   wallet,
		now:      time.Now,
	}
}

// Observe sets the state observer
func (f *ChallengeFlow) Observe(observer func(FlowState)) {
	f.observer = observer
}

// Run executes the flow and returns the attempt. On failure the returned
// attempt is in FlowFailed and the error carries one of the core kinds.
func (f *ChallengeFlow) Run(ctx context.Context, verify Verifier) (ChallengeAttempt, error) {
	attempt := ChallengeAttempt{ID: uuid.New().String(), State: FlowIdle}
	failed := func(err error) (ChallengeAttempt, error) {
		f.enter(&attempt, FlowFailed)
		return attempt, err
	}

	f.enter(&attempt, FlowWalletConnecting)
	address, err := f.connect(ctx)
	if err != nil {
		return failed(err)
	}

	f.enter(&attempt, FlowNonceRequested)
	nonce, err := f.identity.RequestNonce(ctx, address)
	if err != nil {
		if errors.Is(err, core.ErrChallengeRequestFailed) {
			return failed(err)
		}
		return failed(&core.Error{Op: StepNonce, Kind: core.ErrChallengeRequestFailed, Err: err})
	}
	if nonce == "" {
		return failed(core.NewError(StepNonce, core.ErrChallengeRequestFailed, "empty nonce"))
	}
	attempt.Challenge = core.Challenge{
		Address:  address,
		Nonce:    nonce,
		Message:  eth.NonceMessage(nonce),
		IssuedAt: f.now(),
	}

	f.enter(&attempt, FlowAwaitingSignature)
	signature, err := f.sign(ctx, attempt.Challenge)
	if err != nil {
		return failed(err)
	}
	attempt.Signature = signature

	f.enter(&attempt, FlowVerifying)
	if err := verify(ctx, address, signature); err != nil {
		return failed(err)
	}

	f.enter(&attempt, FlowSuccess)
	return attempt, nil
}

// connect returns the checksummed address of the wallet's account
func (f *ChallengeFlow) connect(ctx context.Context) (string, error) {
	if f.wallet == nil {
		return "", core.NewError(StepConnect, core.ErrWalletUnavailable, "")
	}

	raw, err := f.wallet.Address(ctx)
	if err != nil {
		return "", walletError(ctx, StepConnect, err)
	}
	if raw == "" {
		if raw, err = f.wallet.Connect(ctx); err != nil {
			return "", walletError(ctx, StepConnect, err)
		}
	}
	if raw == "" {
		return "", core.NewError(StepConnect, core.ErrWalletUnavailable, "no account selected")
	}

	address, err := eth.ChecksumAddress(raw)
	if err != nil {
		return "", &core.Error{Op: StepConnect, Kind: core.ErrAddressMismatch, Err: err}
	}
	return address, nil
}

// sign asks the wallet to sign the challenge. The wallet's account is
// re-read first and the signer is recovered afterwards; both must be the
// challenge address.
func (f *ChallengeFlow) sign(ctx context.Context, challenge core.Challenge) (string, error) {
	raw, err := f.wallet.Address(ctx)
	if err != nil {
		return "", walletError(ctx, StepSign, err)
	}
	current, err := eth.ChecksumAddress(raw)
	if err != nil || current != challenge.Address {
		return "", core.NewError(StepSign, core.ErrAddressMismatch, "wallet account changed")
	}

	signature, err := f.wallet.SignMessage(ctx, challenge.Address, challenge.Message)
	if err != nil {
		return "", walletError(ctx, StepSign, err)
	}

	signer, err := eth.RecoverTextSigner(challenge.Message, signature)
	if err != nil {
		return "", &core.Error{Op: StepSign, Kind: core.ErrAddressMismatch, Err: err}
	}
	if signer != challenge.Address {
		return "", core.NewError(StepSign, core.ErrAddressMismatch, "signature was not produced by the challenge address")
	}
	return signature, nil
}

func (f *ChallengeFlow) enter(attempt *ChallengeAttempt, state FlowState) {
	attempt.State = state
	if f.observer != nil {
		f.observer(state)
	}
}

// walletError classifies a wallet failure. Cancellation is returned as is.
func walletError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, ports.ErrUserRejected):
		return &core.Error{Op: op, Kind: core.ErrSignatureRejected, Err: err}
	default:
		return &core.Error{Op: op, Kind: core.ErrWalletUnavailable, Err: err}
	}
}
