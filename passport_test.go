package passport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/config"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identityserver"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/service"
)

func newInProcessIdentity(t *testing.T) *identityserver.Service {
	t.Helper()
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tok := tokenizer.NewJWTTokenizer(signKey, nil, time.Hour)
	return identityserver.NewService(tok, store.NewMemoryNonceStore(), identityserver.WithBcryptCost(bcrypt.MinCost))
}

func TestNew(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg, err := config.LoadClientFrom(map[string]string{
		"STORE":      config.StoreMemory,
		"EVENTS":     config.EventsMemory,
		"WALLET_KEY": hexutil.Encode(crypto.FromECDSA(key)),
	})
	require.NoError(t, err)

	var flowStates []service.FlowState
	p, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithIdentityService(newInProcessIdentity(t)),
		WithFlowObserver(func(s service.FlowState) { flowStates = append(flowStates, s) }),
	)
	require.NoError(t, err)
	defer p.Close()

	messages, err := p.Transitions(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Hydrate(ctx))
	assert.Equal(t, service.Redirect, p.Guard.Evaluate(p.Session().Status))

	user, err := p.Signup(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, service.Allow, p.Guard.Evaluate(p.Session().Status))

	linked, err := p.LinkWalletFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, eth.AddressOf(key), linked.WalletAddress)
	assert.Equal(t, user.ID, linked.ID)
	assert.Equal(t, service.FlowSuccess, flowStates[len(flowStates)-1])

	// hydrate, signup and link each publish two transitions
	ops := map[string]int{}
	for i := 0; i < 6; i++ {
		select {
		case msg := <-messages:
			msg.Ack()
			transition, err := events.DecodeTransition(msg)
			require.NoError(t, err)
			ops[transition.Op]++
		case <-ctx.Done():
			t.Fatalf("only %d transitions delivered", i)
		}
	}
	assert.Equal(t, map[string]int{"hydrate": 2, "signup": 2, "link-wallet": 2}, ops)
}

func TestNewWithoutWallet(t *testing.T) {
	cfg, err := config.LoadClientFrom(map[string]string{
		"STORE":  config.StoreMemory,
		"EVENTS": config.EventsNone,
	})
	require.NoError(t, err)

	p, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithIdentityService(newInProcessIdentity(t)))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.LoginWithWalletFlow(context.Background())
	require.ErrorIs(t, err, ErrWalletUnavailable)
	assert.Equal(t, core.StatusError, p.Session().Status)

	_, err = p.Transitions(context.Background())
	assert.Error(t, err)
}

func TestNewRejectsBadWalletKey(t *testing.T) {
	cfg, err := config.LoadClientFrom(map[string]string{
		"STORE":      config.StoreMemory,
		"WALLET_KEY": "not-hex",
	})
	require.NoError(t, err)

	_, err = New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
