package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/passport/adapters/identity"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/adapters/wallet"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identityserver"
	"github.com/layer-3/passport/internal/eth"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tok := tokenizer.NewJWTTokenizer(signKey, []byte("federation-secret"), time.Hour)
	svc := identityserver.NewService(tok, store.NewMemoryNonceStore(), identityserver.WithBcryptCost(bcrypt.MinCost))

	srv := httptest.NewServer(SetupRouter(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), nil))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) ports.IdentityService {
	return identity.NewHTTPClient(srv.URL, 5*time.Second, false)
}

func decodeEnvelope(t *testing.T, resp *http.Response) Envelope {
	t.Helper()
	defer resp.Body.Close()
	var env Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestRouter_Envelope(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/auth/nonce", "application/json", bytes.NewBufferString("{"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	assert.Equal(t, identityserver.MsgInvalidRequest, env.Message)

	resp, err = http.Get(srv.URL + "/users")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, http.StatusUnauthorized, env.Status)
	assert.Nil(t, env.Data)

	body, err := json.Marshal(map[string]string{"address": "0x52908400098527886E0F7030069857D2E4169EE7"})
	require.NoError(t, err)
	resp, err = http.Post(srv.URL+"/auth/nonce", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	assert.Equal(t, http.StatusOK, env.Status)
	data, ok := env.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, data["nonce"], 64)
}

func TestRouter_PasswordSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	st := store.NewMemoryStore()
	m := service.NewSessionManager(newClient(srv), st)

	user, err := m.Signup(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = m.Signup(ctx, "alice", "alice@example.com", "correct horse")
	require.ErrorIs(t, err, core.ErrInvalidCredential)
	assert.Equal(t, identityserver.MsgEmailTaken, service.UserMessage(err))
	assert.True(t, m.Session().IsAuthenticated())

	require.NoError(t, m.Logout(ctx))
	_, err = m.LoginWithPassword(ctx, "alice@example.com", "wrong password")
	require.ErrorIs(t, err, core.ErrInvalidCredential)
	assert.Equal(t, identityserver.MsgInvalidLogin, service.UserMessage(err))
	assert.Equal(t, core.StatusError, m.Session().Status)

	_, err = m.LoginWithPassword(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)

	// a new process restores the session from the stored credential
	restored := service.NewSessionManager(newClient(srv), st)
	require.NoError(t, restored.Hydrate(ctx))
	require.True(t, restored.Session().IsAuthenticated())
	assert.Equal(t, user.ID, restored.Session().User.ID)

	// and drops a credential the service no longer accepts
	require.NoError(t, st.Write(ctx, "garbage"))
	require.NoError(t, restored.Hydrate(ctx))
	assert.Equal(t, core.StatusUnauthenticated, restored.Session().Status)
	_, err = st.Read(ctx)
	assert.ErrorIs(t, err, core.ErrNoCredential)
}

func TestRouter_WalletLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	client := newClient(srv)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := eth.AddressOf(key)

	m := service.NewSessionManager(client, store.NewMemoryStore(), service.WithWallet(wallet.NewKeyWallet(key, nil)))

	// an unknown wallet is told apart from a bad signature
	_, err = m.LoginWithWalletFlow(ctx)
	require.ErrorIs(t, err, core.ErrWalletNotRegistered)
	assert.Equal(t, identityserver.MsgWalletNotFound, service.UserMessage(err))

	_, err = m.LinkWalletFlow(ctx)
	require.ErrorIs(t, err, core.ErrPreconditionFailed)

	account, err := m.Signup(ctx, "alice", "alice@example.com", "correct horse")
	require.NoError(t, err)

	linked, err := m.LinkWalletFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, address, linked.WalletAddress)
	assert.Equal(t, account.Email, linked.Email)
	assert.Equal(t, account.Username, linked.Username)

	require.NoError(t, m.Logout(ctx))
	user, err := m.LoginWithWalletFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, account.ID, user.ID)
	assert.Equal(t, address, user.WalletAddress)

	// replaying a signature over a consumed nonce
	nonce, err := client.RequestNonce(ctx, address)
	require.NoError(t, err)
	signature, err := eth.SignText(key, eth.NonceMessage(nonce))
	require.NoError(t, err)

	_, err = m.LoginWithWallet(ctx, address, signature)
	require.NoError(t, err)
	_, err = m.LoginWithWallet(ctx, address, signature)
	require.ErrorIs(t, err, core.ErrChallengeExpiredOrConsumed)
	assert.NotErrorIs(t, err, core.ErrWalletNotRegistered)
	assert.True(t, m.Session().IsAuthenticated())
}

func TestRouter_WalletLinkRequiresBearer(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	client := newClient(srv)

	_, err := client.WalletLink(ctx, "not-a-token", "0x52908400098527886E0F7030069857D2E4169EE7", "0x00")
	require.ErrorIs(t, err, core.ErrInvalidCredential)
}

func TestRouter_FederatedLogin(t *testing.T) {
	ctx := context.Background()
	gin.SetMode(gin.TestMode)
	secret := []byte("federation-secret")
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	svc := identityserver.NewService(tokenizer.NewJWTTokenizer(signKey, secret, time.Hour), store.NewMemoryNonceStore())
	srv := httptest.NewServer(SetupRouter(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), nil))
	defer srv.Close()

	idToken, err := tokenizer.SignFederatedToken(secret, core.FederatedIdentity{
		Subject: "oidc|42",
		Email:   "dave@example.com",
		Name:    "dave",
	}, time.Minute)
	require.NoError(t, err)

	m := service.NewSessionManager(newClient(srv), store.NewMemoryStore())
	user, err := m.LoginWithFederatedToken(ctx, idToken)
	require.NoError(t, err)
	assert.Equal(t, "dave@example.com", user.Email)

	_, err = m.LoginWithFederatedToken(ctx, "forged")
	require.ErrorIs(t, err, core.ErrInvalidCredential)
	// the earlier session survives a failed login
	assert.Equal(t, user.ID, m.Session().User.ID)
}
