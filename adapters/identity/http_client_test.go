package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(server.URL+"/", 5*time.Second, false).(*HTTPClient)
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, httpStatus int, message string, data interface{}) {
	t.Helper()
	body := map[string]interface{}{"status": httpStatus, "message": message}
	if data != nil {
		body["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func decodeBody(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	body := map[string]string{}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestHTTPClientLogin(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, PathLogin, r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Empty(t, r.Header.Get("Authorization"))
		body := decodeBody(t, r)
		require.Equal(t, "ada@example.com", body["email"])
		require.Equal(t, "hunter2", body["password"])

		writeEnvelope(t, w, http.StatusOK, "ok", map[string]interface{}{
			"user":         core.User{ID: "u1", Username: "ada", Email: "ada@example.com"},
			"access_token": "tok",
		})
	})

	result, err := client.Login(context.Background(), "ada@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok", result.AccessToken)
	assert.Equal(t, "u1", result.User.ID)
}

func TestHTTPClientLoginFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		message  string
		data     interface{}
		wantKind error
		wantMsg  string
	}{
		{
			name:     "bad password",
			status:   http.StatusUnauthorized,
			message:  "Invalid email or password",
			wantKind: core.ErrInvalidCredential,
			wantMsg:  "Invalid email or password",
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			wantKind: core.ErrTransport,
		},
		{
			name:     "missing token",
			status:   http.StatusOK,
			data:     map[string]interface{}{"user": core.User{ID: "u1"}},
			wantKind: core.ErrTransport,
		},
		{
			name:     "missing data",
			status:   http.StatusOK,
			wantKind: core.ErrTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, tt.status, tt.message, tt.data)
			})
			_, err := client.Login(context.Background(), "a@b.c", "pw")
			require.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantMsg, core.ServerMessage(err))
		})
	}
}

func TestHTTPClientEnvelopeStatusMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":409,"message":"Email already registered"}`)
	})
	_, err := client.Signup(context.Background(), "ada", "ada@example.com", "pw")
	require.ErrorIs(t, err, core.ErrInvalidCredential)
	assert.Equal(t, "Email already registered", core.ServerMessage(err))
}

func TestHTTPClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	client := NewHTTPClient(server.URL, time.Second, false)

	_, err := client.Login(context.Background(), "a@b.c", "pw")
	require.ErrorIs(t, err, core.ErrTransport)
	assert.NotContains(t, err.Error(), "pw")
}

func TestHTTPClientWhoAmI(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, PathWhoAmI, r.URL.Path)
		if r.Header.Get("Authorization") != "Bearer good" {
			writeEnvelope(t, w, http.StatusUnauthorized, "Invalid token", nil)
			return
		}
		writeEnvelope(t, w, http.StatusOK, "ok", core.User{
			ID: "u1", Username: "ada", Email: "ada@example.com", WalletAddress: testAddress,
		})
	})

	user, err := client.WhoAmI(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, testAddress, user.WalletAddress)

	_, err = client.WhoAmI(context.Background(), "expired")
	require.ErrorIs(t, err, core.ErrInvalidCredential)
	assert.NotContains(t, err.Error(), "expired")
}

func TestHTTPClientRequestNonce(t *testing.T) {
	t.Run("nonce in data", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, PathNonce, r.URL.Path)
			require.Equal(t, testAddress, decodeBody(t, r)["address"])
			writeEnvelope(t, w, http.StatusOK, "ok", map[string]string{"nonce": "abc"})
		})
		nonce, err := client.RequestNonce(context.Background(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "abc", nonce)
	})

	t.Run("top level nonce", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"nonce":"xyz"}`)
		})
		nonce, err := client.RequestNonce(context.Background(), testAddress)
		require.NoError(t, err)
		assert.Equal(t, "xyz", nonce)
	})

	t.Run("no nonce", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(t, w, http.StatusOK, "ok", map[string]string{})
		})
		_, err := client.RequestNonce(context.Background(), testAddress)
		require.ErrorIs(t, err, core.ErrChallengeRequestFailed)
	})

	t.Run("rejected", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(t, w, http.StatusBadRequest, "Invalid address", nil)
		})
		_, err := client.RequestNonce(context.Background(), "nope")
		require.ErrorIs(t, err, core.ErrChallengeRequestFailed)
	})
}

func TestHTTPClientWalletErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		message  string
		wantKind error
	}{
		{http.StatusNotFound, "Wallet not registered", core.ErrWalletNotRegistered},
		{http.StatusBadRequest, "wallet NOT REGISTERED", core.ErrWalletNotRegistered},
		{http.StatusGone, "Nonce expired or consumed", core.ErrChallengeExpiredOrConsumed},
		{http.StatusBadRequest, "nonce already used", core.ErrChallengeExpiredOrConsumed},
		{http.StatusUnauthorized, "Invalid signature", core.ErrInvalidSignature},
		{http.StatusUnauthorized, "Unauthorized", core.ErrInvalidSignature},
		{http.StatusUnauthorized, "Token expired", core.ErrInvalidSignature},
		{http.StatusBadRequest, "Bad request", core.ErrInvalidCredential},
		{http.StatusInternalServerError, "boom", core.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, tt.status, tt.message, nil)
			})
			_, err := client.WalletLogin(context.Background(), testAddress, "0xsig")
			require.ErrorIs(t, err, tt.wantKind)
		})
	}
}

func TestHTTPClientWalletLink(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, PathWalletLink, r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		body := decodeBody(t, r)
		require.Equal(t, testAddress, body["address"])
		require.Equal(t, "0xsig", body["signature"])
		writeEnvelope(t, w, http.StatusOK, "ok", map[string]interface{}{
			"user": core.User{ID: "u1", Username: "ada", WalletAddress: testAddress},
		})
	})

	user, err := client.WalletLink(context.Background(), "tok", testAddress, "0xsig")
	require.NoError(t, err)
	assert.Equal(t, testAddress, user.WalletAddress)
}

func TestHTTPClientWalletLinkErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		message  string
		wantKind error
	}{
		{http.StatusUnauthorized, "Unauthorized", core.ErrInvalidCredential},
		{http.StatusUnauthorized, "Token expired", core.ErrInvalidCredential},
		{http.StatusUnauthorized, "Invalid signature", core.ErrInvalidSignature},
		{http.StatusGone, "Nonce expired or consumed", core.ErrChallengeExpiredOrConsumed},
		{http.StatusConflict, "Wallet already linked to another account", core.ErrInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(t, w, tt.status, tt.message, nil)
			})
			_, err := client.WalletLink(context.Background(), "tok", testAddress, "0xsig")
			require.ErrorIs(t, err, tt.wantKind)
		})
	}
}

func TestHTTPClientFederatedLogin(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, PathFederatedLogin, r.URL.Path)
		require.Equal(t, "id-token", decodeBody(t, r)["idToken"])
		writeEnvelope(t, w, http.StatusOK, "ok", map[string]interface{}{
			"user":         core.User{ID: "g1", Email: "g@example.com"},
			"access_token": "tok",
		})
	})

	result, err := client.FederatedLogin(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, "g1", result.User.ID)
}
