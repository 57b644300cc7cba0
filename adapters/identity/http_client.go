package identity

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// Endpoint paths of the identity service
const (
	PathLogin          = "/auth/login"
	PathSignup         = "/auth/signup"
	PathWhoAmI         = "/users"
	PathFederatedLogin = "/auth/federated-login"
	PathNonce          = "/auth/nonce"
	PathWalletLogin    = "/auth/wallet-login"
	PathWalletLink     = "/auth/wallet-link"
)

// Operation names used in errors and logs
const (
	OpLogin          = "login"
	OpSignup         = "signup"
	OpWhoAmI         = "whoami"
	OpFederatedLogin = "federated-login"
	OpRequestNonce   = "request-nonce"
	OpWalletLogin    = "wallet-login"
	OpWalletLink     = "wallet-link"
)

// envelope is the response wrapper used by every endpoint
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Nonce   string          `json:"nonce,omitempty"`
}

type authData struct {
	User        *core.User `json:"user"`
	AccessToken string     `json:"access_token"`
}

type userData struct {
	User *core.User `json:"user"`
}

// HTTPClient implements the IdentityService interface over HTTP/JSON
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the identity service at baseURL
func NewHTTPClient(baseURL string, timeout time.Duration, allowInsecure bool) ports.IdentityService {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: allowInsecure, // nolint: gosec
				},
			},
		},
	}
}

// outboundRequest describes one call to the identity service
type outboundRequest struct {
	op          string
	method      string
	path        string
	bearer      string
	body        interface{}
	classify    func(status int, message string) error
	requireData bool
}

// Login exchanges an email and password for a session
func (c *HTTPClient) Login(ctx context.Context, email, password string) (core.AuthResult, error) {
	return c.authenticate(ctx, OpLogin, PathLogin, map[string]string{
		"email":    email,
		"password": password,
	}, classifyCredential)
}

// Signup registers a new account and returns its session
func (c *HTTPClient) Signup(ctx context.Context, username, email, password string) (core.AuthResult, error) {
	return c.authenticate(ctx, OpSignup, PathSignup, map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, classifyCredential)
}

// FederatedLogin exchanges a federated id token for a session
func (c *HTTPClient) FederatedLogin(ctx context.Context, idToken string) (core.AuthResult, error) {
	return c.authenticate(ctx, OpFederatedLogin, PathFederatedLogin, map[string]string{
		"idToken": idToken,
	}, classifyCredential)
}

// WalletLogin exchanges a signed challenge for a session
func (c *HTTPClient) WalletLogin(ctx context.Context, address, signature string) (core.AuthResult, error) {
	return c.authenticate(ctx, OpWalletLogin, PathWalletLogin, map[string]string{
		"address":   address,
		"signature": signature,
	}, classifyWallet)
}

// WhoAmI returns the user a credential belongs to
func (c *HTTPClient) WhoAmI(ctx context.Context, credential string) (core.User, error) {
	var user core.User
	err := c.execute(ctx, outboundRequest{
		op:          OpWhoAmI,
		method:      http.MethodGet,
		path:        PathWhoAmI,
		bearer:      credential,
		classify:    classifyCredential,
		requireData: true,
	}, &user)
	if err != nil {
		return core.User{}, err
	}
	if user.ID == "" {
		return core.User{}, malformed(OpWhoAmI, "user id missing")
	}
	return user, nil
}

// RequestNonce asks for a fresh challenge nonce for address
func (c *HTTPClient) RequestNonce(ctx context.Context, address string) (string, error) {
	var data struct {
		Nonce string `json:"nonce"`
	}
	env, err := c.do(ctx, outboundRequest{
		op:     OpRequestNonce,
		method: http.MethodPost,
		path:   PathNonce,
		body:   map[string]string{"address": address},
		classify: func(status int, message string) error {
			return core.ErrChallengeRequestFailed
		},
	})
	if err != nil {
		return "", err
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", malformed(OpRequestNonce, "nonce payload")
		}
	}
	nonce := data.Nonce
	if nonce == "" {
		nonce = env.Nonce
	}
	if nonce == "" {
		return "", &core.Error{Op: OpRequestNonce, Kind: core.ErrChallengeRequestFailed, Message: "no nonce issued"}
	}
	return nonce, nil
}

// WalletLink associates address with the user owning credential
func (c *HTTPClient) WalletLink(ctx context.Context, credential, address, signature string) (core.User, error) {
	var data userData
	err := c.execute(ctx, outboundRequest{
		op:          OpWalletLink,
		method:      http.MethodPost,
		path:        PathWalletLink,
		bearer:      credential,
		body:        map[string]string{"address": address, "signature": signature},
		classify:    classifyWalletLink,
		requireData: true,
	}, &data)
	if err != nil {
		return core.User{}, err
	}
	if data.User == nil || data.User.ID == "" {
		return core.User{}, malformed(OpWalletLink, "user missing")
	}
	return *data.User, nil
}

func (c *HTTPClient) authenticate(
	ctx context.Context,
	op string,
	path string,
	body interface{},
	classify func(int, string) error,
) (core.AuthResult, error) {
	var data authData
	err := c.execute(ctx, outboundRequest{
		op:          op,
		method:      http.MethodPost,
		path:        path,
		body:        body,
		classify:    classify,
		requireData: true,
	}, &data)
	if err != nil {
		return core.AuthResult{}, err
	}
	if data.AccessToken == "" {
		return core.AuthResult{}, malformed(op, "access token missing")
	}
	if data.User == nil || data.User.ID == "" {
		return core.AuthResult{}, malformed(op, "user missing")
	}
	return core.AuthResult{User: *data.User, AccessToken: data.AccessToken}, nil
}

// execute performs req and decodes the envelope's data into respObj
func (c *HTTPClient) execute(ctx context.Context, req outboundRequest, respObj interface{}) error {
	env, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if req.requireData {
			return malformed(req.op, "data missing")
		}
		return nil
	}
	if err := json.Unmarshal(env.Data, respObj); err != nil {
		return malformed(req.op, "undecodable data")
	}
	return nil
}

// do sends req and returns the decoded envelope of a successful response, or
// a classified *core.Error
func (c *HTTPClient) do(ctx context.Context, req outboundRequest) (*envelope, error) {
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", req.op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.bearer)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &core.Error{Op: req.op, Kind: core.ErrTransport, Err: ctxErr}
		}
		return nil, &core.Error{Op: req.op, Kind: core.ErrTransport, Err: redactURLError(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &core.Error{Op: req.op, Kind: core.ErrTransport, StatusCode: resp.StatusCode, Err: err}
	}

	env := &envelope{}
	decodeErr := json.Unmarshal(raw, env)

	if resp.StatusCode >= 500 {
		return nil, &core.Error{Op: req.op, Kind: core.ErrTransport, StatusCode: resp.StatusCode, Message: env.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.Error{
			Op:         req.op,
			Kind:       req.classify(resp.StatusCode, env.Message),
			StatusCode: resp.StatusCode,
			Message:    env.Message,
		}
	}
	if decodeErr != nil {
		return nil, malformed(req.op, "undecodable envelope")
	}
	if env.Status != 0 && env.Status != http.StatusOK {
		return nil, &core.Error{
			Op:         req.op,
			Kind:       req.classify(env.Status, env.Message),
			StatusCode: env.Status,
			Message:    env.Message,
		}
	}
	return env, nil
}

// classifyCredential maps 4xx responses of credential-based operations
func classifyCredential(status int, message string) error {
	return core.ErrInvalidCredential
}

// classifyWallet maps 4xx responses of the wallet endpoints. The server's
// "Wallet not registered" message distinguishes a valid signature from an
// unknown identity.
func classifyWallet(status int, message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "not registered") || status == http.StatusNotFound:
		return core.ErrWalletNotRegistered
	case strings.Contains(lower, "nonce") || status == http.StatusGone:
		return core.ErrChallengeExpiredOrConsumed
	case status == http.StatusUnauthorized:
		return core.ErrInvalidSignature
	default:
		return core.ErrInvalidCredential
	}
}

// classifyWalletLink is classifyWallet for requests carrying a bearer, whose
// rejection is reported as an invalid credential rather than a bad signature
func classifyWalletLink(status int, message string) error {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "authoriz") || strings.Contains(lower, "token") {
		return core.ErrInvalidCredential
	}
	return classifyWallet(status, message)
}

func malformed(op, detail string) error {
	return &core.Error{Op: op, Kind: core.ErrTransport, Err: fmt.Errorf("malformed response: %s", detail)}
}

// redactURLError drops the request URL from transport errors; the URL is
// configuration, not something a user-facing message needs
func redactURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
