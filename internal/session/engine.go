// Package session manages the login session lifecycle: the PKCE
// authorization-code flow, token exchange and refresh with
// private_key_jwt client authentication, and the authenticated
// user-info lookup.
//
// The engine never hands out a stale access token knowingly: UserInfo
// refreshes lazily when the stored token has expired, and concurrent
// refreshes collapse into a single token-endpoint call so a rotated
// refresh token is never spent twice.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"devauth/internal/assertion"
	"devauth/internal/credstore"
	"devauth/internal/transport"
	"devauth/pkg/oauth"
)

const (
	authorizePath = "/oauth2/authorize"
	tokenPath     = "/oauth2/token"
)

// ErrNotRegistered is returned when a session operation requires a
// registered device and none exists.
var ErrNotRegistered = oauth.NewValidationError("device is not registered")

// ErrNotLoggedIn is returned when a session operation requires a
// stored token set and none exists.
var ErrNotLoggedIn = oauth.NewValidationError("no active session")

// Engine orchestrates login, token refresh, and user-info lookups for
// a registered device.
type Engine struct {
	creds     *credstore.Store
	signer    *assertion.Signer
	transport transport.Client
	now       func() time.Time

	// single collapses concurrent refresh attempts: with refresh-token
	// rotation, two racing refreshes would invalidate each other.
	single singleflight.Group
}

// NewEngine creates a session engine over the given store, assertion
// signer, and transport.
func NewEngine(creds *credstore.Store, signer *assertion.Signer, tc transport.Client) *Engine {
	return &Engine{
		creds:     creds,
		signer:    signer,
		transport: tc,
		now:       time.Now,
	}
}

// WithClock overrides the engine's time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// BuildAuthorizationURL constructs the authorization endpoint URL for
// the user-agent. Pure function, no I/O.
func (e *Engine) BuildAuthorizationURL(serverURL, clientID, redirectURI, state, codeChallenge string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/") + authorizePath)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	query := url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {redirectURI},
		"scope":                 {oauth.DefaultScope},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {oauth.CodeChallengeMethodS256},
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// BeginLogin mints a fresh PKCE pair and CSRF state, records the
// pending login (overwriting any earlier attempt: last request wins),
// and returns the authorization URL to open in the user-agent. The
// code verifier never leaves the store.
func (e *Engine) BeginLogin(redirectURI string) (string, error) {
	reg, ok := e.creds.Registration()
	if !ok {
		return "", ErrNotRegistered
	}

	pkce, err := oauth.GeneratePKCE()
	if err != nil {
		return "", err
	}

	state, err := oauth.NewState()
	if err != nil {
		return "", err
	}

	if err := e.creds.SavePendingFlow(credstore.FlowLogin, credstore.PendingFlow{
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
		ServerURL:    reg.ServerURL,
		CreatedAt:    e.now(),
	}); err != nil {
		return "", fmt.Errorf("failed to record pending login: %w", err)
	}

	return e.BuildAuthorizationURL(reg.ServerURL, reg.ClientID, redirectURI, state, pkce.CodeChallenge)
}

// HandleLoginCallback validates the authorization redirect against the
// pending login state and exchanges the code for tokens. The pending
// entry is consumed whether validation succeeds or not; a state
// mismatch is a hard rejection requiring the flow to be restarted.
func (e *Engine) HandleLoginCallback(ctx context.Context, redirectURI string, params *oauth.CallbackParams) error {
	pending, ok := e.creds.TakePendingFlow(credstore.FlowLogin)
	if !ok {
		return oauth.NewValidationError("no login in progress")
	}

	if params.IsError() {
		if params.ErrorDescription != "" {
			return &oauth.ProtocolError{Message: params.Error + ": " + params.ErrorDescription}
		}
		return &oauth.ProtocolError{Message: params.Error}
	}

	if params.State == "" || params.State != pending.State {
		slog.Warn("SECURITY_AUDIT: login state mismatch",
			"event", "login_state_mismatch",
			"expected_state_len", len(pending.State),
			"received_state_len", len(params.State),
		)
		return oauth.NewValidationError("state mismatch on login callback")
	}

	if params.Code == "" {
		return oauth.NewValidationError("login callback carries no authorization code")
	}

	return e.ExchangeCodeForToken(ctx, params.Code, pending.CodeVerifier, redirectURI)
}

// ExchangeCodeForToken redeems an authorization code with the PKCE
// verifier and a fresh client assertion, then persists the resulting
// token set wholesale.
func (e *Engine) ExchangeCodeForToken(ctx context.Context, code, codeVerifier, redirectURI string) error {
	reg, ok := e.creds.Registration()
	if !ok {
		return ErrNotRegistered
	}

	clientAssertion, err := e.buildAssertion(reg)
	if err != nil {
		return err
	}

	token, err := e.transport.ExchangeCode(ctx, reg.ServerURL, transport.ExchangeRequest{
		Code:            code,
		RedirectURI:     redirectURI,
		ClientID:        reg.ClientID,
		ClientAssertion: clientAssertion,
		CodeVerifier:    codeVerifier,
	})
	if err != nil {
		return err
	}

	return e.creds.SaveTokens(credstore.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
	})
}

// RefreshAccessToken obtains a fresh access token via the
// refresh_token grant. Concurrent callers join the in-flight refresh
// and share its outcome. If the server does not rotate the refresh
// token, the stored one is retained.
func (e *Engine) RefreshAccessToken(ctx context.Context) error {
	_, err, _ := e.single.Do("refresh", func() (any, error) {
		return nil, e.refreshAccessToken(ctx)
	})
	return err
}

func (e *Engine) refreshAccessToken(ctx context.Context) error {
	reg, ok := e.creds.Registration()
	if !ok {
		return ErrNotRegistered
	}

	ts, ok := e.creds.Tokens()
	if !ok {
		return ErrNotLoggedIn
	}
	if ts.RefreshToken == "" {
		return oauth.NewValidationError("session has no refresh token")
	}

	clientAssertion, err := e.buildAssertion(reg)
	if err != nil {
		return err
	}

	token, err := e.transport.RefreshToken(ctx, reg.ServerURL, transport.RefreshRequest{
		RefreshToken:    ts.RefreshToken,
		ClientID:        reg.ClientID,
		ClientAssertion: clientAssertion,
	})
	if err != nil {
		return err
	}

	// Rotation is server policy: absent a new refresh token, keep the
	// current one.
	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = ts.RefreshToken
	}

	return e.creds.SaveTokens(credstore.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    token.ExpiresAt,
	})
}

// UserInfo fetches the authenticated user's profile, refreshing the
// access token first when the stored one has expired. A failed refresh
// propagates unchanged; no user-info call is attempted with a token
// known to be stale.
func (e *Engine) UserInfo(ctx context.Context) (*oauth.UserInfo, error) {
	reg, ok := e.creds.Registration()
	if !ok {
		return nil, ErrNotRegistered
	}

	ts, ok := e.creds.Tokens()
	if !ok {
		return nil, ErrNotLoggedIn
	}

	if ts.Expired(e.now()) {
		if err := e.RefreshAccessToken(ctx); err != nil {
			return nil, err
		}
		if ts, ok = e.creds.Tokens(); !ok {
			return nil, ErrNotLoggedIn
		}
	}

	return e.transport.FetchUserInfo(ctx, reg.ServerURL, ts.AccessToken)
}

// IsLoggedIn reports whether a token set is stored. It does not probe
// the server; an expired access token with a refresh token still
// counts as logged in.
func (e *Engine) IsLoggedIn() bool {
	_, ok := e.creds.Tokens()
	return ok
}

// Logout discards the local token set. The registration identity is
// untouched; no server call is made.
func (e *Engine) Logout() error {
	if err := e.creds.ClearTokens(); err != nil {
		return err
	}
	return e.creds.ClearPendingFlow(credstore.FlowLogin)
}

// buildAssertion mints a fresh client assertion addressed to the
// server's token endpoint.
func (e *Engine) buildAssertion(reg *credstore.DeviceRegistration) (string, error) {
	audience := strings.TrimSuffix(reg.ServerURL, "/") + tokenPath
	return e.signer.BuildClientAssertion(reg.ClientID, audience, reg.KeyID, e.now(), assertion.DefaultAssertionTTL)
}
