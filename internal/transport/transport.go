// Package transport performs the devauth engines' HTTP calls: the
// connectivity probe, DCR registration, token exchange and refresh,
// and the authenticated user-info fetch.
//
// Failures are classified, never swallowed: non-2xx responses become
// oauth.ProtocolError carrying the server's message and status, and
// connectivity or decoding failures become oauth.TransportError
// carrying the cause. The engines depend on the Client interface so
// tests can substitute stubs.
package transport

import (
	"context"

	"devauth/pkg/oauth"
)

// SystemInfo is the payload of the unauthenticated system-info probe.
type SystemInfo struct {
	ServerName string `json:"serverName,omitempty"`
	Version    string `json:"version,omitempty"`
}

// ExchangeRequest carries the parameters of an authorization-code
// token exchange.
type ExchangeRequest struct {
	Code            string
	RedirectURI     string
	ClientID        string
	ClientAssertion string
	CodeVerifier    string
}

// RefreshRequest carries the parameters of a refresh-token grant.
type RefreshRequest struct {
	RefreshToken    string
	ClientID        string
	ClientAssertion string
}

// Client is the HTTP surface consumed by the engines. All URLs are
// relative to the caller-supplied base server URL.
type Client interface {
	// ProbeSystemInfo performs the unauthenticated connectivity probe.
	ProbeSystemInfo(ctx context.Context, serverURL string) (*SystemInfo, error)

	// RegisterClient posts the DCR request, bearer-authenticated with
	// the raw initial access token.
	RegisterClient(ctx context.Context, serverURL, iat string, req *oauth.ClientRegistrationRequest) (*oauth.ClientRegistrationResponse, error)

	// ExchangeCode redeems an authorization code at the token endpoint
	// with private_key_jwt client authentication and the PKCE verifier.
	ExchangeCode(ctx context.Context, serverURL string, req ExchangeRequest) (*oauth.Token, error)

	// RefreshToken obtains a new access token via the refresh_token
	// grant with private_key_jwt client authentication.
	RefreshToken(ctx context.Context, serverURL string, req RefreshRequest) (*oauth.Token, error)

	// FetchUserInfo performs the bearer-authenticated user-info call.
	FetchUserInfo(ctx context.Context, serverURL, accessToken string) (*oauth.UserInfo, error)
}
