package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"devauth/pkg/oauth"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	systemInfoPath   = "/api/system/info"
	registrationPath = "/connect/register"
	tokenPath        = "/oauth2/token"
	userInfoPath     = "/api/me"
)

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithHTTPClient sets a custom underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *HTTPClient) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// WithClock sets the time source used for token expiry calculation.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) {
		c.now = now
	}
}

// NewHTTPClient creates an HTTP transport client.
func NewHTTPClient(opts ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		logger:     slog.Default(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ProbeSystemInfo performs the unauthenticated connectivity probe.
func (c *HTTPClient) ProbeSystemInfo(ctx context.Context, serverURL string) (*SystemInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(serverURL, systemInfoPath), nil)
	if err != nil {
		return nil, &oauth.TransportError{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	info := &SystemInfo{}
	if err := c.doJSON(req, info); err != nil {
		return nil, err
	}
	return info, nil
}

// RegisterClient posts the DCR request with the IAT as bearer auth.
// No client assertion is used: no client exists yet.
func (c *HTTPClient) RegisterClient(ctx context.Context, serverURL, iat string, regReq *oauth.ClientRegistrationRequest) (*oauth.ClientRegistrationResponse, error) {
	body, err := json.Marshal(regReq)
	if err != nil {
		return nil, &oauth.TransportError{Err: fmt.Errorf("failed to encode registration request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(serverURL, registrationPath), bytes.NewReader(body))
	if err != nil {
		return nil, &oauth.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+iat)

	resp := &oauth.ClientRegistrationResponse{}
	if err := c.doJSON(req, resp); err != nil {
		return nil, err
	}

	if resp.ClientID == "" {
		return nil, &oauth.ProtocolError{Message: "registration response missing client_id"}
	}
	return resp, nil
}

// ExchangeCode redeems an authorization code at the token endpoint.
func (c *HTTPClient) ExchangeCode(ctx context.Context, serverURL string, exReq ExchangeRequest) (*oauth.Token, error) {
	data := url.Values{
		"grant_type":            {"authorization_code"},
		"code":                  {exReq.Code},
		"redirect_uri":          {exReq.RedirectURI},
		"client_id":             {exReq.ClientID},
		"client_assertion_type": {oauth.ClientAssertionType},
		"client_assertion":      {exReq.ClientAssertion},
		"code_verifier":         {exReq.CodeVerifier},
	}

	return c.doTokenRequest(ctx, serverURL, data)
}

// RefreshToken performs the refresh_token grant.
func (c *HTTPClient) RefreshToken(ctx context.Context, serverURL string, rfReq RefreshRequest) (*oauth.Token, error) {
	data := url.Values{
		"grant_type":            {"refresh_token"},
		"refresh_token":         {rfReq.RefreshToken},
		"client_id":             {rfReq.ClientID},
		"client_assertion_type": {oauth.ClientAssertionType},
		"client_assertion":      {rfReq.ClientAssertion},
	}

	return c.doTokenRequest(ctx, serverURL, data)
}

// FetchUserInfo performs the bearer-authenticated user-info call.
func (c *HTTPClient) FetchUserInfo(ctx context.Context, serverURL, accessToken string) (*oauth.UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(serverURL, userInfoPath), nil)
	if err != nil {
		return nil, &oauth.TransportError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	info := &oauth.UserInfo{}
	if err := c.doJSON(req, info); err != nil {
		return nil, err
	}
	return info, nil
}

// doTokenRequest posts a form-encoded request to the token endpoint.
func (c *HTTPClient) doTokenRequest(ctx context.Context, serverURL string, data url.Values) (*oauth.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(serverURL, tokenPath), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &oauth.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	token := &oauth.Token{}
	if err := c.doJSON(req, token); err != nil {
		return nil, err
	}

	token.SetExpiresAtFromExpiresIn(c.now())
	return token, nil
}

// doJSON executes the request, classifies failures, and decodes a
// 2xx JSON body into out.
func (c *HTTPClient) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &oauth.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &oauth.TransportError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
		)
		return &oauth.ProtocolError{
			Message: serverErrorMessage(body),
			Status:  resp.StatusCode,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &oauth.TransportError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// serverErrorMessage extracts the OAuth error body if present, falling
// back to the raw body.
func serverErrorMessage(body []byte) string {
	var oe oauth.ErrorResponse
	if err := json.Unmarshal(body, &oe); err == nil && oe.Error != "" {
		if oe.ErrorDescription != "" {
			return oe.Error + ": " + oe.ErrorDescription
		}
		return oe.Error
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "request failed"
	}
	return msg
}

// joinURL appends a path to the base server URL.
func joinURL(serverURL, path string) string {
	return strings.TrimSuffix(serverURL, "/") + path
}

// Ensure HTTPClient implements Client at compile time.
var _ Client = (*HTTPClient)(nil)
