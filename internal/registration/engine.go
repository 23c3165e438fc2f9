// Package registration implements the device-side Dynamic Client
// Registration protocol (RFC 7591): enrollment initiation, enrollment
// callback validation, and the registration request itself.
//
// The engine is driven by the presentation layer and never calls back
// into it. It owns cleanup-on-failure: a signing key generated for a
// registration attempt that fails for any reason is deleted before
// the error is returned, so no orphaned key material survives.
package registration

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
	"devauth/internal/keycustody"
	"devauth/internal/transport"
	"devauth/pkg/oauth"
)

const enrollmentPath = "/api/auth/enrollDevice"

// DeviceInfo describes this device in enrollment and registration
// requests.
type DeviceInfo struct {
	// Version is the device software version.
	Version string

	// Type identifies the device platform.
	Type string

	// Attestation is the opaque device attestation blob forwarded to
	// the enrollment endpoint.
	Attestation string

	// RedirectURI is the single allowed redirect target registered for
	// this device.
	RedirectURI string

	// Name is the human-readable client_name sent in the DCR request.
	Name string
}

// Engine orchestrates device enrollment and DCR registration.
type Engine struct {
	keys      keycustody.Keystore
	creds     *credstore.Store
	transport transport.Client
	device    DeviceInfo
	now       func() time.Time

	// single serializes concurrent RegisterDevice calls per device:
	// a second call joins the in-flight registration instead of
	// racing it.
	single singleflight.Group
}

// NewEngine creates a registration engine over the given stores and
// transport.
func NewEngine(keys keycustody.Keystore, creds *credstore.Store, tc transport.Client, device DeviceInfo) *Engine {
	return &Engine{
		keys:      keys,
		creds:     creds,
		transport: tc,
		device:    device,
		now:       time.Now,
	}
}

// WithClock overrides the engine's time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// BuildEnrollmentURL constructs the enrollment redirect URL for the
// user-agent. Pure function, no I/O.
func (e *Engine) BuildEnrollmentURL(serverURL, state string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(serverURL, "/") + enrollmentPath)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	query := url.Values{
		"deviceVersion":     {e.device.Version},
		"deviceType":        {e.device.Type},
		"deviceAttestation": {e.device.Attestation},
		"redirectUri":       {e.device.RedirectURI},
		"state":             {state},
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// BeginEnrollment mints a fresh CSRF state, records the pending
// enrollment (overwriting any earlier attempt: last request wins),
// and returns the enrollment URL to open in the user-agent.
func (e *Engine) BeginEnrollment(serverURL string) (string, error) {
	state, err := oauth.NewState()
	if err != nil {
		return "", err
	}

	if err := e.creds.SavePendingFlow(credstore.FlowEnrollment, credstore.PendingFlow{
		State:     state,
		ServerURL: serverURL,
		CreatedAt: e.now(),
	}); err != nil {
		return "", fmt.Errorf("failed to record pending enrollment: %w", err)
	}

	return e.BuildEnrollmentURL(serverURL, state)
}

// HandleEnrollmentCallback validates the enrollment redirect callback
// against the pending flow state and returns the server URL and the
// initial access token to register with. The pending entry is
// consumed whether validation succeeds or not; a state mismatch is a
// hard rejection requiring the flow to be restarted.
func (e *Engine) HandleEnrollmentCallback(params *oauth.CallbackParams) (serverURL, iat string, err error) {
	pending, ok := e.creds.TakePendingFlow(credstore.FlowEnrollment)
	if !ok {
		return "", "", oauth.NewValidationError("no enrollment in progress")
	}

	if params.IsError() {
		if params.ErrorDescription != "" {
			return "", "", &oauth.ProtocolError{Message: params.Error + ": " + params.ErrorDescription}
		}
		return "", "", &oauth.ProtocolError{Message: params.Error}
	}

	if params.State == "" || params.State != pending.State {
		slog.Warn("SECURITY_AUDIT: enrollment state mismatch",
			"event", "enrollment_state_mismatch",
			"expected_state_len", len(pending.State),
			"received_state_len", len(params.State),
		)
		return "", "", oauth.NewValidationError("state mismatch on enrollment callback")
	}

	if params.IAT == "" {
		return "", "", oauth.NewValidationError("enrollment callback carries no initial access token")
	}

	return pending.ServerURL, params.IAT, nil
}

// RegisterDevice performs the DCR registration: it validates the IAT
// locally, generates a signing key pair, assembles the JWKS, and
// posts the registration request bearer-authenticated with the raw
// IAT. On success the registration identity is persisted as one
// atomic unit. On any failure after key generation the key is
// deleted before the error is returned.
//
// Concurrent calls are collapsed into a single in-flight
// registration.
func (e *Engine) RegisterDevice(ctx context.Context, serverURL, iat string) (string, error) {
	result, err, _ := e.single.Do("register", func() (any, error) {
		return e.registerDevice(ctx, serverURL, iat)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (e *Engine) registerDevice(ctx context.Context, serverURL, iat string) (string, error) {
	// Local expiry check first: a consumed or expired IAT must not
	// cost a network round trip.
	if err := assertion.ValidateIAT(iat, e.now()); err != nil {
		return "", err
	}

	keyID, err := e.keys.GenerateKeyPair()
	if err != nil {
		return "", fmt.Errorf("failed to generate device key: %w", err)
	}

	clientID, err := e.registerWithKey(ctx, serverURL, iat, keyID)
	if err != nil {
		// No orphaned key material survives a failed registration.
		if delErr := e.keys.DeleteKey(keyID); delErr != nil {
			slog.Warn("failed to delete key after registration failure",
				"key_id", keyID,
				"error", delErr.Error(),
			)
		}
		return "", err
	}

	return clientID, nil
}

// registerWithKey runs the steps between key generation and
// persistence so registerDevice can clean the key up on any failure.
func (e *Engine) registerWithKey(ctx context.Context, serverURL, iat, keyID string) (string, error) {
	jwks, err := e.keys.PublicJWKS(keyID)
	if err != nil {
		return "", fmt.Errorf("failed to export device JWKS: %w", err)
	}

	req := &oauth.ClientRegistrationRequest{
		ClientName:              e.device.Name,
		RedirectURIs:            []string{e.device.RedirectURI},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "private_key_jwt",
		TokenEndpointAuthAlg:    "RS256",
		Scope:                   oauth.DefaultScope,
		JWKS:                    jwks,
		SoftwareVersion:         e.device.Version,
	}

	resp, err := e.transport.RegisterClient(ctx, serverURL, iat, req)
	if err != nil {
		return "", err
	}

	if err := e.creds.SaveRegistration(credstore.DeviceRegistration{
		ServerURL:    serverURL,
		ClientID:     resp.ClientID,
		KeyID:        keyID,
		RegisteredAt: e.now(),
	}); err != nil {
		return "", fmt.Errorf("failed to persist registration: %w", err)
	}

	return resp.ClientID, nil
}

// IsDeviceRegistered reports whether a registration record exists AND
// its key is still present in custody. A record whose key vanished
// (keystore wipe) does not count as registered.
func (e *Engine) IsDeviceRegistered() bool {
	reg, ok := e.creds.Registration()
	if !ok {
		return false
	}
	return e.keys.HasKey(reg.KeyID)
}

// ResetRegistration deletes the device key (if any), clears the
// registration record, and invalidates the token set: registration
// and tokens must not outlive each other inconsistently. Idempotent.
func (e *Engine) ResetRegistration() error {
	if reg, ok := e.creds.Registration(); ok {
		if err := e.keys.DeleteKey(reg.KeyID); err != nil {
			return fmt.Errorf("failed to delete device key: %w", err)
		}
	}

	if err := e.creds.ClearRegistration(); err != nil {
		return err
	}
	return e.creds.ClearTokens()
}
