package registration

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devauth/internal/credstore"
	"devauth/internal/keycustody"
	"devauth/internal/transport"
	"devauth/pkg/oauth"
)

// fakeTransport counts invocations and returns canned responses.
type fakeTransport struct {
	registerCalls int
	lastRegister  *oauth.ClientRegistrationRequest
	registerResp  *oauth.ClientRegistrationResponse
	registerErr   error
}

func (f *fakeTransport) ProbeSystemInfo(ctx context.Context, serverURL string) (*transport.SystemInfo, error) {
	return &transport.SystemInfo{}, nil
}

func (f *fakeTransport) RegisterClient(ctx context.Context, serverURL, iat string, req *oauth.ClientRegistrationRequest) (*oauth.ClientRegistrationResponse, error) {
	f.registerCalls++
	f.lastRegister = req
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.registerResp, nil
}

func (f *fakeTransport) ExchangeCode(ctx context.Context, serverURL string, req transport.ExchangeRequest) (*oauth.Token, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) RefreshToken(ctx context.Context, serverURL string, req transport.RefreshRequest) (*oauth.Token, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeTransport) FetchUserInfo(ctx context.Context, serverURL, accessToken string) (*oauth.UserInfo, error) {
	return nil, errors.New("not implemented")
}

var testDevice = DeviceInfo{
	Version:     "2.1.0",
	Type:        "handheld",
	Attestation: "attest-blob",
	RedirectURI: "devauth://callback",
	Name:        "devauth handheld",
}

func newTestEngine(t *testing.T, tc transport.Client) (*Engine, *keycustody.SoftwareKeystore, *credstore.Store) {
	t.Helper()

	ks, err := keycustody.NewSoftwareKeystore(t.TempDir())
	require.NoError(t, err)
	creds, err := credstore.NewStore(t.TempDir())
	require.NoError(t, err)

	return NewEngine(ks, creds, tc, testDevice), ks, creds
}

// mintIAT creates a token with the given expiry; the signature is
// irrelevant because only the exp claim is checked locally.
func mintIAT(t *testing.T, exp time.Time) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "https://server.example",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestBuildEnrollmentURL(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeTransport{})

	got, err := engine.BuildEnrollmentURL("https://server.example/", "state-1")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "/api/auth/enrollDevice", u.Path)

	q := u.Query()
	assert.Equal(t, "2.1.0", q.Get("deviceVersion"))
	assert.Equal(t, "handheld", q.Get("deviceType"))
	assert.Equal(t, "attest-blob", q.Get("deviceAttestation"))
	assert.Equal(t, "devauth://callback", q.Get("redirectUri"))
	assert.Equal(t, "state-1", q.Get("state"))

	// Deterministic given the same inputs
	again, err := engine.BuildEnrollmentURL("https://server.example/", "state-1")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestRegisterDevice_Success(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tc := &fakeTransport{registerResp: &oauth.ClientRegistrationResponse{ClientID: "client_abc"}}
	engine, ks, creds := newTestEngine(t, tc)
	engine.WithClock(func() time.Time { return now })

	iat := mintIAT(t, now.Add(60*time.Second))
	clientID, err := engine.RegisterDevice(context.Background(), "https://server.example", iat)
	require.NoError(t, err)
	assert.Equal(t, "client_abc", clientID)

	reg, ok := creds.Registration()
	require.True(t, ok)
	assert.Equal(t, "client_abc", reg.ClientID)
	assert.Equal(t, "https://server.example", reg.ServerURL)
	assert.Equal(t, now, reg.RegisteredAt)
	assert.True(t, ks.HasKey(reg.KeyID))
	assert.True(t, engine.IsDeviceRegistered())

	// Registration request composition
	req := tc.lastRegister
	require.NotNil(t, req)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, req.GrantTypes)
	assert.Equal(t, []string{"code"}, req.ResponseTypes)
	assert.Equal(t, "private_key_jwt", req.TokenEndpointAuthMethod)
	assert.Equal(t, "RS256", req.TokenEndpointAuthAlg)
	assert.Equal(t, []string{"devauth://callback"}, req.RedirectURIs)
	assert.Equal(t, "devauth handheld", req.ClientName)
	require.NotNil(t, req.JWKS)
	require.Len(t, req.JWKS.Keys, 1)
	assert.Equal(t, reg.KeyID, req.JWKS.Keys[0].Kid)
}

func TestRegisterDevice_ExpiredIAT_NoNetworkCall(t *testing.T) {
	now := time.Now()
	tc := &fakeTransport{}
	engine, _, creds := newTestEngine(t, tc)

	_, err := engine.RegisterDevice(context.Background(), "https://server.example", mintIAT(t, now.Add(-time.Minute)))

	var verr *oauth.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Zero(t, tc.registerCalls, "expired IAT must not reach the network")

	_, ok := creds.Registration()
	assert.False(t, ok)
}

func TestRegisterDevice_MalformedIAT(t *testing.T) {
	tc := &fakeTransport{}
	engine, _, _ := newTestEngine(t, tc)

	_, err := engine.RegisterDevice(context.Background(), "https://server.example", "garbage")

	var verr *oauth.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Zero(t, tc.registerCalls)
}

func TestRegisterDevice_FailureDeletesKey(t *testing.T) {
	now := time.Now()
	tc := &fakeTransport{registerErr: &oauth.ProtocolError{Message: "invalid_token", Status: 401}}
	engine, ks, creds := newTestEngine(t, tc)

	_, err := engine.RegisterDevice(context.Background(), "https://server.example", mintIAT(t, now.Add(time.Minute)))

	var perr *oauth.ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, 1, tc.registerCalls)

	// The key generated for this attempt must be gone.
	require.NotNil(t, tc.lastRegister)
	keyID := tc.lastRegister.JWKS.Keys[0].Kid
	assert.False(t, ks.HasKey(keyID), "failed registration must delete the generated key")

	_, ok := creds.Registration()
	assert.False(t, ok, "partial registration must not be observable")
	assert.False(t, engine.IsDeviceRegistered())
}

func TestRegisterDevice_TransportFailureDeletesKey(t *testing.T) {
	now := time.Now()
	tc := &fakeTransport{registerErr: &oauth.TransportError{Err: errors.New("connection reset")}}
	engine, ks, _ := newTestEngine(t, tc)

	_, err := engine.RegisterDevice(context.Background(), "https://server.example", mintIAT(t, now.Add(time.Minute)))

	var terr *oauth.TransportError
	require.True(t, errors.As(err, &terr))

	keyID := tc.lastRegister.JWKS.Keys[0].Kid
	assert.False(t, ks.HasKey(keyID))
}

func TestEnrollmentCallback_Success(t *testing.T) {
	engine, _, creds := newTestEngine(t, &fakeTransport{})

	enrollURL, err := engine.BeginEnrollment("https://server.example")
	require.NoError(t, err)

	u, err := url.Parse(enrollURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	serverURL, iat, err := engine.HandleEnrollmentCallback(&oauth.CallbackParams{
		IAT:   "the-iat",
		State: state,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://server.example", serverURL)
	assert.Equal(t, "the-iat", iat)

	// Pending state is consumed exactly once
	_, ok := creds.TakePendingFlow(credstore.FlowEnrollment)
	assert.False(t, ok)
}

func TestEnrollmentCallback_StateMismatch(t *testing.T) {
	engine, _, creds := newTestEngine(t, &fakeTransport{})

	_, err := engine.BeginEnrollment("https://server.example")
	require.NoError(t, err)

	_, _, err = engine.HandleEnrollmentCallback(&oauth.CallbackParams{
		IAT:   "the-iat",
		State: "wrong-state",
	})

	var verr *oauth.ValidationError
	require.True(t, errors.As(err, &verr))

	// The pending entry is cleared: the flow must restart from scratch.
	_, ok := creds.TakePendingFlow(credstore.FlowEnrollment)
	assert.False(t, ok)
}

func TestEnrollmentCallback_ErrorFromServer(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeTransport{})

	_, err := engine.BeginEnrollment("https://server.example")
	require.NoError(t, err)

	_, _, err = engine.HandleEnrollmentCallback(&oauth.CallbackParams{
		Error:            "access_denied",
		ErrorDescription: "administrator rejected the device",
	})

	var perr *oauth.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Message, "access_denied")
}

func TestEnrollmentCallback_NoFlowInProgress(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeTransport{})

	_, _, err := engine.HandleEnrollmentCallback(&oauth.CallbackParams{IAT: "t", State: "s"})

	var verr *oauth.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestBeginEnrollment_LastRequestWins(t *testing.T) {
	engine, _, _ := newTestEngine(t, &fakeTransport{})

	_, err := engine.BeginEnrollment("https://first.example")
	require.NoError(t, err)

	secondURL, err := engine.BeginEnrollment("https://second.example")
	require.NoError(t, err)

	u, _ := url.Parse(secondURL)
	secondState := u.Query().Get("state")

	serverURL, _, err := engine.HandleEnrollmentCallback(&oauth.CallbackParams{
		IAT:   "iat",
		State: secondState,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://second.example", serverURL)
}

func TestIsDeviceRegistered_KeystoreDesync(t *testing.T) {
	now := time.Now()
	tc := &fakeTransport{registerResp: &oauth.ClientRegistrationResponse{ClientID: "client_abc"}}
	engine, ks, creds := newTestEngine(t, tc)

	_, err := engine.RegisterDevice(context.Background(), "https://server.example", mintIAT(t, now.Add(time.Minute)))
	require.NoError(t, err)
	require.True(t, engine.IsDeviceRegistered())

	// Simulate an OS-level keystore wipe: the record survives but the
	// key is gone.
	reg, _ := creds.Registration()
	require.NoError(t, ks.DeleteKey(reg.KeyID))

	assert.False(t, engine.IsDeviceRegistered())
}

func TestResetRegistration(t *testing.T) {
	now := time.Now()
	tc := &fakeTransport{registerResp: &oauth.ClientRegistrationResponse{ClientID: "client_abc"}}
	engine, ks, creds := newTestEngine(t, tc)

	_, err := engine.RegisterDevice(context.Background(), "https://server.example", mintIAT(t, now.Add(time.Minute)))
	require.NoError(t, err)
	require.NoError(t, creds.SaveTokens(credstore.TokenSet{AccessToken: "T1", RefreshToken: "R1"}))

	reg, _ := creds.Registration()
	keyID := reg.KeyID

	require.NoError(t, engine.ResetRegistration())

	assert.False(t, ks.HasKey(keyID))
	_, ok := creds.Registration()
	assert.False(t, ok)
	_, ok = creds.Tokens()
	assert.False(t, ok, "reset must invalidate the token set")

	// Resetting when already unregistered is a no-op
	assert.NoError(t, engine.ResetRegistration())
}
