package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devauth/pkg/oauth"
)

func TestProbeSystemInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/system/info", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SystemInfo{ServerName: "test", Version: "1.2.3"})
	}))
	defer srv.Close()

	client := NewHTTPClient()
	info, err := client.ProbeSystemInfo(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "test", info.ServerName)
	assert.Equal(t, "1.2.3", info.Version)
}

func TestProbeSystemInfo_Unreachable(t *testing.T) {
	client := NewHTTPClient()
	_, err := client.ProbeSystemInfo(context.Background(), "http://127.0.0.1:1")

	var terr *oauth.TransportError
	assert.True(t, errors.As(err, &terr))
}

func TestRegisterClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/connect/register", r.URL.Path)
		assert.Equal(t, "Bearer the-iat", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req oauth.ClientRegistrationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "private_key_jwt", req.TokenEndpointAuthMethod)
		assert.Equal(t, "RS256", req.TokenEndpointAuthAlg)
		require.NotNil(t, req.JWKS)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(oauth.ClientRegistrationResponse{ClientID: "client_abc"})
	}))
	defer srv.Close()

	client := NewHTTPClient()
	resp, err := client.RegisterClient(context.Background(), srv.URL, "the-iat", &oauth.ClientRegistrationRequest{
		ClientName:              "device",
		RedirectURIs:            []string{"devauth://callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "private_key_jwt",
		TokenEndpointAuthAlg:    "RS256",
		JWKS:                    &oauth.JWKS{Keys: []oauth.JWK{{Kty: "RSA", Kid: "k1"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "client_abc", resp.ClientID)
}

func TestRegisterClient_ProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(oauth.ErrorResponse{
			Error:            "invalid_client_metadata",
			ErrorDescription: "unsupported auth method",
		})
	}))
	defer srv.Close()

	client := NewHTTPClient()
	_, err := client.RegisterClient(context.Background(), srv.URL, "iat", &oauth.ClientRegistrationRequest{})

	var perr *oauth.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.Status)
	assert.Contains(t, perr.Message, "invalid_client_metadata")
	assert.Contains(t, perr.Message, "unsupported auth method")
}

func TestRegisterClient_MissingClientID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewHTTPClient()
	_, err := client.RegisterClient(context.Background(), srv.URL, "iat", &oauth.ClientRegistrationRequest{})

	var perr *oauth.ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestExchangeCode(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "devauth://callback", r.PostForm.Get("redirect_uri"))
		assert.Equal(t, "client_abc", r.PostForm.Get("client_id"))
		assert.Equal(t, oauth.ClientAssertionType, r.PostForm.Get("client_assertion_type"))
		assert.Equal(t, "signed.jwt.assertion", r.PostForm.Get("client_assertion"))
		assert.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oauth.Token{
			AccessToken: "T1", TokenType: "Bearer", RefreshToken: "R1", ExpiresIn: 3600,
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(WithClock(func() time.Time { return now }))
	token, err := client.ExchangeCode(context.Background(), srv.URL, ExchangeRequest{
		Code:            "the-code",
		RedirectURI:     "devauth://callback",
		ClientID:        "client_abc",
		ClientAssertion: "signed.jwt.assertion",
		CodeVerifier:    "the-verifier",
	})
	require.NoError(t, err)

	assert.Equal(t, "T1", token.AccessToken)
	assert.Equal(t, "R1", token.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), token.ExpiresAt)
}

func TestRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "R1", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client_abc", r.PostForm.Get("client_id"))
		assert.Equal(t, oauth.ClientAssertionType, r.PostForm.Get("client_assertion_type"))
		assert.NotEmpty(t, r.PostForm.Get("client_assertion"))
		// No code_verifier on refresh
		assert.Empty(t, r.PostForm.Get("code_verifier"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oauth.Token{AccessToken: "T2", ExpiresIn: 1800})
	}))
	defer srv.Close()

	client := NewHTTPClient()
	token, err := client.RefreshToken(context.Background(), srv.URL, RefreshRequest{
		RefreshToken:    "R1",
		ClientID:        "client_abc",
		ClientAssertion: "assertion",
	})
	require.NoError(t, err)
	assert.Equal(t, "T2", token.AccessToken)
}

func TestFetchUserInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/me", r.URL.Path)
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(oauth.UserInfo{Subject: "u1", Username: "alex"})
	}))
	defer srv.Close()

	client := NewHTTPClient()
	info, err := client.FetchUserInfo(context.Background(), srv.URL, "T1")
	require.NoError(t, err)
	assert.Equal(t, "u1", info.Subject)
	assert.Equal(t, "alex", info.Username)
}

func TestFetchUserInfo_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewHTTPClient()
	_, err := client.FetchUserInfo(context.Background(), srv.URL, "expired")

	var perr *oauth.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusUnauthorized, perr.Status)
}

func TestDoJSON_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewHTTPClient()
	_, err := client.ProbeSystemInfo(context.Background(), srv.URL)

	var terr *oauth.TransportError
	assert.True(t, errors.As(err, &terr))
}
