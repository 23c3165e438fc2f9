package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const (
	// pkceVerifierBytes is the number of random bytes for the PKCE code
	// verifier. 48 bytes encode to 64 base64url characters, inside RFC
	// 7636's 43-128 character window with 384 bits of entropy.
	pkceVerifierBytes = 48

	// stateBytes is the number of random bytes for the OAuth state
	// parameter. 32 bytes encode to 43 base64url characters.
	stateBytes = 32

	// CodeChallengeMethodS256 is the only challenge method devauth
	// offers. The "plain" method is not allowed in OAuth 2.1.
	CodeChallengeMethodS256 = "S256"
)

// PKCEChallenge holds a PKCE verifier/challenge pair for one
// authorization request. The verifier is kept secret on the device;
// only the challenge is transmitted.
type PKCEChallenge struct {
	// CodeVerifier is the cryptographically random secret (64 base64url chars).
	CodeVerifier string

	// CodeChallenge is base64url(SHA256(CodeVerifier)), no padding.
	CodeChallenge string

	// CodeChallengeMethod is always "S256".
	CodeChallengeMethod string
}

// GeneratePKCE generates a fresh PKCE code verifier and its S256
// challenge, ready for use in an authorization request.
func GeneratePKCE() (*PKCEChallenge, error) {
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, err
	}

	return &PKCEChallenge{
		CodeVerifier:        verifier,
		CodeChallenge:       CodeChallenge(verifier),
		CodeChallengeMethod: CodeChallengeMethodS256,
	}, nil
}

// NewCodeVerifier generates a new PKCE code verifier: 48 bytes of
// cryptographically secure randomness, base64url-encoded without
// padding (64 characters).
func NewCodeVerifier() (string, error) {
	verifierBytes := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(verifierBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes for PKCE: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(verifierBytes), nil
}

// CodeChallenge derives the S256 code challenge for a verifier:
// base64url(SHA256(verifier)), no padding. Deterministic given the
// same verifier.
func CodeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// NewState generates a random state parameter for OAuth. The state
// links the authorization callback back to the original request and
// prevents CSRF; one state is minted per flow invocation.
func NewState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
