// Package assertion builds the private_key_jwt client assertions
// (RFC 7523) that authenticate every token request, and validates
// initial access tokens locally before registration.
//
// Assertions are single-use, short-lived bearer proofs: every call
// mints a fresh jti and fresh timestamps, and nothing here caches a
// signed assertion. Signing goes through the key custody capability;
// this package never sees private key bytes.
package assertion

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"devauth/internal/keycustody"
	"devauth/pkg/oauth"
)

// DefaultAssertionTTL is the default client assertion lifetime.
const DefaultAssertionTTL = 60 * time.Second

// Signer builds signed client assertions using a custody-held key.
type Signer struct {
	keys keycustody.Keystore
}

// NewSigner creates a Signer over the given keystore.
func NewSigner(keys keycustody.Keystore) *Signer {
	return &Signer{keys: keys}
}

// BuildClientAssertion constructs and signs a private_key_jwt client
// assertion for the token endpoint. Claims: iss=sub=clientID,
// aud=tokenEndpointURL, iat=now, exp=now+ttl, and a fresh random jti.
// Header: alg=RS256, kid=keyID.
func (s *Signer) BuildClientAssertion(clientID, tokenEndpointURL, keyID string, now time.Time, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}

	claims := jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{tokenEndpointURL},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID

	// Sign via the custody capability rather than SignedString: the
	// private key stays inside the keystore.
	signingInput, err := token.SigningString()
	if err != nil {
		return "", fmt.Errorf("failed to build assertion signing input: %w", err)
	}

	sig, err := s.keys.Sign(keyID, []byte(signingInput))
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// ValidateIAT checks an initial access token's expiration claim
// locally. Signature verification is the server's job; the device
// only refuses to spend a token that is already unusable. Returns a
// ValidationError if the token is unparsable, has no exp claim, or
// is expired at the given instant.
func ValidateIAT(iat string, now time.Time) error {
	if iat == "" {
		return oauth.NewValidationError("invalid or expired IAT: token is empty")
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(iat, &claims); err != nil {
		return oauth.NewValidationError("invalid or expired IAT: %v", err)
	}

	if claims.ExpiresAt == nil {
		return oauth.NewValidationError("invalid or expired IAT: missing exp claim")
	}

	if !now.Before(claims.ExpiresAt.Time) {
		return oauth.NewValidationError("invalid or expired IAT: expired at %s", claims.ExpiresAt.Format(time.RFC3339))
	}

	return nil
}
