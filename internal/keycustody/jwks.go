package keycustody

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"

	"devauth/pkg/oauth"
)

// publicJWK builds the JWK representation of an RSA public key,
// tagged for RS256 signature use.
func publicJWK(kid string, key *rsa.PublicKey) oauth.JWK {
	return oauth.JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// PublicKeyFromJWK reconstructs an RSA public key from its JWK
// members. Used by tests to verify signatures against an exported
// JWKS without touching private key material.
func PublicKeyFromJWK(jwk oauth.JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, err
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
