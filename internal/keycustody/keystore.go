package keycustody

import (
	"errors"

	"devauth/pkg/oauth"
)

// ErrKeyNotFound is returned when the requested key id does not exist
// in the keystore.
var ErrKeyNotFound = errors.New("key not found in keystore")

// ErrKeystoreUnavailable is returned when the secure store cannot be
// reached or initialized. There is no security-sound recovery from
// this without regenerating the device registration.
var ErrKeystoreUnavailable = errors.New("keystore unavailable")

// Keystore is the key custody capability used by the engines. Private
// key material is owned exclusively by the implementation; callers
// hold only key ids.
type Keystore interface {
	// GenerateKeyPair creates a 2048-bit RSA signing key pair and
	// returns a fresh random key id, used as the JWT kid.
	GenerateKeyPair() (string, error)

	// HasKey reports whether the key id exists in the store.
	HasKey(keyID string) bool

	// DeleteKey removes a key pair. Idempotent: deleting an absent key
	// is a no-op.
	DeleteKey(keyID string) error

	// DeleteAllManagedKeys removes every key pair managed by this
	// store. Used on full device reset.
	DeleteAllManagedKeys() error

	// PublicJWKS exports a single-entry JWKS containing only the
	// public key, tagged with kid = keyID. Returns ErrKeyNotFound if
	// the key id is absent.
	PublicJWKS(keyID string) (*oauth.JWKS, error)

	// Sign performs RS256 signing of the signing input (SHA-256 then
	// RSASSA-PKCS1-v1_5) without exposing the private key. Returns
	// ErrKeyNotFound if the key id is absent.
	Sign(keyID string, signingInput []byte) ([]byte, error)

	// HardwareBacked reports whether keys live in a hardware secure
	// element.
	HardwareBacked() bool
}
