package keycustody

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"devauth/internal/seal"
	"devauth/pkg/oauth"
)

// rsaKeyBits is the modulus size for device signing keys.
const rsaKeyBits = 2048

// keyFileExt is the extension for sealed private key files.
const keyFileExt = ".key"

// SoftwareKeystore is a file-backed Keystore. Each private key is
// PKCS#8-encoded, sealed with the device sealing key, and written to
// <dir>/<kid>.key with 0600 permissions. Parsed keys are cached in
// memory behind a mutex; they never leave the package.
type SoftwareKeystore struct {
	mu     sync.RWMutex
	dir    string
	sealer *seal.Sealer
	cache  map[string]*rsa.PrivateKey
}

// NewSoftwareKeystore creates a software keystore rooted at dir. The
// directory is created with 0700 permissions if it does not exist.
func NewSoftwareKeystore(dir string) (*SoftwareKeystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeystoreUnavailable, err)
	}

	sealer, err := seal.NewSealer(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeystoreUnavailable, err)
	}

	return &SoftwareKeystore{
		dir:    dir,
		sealer: sealer,
		cache:  make(map[string]*rsa.PrivateKey),
	}, nil
}

// GenerateKeyPair creates a 2048-bit RSA key pair, seals it to disk,
// and returns its fresh key id.
func (s *SoftwareKeystore) GenerateKeyPair() (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate RSA key: %w", err)
	}

	keyID := uuid.NewString()

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode private key: %w", err)
	}

	sealed, err := s.sealer.Seal(der)
	if err != nil {
		return "", fmt.Errorf("failed to seal private key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.keyPath(keyID), sealed, 0600); err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeystoreUnavailable, err)
	}
	s.cache[keyID] = key

	// SECURITY AUDIT: key values are never logged, only the key id.
	slog.Info("SECURITY_AUDIT: signing key pair generated",
		"event", "key_generated",
		"key_id", keyID,
	)

	return keyID, nil
}

// HasKey reports whether the key id exists in the store.
func (s *SoftwareKeystore) HasKey(keyID string) bool {
	s.mu.RLock()
	if _, ok := s.cache[keyID]; ok {
		s.mu.RUnlock()
		return true
	}
	s.mu.RUnlock()

	_, err := os.Stat(s.keyPath(keyID))
	return err == nil
}

// DeleteKey removes a key pair. Deleting an absent key is a no-op.
func (s *SoftwareKeystore) DeleteKey(keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cache, keyID)

	err := os.Remove(s.keyPath(keyID))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", keyID, err)
	}

	slog.Info("SECURITY_AUDIT: signing key pair deleted",
		"event", "key_deleted",
		"key_id", keyID,
	)
	return nil
}

// DeleteAllManagedKeys removes every key file in the store directory.
func (s *SoftwareKeystore) DeleteAllManagedKeys() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string]*rsa.PrivateKey)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read keystore directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), keyFileExt) {
			continue
		}
		// The sealing key is not a managed signing key.
		if entry.Name() == seal.KeyFileName {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove key file %s: %w", entry.Name(), err)
		}
		removed++
	}

	if removed > 0 {
		slog.Info("SECURITY_AUDIT: all signing keys deleted",
			"event", "keys_cleared",
			"count", removed,
		)
	}
	return nil
}

// PublicJWKS exports the public key as a single-entry JWKS tagged
// with kid = keyID.
func (s *SoftwareKeystore) PublicJWKS(keyID string) (*oauth.JWKS, error) {
	key, err := s.loadKey(keyID)
	if err != nil {
		return nil, err
	}

	return &oauth.JWKS{Keys: []oauth.JWK{publicJWK(keyID, &key.PublicKey)}}, nil
}

// Sign performs RS256 signing: SHA-256 over the signing input, then
// RSASSA-PKCS1-v1_5. The private key never leaves the keystore.
func (s *SoftwareKeystore) Sign(keyID string, signingInput []byte) ([]byte, error) {
	key, err := s.loadKey(keyID)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(signingInput)
	return rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
}

// HardwareBacked reports false: the software keystore seals keys on
// disk rather than in a secure element.
func (s *SoftwareKeystore) HardwareBacked() bool {
	return false
}

// loadKey returns the cached private key, reading and unsealing the
// key file on a cache miss.
func (s *SoftwareKeystore) loadKey(keyID string) (*rsa.PrivateKey, error) {
	s.mu.RLock()
	if key, ok := s.cache[keyID]; ok {
		s.mu.RUnlock()
		return key, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.cache[keyID]; ok {
		return key, nil
	}

	sealed, err := os.ReadFile(s.keyPath(keyID)) // #nosec G304 -- path is built from a UUID key id
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeystoreUnavailable, err)
	}

	der, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal key %s: %w", keyID, err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key %s: %w", keyID, err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key %s is not an RSA key", keyID)
	}

	s.cache[keyID] = key
	return key, nil
}

// keyPath returns the sealed key file path for a key id.
func (s *SoftwareKeystore) keyPath(keyID string) string {
	return filepath.Join(s.dir, keyID+keyFileExt)
}

// Ensure SoftwareKeystore implements Keystore at compile time.
var _ Keystore = (*SoftwareKeystore)(nil)
