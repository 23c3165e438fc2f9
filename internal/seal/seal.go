// Package seal provides at-rest sealing for the credential store and
// the software keystore. Records are encrypted with ChaCha20-Poly1305
// under a device-local sealing key held in a 0600 file.
//
// The sealing key file stands in for the platform secure keystore on
// hosts where no hardware-backed store is available. Losing the key
// file renders sealed records unreadable, which is the intended
// failure mode: the device re-enrolls.
package seal

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeyFileName is the name of the sealing key file inside a storage
// directory.
const KeyFileName = "sealing.key"

// Sealer encrypts and decrypts records with a device-local key.
type Sealer struct {
	key []byte
}

// NewSealer loads the sealing key from dir, creating a fresh random
// key on first use. The key file is written 0600; the directory must
// already exist.
func NewSealer(dir string) (*Sealer, error) {
	keyPath := filepath.Join(dir, KeyFileName)

	key, err := os.ReadFile(keyPath) // #nosec G304 -- path is built from the configured storage dir
	if os.IsNotExist(err) {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate sealing key: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0600); err != nil {
			return nil, fmt.Errorf("failed to write sealing key: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read sealing key: %w", err)
	}

	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("sealing key has invalid size %d", len(key))
	}

	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext. The random nonce is prepended to the
// ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("sealed record too short")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sealed record: %w", err)
	}

	return plaintext, nil
}
