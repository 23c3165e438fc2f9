// Package credstore provides durable, sealed persistence for the
// device's registration and token state, plus the short-lived pending
// flow records (CSRF state, PKCE verifier) for in-flight enrollment
// and login attempts.
//
// The store owns two record sets with independent lifecycles: the
// credential record (registration identity and token set, cleared on
// reset/logout respectively) and the transient pending-flow records
// (consumed exactly once when the matching callback arrives). Both
// are sealed at rest with the device sealing key and written with
// 0600 permissions.
package credstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"devauth/internal/seal"
)

const (
	credentialsFile = "credentials.json"
	pendingFile     = "pending.json"
)

// FlowKind identifies which protocol flow a pending record belongs to.
type FlowKind string

const (
	// FlowEnrollment is the device-enrollment flow that yields an
	// initial access token.
	FlowEnrollment FlowKind = "enrollment"

	// FlowLogin is the PKCE authorization-code login flow.
	FlowLogin FlowKind = "login"
)

// DeviceRegistration is the device's registered client identity.
// ClientID and KeyID are always both present; a partial registration
// is never persisted.
type DeviceRegistration struct {
	ServerURL    string    `json:"server_url"`
	ClientID     string    `json:"client_id"`
	KeyID        string    `json:"key_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// TokenSet is the current session's tokens. Mutated wholesale on
// every successful exchange or refresh.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token has expired at the given
// instant. Tokens without an expiry never expire.
func (t *TokenSet) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// PendingFlow is the ephemeral state of one in-flight flow attempt.
type PendingFlow struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	ServerURL    string    `json:"server_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// credentialRecord is the persisted credential layout.
type credentialRecord struct {
	ServerURL        string    `json:"server_url,omitempty"`
	ClientID         string    `json:"client_id,omitempty"`
	KeyID            string    `json:"key_id,omitempty"`
	IsRegistered     bool      `json:"is_registered"`
	RegistrationDate time.Time `json:"registration_date,omitempty"`
	AccessToken      string    `json:"access_token,omitempty"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenExpiresAt   time.Time `json:"token_expires_at,omitempty"`
}

// Store is the sealed credential store. Process-wide singleton by
// convention; all access is mutex-guarded.
type Store struct {
	mu      sync.RWMutex
	dir     string
	sealer  *seal.Sealer
	record  credentialRecord
	pending map[FlowKind]*PendingFlow
}

// NewStore opens (or initializes) a credential store rooted at dir.
// The directory is created with 0700 permissions if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential storage directory: %w", err)
	}

	sealer, err := seal.NewSealer(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential sealing: %w", err)
	}

	s := &Store{
		dir:     dir,
		sealer:  sealer,
		pending: make(map[FlowKind]*PendingFlow),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// SaveRegistration persists the registration identity as one atomic
// unit. Any previously stored identity is replaced.
func (s *Store) SaveRegistration(reg DeviceRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record.ServerURL = reg.ServerURL
	s.record.ClientID = reg.ClientID
	s.record.KeyID = reg.KeyID
	s.record.RegistrationDate = reg.RegisteredAt
	s.record.IsRegistered = true

	if err := s.persistCredentialsLocked(); err != nil {
		return err
	}

	slog.Info("SECURITY_AUDIT: device registration persisted",
		"event", "registration_stored",
		"server_url", reg.ServerURL,
		"client_id", reg.ClientID,
		"key_id", reg.KeyID,
	)
	return nil
}

// Registration returns the stored registration identity, or false if
// the device is not registered.
func (s *Store) Registration() (*DeviceRegistration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.record.IsRegistered || s.record.ClientID == "" || s.record.KeyID == "" {
		return nil, false
	}

	return &DeviceRegistration{
		ServerURL:    s.record.ServerURL,
		ClientID:     s.record.ClientID,
		KeyID:        s.record.KeyID,
		RegisteredAt: s.record.RegistrationDate,
	}, true
}

// ClearRegistration removes the registration identity. Idempotent.
func (s *Store) ClearRegistration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.record.IsRegistered && s.record.ClientID == "" {
		return nil
	}

	s.record.ServerURL = ""
	s.record.ClientID = ""
	s.record.KeyID = ""
	s.record.RegistrationDate = time.Time{}
	s.record.IsRegistered = false

	if err := s.persistCredentialsLocked(); err != nil {
		return err
	}

	slog.Info("SECURITY_AUDIT: device registration cleared",
		"event", "registration_cleared",
	)
	return nil
}

// SaveTokens overwrites the token set wholesale.
func (s *Store) SaveTokens(ts TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record.AccessToken = ts.AccessToken
	s.record.RefreshToken = ts.RefreshToken
	s.record.TokenExpiresAt = ts.ExpiresAt

	if err := s.persistCredentialsLocked(); err != nil {
		return err
	}

	slog.Info("SECURITY_AUDIT: token set stored",
		"event", "tokens_stored",
		"expires_at", ts.ExpiresAt.Format(time.RFC3339),
		"has_refresh_token", ts.RefreshToken != "",
	)
	return nil
}

// Tokens returns the stored token set, or false when no session
// exists.
func (s *Store) Tokens() (*TokenSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.record.AccessToken == "" {
		return nil, false
	}

	return &TokenSet{
		AccessToken:  s.record.AccessToken,
		RefreshToken: s.record.RefreshToken,
		ExpiresAt:    s.record.TokenExpiresAt,
	}, true
}

// ClearTokens removes the token set, preserving the registration.
// Idempotent.
func (s *Store) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.record.AccessToken == "" && s.record.RefreshToken == "" {
		return nil
	}

	s.record.AccessToken = ""
	s.record.RefreshToken = ""
	s.record.TokenExpiresAt = time.Time{}

	if err := s.persistCredentialsLocked(); err != nil {
		return err
	}

	slog.Info("SECURITY_AUDIT: token set cleared",
		"event", "tokens_cleared",
	)
	return nil
}

// SavePendingFlow stores the pending state for a flow kind. A second
// attempt before the first resolves silently overwrites it: last
// request wins.
func (s *Store) SavePendingFlow(kind FlowKind, flow PendingFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow.CreatedAt = flow.CreatedAt.UTC()
	s.pending[kind] = &flow
	return s.persistPendingLocked()
}

// TakePendingFlow consumes the pending state for a flow kind. The
// entry is deleted whether or not the caller accepts it; pending
// state is single-use.
func (s *Store) TakePendingFlow(kind FlowKind) (*PendingFlow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flow, ok := s.pending[kind]
	if !ok {
		return nil, false
	}

	delete(s.pending, kind)
	if err := s.persistPendingLocked(); err != nil {
		slog.Warn("failed to persist pending flow removal", "error", err.Error())
	}
	return flow, true
}

// ClearPendingFlow discards the pending state for a flow kind.
// Idempotent.
func (s *Store) ClearPendingFlow(kind FlowKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[kind]; !ok {
		return nil
	}
	delete(s.pending, kind)
	return s.persistPendingLocked()
}

// load reads both record sets from disk. Missing files initialize an
// empty store; an unreadable sealed record is treated as absent (the
// sealing key changed, so prior state is unrecoverable by design).
func (s *Store) load() error {
	if data, err := s.openFile(credentialsFile); err == nil {
		if err := json.Unmarshal(data, &s.record); err != nil {
			return fmt.Errorf("failed to decode credential record: %w", err)
		}
	}
	if data, err := s.openFile(pendingFile); err == nil {
		if err := json.Unmarshal(data, &s.pending); err != nil {
			return fmt.Errorf("failed to decode pending flow records: %w", err)
		}
	}
	return nil
}

// openFile reads and unseals one record file.
func (s *Store) openFile(name string) ([]byte, error) {
	sealed, err := os.ReadFile(filepath.Join(s.dir, name)) // #nosec G304 -- fixed file names under the configured dir
	if err != nil {
		return nil, err
	}
	return s.sealer.Open(sealed)
}

// persistCredentialsLocked writes the credential record. Requires s.mu.
func (s *Store) persistCredentialsLocked() error {
	return s.writeFileLocked(credentialsFile, s.record)
}

// persistPendingLocked writes the pending flow records. Requires s.mu.
func (s *Store) persistPendingLocked() error {
	return s.writeFileLocked(pendingFile, s.pending)
}

// writeFileLocked seals and writes one record file with 0600
// permissions. Requires s.mu.
func (s *Store) writeFileLocked(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", name, err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, name), sealed, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
