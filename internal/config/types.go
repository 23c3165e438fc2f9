// Package config loads the device agent's configuration from a YAML
// file under the user config directory, falling back to defaults when
// no file exists.
package config

import "fmt"

// Config is the device agent configuration.
type Config struct {
	// Server is the base URL of the authorization server. Set by the
	// enroll command if empty.
	Server ServerConfig `yaml:"server,omitempty"`

	// Callback configures the loopback callback server.
	Callback CallbackConfig `yaml:"callback,omitempty"`

	// Storage configures where credentials and key material live.
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Device describes this device in enrollment requests.
	Device DeviceConfig `yaml:"device,omitempty"`
}

// ServerConfig holds the authorization server endpoint.
type ServerConfig struct {
	URL string `yaml:"url,omitempty"`
}

// CallbackConfig holds loopback callback server settings.
type CallbackConfig struct {
	// Port for the loopback callback server. 0 uses the default.
	Port int `yaml:"port,omitempty"`
}

// StorageConfig holds on-disk storage locations. Empty paths resolve
// to subdirectories of the config directory.
type StorageConfig struct {
	// CredentialsDir holds the sealed credential records.
	CredentialsDir string `yaml:"credentialsDir,omitempty"`

	// KeysDir holds the sealed private key files.
	KeysDir string `yaml:"keysDir,omitempty"`
}

// DeviceConfig describes the device in enrollment and registration
// requests.
type DeviceConfig struct {
	Type        string `yaml:"type,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Attestation string `yaml:"attestation,omitempty"`
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		return fmt.Errorf("invalid callback port %d", c.Callback.Port)
	}
	return nil
}
