package cmd

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"

	"devauth/internal/assertion"
	"devauth/internal/config"
	"devauth/internal/credstore"
	"devauth/internal/keycustody"
	"devauth/internal/registration"
	"devauth/internal/session"
	"devauth/internal/transport"
)

// app wires the engines over the configured storage and transport.
// Built once per command invocation.
type app struct {
	cfg       config.Config
	configDir string
	keys      keycustody.Keystore
	creds     *credstore.Store
	transport transport.Client
	session   *session.Engine
}

// newApp loads the configuration and constructs the engine stack.
func newApp() (*app, error) {
	dir := configDir
	if dir == "" {
		var err error
		dir, err = config.DefaultConfigDir()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	keys, err := keycustody.NewSoftwareKeystore(cfg.Storage.KeysDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore: %w", err)
	}

	creds, err := credstore.NewStore(cfg.Storage.CredentialsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	tc := transport.NewHTTPClient()

	return &app{
		cfg:       cfg,
		configDir: dir,
		keys:      keys,
		creds:     creds,
		transport: tc,
		session:   session.NewEngine(creds, assertion.NewSigner(keys), tc),
	}, nil
}

// registrationEngine builds a registration engine bound to the given
// redirect URI. The redirect URI depends on the callback server's
// bound port, so the engine is constructed per flow.
func (a *app) registrationEngine(redirectURI string) *registration.Engine {
	device := registration.DeviceInfo{
		Version:     GetVersion(),
		Type:        a.cfg.Device.Type,
		Attestation: a.cfg.Device.Attestation,
		RedirectURI: redirectURI,
		Name:        a.cfg.Device.Name,
	}
	return registration.NewEngine(a.keys, a.creds, a.transport, device)
}

// saveServerURL records the enrolled server in the config file so
// later commands do not need it on the command line.
func (a *app) saveServerURL(serverURL string) error {
	a.cfg.Server.URL = serverURL
	return config.Save(a.configDir, a.cfg)
}

// newSpinner returns a started terminal spinner with the given
// message. The caller must Stop it.
func newSpinner(message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	return s
}
