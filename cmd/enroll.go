package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"devauth/internal/callback"
)

var enrollServerURL string

func newEnrollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll this device with an authorization server",
		Long: `Enroll this device with an authorization server.

Enrollment opens the browser so an administrator can approve the
device. On approval the server hands back a single-use initial access
token, which this command spends to register the device as an OAuth
client with its own signing key.

Examples:
  devauth enroll --server https://auth.example.com
  devauth enroll                # server URL from config`,
		RunE: runEnroll,
	}

	cmd.Flags().StringVar(&enrollServerURL, "server", "", "authorization server base URL")
	return cmd
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp()
	if err != nil {
		return err
	}

	serverURL := enrollServerURL
	if serverURL == "" {
		serverURL = app.cfg.Server.URL
	}
	if serverURL == "" {
		return fmt.Errorf("no server URL configured; use --server")
	}

	// Probe before opening a browser so an unreachable server fails
	// fast with a useful message.
	sp := newSpinner("Contacting " + serverURL + "...")
	info, err := app.transport.ProbeSystemInfo(ctx, serverURL)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("server is not reachable: %w", err)
	}
	if info.ServerName != "" {
		fmt.Printf("Connected to %s (%s)\n", info.ServerName, info.Version)
	}

	srv := callback.NewServer(app.cfg.Callback.Port)
	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	redirectURI, err := srv.Start(srvCtx)
	if err != nil {
		return err
	}
	defer srv.Stop()

	engine := app.registrationEngine(redirectURI)
	enrollURL, err := engine.BeginEnrollment(serverURL)
	if err != nil {
		return err
	}

	fmt.Println("Opening browser for device approval...")
	if err := callback.OpenBrowser(enrollURL); err != nil {
		fmt.Printf("Could not open browser automatically.\nVisit this URL to approve the device:\n\n  %s\n\n", enrollURL)
	}

	sp = newSpinner("Waiting for approval...")
	waitCtx, waitCancel := context.WithTimeout(ctx, callback.WaitTimeout)
	defer waitCancel()
	params, err := srv.Wait(waitCtx)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("no approval received: %w", err)
	}

	callbackServer, iat, err := engine.HandleEnrollmentCallback(params)
	if err != nil {
		return err
	}

	sp = newSpinner("Registering device...")
	clientID, err := engine.RegisterDevice(ctx, callbackServer, iat)
	sp.Stop()
	if err != nil {
		return err
	}

	if err := app.saveServerURL(callbackServer); err != nil {
		return err
	}

	fmt.Printf("Device enrolled with %s (client %s)\n", callbackServer, clientID)
	fmt.Println("Run 'devauth login' to start a session.")
	return nil
}
