package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"devauth/internal/callback"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in on this device",
		Long: `Log in on this enrolled device.

Login opens the browser for user authentication and exchanges the
resulting authorization code for tokens using the device's signing
key. The device must be enrolled first.`,
		RunE: runLogin,
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp()
	if err != nil {
		return err
	}

	srv := callback.NewServer(app.cfg.Callback.Port)
	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	redirectURI, err := srv.Start(srvCtx)
	if err != nil {
		return err
	}
	defer srv.Stop()

	authURL, err := app.session.BeginLogin(redirectURI)
	if err != nil {
		return err
	}

	fmt.Println("Opening browser for login...")
	if err := callback.OpenBrowser(authURL); err != nil {
		fmt.Printf("Could not open browser automatically.\nVisit this URL to log in:\n\n  %s\n\n", authURL)
	}

	sp := newSpinner("Waiting for login...")
	waitCtx, waitCancel := context.WithTimeout(ctx, callback.WaitTimeout)
	defer waitCancel()
	params, err := srv.Wait(waitCtx)
	sp.Stop()
	if err != nil {
		return fmt.Errorf("no login callback received: %w", err)
	}

	if err := app.session.HandleLoginCallback(ctx, redirectURI, params); err != nil {
		return err
	}

	info, err := app.session.UserInfo(ctx)
	if err != nil {
		// The session is established even if the greeting fails.
		fmt.Println("Logged in.")
		return nil
	}

	fmt.Printf("Logged in as %s.\n", info.Username)
	return nil
}
