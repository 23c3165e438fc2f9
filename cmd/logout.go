package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the login session on this device",
		Long: `End the login session on this device.

Discards the stored tokens. The device stays enrolled; run
'devauth login' to start a new session.`,
		RunE: runLogout,
	}
}

func runLogout(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	if !app.session.IsLoggedIn() {
		fmt.Println("No active session.")
		return nil
	}

	if err := app.session.Logout(); err != nil {
		return err
	}

	fmt.Println("Logged out.")
	return nil
}
