package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Long: `Show the user logged in on this device.

Fetches the user profile from the server, refreshing the access token
first if it has expired.`,
		RunE: runWhoami,
	}
}

func runWhoami(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	info, err := app.session.UserInfo(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(info.Username)
	if info.Name != "" {
		fmt.Printf("  Name:  %s\n", info.Name)
	}
	if info.Email != "" {
		fmt.Printf("  Email: %s\n", info.Email)
	}
	return nil
}
