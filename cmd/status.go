package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show enrollment and session status",
		Long: `Show the device's enrollment and session status.

Displays whether the device is enrolled, which server it is enrolled
with, and whether a login session is active.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	reg, registered := app.creds.Registration()
	if !registered {
		t.AppendRow(table.Row{"Enrollment", text.FgYellow.Sprint("Not enrolled")})
		t.Render()
		fmt.Println("\nRun 'devauth enroll --server <url>' to enroll this device.")
		return nil
	}

	if !app.keys.HasKey(reg.KeyID) {
		t.AppendRow(table.Row{"Enrollment", text.FgRed.Sprint("Broken (device key missing)")})
		t.Render()
		fmt.Println("\nRun 'devauth reset' and enroll again.")
		return nil
	}

	t.AppendRow(table.Row{"Enrollment", text.FgGreen.Sprint("Enrolled")})
	t.AppendRow(table.Row{"Server", reg.ServerURL})
	t.AppendRow(table.Row{"Client ID", reg.ClientID})
	t.AppendRow(table.Row{"Enrolled at", reg.RegisteredAt.Local().Format(time.RFC1123)})
	t.AppendRow(table.Row{"Key custody", keyCustodyLabel(app.keys.HardwareBacked())})
	t.AppendSeparator()

	ts, loggedIn := app.creds.Tokens()
	switch {
	case !loggedIn:
		t.AppendRow(table.Row{"Session", text.FgYellow.Sprint("Not logged in")})
	case ts.Expired(time.Now()) && ts.RefreshToken == "":
		t.AppendRow(table.Row{"Session", text.FgYellow.Sprint("Expired")})
	case ts.Expired(time.Now()):
		t.AppendRow(table.Row{"Session", text.FgGreen.Sprint("Active (refresh pending)")})
	default:
		t.AppendRow(table.Row{"Session", text.FgGreen.Sprint("Active")})
		if !ts.ExpiresAt.IsZero() {
			t.AppendRow(table.Row{"Token expires", ts.ExpiresAt.Local().Format(time.RFC1123)})
		}
	}

	t.Render()
	return nil
}

func keyCustodyLabel(hardware bool) string {
	if hardware {
		return "hardware-backed"
	}
	return "software (sealed on disk)"
}
