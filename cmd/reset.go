package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Remove this device's enrollment",
		Long: `Remove this device's enrollment.

Deletes the device signing key, the registration record, and any
stored tokens. The device must be enrolled again before it can log
in. The server-side client record is not removed.`,
		RunE: runReset,
	}

	cmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func runReset(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}

	if _, registered := app.creds.Registration(); !registered {
		fmt.Println("Device is not enrolled.")
		return nil
	}

	if !resetYes && !confirm("Remove this device's enrollment? [y/N]: ") {
		fmt.Println("Aborted.")
		return nil
	}

	engine := app.registrationEngine("")
	if err := engine.ResetRegistration(); err != nil {
		return err
	}

	fmt.Println("Enrollment removed.")
	return nil
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
