package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"devauth/internal/session"
	"devauth/pkg/logging"
	"devauth/pkg/oauth"
)

// Exit codes for CLI commands. These follow common conventions so the
// CLI can be scripted.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates enrollment or login is required but not available.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the enrollment or login flow failed.
	ExitCodeAuthFailed = 3
)

// Persistent flag values.
var (
	// configDir is the --config flag. Empty means the per-user
	// default directory.
	configDir string

	// debugLog enables debug-level log output.
	debugLog bool
)

// rootCmd represents the base command for the devauth application.
var rootCmd = &cobra.Command{
	Use:   "devauth",
	Short: "Enroll this device and manage its login session",
	Long: `devauth enrolls this device with an authorization server via OAuth
Dynamic Client Registration and manages the device's login session
using PKCE and private_key_jwt client authentication.`,
	// SilenceUsage prevents Cobra from printing the usage message on
	// errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if debugLog {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)
	},
}

// SetVersion sets the version for the root command. Called from the
// main package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "devauth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error
// type. This provides semantic exit codes for scripting.
func getExitCode(err error) int {
	if errors.Is(err, session.ErrNotRegistered) || errors.Is(err, session.ErrNotLoggedIn) {
		return ExitCodeAuthRequired
	}

	var perr *oauth.ProtocolError
	if errors.As(err, &perr) {
		return ExitCodeAuthFailed
	}

	var verr *oauth.ValidationError
	if errors.As(err, &verr) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "config directory (default is $HOME/.config/devauth)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newEnrollCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newVersionCmd())
}
