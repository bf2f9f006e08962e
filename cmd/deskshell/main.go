// Command deskshell runs the desktop shell: it starts the bundled backend, waits
// for it to accept connections and shows it in an application window.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/deskshell/shell/config"
)

// buildMode is set at link time with -X main.buildMode=development.
var buildMode = config.ModeProduction

const (
	exitDevelopmentFailure = 1
	exitProductionFailure  = 2
)

// exitError carries the process exit code for a failed run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var (
	flagMode   string
	flagConfig string
)

var rootCmd = &cobra.Command{
	Use:   "deskshell",
	Short: "Run the desktop shell around the bundled backend",
	Long: `Run the desktop shell.

In production the shell prepares its data directories, runs database
migrations, starts the bundled backend on 127.0.0.1 and opens a window once
the backend accepts connections. In development it only attaches to a
backend that is already running on the development port.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runShell,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "", "Override the build mode (development or production)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(pathsCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(journalCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration for any subcommand.
func loadConfig() (*config.Config, error) {
	exeDir := ""
	if exe, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exe)
	}

	return config.Load(config.LoadOptions{
		Path:          flagConfig,
		DefaultMode:   buildMode,
		ExecutableDir: exeDir,
		Mode:          flagMode,
	})
}
