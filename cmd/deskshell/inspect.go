package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/deskshell/shell/journal"
	"github.com/tomyedwab/deskshell/shell/processes"
)

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Print the resolved backend and data locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		layout, err := resolveLayout(cfg)
		if err != nil {
			return err
		}
		dirs := layout.RuntimeDirectories()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "mode\t%s\n", cfg.Mode)
		fmt.Fprintf(w, "os\t%s\n", layout.OS)
		fmt.Fprintf(w, "resources\t%s\n", layout.ResourceDir)
		fmt.Fprintf(w, "backend\t%s\n", layout.Executable)
		fmt.Fprintf(w, "config\t%s\n", dirs.ConfigDir)
		fmt.Fprintf(w, "database\t%s\n", dirs.DatabasePath(cfg.Backend.DBFile))
		fmt.Fprintf(w, "uploads\t%s\n", dirs.UploadDir)
		fmt.Fprintf(w, "journal\t%s\n", filepath.Join(dirs.ConfigDir, journal.DefaultFile))
		return w.Flush()
	},
}

var (
	flagProbePort    int
	flagProbeTimeout time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Wait for a backend to accept connections on 127.0.0.1",
	Long: `Probe 127.0.0.1:<port> until it accepts a TCP connection or the timeout
elapses. Exits 0 when the backend is ready and 1 otherwise.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagProbePort <= 0 || flagProbePort > 65535 {
			return fmt.Errorf("invalid port %d", flagProbePort)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		endpoint := processes.NewEndpoint(flagProbePort)
		result := processes.NewProber(processes.DefaultProbeInterval).Probe(ctx, endpoint, flagProbeTimeout)
		if !result.Ready {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s not ready after %v (%d attempts)\n",
				endpoint.Address(), result.Elapsed.Round(time.Millisecond), result.Attempts)
			return &exitError{code: 1, err: fmt.Errorf("%s not ready", endpoint.Address())}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ready after %v\n", endpoint.Address(), result.Elapsed.Round(time.Millisecond))
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal [run-id]",
	Short: "Print the events of the latest run, or of the given run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		layout, err := resolveLayout(cfg)
		if err != nil {
			return err
		}

		path := filepath.Join(layout.ConfigDir, journal.DefaultFile)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no journal at %s: %w", path, err)
		}
		j, err := journal.Open(path)
		if err != nil {
			return err
		}
		defer j.Close()

		runID := ""
		if len(args) == 1 {
			runID = args[0]
		} else if runID, err = j.LatestRunID(); err != nil {
			return err
		}
		if runID == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "journal is empty")
			return nil
		}

		events, err := j.Events(runID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "run %s\n", runID)
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				e.Time().Local().Format("2006-01-02 15:04:05.000"), e.EventType, e.State, e.Detail)
		}
		return w.Flush()
	},
}

func init() {
	probeCmd.Flags().IntVar(&flagProbePort, "port", 4000, "Port to probe")
	probeCmd.Flags().DurationVar(&flagProbeTimeout, "timeout", processes.DefaultStartupTimeout, "Give up after this long")
}
