package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/go-the-way/novnc4svc/internal/config"
	"github.com/go-the-way/novnc4svc/internal/doctor"
	"github.com/go-the-way/novnc4svc/internal/logging"
)

var errUnhealthy = errors.New("one or more checks failed")

func NewDoctorCmd() *cobra.Command {
	var opts doctor.DoctorOptions
	var category string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, keyring and backends",
		Long: `Run preflight checks for the relay and the probe.

The doctor command checks:
- The config file loads and validates
- The password keyring can be opened
- The capture file is writable
- The file descriptor limit
- The relay listen address is free
- Static backends accept TCP connections

Examples:
  novnc4svc doctor                     # Run all checks
  novnc4svc doctor --json              # Output results as JSON
  novnc4svc doctor --category services # Only check listen address and backends`,
		// An invalid config must not stop the doctor from reporting it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := SetupLogging(); err != nil {
				logging.Configure(os.Stderr, slog.LevelWarn, "text")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, ok := doctor.ParseCategory(category)
			if !ok {
				return fmt.Errorf("invalid category: %s (valid: config, services, system, permissions)", category)
			}
			opts.Category = c

			cfg, err := loadConfig()
			if err != nil {
				cfg = config.DefaultConfig()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			checkers := doctor.DefaultCheckers(cfg, configPath(), openPasswordStore)
			useColors := !opts.JSON && cmd.OutOrStdout() == os.Stdout && term.IsTerminal(int(os.Stdout.Fd()))
			d := doctor.NewWithWriter(opts, cmd.OutOrStdout(), useColors, checkers...)

			report, err := d.Run(ctx)
			if err != nil {
				return fmt.Errorf("doctor check failed: %w", err)
			}
			if !report.Summary.IsHealthy() {
				return errUnhealthy
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output results as JSON")
	cmd.Flags().StringVar(&category, "category", "", "Filter checks by category (config, services, system, permissions)")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Show details of passing checks")

	return cmd
}
