package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-the-way/novnc4svc/cmd/novnc4svc/commands"
)

var rootCmd = &cobra.Command{
	Use:           "novnc4svc",
	Short:         "noVNC websocket relay and VNC client tools",
	Long:          "Relay browser websocket connections to VNC backends and probe VNC servers over websockify.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return commands.SetupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (default: ~/.novnc4svc/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

func main() {
	rootCmd.AddCommand(commands.NewProxyCmd())
	rootCmd.AddCommand(commands.NewProbeCmd())
	rootCmd.AddCommand(commands.NewAuthResponseCmd())
	rootCmd.AddCommand(commands.NewPasswordCmd())
	rootCmd.AddCommand(commands.NewCaptureCmd())
	rootCmd.AddCommand(commands.NewDoctorCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
