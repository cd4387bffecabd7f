// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fiuctl/internal/config"
	"github.com/Thermoquad/fiuctl/internal/logging"
)

var (
	configPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// FIU flags
	moduleList      string
	sharedDMM       bool
	responseTimeout time.Duration
	simulate        bool

	// Logging flags
	logLevel  string
	logFormat string
)

// Loaded by the root pre-run hook
var (
	settings *config.Config
	logger   = slog.New(slog.DiscardHandler)
)

var rootCmd = &cobra.Command{
	Use:   "fiuctl",
	Short: "RS-485 Fault Insertion Unit control tool",
	Long: `fiuctl - drive RS-485 Fault Insertion Units from the command line.

Each FIU module switches 24 channels between connected, open circuit, short
to ground and the shared voltage/current measurement buses. fiuctl refuses any
command that would put two channels on a hazardous bus at the same time.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulator: --simulate

Settings are read from --config (YAML), then FIUCTL_* environment variables,
then flags. For WebSocket authentication the password is read from the
FIUCTL_PASSWORD environment variable, or prompted interactively if not set.
The --password flag is intentionally not provided to avoid leaking
credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&configPath, "config", "", "YAML configuration file")

	// Serial connection flags
	flags.StringVarP(&portName, "port", "p", "", "Serial port device")
	flags.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// FIU flags
	flags.StringVarP(&moduleList, "modules", "m", "0", "Comma-separated FIU module ids on the bus (0-7)")
	flags.BoolVar(&sharedDMM, "shared-dmm", false, "Modules share one DMM: allow one hazardous channel across all modules")
	flags.DurationVar(&responseTimeout, "timeout", 500*time.Millisecond, "Response timeout per command")
	flags.BoolVar(&simulate, "simulate", false, "Use an in-memory simulated bus instead of hardware")

	// Logging flags
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "console", "Log format (console, text, json)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadSettings merges the config file, environment and any flags the user
// set explicitly, then builds the logger.
func loadSettings(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	settings = cfg
	logger = logging.New(cfg.Logging)
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("port") {
		cfg.Transport.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Transport.BaudRate = baudRate
	}
	if flags.Changed("url") {
		cfg.Transport.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Transport.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Transport.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("modules") {
		modules, err := config.ParseModules(moduleList)
		if err != nil {
			return fmt.Errorf("--modules: %w", err)
		}
		cfg.FIU.Modules = modules
	}
	if flags.Changed("shared-dmm") {
		cfg.FIU.SharedDMM = sharedDMM
	}
	if flags.Changed("timeout") {
		cfg.FIU.ResponseTimeoutMs = int(responseTimeout / time.Millisecond)
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
