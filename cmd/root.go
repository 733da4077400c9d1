// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Thermoquad/canloop/internal/config"
	"github.com/Thermoquad/canloop/internal/logging"
)

var (
	// Bus connection flags
	canIface      string
	portName      string
	baudRate      int
	canBitrate    int
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Node flags
	periodMS    int
	idleMS      int
	metricsAddr string

	// Settings flags
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	settings *config.Config
	logger   = logr.Discard()
	syncLog  = func() {}
)

var rootCmd = &cobra.Command{
	Use:   "canloop",
	Short: "Thermal loop controller node for CAN buses",
	Long: `canloop - A fixed-point controller node for a pump and fan cooling loop.

The controller listens for plant feedback on a CAN bus, runs a coupled flow and
temperature control step per sample, and sends pump and fan commands at a fixed
period while feedback keeps arriving.

Bus connection modes:
  SocketCAN: --iface can0
  SLCAN:     --port /dev/ttyACM0 [--baud 115200] [--bitrate 500000]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the CANLOOP_PASSWORD
environment variable (or the env file), or prompted interactively if not set.
The --password flag is intentionally not provided to avoid leaking credentials
in shell history.

Settings are taken from flags, then the environment, then the --config file,
then built-in defaults.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(*cobra.Command, []string) { syncLog() },
}

func init() {
	pf := rootCmd.PersistentFlags()

	// Bus connection flags
	pf.StringVarP(&canIface, "iface", "i", "", "SocketCAN interface (e.g. can0, vcan0)")
	pf.StringVarP(&portName, "port", "p", "", "SLCAN serial adapter device")
	pf.IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (SLCAN only)")
	pf.IntVar(&canBitrate, "bitrate", 500000, "CAN bitrate (SLCAN only)")
	pf.StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	pf.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	pf.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Node flags
	pf.IntVar(&periodMS, "period-ms", 1000, "Command transmission period in milliseconds")
	pf.IntVar(&idleMS, "idle-ms", 3000, "Feedback inactivity window in milliseconds")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /status on this address")

	// Settings flags
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&envFile, "env-file", "", "Env file (default .env if present)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "console", "Log format: console, json")
}

// loadSettings resolves the configuration and builds the logger.
func loadSettings(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	env, err := config.Environ(envFile)
	if err != nil {
		return err
	}
	if err := c.ApplyEnv(env); err != nil {
		return err
	}
	applyFlags(cmd.Flags(), c)
	if err := c.Validate(); err != nil {
		return err
	}

	log, sync, err := logging.New(logging.Options{Level: c.Log.Level, Format: c.Log.Format})
	if err != nil {
		return err
	}
	settings, logger, syncLog = c, log, sync
	return nil
}

// applyFlags copies explicitly set flags over c.
func applyFlags(flags *pflag.FlagSet, c *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("iface", func() { c.Bus.Interface = canIface })
	set("port", func() { c.Bus.Port = portName })
	set("baud", func() { c.Bus.Baud = baudRate })
	set("bitrate", func() { c.Bus.Bitrate = canBitrate })
	set("url", func() { c.Bus.URL = wsURL })
	set("username", func() { c.Bus.Username = wsUsername })
	set("no-ssl-verify", func() { c.Bus.NoSSLVerify = wsNoSSLVerify })
	set("period-ms", func() { c.Node.PeriodMS = periodMS })
	set("idle-ms", func() { c.Node.IdleMS = idleMS })
	set("metrics-addr", func() { c.Metrics.Addr = metricsAddr })
	set("log-level", func() { c.Log.Level = logLevel })
	set("log-format", func() { c.Log.Format = logFormat })
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
