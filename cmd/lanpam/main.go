// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// lanpam asks the devices on the local network to approve a PAM
// authentication request.  It is meant to be run by pam_exec:
//
//	auth sufficient pam_exec.so quiet /usr/local/bin/lanpam /etc/lanpam/lanpam.toml
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/lanpam/lanpam/approval"
	"github.com/lanpam/lanpam/common"
	"github.com/lanpam/lanpam/config"
	"github.com/lanpam/lanpam/core/log"
	"github.com/lanpam/lanpam/internal/instrument"
	"github.com/lanpam/lanpam/pam"
)

const defaultConfigFile = "/etc/lanpam/lanpam.toml"

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// Config holds the command line configuration.
type Config struct {
	ConfigFile string
}

// configPath returns the configuration file named by the first positional
// argument, the --config flag or the default, in that order.
func (cfg *Config) configPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	if cfg.ConfigFile != "" {
		return cfg.ConfigFile
	}
	return defaultConfigFile
}

func newRootCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "lanpam [config]",
		Short: "Approve PAM authentication requests from devices on the LAN",
		Long: `lanpam sends the pending PAM authentication request to every configured
device at once and waits for the first one to accept it.

The request (source machine, user, service and PAM type) is encrypted for
each device with its public key.  lanpam exits with status 0 as soon as any
device accepts, and with status 1 if every device rejects, fails or does not
answer before the timeout.

The PAM context is read from the PAM_USER, PAM_SERVICE and PAM_TYPE
environment variables set by pam_exec.`,
		Example: `
  # /etc/pam.d/sudo
  auth sufficient pam_exec.so quiet /usr/local/bin/lanpam /etc/lanpam/lanpam.toml

  # Try it by hand
  PAM_USER=alice PAM_SERVICE=sudo PAM_TYPE=auth lanpam -c lanpam.toml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthenticate(cmd.Context(), cfg.configPath(args))
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "c", "",
		"path to the configuration file (TOML, or JSON as written for pam-exec), default "+defaultConfigFile)

	cmd.AddCommand(
		newCheckCommand(),
		newKeygenCommand(),
		newDeviceCommand(),
	)
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func runAuthenticate(ctx context.Context, configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", configFile, err)
	}

	pctx, err := pam.FromEnv()
	if err != nil {
		return err
	}

	backend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return err
	}
	defer backend.Close()
	logger := backend.GetLogger("lanpam")

	var metrics *instrument.Metrics
	if cfg.Metrics.Textfile != "" {
		metrics = instrument.New()
	}

	client, err := approval.NewFromConfig(cfg, backend, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Noticef("asking %d device(s) to approve %s@%s for %s (%s)",
		len(cfg.Devices), pctx.User, cfg.SourceName, pctx.Service, pctx.Type)
	report, err := client.Authenticate(ctx, pctx.RequestBody(cfg.SourceName))

	if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warningf("failed to write metrics: %v", err)
	}

	switch {
	case errors.Is(err, context.Canceled):
		logger.Notice("interrupted")
		return &common.ExitError{Code: 1}
	case err != nil:
		return err
	case report.Decision != approval.Approved:
		return &common.ExitError{Code: 1}
	}
	return nil
}
