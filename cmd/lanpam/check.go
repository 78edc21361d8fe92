// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	"github.com/lanpam/lanpam/common"
	"github.com/lanpam/lanpam/config"
	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/wire"
	"github.com/lanpam/lanpam/pam"
)

// sampleUser is long enough to leave headroom for real user names.
const sampleUser = "a-rather-long-user-name-for-sizing"

func newCheckCommand() *cobra.Command {
	var cfg Config

	cmd := &cobra.Command{
		Use:   "check [config]",
		Short: "Validate the configuration without contacting any device",
		Long: `Load and validate the configuration, parse every device public key and
report the size of the request envelope each device would be sent.

No network connection is made.  If the PAM_* environment variables are set
they are used for the sample request, otherwise a placeholder request is
sized.  The envelope must stay below 1200 bytes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.OutOrStdout(), cfg.configPath(args))
		},
	}

	cmd.Flags().StringVarP(&cfg.ConfigFile, "config", "c", "",
		"path to the configuration file, default "+defaultConfigFile)
	return cmd
}

func sampleBody(source string) *wire.RequestBody {
	if pctx, err := pam.FromEnv(); err == nil {
		return pctx.RequestBody(source)
	}
	return &wire.RequestBody{
		Source:  source,
		User:    sampleUser,
		Service: "sudo",
		Type:    "auth",
	}
}

func runCheck(w io.Writer, configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%s': %w", configFile, err)
	}

	body, err := sampleBody(cfg.SourceName).Marshal()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s (source %q, timeout %ds)\n",
		headerStyle.Render("Configuration"), configFile, cfg.SourceName, cfg.Approval.TimeoutSec)

	failed := 0
	for _, d := range cfg.Devices {
		size, err := checkDevice(d, body)
		if err != nil {
			failed++
			fmt.Fprintf(w, "  %s %s (%s): %v\n", failureStyle.Render("FAIL"), d.Name, d.Address, err)
			continue
		}
		fmt.Fprintf(w, "  %s %s (%s) %s, %d/%d bytes\n",
			successStyle.Render("OK  "), d.Name, d.Address, d.Cipher, size, wire.MaxEnvelopeSize-1)
	}

	if failed > 0 {
		fmt.Fprintf(w, "%s\n", failureStyle.Render(fmt.Sprintf("%d of %d device(s) unusable", failed, len(cfg.Devices))))
		return &common.ExitError{Code: 1}
	}
	return nil
}

func checkDevice(d *config.Device, body []byte) (int, error) {
	pub, err := hybrid.ParsePublicKey(d.PublicKey)
	if err != nil {
		return 0, err
	}
	c, err := hybrid.CipherByName(d.Cipher)
	if err != nil {
		return 0, err
	}
	sealed, err := hybrid.Seal(rand.Reader, pub, c, body)
	if err != nil {
		return 0, err
	}
	defer sealed.Key.Reset()
	return len(sealed.Payload), nil
}
