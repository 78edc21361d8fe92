// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"crypto/rsa"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"

	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/utils"
)

// KeygenConfig holds the keygen command line configuration.
type KeygenConfig struct {
	Out  string
	Bits int
	QR   bool
}

func newKeygenCommand() *cobra.Command {
	var cfg KeygenConfig

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a device key pair",
		Long: `Generate an RSA key pair for a device.

The private key is written to <out>.pem (PKCS#8) and the public key to
<out>.pub.pem.  Existing files are never overwritten.  The base64 encoded
public key printed on success goes into the PublicKey field of the device in
the lanpam configuration.`,
		Example: `
  # Generate phone.pem and phone.pub.pem
  lanpam keygen --out phone

  # Also display the public key as a QR code
  lanpam keygen --out phone --qr`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeygen(cmd.OutOrStdout(), &cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.Out, "out", "o", "device", "output key pair name")
	cmd.Flags().IntVar(&cfg.Bits, "bits", 2048, "RSA modulus size")
	cmd.Flags().BoolVarP(&cfg.QR, "qr", "q", false, "print the public key as a QR code")
	return cmd
}

func runKeygen(w io.Writer, cfg *KeygenConfig) error {
	if cfg.Out == "" {
		return fmt.Errorf("invalid argument: --out cannot be empty")
	}
	if cfg.Bits < 2048 {
		return fmt.Errorf("invalid argument: --bits must be at least 2048")
	}

	privOut := cfg.Out + ".pem"
	pubOut := cfg.Out + ".pub.pem"
	if err := utils.NoneExist(privOut, pubOut); err != nil {
		return err
	}

	priv, err := rsa.GenerateKey(rand.Reader, cfg.Bits)
	if err != nil {
		return err
	}
	privPEM, err := hybrid.PrivateKeyToPEM(priv)
	if err != nil {
		return err
	}
	pubPEM, err := hybrid.PublicKeyToPEM(&priv.PublicKey)
	if err != nil {
		return err
	}
	pub, err := hybrid.MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return err
	}

	if err := utils.WriteFileExclusive(privOut, privPEM, 0600); err != nil {
		return err
	}
	if err := utils.WriteFileExclusive(pubOut, pubPEM, 0644); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s %s and %s\n\n", infoStyle.Render("Wrote"), privOut, pubOut)
	fmt.Fprintf(w, "%s\n%s\n", headerStyle.Render("PublicKey"), pub)

	if cfg.QR {
		fmt.Fprintln(w)
		qrterminal.GenerateWithConfig(pub, qrterminal.Config{
			Level:      qrterminal.L,
			Writer:     w,
			HalfBlocks: true,
			QuietZone:  1,
		})
	}
	return nil
}
