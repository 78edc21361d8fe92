// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/colorprofile"
	"github.com/spf13/cobra"

	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/log"
	"github.com/lanpam/lanpam/responder"
)

// DeviceConfig holds the device command line configuration.
type DeviceConfig struct {
	KeyFile    string
	Listen     string
	Name       string
	Cipher     string
	AutoAccept bool
	AutoDeny   bool
	LogLevel   string
}

func newDeviceCommand() *cobra.Command {
	var cfg DeviceConfig

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Run a device answering approval requests",
		Long: `Run a device on this machine: listen for approval requests, show each one
and answer with the decision typed on the terminal.

The device decrypts requests with the private key generated by
'lanpam keygen'.  Requests withdrawn by the client, because another device
already answered or the client gave up, are dismissed automatically.`,
		Example: `
  # Answer requests interactively
  lanpam device --key phone.pem

  # Accept everything, e.g. for testing a PAM setup
  lanpam device --key phone.pem --auto-accept --listen 127.0.0.1:4200`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), &cfg)
		},
	}

	cmd.Flags().StringVarP(&cfg.KeyFile, "key", "k", "", "path to the device private key (PEM)")
	cmd.Flags().StringVarP(&cfg.Listen, "listen", "l", responder.DefaultAddress, "address to listen on")
	cmd.Flags().StringVarP(&cfg.Name, "name", "n", "", "device name reported to clients, default the hostname")
	cmd.Flags().StringVar(&cfg.Cipher, "cipher", hybrid.CipherAESECB, "symmetric cipher (aes-256-ecb, xchacha20-poly1305)")
	cmd.Flags().BoolVar(&cfg.AutoAccept, "auto-accept", false, "accept every request")
	cmd.Flags().BoolVar(&cfg.AutoDeny, "auto-deny", false, "reject every request")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "NOTICE", "log level (ERROR, WARNING, NOTICE, INFO, DEBUG)")
	cmd.MarkFlagRequired("key")
	cmd.MarkFlagsMutuallyExclusive("auto-accept", "auto-deny")
	return cmd
}

func runDevice(ctx context.Context, in io.Reader, out io.Writer, cfg *DeviceConfig) error {
	b, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return err
	}
	priv, err := hybrid.PrivateKeyFromPEM(b)
	if err != nil {
		return fmt.Errorf("failed to load key '%s': %w", cfg.KeyFile, err)
	}
	c, err := hybrid.CipherByName(cfg.Cipher)
	if err != nil {
		return fmt.Errorf("invalid argument: %w", err)
	}
	if cfg.Name == "" {
		if cfg.Name, err = os.Hostname(); err != nil {
			return err
		}
	}

	backend, err := log.New("", cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("invalid argument: %w", err)
	}
	defer backend.Close()

	var approver responder.Approver
	switch {
	case cfg.AutoAccept:
		approver = fixedApprover(true)
	case cfg.AutoDeny:
		approver = fixedApprover(false)
	default:
		approver = newPrompter(in, colorprofile.NewWriter(out, os.Environ()))
	}

	r, err := responder.New(&responder.Config{
		Name:       cfg.Name,
		PrivateKey: priv,
		Cipher:     c,
		Approver:   approver,
		LogBackend: backend,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	backend.GetLogger("device").Noticef("%s listening on %v (%s)", cfg.Name, ln.Addr(), c.Name())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Serve(ctx, ln)
}

func fixedApprover(accept bool) responder.Approver {
	return responder.ApproverFunc(func(context.Context, *responder.Request) (bool, error) {
		return accept, nil
	})
}

// prompter asks the terminal user about one request at a time.
type prompter struct {
	sync.Mutex

	out   io.Writer
	lines <-chan string
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(in)
		for s.Scan() {
			lines <- s.Text()
		}
	}()
	return &prompter{
		out:   out,
		lines: lines,
	}
}

func (p *prompter) Approve(ctx context.Context, req *responder.Request) (bool, error) {
	p.Lock()
	defer p.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	fmt.Fprintf(p.out, "\n%s from %v\n", headerStyle.Render("Authentication request"), req.Remote)
	fmt.Fprintf(p.out, "  %s %s\n", infoStyle.Render("user:   "), req.Body.User)
	fmt.Fprintf(p.out, "  %s %s\n", infoStyle.Render("source: "), req.Body.Source)
	fmt.Fprintf(p.out, "  %s %s (%s)\n", infoStyle.Render("service:"), req.Body.Service, req.Body.Type)
	fmt.Fprint(p.out, "Approve? [y/N] ")

	select {
	case line, ok := <-p.lines:
		if !ok {
			return false, errors.New("no more input")
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			fmt.Fprintln(p.out, successStyle.Render("accepted"))
			return true, nil
		default:
			fmt.Fprintln(p.out, failureStyle.Render("rejected"))
			return false, nil
		}
	case <-ctx.Done():
		fmt.Fprintln(p.out, "\n"+failureStyle.Render("request withdrawn"))
		return false, ctx.Err()
	}
}
