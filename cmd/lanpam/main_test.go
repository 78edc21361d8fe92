// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lanpam/lanpam/common"
	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/log"
	"github.com/lanpam/lanpam/core/utils"
	"github.com/lanpam/lanpam/core/wire"
	"github.com/lanpam/lanpam/responder"
)

// keygen creates a key pair in a temporary directory and returns the
// private key path and the base64 public key.
func keygen(t *testing.T) (string, string) {
	require := require.New(t)

	out := filepath.Join(t.TempDir(), "phone")
	var buf bytes.Buffer
	require.NoError(runKeygen(&buf, &KeygenConfig{Out: out, Bits: 2048}))

	b, err := os.ReadFile(out + ".pem")
	require.NoError(err)
	priv, err := hybrid.PrivateKeyFromPEM(b)
	require.NoError(err)
	pub, err := hybrid.MarshalPublicKey(&priv.PublicKey)
	require.NoError(err)
	require.Contains(buf.String(), pub)
	return out + ".pem", pub
}

func TestKeygen(t *testing.T) {
	require := require.New(t)

	keyFile, _ := keygen(t)
	fi, err := os.Stat(keyFile)
	require.NoError(err)
	require.Equal(os.FileMode(0600), fi.Mode().Perm())

	out := strings.TrimSuffix(keyFile, ".pem")
	err = runKeygen(io.Discard, &KeygenConfig{Out: out, Bits: 2048})
	require.ErrorIs(err, utils.ErrFileExists)

	require.Error(runKeygen(io.Discard, &KeygenConfig{Out: out + "2", Bits: 1024}))
}

func TestKeygenQR(t *testing.T) {
	var buf bytes.Buffer
	out := filepath.Join(t.TempDir(), "tablet")
	require.NoError(t, runKeygen(&buf, &KeygenConfig{Out: out, Bits: 2048, QR: true}))
	require.Greater(t, strings.Count(buf.String(), "\n"), 20)
}

func startDevice(t *testing.T, keyFile string, accept bool) string {
	require := require.New(t)

	b, err := os.ReadFile(keyFile)
	require.NoError(err)
	priv, err := hybrid.PrivateKeyFromPEM(b)
	require.NoError(err)
	backend, err := log.NewWithWriter(io.Discard, "DEBUG")
	require.NoError(err)

	r, err := responder.New(&responder.Config{
		Name:       "phone",
		PrivateKey: priv,
		Approver:   fixedApprover(accept),
		LogBackend: backend,
	})
	require.NoError(err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func writeConfig(t *testing.T, address, pub string) string {
	f := filepath.Join(t.TempDir(), "lanpam.toml")
	body := `SourceName = "workstation"

[Logging]
Disable = true

[Approval]
TimeoutSec = 5

[Metrics]
Textfile = "` + filepath.Join(filepath.Dir(f), "lanpam.prom") + `"

[[Devices]]
Name = "phone"
Address = "` + address + `"
PublicKey = "` + pub + `"
`
	require.NoError(t, os.WriteFile(f, []byte(body), 0600))
	return f
}

func setPAMEnv(t *testing.T) {
	t.Setenv("PAM_USER", "alice")
	t.Setenv("PAM_SERVICE", "sudo")
	t.Setenv("PAM_TYPE", "auth")
}

func TestAuthenticate(t *testing.T) {
	require := require.New(t)

	keyFile, pub := keygen(t)
	setPAMEnv(t)

	accepting := writeConfig(t, startDevice(t, keyFile, true), pub)
	require.NoError(runAuthenticate(context.Background(), accepting))

	b, err := os.ReadFile(filepath.Join(filepath.Dir(accepting), "lanpam.prom"))
	require.NoError(err)
	require.Contains(string(b), `lanpam_decisions_total{decision="approved"} 1`)

	rejecting := writeConfig(t, startDevice(t, keyFile, false), pub)
	err = runAuthenticate(context.Background(), rejecting)
	require.Equal(1, common.ExitCode(err))
	require.IsType(&common.ExitError{}, err)
}

func TestAuthenticateFatal(t *testing.T) {
	require := require.New(t)

	keyFile, pub := keygen(t)
	cfgFile := writeConfig(t, startDevice(t, keyFile, true), pub)

	// No PAM context.
	t.Setenv("PAM_USER", "")
	err := runAuthenticate(context.Background(), cfgFile)
	require.Error(err)
	require.NotErrorAs(err, new(*common.ExitError))

	setPAMEnv(t)
	err = runAuthenticate(context.Background(), filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(err, "failed to load config file")

	t.Setenv("PAM_USER", strings.Repeat("u", 1000))
	err = runAuthenticate(context.Background(), cfgFile)
	require.ErrorIs(err, wire.ErrEnvelopeTooLarge)
}

func TestCheck(t *testing.T) {
	require := require.New(t)

	_, pub := keygen(t)
	var buf bytes.Buffer
	require.NoError(runCheck(&buf, writeConfig(t, "192.0.2.1:4200", pub)))
	require.Contains(buf.String(), "phone")
	require.Contains(buf.String(), "aes-256-ecb")

	buf.Reset()
	err := runCheck(&buf, writeConfig(t, "192.0.2.1:4200", "bm90IGEga2V5"))
	require.Equal(1, common.ExitCode(err))
	require.Contains(buf.String(), "unusable")
}

func TestPrompter(t *testing.T) {
	require := require.New(t)

	req := &responder.Request{
		Body: &wire.RequestBody{Source: "workstation", User: "alice", Service: "sudo", Type: "auth"},
	}
	var out bytes.Buffer
	p := newPrompter(strings.NewReader("y\nno\n"), &out)

	ok, err := p.Approve(context.Background(), req)
	require.NoError(err)
	require.True(ok)
	ok, err = p.Approve(context.Background(), req)
	require.NoError(err)
	require.False(ok)
	require.Contains(out.String(), "alice")

	_, err = p.Approve(context.Background(), req)
	require.Error(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newPrompter(strings.NewReader(""), io.Discard).Approve(ctx, req)
	require.ErrorIs(err, context.Canceled)
}

func TestConfigPath(t *testing.T) {
	require := require.New(t)

	var cfg Config
	require.Equal(defaultConfigFile, cfg.configPath(nil))
	cfg.ConfigFile = "flag.toml"
	require.Equal("flag.toml", cfg.configPath(nil))
	require.Equal("arg.toml", cfg.configPath([]string{"arg.toml"}))
}
