// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package approval asks a set of devices, concurrently, to approve an
// authentication request.  The first device to accept approves the request;
// anything else (rejections, failures, or the deadline elapsing) denies it.
package approval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/lanpam/lanpam/channel"
	"github.com/lanpam/lanpam/config"
	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/log"
	"github.com/lanpam/lanpam/core/wire"
	"github.com/lanpam/lanpam/internal/instrument"
)

const (
	// DefaultTimeout is the global deadline covering every attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultFailureDelay is the delay imposed on responses that fail to
	// decrypt or parse.
	DefaultFailureDelay = 3 * time.Second
)

// Device is a device to ask for approval.
type Device struct {
	// Name is the display name, used for diagnostics only.
	Name string

	// Address is the host:port of the device.
	Address string

	// PublicKey is the base64 DER public key of the device.
	PublicKey string

	// Cipher is the name of the symmetric cipher the device speaks.
	Cipher string
}

// Config is the Client configuration.
type Config struct {
	// Devices are the devices to ask.  Each is contacted exactly once per
	// Authenticate call.
	Devices []*Device

	// Timeout bounds the whole race.  Defaults to DefaultTimeout.
	Timeout time.Duration

	// FailureDelay defaults to DefaultFailureDelay.
	FailureDelay time.Duration

	// RejectIsFinal denies on the first rejection instead of waiting for
	// the remaining devices.
	RejectIsFinal bool

	// Dial overrides how devices are dialed, e.g. through a proxy.
	Dial channel.DialContextFn

	// Rand is the entropy source for session keys.  Defaults to the
	// hpqc CSPRNG.
	Rand io.Reader

	// LogBackend is the logging backend.
	LogBackend *log.Backend

	// Metrics is optional.
	Metrics *instrument.Metrics
}

// Client runs approval races.
type Client struct {
	cfg     Config
	channel *channel.Channel
	log     *logging.Logger
}

// New creates a Client.
func New(cfg *Config) (*Client, error) {
	if cfg.LogBackend == nil {
		return nil, errors.New("approval: no LogBackend")
	}
	if len(cfg.Devices) == 0 {
		return nil, errors.New("approval: no Devices")
	}

	c := &Client{
		cfg:     *cfg,
		channel: channel.New(cfg.Dial),
		log:     cfg.LogBackend.GetLogger("approval"),
	}
	if c.cfg.Timeout <= 0 {
		c.cfg.Timeout = DefaultTimeout
	}
	if c.cfg.FailureDelay <= 0 {
		c.cfg.FailureDelay = DefaultFailureDelay
	}
	if c.cfg.Rand == nil {
		c.cfg.Rand = rand.Reader
	}
	return c, nil
}

// NewFromConfig creates a Client from a validated configuration file.
func NewFromConfig(cfg *config.Config, backend *log.Backend, metrics *instrument.Metrics) (*Client, error) {
	dial, err := cfg.UpstreamProxy.ToDialContext()
	if err != nil {
		return nil, err
	}

	devices := make([]*Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, &Device{
			Name:      d.Name,
			Address:   d.Address,
			PublicKey: d.PublicKey,
			Cipher:    d.Cipher,
		})
	}

	return New(&Config{
		Devices:       devices,
		Timeout:       time.Duration(cfg.Approval.TimeoutSec) * time.Second,
		FailureDelay:  time.Duration(cfg.Approval.FailureDelayMs) * time.Millisecond,
		RejectIsFinal: cfg.Approval.RejectIsFinal,
		Dial:          channel.DialContextFn(dial),
		LogBackend:    backend,
		Metrics:       metrics,
	})
}

// Authenticate asks every device to approve body and returns the decision.
//
// Envelopes for all devices are sealed before any device is contacted.  An
// envelope exceeding the transport ceiling aborts the request with
// wire.ErrEnvelopeTooLarge; every other failure only affects the device
// concerned.  A non-nil error is returned only for that case and for ctx
// being cancelled by the caller.  In both cases the request is denied.
func (c *Client) Authenticate(ctx context.Context, body *wire.RequestBody) (*Report, error) {
	plaintext, err := body.Marshal()
	if err != nil {
		return nil, fmt.Errorf("approval: failed to encode request: %w", err)
	}

	report := new(Report)
	attempts := make([]*attempt, 0, len(c.cfg.Devices))
	for _, d := range c.cfg.Devices {
		a, res, err := c.newAttempt(d, plaintext)
		if err != nil {
			for _, a := range attempts {
				a.sealed.Key.Reset()
			}
			c.log.Errorf("request for %s can not be sent: %v", d.Name, err)
			return nil, err
		}
		if res != nil {
			c.resolve(report, res)
			continue
		}
		attempts = append(attempts, a)
	}

	raceCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	// Abandoned attempts observe the cancellation and close their
	// connections.
	defer cancel()

	resultCh := make(chan *Result, len(attempts))
	for _, a := range attempts {
		go func() {
			resultCh <- a.run(raceCtx)
		}()
	}

	for pending := len(attempts); pending > 0; pending-- {
		select {
		case res := <-resultCh:
			c.resolve(report, res)
			if res.Outcome == Accepted {
				report.Decision = Approved
				return c.decide(report), nil
			}
			if res.Outcome == Rejected && c.cfg.RejectIsFinal {
				return c.decide(report), nil
			}
		case <-raceCtx.Done():
			if err := ctx.Err(); err != nil {
				return c.decide(report), err
			}
			report.TimedOut = true
			c.log.Noticef("no decision after %v, %d device(s) did not answer", c.cfg.Timeout, pending)
			return c.decide(report), nil
		}
	}
	return c.decide(report), nil
}

// newAttempt seals the request for d.  A misconfigured device yields a
// Failed result instead of an attempt; only a fatal error is returned.
func (c *Client) newAttempt(d *Device, plaintext []byte) (*attempt, *Result, error) {
	id := uuid.New()
	failed := func(reason Reason, err error) *Result {
		return &Result{
			ID:      id,
			Device:  d.Name,
			Address: d.Address,
			Outcome: Failed,
			Reason:  reason,
			Err:     err,
		}
	}

	pub, err := hybrid.ParsePublicKey(d.PublicKey)
	if err != nil {
		return nil, failed(ReasonKey, err), nil
	}
	cipher, err := hybrid.CipherByName(d.Cipher)
	if err != nil {
		return nil, failed(ReasonCipher, err), nil
	}

	sealed, err := hybrid.Seal(c.cfg.Rand, pub, cipher, plaintext)
	switch {
	case errors.Is(err, wire.ErrEnvelopeTooLarge):
		return nil, nil, err
	case err != nil:
		return nil, failed(ReasonKey, err), nil
	}
	c.cfg.Metrics.ObserveEnvelope(len(sealed.Payload))

	return &attempt{
		id:           id,
		device:       d,
		cipher:       cipher,
		sealed:       sealed,
		channel:      c.channel,
		failureDelay: c.cfg.FailureDelay,
		log:          c.log,
	}, nil, nil
}

func (c *Client) resolve(report *Report, res *Result) {
	report.Results = append(report.Results, res)
	c.cfg.Metrics.ObserveAttempt(res.Outcome.String(), string(res.Reason), res.Elapsed)

	switch res.Outcome {
	case Accepted:
		c.log.Noticef("request accepted by %s", res.Device)
	case Rejected:
		c.log.Noticef("request rejected by %s", res.Device)
	default:
		c.log.Warningf("%s: %s failed: %v", res.Device, res.Reason, res.Err)
	}
}

func (c *Client) decide(report *Report) *Report {
	c.cfg.Metrics.ObserveDecision(report.Decision.String())
	c.log.Infof("request %s", report.Decision)
	return report
}
