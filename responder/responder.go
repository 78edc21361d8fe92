// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package responder implements the device side of the approval protocol.
//
// A Responder accepts connections, decrypts each approval request with the
// device private key, asks an Approver for a decision and sends back the
// encrypted answer.  The Approver's context is cancelled if the client hangs
// up first, e.g. because another device already approved the request.
package responder

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/katzenpost/hpqc/rand"
	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/log"
	"github.com/lanpam/lanpam/core/wire"
)

const (
	// DefaultAddress is the address devices listen on.
	DefaultAddress = ":4200"

	// DefaultRequestTimeout bounds the wait for a request once a client
	// has connected.
	DefaultRequestTimeout = 10 * time.Second
)

// Request is a decrypted approval request.
type Request struct {
	// ID identifies the request in diagnostics.
	ID uuid.UUID

	// Body is the request shown to the user.
	Body *wire.RequestBody

	// Remote is the address of the requesting client.
	Remote net.Addr
}

// Approver decides approval requests.
type Approver interface {
	// Approve returns true to accept req.  ctx is cancelled when the
	// client goes away; the returned decision is then discarded.
	Approve(ctx context.Context, req *Request) (bool, error)
}

// ApproverFunc adapts a function to the Approver interface.
type ApproverFunc func(ctx context.Context, req *Request) (bool, error)

// Approve calls f(ctx, req).
func (f ApproverFunc) Approve(ctx context.Context, req *Request) (bool, error) {
	return f(ctx, req)
}

// Config is the Responder configuration.
type Config struct {
	// Name is the device name reported in responses.
	Name string

	// PrivateKey is the device private key.
	PrivateKey *rsa.PrivateKey

	// Cipher is the symmetric cipher clients use with this device.
	Cipher hybrid.Cipher

	// Approver decides requests.
	Approver Approver

	// LogBackend is the logging backend.
	LogBackend *log.Backend

	// RequestTimeout defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Responder serves approval requests.
type Responder struct {
	cfg Config
	log *logging.Logger
}

// New creates a Responder.
func New(cfg *Config) (*Responder, error) {
	switch {
	case cfg.PrivateKey == nil:
		return nil, errors.New("responder: no PrivateKey")
	case cfg.Approver == nil:
		return nil, errors.New("responder: no Approver")
	case cfg.LogBackend == nil:
		return nil, errors.New("responder: no LogBackend")
	}

	r := &Responder{
		cfg: *cfg,
		log: cfg.LogBackend.GetLogger("responder"),
	}
	if r.cfg.Cipher == nil {
		c, err := hybrid.CipherByName("")
		if err != nil {
			return nil, err
		}
		r.cfg.Cipher = c
	}
	if r.cfg.Name == "" {
		r.cfg.Name = "lanpam device"
	}
	if r.cfg.RequestTimeout <= 0 {
		r.cfg.RequestTimeout = DefaultRequestTimeout
	}
	return r, nil
}

// Serve accepts connections on ln until ctx is done, and waits for every
// in-flight request to finish.  It always closes ln.
func (r *Responder) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("responder: accept: %w", err)
			}
			r.log.Debugf("accepted connection from %v", conn.RemoteAddr())
			g.Go(func() error {
				r.handle(ctx, conn)
				return nil
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (r *Responder) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetReadDeadline(time.Now().Add(r.cfg.RequestTimeout)); err != nil {
		r.log.Warningf("failed to set deadline for %v: %v", conn.RemoteAddr(), err)
		return
	}
	buf := make([]byte, wire.MaxEnvelopeSize)
	n, err := conn.Read(buf)
	if err != nil || n == 0 {
		r.log.Warningf("no data received from %v", conn.RemoteAddr())
		return
	}
	// The user may take any time to decide.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		r.log.Warningf("failed to clear deadline for %v: %v", conn.RemoteAddr(), err)
		return
	}

	env, err := wire.UnmarshalEnvelope(buf[:n])
	if err != nil {
		r.log.Warningf("invalid request from %v: %v", conn.RemoteAddr(), err)
		return
	}
	key, plaintext, err := hybrid.Open(r.cfg.PrivateKey, r.cfg.Cipher, env)
	if err != nil {
		r.log.Warningf("failed to decrypt request from %v: %v", conn.RemoteAddr(), err)
		return
	}
	defer key.Reset()

	body, err := wire.UnmarshalRequestBody(plaintext)
	if err != nil {
		r.log.Warningf("invalid request body from %v: %v", conn.RemoteAddr(), err)
		return
	}

	req := &Request{
		ID:     uuid.New(),
		Body:   body,
		Remote: conn.RemoteAddr(),
	}
	r.log.Noticef("request %s: %s@%s for %s (%s)", req.ID, body.User, body.Source, body.Service, body.Type)

	accepted, err := r.approve(ctx, conn, req)
	if err != nil {
		r.log.Noticef("request %s abandoned: %v", req.ID, err)
		return
	}

	resp, err := (&wire.ResponseBody{Device: r.cfg.Name, Accepted: accepted}).Marshal()
	if err != nil {
		r.log.Errorf("request %s: %v", req.ID, err)
		return
	}
	ct, err := r.cfg.Cipher.Encrypt(rand.Reader, key, resp)
	if err != nil {
		r.log.Errorf("request %s: failed to encrypt response: %v", req.ID, err)
		return
	}
	if len(ct) > wire.MaxResponseSize {
		r.log.Errorf("request %s: response of %d bytes exceeds %d", req.ID, len(ct), wire.MaxResponseSize)
		return
	}
	if _, err := conn.Write(ct); err != nil {
		r.log.Warningf("request %s: failed to send response: %v", req.ID, err)
		return
	}
	r.log.Infof("request %s: accepted=%v, sent %d bytes", req.ID, accepted, len(ct))
}

// approve runs the Approver while watching the connection: the client never
// sends anything after its request, so a completed read means it hung up.
func (r *Responder) approve(ctx context.Context, conn net.Conn, req *Request) (bool, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		var b [1]byte
		_, err := conn.Read(b[:])
		if err == nil || errors.Is(err, io.EOF) {
			err = errors.New("client disconnected")
		}
		cancel(err)
	}()

	accepted, err := r.cfg.Approver.Approve(ctx, req)
	if cause := context.Cause(ctx); cause != nil {
		return false, cause
	}
	return accepted, err
}
