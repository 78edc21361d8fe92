// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gopkg.in/op/go-logging.v1"

	"github.com/lanpam/lanpam/channel"
	"github.com/lanpam/lanpam/core/crypto/hybrid"
	"github.com/lanpam/lanpam/core/wire"
)

// attempt is the exchange with one device.  It owns its session key and
// connection exclusively.
type attempt struct {
	id     uuid.UUID
	device *Device
	cipher hybrid.Cipher
	sealed *hybrid.Sealed

	channel      *channel.Channel
	failureDelay time.Duration
	log          *logging.Logger

	state State
	start time.Time
}

func (a *attempt) setState(s State) {
	a.state = s
	a.log.Debugf("%s [%s]: %s", a.device.Name, a.id, s)
}

func (a *attempt) run(ctx context.Context) *Result {
	defer a.sealed.Key.Reset()
	a.start = time.Now()

	a.setState(StateConnecting)
	conn, err := a.channel.Dial(ctx, a.device.Address)
	if err != nil {
		return a.fail(ctx, ReasonDial, err)
	}
	defer conn.Close()

	a.setState(StateSending)
	a.log.Debugf("%s: sending %d bytes", a.device.Name, len(a.sealed.Payload))
	if err := conn.Send(a.sealed.Payload); err != nil {
		return a.fail(ctx, ReasonSend, err)
	}

	a.setState(StateAwaitingResponse)
	frame, err := conn.Receive()
	if err != nil {
		return a.fail(ctx, ReasonReceive, err)
	}
	a.log.Debugf("%s: %d bytes response", a.device.Name, len(frame))

	a.setState(StateDecrypting)
	outcome, reason, err := openResponse(a.cipher, a.sealed.Key, frame)
	if err != nil {
		return a.fail(ctx, reason, err)
	}
	return a.result(outcome, ReasonNone, nil)
}

// fail resolves the attempt as Failed.  Failures to decrypt or parse a
// response are held back by the failure delay unless the race is already
// over.
func (a *attempt) fail(ctx context.Context, reason Reason, err error) *Result {
	if reason.delayed() {
		t := time.NewTimer(a.failureDelay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return a.result(Failed, reason, err)
}

func (a *attempt) result(outcome Outcome, reason Reason, err error) *Result {
	a.setState(StateResolved)
	return &Result{
		ID:      a.id,
		Device:  a.device.Name,
		Address: a.device.Address,
		Outcome: outcome,
		Reason:  reason,
		Err:     err,
		Elapsed: time.Since(a.start),
	}
}

// openResponse decrypts and parses a response frame.
func openResponse(c hybrid.Cipher, key *hybrid.SessionKey, frame []byte) (Outcome, Reason, error) {
	plaintext, err := c.Decrypt(key, frame)
	if err != nil {
		return Failed, ReasonDecrypt, err
	}

	resp, err := wire.UnmarshalResponseBody(plaintext)
	switch {
	case errors.Is(err, wire.ErrInvalidEncoding):
		return Failed, ReasonEncoding, err
	case err != nil:
		return Failed, ReasonFormat, err
	case resp.Accepted:
		return Accepted, ReasonNone, nil
	default:
		return Rejected, ReasonNone, nil
	}
}
