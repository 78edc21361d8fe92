// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package channel implements the connection to a single device: one request
// written in a single transmission and one response received in a single
// bounded read.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lanpam/lanpam/core/wire"
)

// Op identifies the step of an exchange that failed.
type Op string

const (
	OpDial    Op = "dial"
	OpSend    Op = "send"
	OpReceive Op = "receive"
)

// OpError is returned by the channel when an operation fails.
type OpError struct {
	Op      Op
	Address string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("channel: %s %s: %v", e.Op, e.Address, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// DialContextFn is a function that matches the net.Dialer.DialContext
// prototype.
type DialContextFn func(ctx context.Context, network, address string) (net.Conn, error)

// Channel opens connections to devices.
type Channel struct {
	dial DialContextFn
}

// New returns a Channel using dial, or a plain net.Dialer if dial is nil.
func New(dial DialContextFn) *Channel {
	if dial == nil {
		dial = new(net.Dialer).DialContext
	}
	return &Channel{dial: dial}
}

// Conn is a connection to a device.  Every blocking operation on it is bound
// to the context passed to Dial: once the context is done the connection is
// closed, unblocking any pending write or read.
type Conn struct {
	conn    net.Conn
	address string
	stop    func() bool
}

// Dial connects to the device at address.
func (c *Channel) Dial(ctx context.Context, address string) (*Conn, error) {
	conn, err := c.dial(ctx, "tcp", address)
	if err != nil {
		return nil, &OpError{Op: OpDial, Address: address, Err: err}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, &OpError{Op: OpDial, Address: address, Err: err}
		}
	}
	return &Conn{
		conn:    conn,
		address: address,
		stop:    context.AfterFunc(ctx, func() { conn.Close() }),
	}, nil
}

// Send writes payload as a single message.
func (c *Conn) Send(payload []byte) error {
	if _, err := c.conn.Write(payload); err != nil {
		return &OpError{Op: OpSend, Address: c.address, Err: err}
	}
	return nil
}

// Receive performs a single read of at most wire.MaxResponseSize bytes.  A
// device that closes the connection without replying yields an empty frame,
// which never decrypts.
func (c *Conn) Receive() ([]byte, error) {
	buf := make([]byte, wire.MaxResponseSize)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, &OpError{Op: OpReceive, Address: c.address, Err: err}
	}
	return buf[:0], nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.stop()
	return c.conn.Close()
}

// Exchange sends payload to the device at address and returns its response
// frame.
func (c *Channel) Exchange(ctx context.Context, address string, payload []byte) ([]byte, error) {
	conn, err := c.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.Send(payload); err != nil {
		return nil, err
	}
	return conn.Receive()
}
