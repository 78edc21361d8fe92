// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package pam retrieves the authentication context exported by pam_exec(8).
package pam

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/lanpam/lanpam/core/wire"
)

// ErrMissingContext is returned when the environment lacks part of the
// authentication context.
var ErrMissingContext = errors.New("pam: missing authentication context")

// Context describes the authentication attempt being approved.
type Context struct {
	// User is the subject being authenticated.
	User string `env:"PAM_USER,required,notEmpty"`

	// Service is the PAM service name.
	Service string `env:"PAM_SERVICE,required,notEmpty"`

	// Type is the PAM module type (auth, account, session...).
	Type string `env:"PAM_TYPE,required,notEmpty"`

	// RemoteHost and TTY are informational and never sent to devices.
	RemoteHost string `env:"PAM_RHOST"`
	TTY        string `env:"PAM_TTY"`
}

// FromEnv reads the context from the process environment.
func FromEnv() (*Context, error) {
	return parse(env.Options{})
}

// FromEnvironment reads the context from environ instead of the process
// environment.
func FromEnvironment(environ map[string]string) (*Context, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Context, error) {
	c := new(Context)
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingContext, err)
	}
	return c, nil
}

// RequestBody builds the approval request shown on devices.
func (c *Context) RequestBody(source string) *wire.RequestBody {
	return &wire.RequestBody{
		Source:  source,
		User:    c.User,
		Service: c.Service,
		Type:    c.Type,
	}
}
