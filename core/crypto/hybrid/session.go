// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package hybrid

import (
	"fmt"
	"io"
)

// SessionKeySize is the size of a session key in bytes.
const SessionKeySize = 32

// SessionKey is a single-use symmetric key.  A fresh key is generated for
// every device attempt and must never be persisted or logged.
type SessionKey [SessionKeySize]byte

// NewSessionKey reads a new session key from rng.
func NewSessionKey(rng io.Reader) (*SessionKey, error) {
	k := new(SessionKey)
	if _, err := io.ReadFull(rng, k[:]); err != nil {
		return nil, fmt.Errorf("hybrid: failed to generate session key: %w", err)
	}
	return k, nil
}

// Reset overwrites the key material.
func (k *SessionKey) Reset() {
	if k == nil {
		return
	}
	clear(k[:])
}

// String never reveals the key.
func (k *SessionKey) String() string {
	return "[redacted session key]"
}
