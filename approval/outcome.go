// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package approval

import (
	"time"

	"github.com/google/uuid"
)

// Decision is the overall result of an approval request.
type Decision int

const (
	// Denied is every decision but an acceptance.
	Denied Decision = iota
	// Approved means a device accepted the request before the deadline.
	Approved
)

func (d Decision) String() string {
	if d == Approved {
		return "approved"
	}
	return "denied"
}

// Outcome is the resolution of a single device attempt.
type Outcome int

const (
	Failed Outcome = iota
	Rejected
	Accepted
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Reason is why an attempt Failed.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonKey      Reason = "key"
	ReasonCipher   Reason = "cipher"
	ReasonDial     Reason = "dial"
	ReasonSend     Reason = "send"
	ReasonReceive  Reason = "receive"
	ReasonDecrypt  Reason = "decrypt"
	ReasonEncoding Reason = "encoding"
	ReasonFormat   Reason = "format"
)

// delayed reports whether failures for this reason are held back by the
// failure delay.  These are the failures an attacker probing a device's
// response channel would trigger.
func (r Reason) delayed() bool {
	switch r {
	case ReasonDecrypt, ReasonEncoding, ReasonFormat:
		return true
	default:
		return false
	}
}

// State is the progress of an attempt.
type State int

const (
	StateDispatched State = iota
	StateConnecting
	StateSending
	StateAwaitingResponse
	StateDecrypting
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateDispatched:
		return "dispatched"
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting response"
	case StateDecrypting:
		return "decrypting"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Result is a resolved attempt.
type Result struct {
	// ID identifies the attempt in diagnostics.
	ID uuid.UUID

	Device  string
	Address string

	Outcome Outcome

	// Reason and Err are set when Outcome is Failed.
	Reason Reason
	Err    error

	// Elapsed is the time from dispatch to resolution.
	Elapsed time.Duration
}

// Report is the outcome of Authenticate.
type Report struct {
	Decision Decision

	// Results holds the attempts resolved before the decision, in order of
	// resolution.  Attempts abandoned at the decision are absent.
	Results []*Result

	// TimedOut is set when the deadline elapsed before a decision.
	TimedOut bool
}

// Result returns the result for the named device, or nil if that device's
// attempt did not resolve before the decision.
func (r *Report) Result(device string) *Result {
	for _, res := range r.Results {
		if res.Device == device {
			return res
		}
	}
	return nil
}
