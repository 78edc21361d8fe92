// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package wire implements the messages exchanged between the approval client
// and a device.
//
// The protocol is unversioned: the client sends a single JSON Envelope and
// the device answers with a single frame of raw ciphertext that decrypts to a
// JSON ResponseBody.  Any change here breaks every deployed device.
package wire

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// MaxEnvelopeSize is the transport ceiling for a serialized Envelope.
	// Envelopes must be strictly smaller than this so that a request never
	// fragments on a typical ~1500 byte MTU.
	MaxEnvelopeSize = 1200

	// MaxResponseSize is the capacity of the single read used to receive a
	// device's reply.
	MaxResponseSize = 512
)

var (
	// ErrEnvelopeTooLarge is returned when a serialized Envelope reaches
	// MaxEnvelopeSize.  It indicates a defect in the request encoding, not a
	// device or network failure.
	ErrEnvelopeTooLarge = errors.New("wire: envelope exceeds transport ceiling")

	// ErrInvalidEncoding is returned when a decrypted response is not valid
	// UTF-8 text.
	ErrInvalidEncoding = errors.New("wire: response is not valid UTF-8")

	// ErrMalformedResponse is returned when a decrypted response does not
	// have the expected structure.
	ErrMalformedResponse = errors.New("wire: malformed response")

	// ErrMalformedEnvelope is returned by the device side when a request
	// can not be parsed.
	ErrMalformedEnvelope = errors.New("wire: malformed envelope")
)

// RequestBody is the plaintext approval request shown to the device user.
type RequestBody struct {
	// Source is the display name of the requesting machine.
	Source string `json:"source"`

	// User is the subject being authenticated.
	User string `json:"user"`

	// Service is the service requesting authentication.
	Service string `json:"service"`

	// Type is the authentication type.
	Type string `json:"type"`
}

// Marshal returns the JSON encoding of the request body.
func (b *RequestBody) Marshal() ([]byte, error) {
	return marshalCompact(b)
}

// UnmarshalRequestBody parses a decrypted request body.
func UnmarshalRequestBody(b []byte) (*RequestBody, error) {
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedEnvelope)
	}
	body := new(RequestBody)
	if err := json.Unmarshal(b, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return body, nil
}

// Envelope is the wire unit sent to a device.  Both fields are standard
// padded base64.
type Envelope struct {
	// EncryptedKey is the session key wrapped with the device public key.
	EncryptedKey string `json:"encrypted_key"`

	// EncryptedBody is the request body encrypted under the session key.
	EncryptedBody string `json:"encrypted_body"`
}

// NewEnvelope encodes the wrapped key and encrypted body into an Envelope.
func NewEnvelope(encryptedKey, encryptedBody []byte) *Envelope {
	return &Envelope{
		EncryptedKey:  base64.StdEncoding.EncodeToString(encryptedKey),
		EncryptedBody: base64.StdEncoding.EncodeToString(encryptedBody),
	}
}

// Marshal serializes the Envelope, enforcing the transport ceiling.
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := marshalCompact(e)
	if err != nil {
		return nil, err
	}
	if len(b) >= MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes, limit is %d", ErrEnvelopeTooLarge, len(b), MaxEnvelopeSize)
	}
	return b, nil
}

// Decode returns the raw wrapped key and encrypted body.
func (e *Envelope) Decode() ([]byte, []byte, error) {
	key, err := base64.StdEncoding.DecodeString(e.EncryptedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encrypted_key: %v", ErrMalformedEnvelope, err)
	}
	body, err := base64.StdEncoding.DecodeString(e.EncryptedBody)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encrypted_body: %v", ErrMalformedEnvelope, err)
	}
	return key, body, nil
}

// UnmarshalEnvelope parses a serialized Envelope.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	if len(b) >= MaxEnvelopeSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrEnvelopeTooLarge, len(b))
	}
	e := new(Envelope)
	if err := json.Unmarshal(b, e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if e.EncryptedKey == "" || e.EncryptedBody == "" {
		return nil, fmt.Errorf("%w: missing field", ErrMalformedEnvelope)
	}
	return e, nil
}

// ResponseBody is the decrypted reply of a device.
type ResponseBody struct {
	// Device is the display name the device reports for itself.  The client
	// ignores it.
	Device string `json:"device,omitempty"`

	// Accepted is the user's decision.
	Accepted bool `json:"accepted"`
}

// Marshal returns the JSON encoding of the response.
func (r *ResponseBody) Marshal() ([]byte, error) {
	return marshalCompact(r)
}

// UnmarshalResponseBody validates and parses a decrypted response.  The
// accepted field is mandatory.  Field names are matched exactly, so
// {"Accepted": true} is malformed.
func UnmarshalResponseBody(b []byte) (*ResponseBody, error) {
	if !utf8.Valid(b) {
		return nil, ErrInvalidEncoding
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	raw, ok := fields["accepted"]
	if !ok || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: missing accepted", ErrMalformedResponse)
	}

	resp := new(ResponseBody)
	if err := json.Unmarshal(raw, &resp.Accepted); err != nil {
		return nil, fmt.Errorf("%w: accepted: %v", ErrMalformedResponse, err)
	}
	if raw, ok := fields["device"]; ok && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &resp.Device); err != nil {
			return nil, fmt.Errorf("%w: device: %v", ErrMalformedResponse, err)
		}
	}
	return resp, nil
}

func marshalCompact(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
