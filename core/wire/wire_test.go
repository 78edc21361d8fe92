// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// envelopeOverhead is the length of the JSON framing around the two fields.
const envelopeOverhead = len(`{"encrypted_key":"","encrypted_body":""}`)

func TestEnvelopeCeiling(t *testing.T) {
	require := require.New(t)

	key := strings.Repeat("A", 344)

	e := &Envelope{
		EncryptedKey:  key,
		EncryptedBody: strings.Repeat("B", MaxEnvelopeSize-1-envelopeOverhead-len(key)),
	}
	b, err := e.Marshal()
	require.NoError(err)
	require.Len(b, MaxEnvelopeSize-1)

	e.EncryptedBody += "B"
	_, err = e.Marshal()
	require.ErrorIs(err, ErrEnvelopeTooLarge)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	require := require.New(t)

	e := NewEnvelope([]byte{0x00, 0x01, 0xfe}, []byte("ciphertext"))
	require.Equal("AAH+", e.EncryptedKey)

	b, err := e.Marshal()
	require.NoError(err)
	require.Equal(`{"encrypted_key":"AAH+","encrypted_body":"Y2lwaGVydGV4dA=="}`, string(b))

	parsed, err := UnmarshalEnvelope(b)
	require.NoError(err)
	key, body, err := parsed.Decode()
	require.NoError(err)
	require.Equal([]byte{0x00, 0x01, 0xfe}, key)
	require.Equal([]byte("ciphertext"), body)

	_, err = UnmarshalEnvelope([]byte(`{"encrypted_key":"AAH+"}`))
	require.ErrorIs(err, ErrMalformedEnvelope)

	_, _, err = (&Envelope{EncryptedKey: "!!", EncryptedBody: "AA=="}).Decode()
	require.ErrorIs(err, ErrMalformedEnvelope)
}

func TestRequestBody(t *testing.T) {
	require := require.New(t)

	body := &RequestBody{
		Source:  "workstation",
		User:    "alice",
		Service: "sudo",
		Type:    "auth",
	}
	b, err := body.Marshal()
	require.NoError(err)
	require.Equal(`{"source":"workstation","user":"alice","service":"sudo","type":"auth"}`, string(b))

	parsed, err := UnmarshalRequestBody(b)
	require.NoError(err)
	require.Equal(body, parsed)

	// HTML characters are not escaped, keeping the body as small as possible.
	body.Source = "<lab & co>"
	b, err = body.Marshal()
	require.NoError(err)
	require.Contains(string(b), `"source":"<lab & co>"`)
}

func TestUnmarshalResponseBody(t *testing.T) {
	require := require.New(t)

	r, err := UnmarshalResponseBody([]byte(`{"accepted":true}`))
	require.NoError(err)
	require.True(r.Accepted)

	r, err = UnmarshalResponseBody([]byte(`{"device":"Android Device","accepted":false}`))
	require.NoError(err)
	require.False(r.Accepted)
	require.Equal("Android Device", r.Device)

	_, err = UnmarshalResponseBody([]byte{0xff, 0xfe, '{', '}'})
	require.ErrorIs(err, ErrInvalidEncoding)

	_, err = UnmarshalResponseBody([]byte(`{"device":"x"}`))
	require.ErrorIs(err, ErrMalformedResponse)

	_, err = UnmarshalResponseBody([]byte(`{"accepted":"yes"}`))
	require.ErrorIs(err, ErrMalformedResponse)

	_, err = UnmarshalResponseBody([]byte(`{"accepted":true} trailing`))
	require.ErrorIs(err, ErrMalformedResponse)
}

func TestUnmarshalResponseBodyExactFieldNames(t *testing.T) {
	for _, b := range []string{
		`{"ACCEPTED":true}`,
		`{"Accepted":true}`,
		`{"accepted":null}`,
		`{"device":"x","Accepted":true}`,
		`{"accepted":true,"device":7}`,
		`null`,
		`true`,
	} {
		t.Run(b, func(t *testing.T) {
			_, err := UnmarshalResponseBody([]byte(b))
			require.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}
