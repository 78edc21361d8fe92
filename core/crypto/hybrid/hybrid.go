// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package hybrid implements the per-device hybrid encryption of approval
// requests: a fresh symmetric session key encrypts the request body and is
// itself wrapped with the device's RSA public key (PKCS#1 v1.5).
package hybrid

import (
	"crypto/rsa"
	"fmt"
	"io"

	"github.com/lanpam/lanpam/core/wire"
)

// Sealed is an encrypted request for one device.
type Sealed struct {
	// Envelope is the wire envelope.
	Envelope *wire.Envelope

	// Payload is the serialized Envelope, always smaller than
	// wire.MaxEnvelopeSize.
	Payload []byte

	// Key is the session key, retained to decrypt the device's reply.
	Key *SessionKey
}

// Seal encrypts body for the device owning pub.  A wire.ErrEnvelopeTooLarge
// error means the request can never be delivered to this device and must be
// treated as fatal by the caller.
func Seal(rng io.Reader, pub *rsa.PublicKey, c Cipher, body []byte) (*Sealed, error) {
	key, err := NewSessionKey(rng)
	if err != nil {
		return nil, err
	}

	s, err := seal(rng, pub, c, key, body)
	if err != nil {
		key.Reset()
		return nil, err
	}
	return s, nil
}

func seal(rng io.Reader, pub *rsa.PublicKey, c Cipher, key *SessionKey, body []byte) (*Sealed, error) {
	encryptedBody, err := c.Encrypt(rng, key, body)
	if err != nil {
		return nil, fmt.Errorf("hybrid: failed to encrypt body: %w", err)
	}
	encryptedKey, err := rsa.EncryptPKCS1v15(rng, pub, key[:])
	if err != nil {
		return nil, fmt.Errorf("hybrid: failed to wrap session key: %w", err)
	}

	env := wire.NewEnvelope(encryptedKey, encryptedBody)
	payload, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	return &Sealed{
		Envelope: env,
		Payload:  payload,
		Key:      key,
	}, nil
}

// Open is the device side of Seal.  It unwraps the session key with priv and
// decrypts the request body.
func Open(priv *rsa.PrivateKey, c Cipher, env *wire.Envelope) (*SessionKey, []byte, error) {
	encryptedKey, encryptedBody, err := env.Decode()
	if err != nil {
		return nil, nil, err
	}

	rawKey, err := rsa.DecryptPKCS1v15(nil, priv, encryptedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: session key: %v", ErrDecrypt, err)
	}
	defer clear(rawKey)
	if len(rawKey) != SessionKeySize {
		return nil, nil, fmt.Errorf("%w: session key is %d bytes", ErrDecrypt, len(rawKey))
	}

	key := new(SessionKey)
	copy(key[:], rawKey)
	body, err := c.Decrypt(key, encryptedBody)
	if err != nil {
		key.Reset()
		return nil, nil, err
	}
	return key, body, nil
}
