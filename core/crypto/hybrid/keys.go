// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package hybrid

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const (
	pemTypePublicKey     = "PUBLIC KEY"
	pemTypePrivateKey    = "PRIVATE KEY"
	pemTypeRSAPrivateKey = "RSA PRIVATE KEY"
)

// ErrInvalidPublicKey is returned when a device public key can not be used.
var ErrInvalidPublicKey = errors.New("hybrid: invalid public key")

// ParsePublicKey parses a base64 encoded DER public key as distributed by
// devices.  SubjectPublicKeyInfo is expected, PKCS#1 is accepted.
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrInvalidPublicKey, err)
	}

	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		if pkcs1, err1 := x509.ParsePKCS1PublicKey(der); err1 == nil {
			return pkcs1, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key (%T)", ErrInvalidPublicKey, pub)
	}
	return rsaPub, nil
}

// MarshalPublicKey returns the base64 DER SubjectPublicKeyInfo encoding of
// pub, suitable for a device configuration entry.
func MarshalPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// PublicKeyToPEM returns the PEM encoding of pub.
func PublicKeyToPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der}), nil
}

// PrivateKeyToPEM returns the PKCS#8 PEM encoding of priv.
func PrivateKeyToPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der}), nil
}

// PrivateKeyFromPEM parses a PKCS#8 or PKCS#1 PEM RSA private key.
func PrivateKeyFromPEM(b []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("hybrid: no PEM block found")
	}

	switch block.Type {
	case pemTypePrivateKey:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("hybrid: %w", err)
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("hybrid: not an RSA key (%T)", parsed)
		}
		return priv, nil
	case pemTypeRSAPrivateKey:
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("hybrid: %w", err)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("hybrid: unsupported PEM type '%v'", block.Type)
	}
}
