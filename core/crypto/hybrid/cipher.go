// SPDX-FileCopyrightText: Copyright (C) 2026  lanpam contributors
// SPDX-License-Identifier: AGPL-3.0-only

package hybrid

import (
	"crypto/aes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// CipherAESECB is AES-256 in ECB mode with PKCS#7 padding.  It is what
	// deployed devices speak.  It uses no IV, so identical plaintexts under
	// the same key produce identical ciphertexts, and it is unauthenticated.
	// Session keys are single-use, which limits but does not remove the
	// weakness.
	CipherAESECB = "aes-256-ecb"

	// CipherXChaCha20Poly1305 is XChaCha20-Poly1305 with a random 24 byte
	// nonce prepended to the ciphertext.
	CipherXChaCha20Poly1305 = "xchacha20-poly1305"
)

// ErrDecrypt is returned when a ciphertext can not be decrypted.
var ErrDecrypt = errors.New("hybrid: decryption failed")

// Cipher is the symmetric half of the hybrid scheme.
type Cipher interface {
	// Name returns the configuration name of the cipher.
	Name() string

	// Encrypt encrypts plaintext under key.  rng is used for nonces.
	Encrypt(rng io.Reader, key *SessionKey, plaintext []byte) ([]byte, error)

	// Decrypt decrypts ciphertext under key.
	Decrypt(key *SessionKey, ciphertext []byte) ([]byte, error)
}

// CipherByName returns the cipher with the given name.  The empty name
// selects CipherAESECB.
func CipherByName(name string) (Cipher, error) {
	switch strings.ToLower(name) {
	case "", CipherAESECB:
		return aesECB{}, nil
	case CipherXChaCha20Poly1305:
		return xChaCha{}, nil
	default:
		return nil, fmt.Errorf("hybrid: unknown cipher '%v'", name)
	}
}

type aesECB struct{}

func (aesECB) Name() string {
	return CipherAESECB
}

func (aesECB) Encrypt(_ io.Reader, key *SessionKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	out := pkcs7Pad(plaintext, aes.BlockSize)
	for off := 0; off < len(out); off += aes.BlockSize {
		block.Encrypt(out[off:off+aes.BlockSize], out[off:off+aes.BlockSize])
	}
	return out, nil
}

func (aesECB) Decrypt(key *SessionKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(ciphertext))
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(ciphertext))
	for off := 0; off < len(out); off += aes.BlockSize {
		block.Decrypt(out[off:off+aes.BlockSize], ciphertext[off:off+aes.BlockSize])
	}
	return pkcs7Unpad(out, aes.BlockSize)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrDecrypt)
		}
	}
	return b[:len(b)-n], nil
}

type xChaCha struct{}

func (xChaCha) Name() string {
	return CipherXChaCha20Poly1305
}

func (xChaCha) Encrypt(rng io.Reader, key *SessionKey, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, fmt.Errorf("hybrid: failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (xChaCha) Decrypt(key *SessionKey, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecrypt, len(ciphertext))
	}

	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	out, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return out, nil
}
