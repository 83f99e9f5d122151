// AdSync - Advertising Campaign Mirror and Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/adsync

package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// Encryptor protects credentials at rest with AES-256-GCM. The data
// key is derived from a master secret with scrypt and a fresh random
// salt per record, so two encryptions of the same token never share a
// key or produce related ciphertext. Each record is self-contained:
// base64(salt || nonce || ciphertext+tag), decryptable given only the
// master secret.
type Encryptor struct {
	master []byte
}

const (
	saltLen = 16
	keyLen  = 32

	// scrypt cost parameters. Interactive-grade: one derivation per
	// credential read or write, not per request.
	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// ErrDecryptFailed is returned for any malformed or tampered record.
// Corrupted plaintext must never be returned silently.
var ErrDecryptFailed = errors.New("credential decryption failed")

// NewEncryptor creates an encryptor from the master secret. An empty
// secret is rejected; storing tokens in plaintext is opt-in at the
// store layer, not a silent fallback here.
func NewEncryptor(masterSecret []byte) (*Encryptor, error) {
	if len(masterSecret) == 0 {
		return nil, errors.New("encryption master secret must not be empty")
	}
	return &Encryptor{master: masterSecret}, nil
}

func (e *Encryptor) deriveKey(salt []byte) ([]byte, error) {
	return scrypt.Key(e.master, salt, scryptN, scryptR, scryptP, keyLen)
}

// Encrypt seals plaintext into a self-contained base64 record.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key, err := e.deriveKey(salt)
	if err != nil {
		return "", fmt.Errorf("deriving key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	record := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	record = append(record, salt...)
	record = append(record, nonce...)
	record = append(record, sealed...)
	return base64.StdEncoding.EncodeToString(record), nil
}

// Decrypt opens a record produced by Encrypt. Any structural problem or
// authentication tag mismatch returns ErrDecryptFailed.
func (e *Encryptor) Decrypt(record string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(record)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < saltLen {
		return "", ErrDecryptFailed
	}

	salt, rest := raw[:saltLen], raw[saltLen:]
	key, err := e.deriveKey(salt)
	if err != nil {
		return "", ErrDecryptFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ErrDecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(rest) < gcm.NonceSize() {
		return "", ErrDecryptFailed
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
