/*
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package crypto provides the deterministic field encryption used for
// identity strings and message bodies at rest, plus password hashing.
//
// Encoding is AES-256-CBC with a fixed process-wide key and IV, so the
// same plaintext always produces the same ciphertext. That lets the
// storage layer run equality predicates (find user by email) directly
// against ciphertext. The cost is that equal plaintexts are visibly
// equal as ciphertext. Downstream lookups depend on this, so it must
// not be replaced with a randomised-IV scheme.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	KeySize = 32
	IVSize  = aes.BlockSize
)

// Codec encodes and decodes PII-bearing fields. Safe for concurrent use.
type Codec struct {
	key []byte
	iv  []byte
}

// NewCodec validates the key material. A wrong-sized key or IV is a
// configuration error and must be treated as fatal by the caller.
func NewCodec(key, iv string) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid encryption key: must be %d bytes long, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("invalid IV: must be %d bytes long, got %d", IVSize, len(iv))
	}
	return &Codec{
		key: []byte(key),
		iv:  []byte(iv),
	}, nil
}

// Encode encrypts plaintext to a hex string. Empty input passes through
// unchanged. Deterministic: equal plaintexts yield equal ciphertexts.
func (c *Codec) Encode(plaintext string) string {
	if plaintext == "" {
		return plaintext
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		// Key length was validated in NewCodec.
		panic(fmt.Sprintf("aes.NewCipher: %v", err))
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return hex.EncodeToString(out)
}

// Decode decrypts a hex ciphertext produced by Encode. Empty input
// passes through unchanged. Corrupt or truncated ciphertext fails with
// an error the caller should treat as fatal.
func (c *Codec) Decode(ciphertext string) (string, error) {
	if ciphertext == "" {
		return ciphertext, nil
	}
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("hex.DecodeString: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(raw))
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		panic(fmt.Sprintf("aes.NewCipher: %v", err))
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, raw)
	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("pkcs7Unpad: %w", err)
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding byte")
		}
	}
	return data[:len(data)-n], nil
}

// HashPassword returns a salted bcrypt hash of the password. The hash
// is one-way; there is no decode path for credentials.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("bcrypt.GenerateFromPassword: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether the password matches the stored hash.
func ComparePassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
