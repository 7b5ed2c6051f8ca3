// Package security encrypts exchange credentials at rest.
package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrDecrypt = errors.New("credential decryption failed")

// ParseKey decodes a base64 secretbox key.
func ParseKey(encoded string) (*[keySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("credentials key must be %d bytes, got %d", keySize, len(raw))
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// Encrypt seals plaintext with key. The output is base64(nonce || box).
func Encrypt(key *[keySize]byte, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func Decrypt(key *[keySize]byte, encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// EncryptString encrypts with the key from EXCHANGE_CREDENTIALS_KEY.
func EncryptString(plaintext string) (string, error) {
	key, err := ParseKey(GetConfig().ExchangeCRKey)
	if err != nil {
		return "", err
	}
	return Encrypt(key, plaintext)
}

// DecryptString decrypts with the key from EXCHANGE_CREDENTIALS_KEY.
func DecryptString(encoded string) (string, error) {
	key, err := ParseKey(GetConfig().ExchangeCRKey)
	if err != nil {
		return "", err
	}
	return Decrypt(key, encoded)
}
