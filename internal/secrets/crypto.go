// Package secrets encrypts individual configuration fields (cookie headers,
// API keys) with a password-derived AES-256-GCM key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// Prefix marks an encrypted field value in persisted config files.
	Prefix = "enc:v1:"

	saltSize = 16
	keySize  = 32

	// verifierPlaintext is sealed into the config so a wrong password is
	// detected before any real field is touched.
	verifierPlaintext = "cookiebridge"
)

var (
	// ErrInvalidPassword is returned when the password cannot open a sealed value.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidPayload indicates a sealed value is truncated or not base64.
	ErrInvalidPayload = errors.New("invalid encrypted payload")
)

// IsSealed reports whether value carries the encrypted-field prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Seal encrypts value and returns Prefix + base64(salt|nonce|ciphertext).
// Empty values stay empty.
func Seal(value, password string) (string, error) {
	if value == "" {
		return "", nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(value)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(value), nil)

	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without Prefix are returned unchanged so plain
// text written by hand into the config keeps working.
func Open(value, password string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw) < saltSize {
		return "", fmt.Errorf("%w: too short", ErrInvalidPayload)
	}

	salt := raw[:saltSize]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}

	rest := raw[saltSize:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidPayload)
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidPassword
	}
	return string(plaintext), nil
}

// NewVerifier seals a fixed marker with password.
func NewVerifier(password string) (string, error) {
	return Seal(verifierPlaintext, password)
}

// CheckVerifier returns ErrInvalidPassword unless verifier was created with password.
func CheckVerifier(verifier, password string) error {
	plain, err := Open(verifier, password)
	if err != nil {
		return err
	}
	if plain != verifierPlaintext {
		return ErrInvalidPassword
	}
	return nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(password), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
