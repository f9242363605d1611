// Package encryption provides authenticated symmetric encryption for
// secrets at rest (CRM access and refresh tokens, webhook secrets).
//
// Ciphertext blobs are self-describing: three colon-delimited hex segments
// "nonce:tag:ciphertext", so decryption needs nothing besides the key.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/giftwell/giftwell/pkg/logger"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // standard GCM nonce
	tagSize   = 16 // GCM authentication tag
)

// demoKey is a fixed, well-known key used only when no key is configured
// outside production. Anything encrypted with it must be treated as
// throwaway demo data.
const demoKey = "6769667477656c6c2d64656d6f2d6b65792d646f2d6e6f742d7573652e2e2e2e"

// Common errors
var (
	// ErrKeyNotConfigured is returned by the constructor when no key is set
	// in production posture.
	ErrKeyNotConfigured = errors.New("encryption key not configured")

	// ErrInvalidFormat is returned when a blob does not consist of exactly
	// three colon-delimited hex segments of the expected lengths.
	ErrInvalidFormat = errors.New("ciphertext blob is not nonce:tag:ciphertext hex")

	// ErrAuthenticationFailed is returned when the GCM tag does not verify,
	// which means the blob was tampered with or a different key was used.
	ErrAuthenticationFailed = errors.New("ciphertext authentication failed")
)

// Service encrypts and decrypts strings with AES-256-GCM.
type Service struct {
	key []byte
	log *slog.Logger
}

// NewService creates an encryption service from a 64-character hex key
// (32 bytes / 256 bits, typically TOKEN_ENCRYPTION_KEY).
//
// An empty key is tolerated only outside production: the service falls
// back to a fixed demo key and logs a loud warning. In production an empty
// key is a hard configuration error so that real credentials can never be
// stored under the well-known key.
func NewService(hexKey string, production bool, log *slog.Logger) (*Service, error) {
	log = log.With(logger.Scope("encryption"))

	if hexKey == "" {
		if production {
			return nil, fmt.Errorf("%w: TOKEN_ENCRYPTION_KEY must be set in production", ErrKeyNotConfigured)
		}
		log.Warn("TOKEN_ENCRYPTION_KEY not set - falling back to the fixed demo key; tokens are NOT protected")
		hexKey = demoKey
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: must be hex-encoded: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid encryption key: must be %d bytes (%d hex chars), got %d bytes", keySize, keySize*2, len(key))
	}

	return &Service{key: key, log: log}, nil
}

// Encrypt encrypts plaintext and returns a "nonce:tag:ciphertext" hex blob.
// A fresh random nonce is generated per call.
func (s *Service) Encrypt(plaintext string) (string, error) {
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal output is ciphertext followed by the 16-byte tag.
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. It returns ErrInvalidFormat for blobs that do
// not match the expected shape and ErrAuthenticationFailed when the tag
// does not verify.
func (s *Service) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 segments, got %d", ErrInvalidFormat, len(parts))
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: bad nonce segment", ErrInvalidFormat)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad tag segment", ErrInvalidFormat)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext segment", ErrInvalidFormat)
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}

	return string(plaintext), nil
}

func (s *Service) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
