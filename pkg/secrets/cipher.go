// Package secrets encrypts integration credentials at rest with AES-256-GCM.
// Ciphertexts are base64(nonce || sealed) so one string column holds both.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/merlinn-co/merlinn/pkg/telemetry"
)

var tracer = telemetry.Tracer("github.com/merlinn-co/merlinn/pkg/secrets")

var (
	// ErrInvalidKey is returned when the encryption key is not 32 raw bytes or 64 hex characters.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrDecrypt is returned when a ciphertext is malformed or fails authentication.
	ErrDecrypt = errors.New("credential decryption failed")
)

// Cipher encrypts and decrypts credential values.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher builds a Cipher from 32 raw bytes or 64 hex characters.
func NewCipher(key string) (*Cipher, error) {
	keyBytes, err := resolveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

func resolveKey(key string) ([]byte, error) {
	if len(key) == 64 {
		decoded, err := hex.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("encryption key hex must decode to 32 bytes: %w", ErrInvalidKey)
		}
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("encryption key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidKey)
}

// Encrypt seals plaintext with a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding: %v", ErrDecrypt, err)
	}
	ns := c.gcm.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	plain, err := c.gcm.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plain), nil
}

// EncryptMap returns a new map with every value encrypted.
func (c *Cipher) EncryptMap(ctx context.Context, values map[string]string) (map[string]string, error) {
	_, span := tracer.Start(ctx, "secrets.encrypt")
	defer span.End()
	span.SetAttributes(attribute.Int("secrets.count", len(values)))

	out := make(map[string]string, len(values))
	for k, v := range values {
		enc, err := c.Encrypt(v)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "encrypt failed")
			return nil, fmt.Errorf("encrypting %q: %w", k, err)
		}
		out[k] = enc
	}
	return out, nil
}

// DecryptMap returns a new map with every value decrypted.
func (c *Cipher) DecryptMap(ctx context.Context, values map[string]string) (map[string]string, error) {
	_, span := tracer.Start(ctx, "secrets.decrypt")
	defer span.End()
	span.SetAttributes(attribute.Int("secrets.count", len(values)))

	out := make(map[string]string, len(values))
	for k, v := range values {
		dec, err := c.Decrypt(v)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decrypt failed")
			return nil, fmt.Errorf("decrypting %q: %w", k, err)
		}
		out[k] = dec
	}
	return out, nil
}
