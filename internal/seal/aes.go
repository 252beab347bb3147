package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rendis/keyvault/pkg/schema"
)

const (
	saltSize      = 16
	kdfIterations = 210_000
)

// AESSealer protects values with AES-256-GCM. The key is derived from
// a passphrase via PBKDF2-SHA256 using a per-install salt persisted
// next to the database file. The stored form is the envelope prefix
// followed by base64(nonce || ciphertext).
type AESSealer struct {
	aead cipher.AEAD
}

// NewAESSealer derives the sealing key and prepares the cipher.
func NewAESSealer(passphrase string, salt []byte) (*AESSealer, error) {
	if passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeSeal, "sealing passphrase must not be empty")
	}
	if len(salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeSeal, "salt is required with a passphrase")
	}
	key, err := pbkdf2.Key(sha256.New, passphrase, salt, kdfIterations, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESSealer{aead: aead}, nil
}

func (s *AESSealer) Enabled() bool { return true }

func (s *AESSealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return EnvelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *AESSealer) Open(stored string) ([]byte, error) {
	if !IsSealed(stored) {
		return []byte(stored), nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored[len(EnvelopePrefix):])
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSeal, "malformed sealed value")
	}
	nonceSize := s.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeSeal, "sealed value too short")
	}
	plaintext, err := s.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSeal, "open failed: %s", err.Error())
	}
	return plaintext, nil
}

// LoadOrCreateSalt reads the per-install KDF salt at path, creating it
// with fresh random bytes on first use. The salt is hex-encoded on
// disk and the file is written with owner-only permissions.
func LoadOrCreateSalt(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		salt, decErr := hex.DecodeString(string(b))
		if decErr != nil || len(salt) != saltSize {
			return nil, schema.NewErrorf(schema.ErrCodeSeal, "corrupt salt file %s", path)
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)), 0o600); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}
