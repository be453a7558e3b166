package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/payrouter/internal/delivery/domain"
	"golang.org/x/crypto/hkdf"
)

const (
	sealVersion = 1
	hkdfInfo    = "payrouter/webhook-secret/v1"
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// sealer encrypts webhook secrets with AES-256-GCM under a key derived from
// the configured master secret.
type sealer struct {
	key []byte
}

func newSealer(master string) (*sealer, error) {
	master = strings.TrimSpace(master)
	if master == "" {
		return &sealer{}, nil
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(master), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive webhook key: %w", err)
	}
	return &sealer{key: key}, nil
}

func (s *sealer) enabled() bool {
	return s != nil && len(s.key) > 0
}

func (s *sealer) seal(plaintext string) ([]byte, error) {
	if !s.enabled() {
		return nil, domain.ErrEncryptionKeyMissing
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return json.Marshal(encryptedPayload{
		Version:    sealVersion,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

func (s *sealer) open(sealed []byte) (string, error) {
	if !s.enabled() {
		return "", domain.ErrEncryptionKeyMissing
	}
	var payload encryptedPayload
	if err := json.Unmarshal(sealed, &payload); err != nil {
		return "", err
	}
	if payload.Version != sealVersion {
		return "", fmt.Errorf("unsupported secret version %d", payload.Version)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", err
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", errors.New("invalid secret nonce")
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// signaturesMatch compares a hex HMAC-SHA256 signature, optionally prefixed
// with "sha256=", in constant time.
func signaturesMatch(secret string, payload []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}
