package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
)

// envelopeV1 prefixes every stored blob: version byte, GCM nonce, then the
// sealed payload. A future key rotation bumps the version.
const envelopeV1 byte = 1

var (
	ErrEnvelope    = errors.New("phi: not a sealed payload")
	ErrRecordMatch = errors.New("phi: payload does not open for this record")
)

// PHIEncryptor seals payer responses at rest with AES-256-GCM. The record ID
// is the GCM additional data, so a blob copied onto another row will not open.
type PHIEncryptor struct {
	aead cipher.AEAD
}

func NewPHIEncryptor(key []byte) (*PHIEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("phi: AES-256 key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi: gcm: %w", err)
	}
	return &PHIEncryptor{aead: aead}, nil
}

func (e *PHIEncryptor) Seal(plain []byte, recordID string) ([]byte, error) {
	ns := e.aead.NonceSize()
	out := make([]byte, 1+ns, 1+ns+len(plain)+e.aead.Overhead())
	out[0] = envelopeV1
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("phi: nonce: %w", err)
	}
	return e.aead.Seal(out, out[1:], plain, []byte(recordID)), nil
}

func (e *PHIEncryptor) Open(sealed []byte, recordID string) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) < 1+ns+e.aead.Overhead() || sealed[0] != envelopeV1 {
		return nil, ErrEnvelope
	}
	plain, err := e.aead.Open(nil, sealed[1:1+ns], sealed[1+ns:], []byte(recordID))
	if err != nil {
		return nil, ErrRecordMatch
	}
	return plain, nil
}

// SealJSON marshals v and seals it for recordID.
func (e *PHIEncryptor) SealJSON(v any, recordID string) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("phi: marshal: %w", err)
	}
	return e.Seal(raw, recordID)
}

func (e *PHIEncryptor) OpenJSON(sealed []byte, recordID string, v any) error {
	raw, err := e.Open(sealed, recordID)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("phi: unmarshal: %w", err)
	}
	return nil
}
