// Package security provides the key material used by the credential hand-off:
// AES-256-GCM session and ephemeral keys, RSA-OAEP worker key pairs and the sealed
// text envelope both produce.
package security

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	envelopePrefix      = "transfer.sealed.v1:"
	envelopeVersion     = 1
	AlgorithmAESGCM     = "aes-256-gcm"
	AlgorithmRSAOAEP256 = "rsa-oaep-sha256"
)

type envelope struct {
	KeyID      string `json:"kid,omitempty"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext"`
}

type EnvelopeMetadata struct {
	KeyID     string
	Version   int
	Algorithm string
}

// ParseEnvelopeMetadata reads the header of a sealed value without decrypting it.
func ParseEnvelopeMetadata(sealed string) (EnvelopeMetadata, error) {
	env, err := decodeEnvelope(sealed)
	if err != nil {
		return EnvelopeMetadata{}, err
	}
	return EnvelopeMetadata{
		KeyID:     env.KeyID,
		Version:   env.Version,
		Algorithm: env.Algorithm,
	}, nil
}

// The sealed value is the prefix followed by base64url JSON so it can be stored in
// plain text columns and passed through URLs.
func encodeEnvelope(env envelope) (string, error) {
	env = normalizeEnvelope(env)
	if env.Version == 0 {
		env.Version = envelopeVersion
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("security: encode envelope: %w", err)
	}
	return envelopePrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeEnvelope(sealed string) (envelope, error) {
	payload := strings.TrimSpace(sealed)
	if payload == "" {
		return envelope{}, fmt.Errorf("security: ciphertext is required")
	}
	if !strings.HasPrefix(payload, envelopePrefix) {
		return envelope{}, fmt.Errorf("security: invalid ciphertext envelope prefix")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(payload, envelopePrefix))
	if err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	parsed := envelope{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return envelope{}, fmt.Errorf("security: decode envelope: %w", err)
	}
	parsed = normalizeEnvelope(parsed)
	if parsed.Version != envelopeVersion {
		return envelope{}, fmt.Errorf("security: unsupported envelope version %d", parsed.Version)
	}
	if parsed.Ciphertext == "" {
		return envelope{}, fmt.Errorf("security: envelope ciphertext is required")
	}
	return parsed, nil
}

func normalizeEnvelope(in envelope) envelope {
	in.KeyID = strings.TrimSpace(in.KeyID)
	in.Algorithm = strings.ToLower(strings.TrimSpace(in.Algorithm))
	in.Nonce = strings.TrimSpace(in.Nonce)
	in.Ciphertext = strings.TrimSpace(in.Ciphertext)
	return in
}

func encodeBytes(value []byte) string {
	if len(value) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(value)
}

func decodeBytes(field string, value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("security: %s is required", field)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("security: decode %s: %w", field, err)
	}
	return decoded, nil
}
