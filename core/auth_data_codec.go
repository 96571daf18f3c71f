package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	AuthDataPayloadFormatJSONV1 = "auth_data_json"
	AuthDataPayloadVersionV1    = 1
)

// JSONAuthDataCodec is the plaintext form of AuthData before encryption.
type JSONAuthDataCodec struct{}

func (JSONAuthDataCodec) Format() string {
	return AuthDataPayloadFormatJSONV1
}

func (JSONAuthDataCodec) Version() int {
	return AuthDataPayloadVersionV1
}

type jsonAuthDataPayload struct {
	Version      int            `json:"v"`
	TokenType    string         `json:"token_type,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenURL     string         `json:"token_url,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (JSONAuthDataCodec) Encode(auth AuthData) ([]byte, error) {
	payload := jsonAuthDataPayload{
		Version:      AuthDataPayloadVersionV1,
		TokenType:    strings.TrimSpace(auth.TokenType),
		AccessToken:  strings.TrimSpace(auth.AccessToken),
		RefreshToken: strings.TrimSpace(auth.RefreshToken),
		TokenURL:     strings.TrimSpace(auth.TokenURL),
		ExpiresAt:    cloneTimePointer(auth.ExpiresAt),
	}
	if len(auth.Metadata) > 0 {
		payload.Metadata = copyAnyMap(auth.Metadata)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode auth data payload: %w", err)
	}
	return encoded, nil
}

func (JSONAuthDataCodec) Decode(payload []byte) (AuthData, error) {
	if len(payload) == 0 {
		return AuthData{}, fmt.Errorf("core: auth data payload is empty")
	}
	decoded := jsonAuthDataPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return AuthData{}, fmt.Errorf("core: decode auth data payload: %w", err)
	}
	if decoded.Version != AuthDataPayloadVersionV1 {
		return AuthData{}, fmt.Errorf("core: unsupported auth data payload version %d", decoded.Version)
	}
	auth := AuthData{
		TokenType:    decoded.TokenType,
		AccessToken:  decoded.AccessToken,
		RefreshToken: decoded.RefreshToken,
		TokenURL:     decoded.TokenURL,
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
	}
	if len(decoded.Metadata) > 0 {
		auth.Metadata = copyAnyMap(decoded.Metadata)
	}
	return auth, nil
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}

var _ AuthDataCodec = JSONAuthDataCodec{}
