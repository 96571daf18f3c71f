package core

import (
	"fmt"
	"strings"
)

// AuthState is the credential hand-off state of a job. States advance strictly in
// declaration order.
type AuthState string

const (
	AuthStateInitial                     AuthState = "INITIAL"
	AuthStateCredsAvailable              AuthState = "CREDS_AVAILABLE"
	AuthStateCredsEncryptionKeyGenerated AuthState = "CREDS_ENCRYPTION_KEY_GENERATED"
	AuthStateCredsEncrypted              AuthState = "CREDS_ENCRYPTED"
)

var authStateOrder = map[AuthState]int{
	AuthStateInitial:                     0,
	AuthStateCredsAvailable:              1,
	AuthStateCredsEncryptionKeyGenerated: 2,
	AuthStateCredsEncrypted:              3,
}

func (s AuthState) IsValid() bool {
	_, ok := authStateOrder[s]
	return ok
}

// Ordinal returns the position of the state in the hand-off sequence, or -1.
func (s AuthState) Ordinal() int {
	ordinal, ok := authStateOrder[s]
	if !ok {
		return -1
	}
	return ordinal
}

// Next returns the state that directly follows s.
func (s AuthState) Next() (AuthState, bool) {
	switch s {
	case AuthStateInitial:
		return AuthStateCredsAvailable, true
	case AuthStateCredsAvailable:
		return AuthStateCredsEncryptionKeyGenerated, true
	case AuthStateCredsEncryptionKeyGenerated:
		return AuthStateCredsEncrypted, true
	default:
		return "", false
	}
}

// ValidateAuthTransition allows staying in place or moving exactly one step forward.
func ValidateAuthTransition(from AuthState, to AuthState) error {
	if from == "" {
		from = AuthStateInitial
	}
	if !from.IsValid() {
		return fmt.Errorf("core: invalid authorization state %q", from)
	}
	if !to.IsValid() {
		return fmt.Errorf("core: invalid authorization state %q", to)
	}
	if from == to {
		return nil
	}
	if next, ok := from.Next(); ok && next == to {
		return nil
	}
	return fmt.Errorf("core: authorization state transition %s -> %s is not allowed", from, to)
}

type JobAuthorization struct {
	State                          AuthState
	SessionSecretKey               string
	EncryptedInitialExportAuthData string
	EncryptedInitialImportAuthData string
	AuthPublicKey                  string
	EncryptedExportAuthData        string
	EncryptedImportAuthData        string
	AuthSecretKey                  string
	EncryptionScheme               string
	InstanceID                     string
}

// Validate rejects field combinations that cannot occur in a well formed hand-off.
// Encrypted credentials must not exist before a worker public key is recorded.
func (a JobAuthorization) Validate() error {
	return a.validate(true)
}

// ValidateCleared applies only the ordering rules. Jobs whose secrets were cleared
// after reaching a terminal state are checked with it.
func (a JobAuthorization) ValidateCleared() error {
	return a.validate(false)
}

func (a JobAuthorization) validate(requireFields bool) error {
	state := a.State
	if state == "" {
		state = AuthStateInitial
	}
	if !state.IsValid() {
		return fmt.Errorf("core: invalid authorization state %q", a.State)
	}
	hasPublicKey := strings.TrimSpace(a.AuthPublicKey) != ""
	hasEncrypted := strings.TrimSpace(a.EncryptedExportAuthData) != "" ||
		strings.TrimSpace(a.EncryptedImportAuthData) != ""
	hasSecretKey := strings.TrimSpace(a.AuthSecretKey) != ""

	switch state {
	case AuthStateInitial, AuthStateCredsAvailable:
		if hasEncrypted {
			return fmt.Errorf("core: encrypted auth data must be empty in state %s", state)
		}
		if hasSecretKey {
			return fmt.Errorf("core: auth secret key must be empty in state %s", state)
		}
	case AuthStateCredsEncryptionKeyGenerated:
		if requireFields && !hasPublicKey {
			return fmt.Errorf("core: auth public key is required in state %s", state)
		}
		if hasEncrypted || hasSecretKey {
			return fmt.Errorf("core: encrypted auth data must be empty in state %s", state)
		}
	case AuthStateCredsEncrypted:
		if !requireFields {
			return nil
		}
		if !hasPublicKey {
			return fmt.Errorf("core: auth public key is required in state %s", state)
		}
		if !hasSecretKey {
			return fmt.Errorf("core: auth secret key is required in state %s", state)
		}
		if strings.TrimSpace(a.EncryptedExportAuthData) == "" || strings.TrimSpace(a.EncryptedImportAuthData) == "" {
			return fmt.Errorf("core: encrypted export and import auth data are required in state %s", state)
		}
	}
	return nil
}

// ClearSecrets drops every credential-bearing field while keeping the state and
// the owning instance for auditing.
func (a JobAuthorization) ClearSecrets() JobAuthorization {
	a.SessionSecretKey = ""
	a.EncryptedInitialExportAuthData = ""
	a.EncryptedInitialImportAuthData = ""
	a.EncryptedExportAuthData = ""
	a.EncryptedImportAuthData = ""
	a.AuthSecretKey = ""
	return a
}

// JobUpdateValidator inspects the stored job before an update is applied.
type JobUpdateValidator func(previous Job) error

func ExpectAuthState(states ...AuthState) JobUpdateValidator {
	return func(previous Job) error {
		for _, state := range states {
			if previous.Authorization.State == state {
				return nil
			}
		}
		return fmt.Errorf(
			"core: job %s authorization state %s does not match expected %v",
			previous.ID,
			previous.Authorization.State,
			states,
		)
	}
}
