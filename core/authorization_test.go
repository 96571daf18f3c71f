package core

import (
	"strings"
	"testing"
)

func TestValidateAuthTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    AuthState
		to      AuthState
		wantErr bool
	}{
		{name: "stay initial", from: AuthStateInitial, to: AuthStateInitial},
		{name: "empty is initial", from: "", to: AuthStateCredsAvailable},
		{name: "one step", from: AuthStateCredsAvailable, to: AuthStateCredsEncryptionKeyGenerated},
		{name: "last step", from: AuthStateCredsEncryptionKeyGenerated, to: AuthStateCredsEncrypted},
		{name: "skip", from: AuthStateInitial, to: AuthStateCredsEncryptionKeyGenerated, wantErr: true},
		{name: "regress", from: AuthStateCredsEncrypted, to: AuthStateCredsAvailable, wantErr: true},
		{name: "unknown target", from: AuthStateInitial, to: AuthState("BOGUS"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAuthTransition(tc.from, tc.to)
			if tc.wantErr && err == nil {
				t.Fatalf("expected transition error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected transition error: %v", err)
			}
		})
	}
}

func TestJobAuthorizationValidate_RejectsEncryptedDataBeforeKeyExchange(t *testing.T) {
	for _, state := range []AuthState{AuthStateInitial, AuthStateCredsAvailable, AuthStateCredsEncryptionKeyGenerated} {
		auth := JobAuthorization{
			State:                   state,
			AuthPublicKey:           "pub",
			EncryptedExportAuthData: "blob",
		}
		if err := auth.Validate(); err == nil {
			t.Fatalf("expected encrypted data to be rejected in state %s", state)
		}
	}
}

func TestJobAuthorizationValidate_KeyGeneratedRequiresPublicKey(t *testing.T) {
	err := JobAuthorization{State: AuthStateCredsEncryptionKeyGenerated}.Validate()
	if err == nil || !strings.Contains(err.Error(), "public key") {
		t.Fatalf("expected missing public key error, got %v", err)
	}
}

func TestJobAuthorizationValidate_EncryptedRequiresAllFields(t *testing.T) {
	auth := JobAuthorization{
		State:                   AuthStateCredsEncrypted,
		AuthPublicKey:           "pub",
		AuthSecretKey:           "wrapped",
		EncryptedExportAuthData: "export",
	}
	if err := auth.Validate(); err == nil {
		t.Fatalf("expected missing import blob to be rejected")
	}
	auth.EncryptedImportAuthData = "import"
	if err := auth.Validate(); err != nil {
		t.Fatalf("expected complete authorization to validate: %v", err)
	}
}

func TestJobAuthorizationClearSecrets(t *testing.T) {
	auth := JobAuthorization{
		State:                          AuthStateCredsEncrypted,
		SessionSecretKey:               "session",
		EncryptedInitialExportAuthData: "ie",
		EncryptedInitialImportAuthData: "ii",
		AuthPublicKey:                  "pub",
		EncryptedExportAuthData:        "export",
		EncryptedImportAuthData:        "import",
		AuthSecretKey:                  "wrapped",
		InstanceID:                     "worker-1",
	}
	cleared := auth.ClearSecrets()
	if cleared.SessionSecretKey != "" || cleared.AuthSecretKey != "" ||
		cleared.EncryptedExportAuthData != "" || cleared.EncryptedImportAuthData != "" ||
		cleared.EncryptedInitialExportAuthData != "" || cleared.EncryptedInitialImportAuthData != "" {
		t.Fatalf("expected every secret to be cleared, got %+v", cleared)
	}
	if cleared.State != AuthStateCredsEncrypted || cleared.InstanceID != "worker-1" {
		t.Fatalf("expected state and instance to be kept")
	}
	if err := cleared.Validate(); err == nil {
		t.Fatalf("expected cleared authorization to fail strict validation")
	}
	if err := cleared.ValidateCleared(); err != nil {
		t.Fatalf("expected cleared authorization to pass ordering checks: %v", err)
	}
}

func TestExpectAuthState(t *testing.T) {
	validator := ExpectAuthState(AuthStateCredsAvailable)
	if err := validator(Job{Authorization: JobAuthorization{State: AuthStateCredsAvailable}}); err != nil {
		t.Fatalf("expected matching state to pass: %v", err)
	}
	err := validator(Job{Authorization: JobAuthorization{State: AuthStateCredsEncryptionKeyGenerated}})
	if err == nil || !strings.Contains(err.Error(), "does not match expected") {
		t.Fatalf("expected state mismatch, got %v", err)
	}
}
