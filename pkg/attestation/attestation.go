// Package attestation persists a WebAuthn MakeCredential result to disk,
// for CLI tools that need the attestation object available after the
// authenticator session has closed.
package attestation

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"ctap-authenticator/pkg/fido"
)

// Record wraps a MakeCredential result with the bookkeeping a CLI run wants
// alongside it: when the ceremony completed and which relying party it was
// for.
type Record struct {
	RPID       string                     `json:"rpId"`
	Timestamp  time.Time                  `json:"timestamp"`
	Credential fido.Credential            `json:"credential"`
	Attestation fido.AttestationObject    `json:"attestationObject"`
	ClientDataHash [32]byte               `json:"clientDataHash"`
}

// SaveToFile saves a MakeCredential result to a JSON file.
func SaveToFile(rpID string, resp *fido.MakeCredentialResponse, filename string) error {
	log.Printf("saving attestation record to %s", filename)

	record := Record{
		RPID:           rpID,
		Timestamp:      time.Now(),
		Credential:     resp.Credential,
		Attestation:    resp.AttestationObject,
		ClientDataHash: resp.ClientDataHash,
	}

	jsonData, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling attestation record: %w", err)
	}
	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return fmt.Errorf("writing attestation file: %w", err)
	}
	return nil
}

// LoadFromFile loads a previously saved attestation record.
func LoadFromFile(filename string) (*Record, error) {
	jsonData, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading attestation file: %w", err)
	}
	var record Record
	if err := json.Unmarshal(jsonData, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling attestation record: %w", err)
	}
	return &record, nil
}

// Validate checks that a loaded record is well-formed enough to hand to a
// relying party.
func Validate(record *Record) error {
	if record.RPID == "" {
		return fmt.Errorf("rpId cannot be empty")
	}
	if record.Timestamp.IsZero() {
		return fmt.Errorf("timestamp cannot be zero")
	}
	if len(record.Credential.CredentialID) == 0 {
		return fmt.Errorf("credential id cannot be empty")
	}
	if record.Attestation.Fmt == "" {
		return fmt.Errorf("attestation format cannot be empty")
	}
	return nil
}
