// Package ctap1 issues CTAP1 (U2F) operations -- Register, Authenticate,
// Version -- over a transport.Channel. These are the client-issuing
// counterparts of APDUs; the codec itself lives in pkg/apdu.
package ctap1

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/transport"
)

const DefaultTimeout = 30 * time.Second

func roundTrip(ctx context.Context, ch transport.Channel, req *apdu.Request, timeout time.Duration) (*apdu.Response, error) {
	if err := ch.ApduSend(ctx, req, timeout); err != nil {
		return nil, fmt.Errorf("ctap1: sending request: %w", err)
	}
	resp, err := ch.ApduRecv(ctx, timeout)
	if err != nil {
		return nil, fmt.Errorf("ctap1: receiving response: %w", err)
	}
	return resp, nil
}

// Register issues a CTAP1 Register command and returns its parsed response.
// appIDHash is SHA-256(appId); challenge is typically clientDataHash.
func Register(ctx context.Context, ch transport.Channel, challenge, appIDHash [32]byte) (*apdu.RegisterResponse, error) {
	req := &apdu.Request{
		INS:  apdu.InsRegister,
		P1:   0x00,
		Data: apdu.RegisterRequestBody(challenge, appIDHash),
	}
	resp, err := roundTrip(ctx, ch, req, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp.Status)
	}
	return apdu.ParseRegisterResponse(resp.Data)
}

// AuthenticateMode selects the semantics of an Authenticate call: a real
// signature (EnforceUserPresence) or a check-only probe of whether
// keyHandle belongs to this authenticator, never prompting the user
// (spec.md §4.1's downgrade rule uses EnforceUserPresence).
type AuthenticateMode byte

const (
	EnforceUserPresence AuthenticateMode = AuthenticateMode(apdu.ControlEnforceUserPresence)
	CheckOnly           AuthenticateMode = AuthenticateMode(apdu.ControlCheckOnly)
)

// Authenticate issues a CTAP1 Authenticate command against one key handle.
// A wrong-data status (key handle not owned by this authenticator) is
// reported as the fido.ErrNoCredentials sentinel so callers can try the
// next candidate in an allowList without special-casing the status word.
func Authenticate(ctx context.Context, ch transport.Channel, mode AuthenticateMode, challenge, appIDHash [32]byte, keyHandle []byte) (*apdu.AuthenticateResponse, error) {
	req := &apdu.Request{
		INS:  apdu.InsAuthenticate,
		P1:   byte(mode),
		Data: apdu.AuthenticateRequestBody(challenge, appIDHash, keyHandle),
	}
	resp, err := roundTrip(ctx, ch, req, DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp.Status)
	}
	return apdu.ParseAuthenticateResponse(resp.Data)
}

// Version issues a CTAP1 Version command and returns the version string
// ("U2F_V2" for every compliant device), a sanity check performed after
// falling back to the U2F branch during protocol negotiation.
func Version(ctx context.Context, ch transport.Channel) (string, error) {
	req := &apdu.Request{INS: apdu.InsVersion}
	resp, err := roundTrip(ctx, ch, req, DefaultTimeout)
	if err != nil {
		return "", err
	}
	if !resp.IsSuccess() {
		return "", statusError(resp.Status)
	}
	return string(resp.Data), nil
}

// AppIDHash is a convenience wrapper around SHA-256 for the common case of
// hashing a WebAuthn rpId into a U2F appId.
func AppIDHash(rpID string) [32]byte {
	return sha256.Sum256([]byte(rpID))
}

func statusError(status uint16) error {
	switch status {
	case apdu.StatusWrongData:
		return fido.ErrNoCredentials
	case apdu.StatusConditionsNotSatisfied:
		return fido.NewTransportError(fido.NegotiationFailed, "user presence not satisfied")
	default:
		return fmt.Errorf("ctap1: unexpected status word 0x%04x", status)
	}
}
