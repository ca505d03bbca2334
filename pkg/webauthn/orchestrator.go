// Package webauthn is the polymorphic orchestrator: protocol negotiation,
// the user-verification state machine, and WebAuthn <-> U2F down/up-grade,
// all driven purely through the transport.Channel contract. Grounded on
// libwebauthn/src/webauthn.rs's WebAuthn trait.
package webauthn

import (
	"context"
	"time"

	"ctap-authenticator/pkg/ctap1"
	"ctap-authenticator/pkg/ctap2"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/pin"
	"ctap-authenticator/pkg/transport"
)

const DefaultTimeout = 30 * time.Second

// negotiateProtocol implements spec.md §4.1's protocol negotiation: probe
// the channel, fail fast if neither U2F nor FIDO2 is supported or if the
// request cannot be downgraded and FIDO2 is missing, otherwise prefer
// FIDO2 and fall back to U2F with a version sanity check.
func negotiateProtocol(ctx context.Context, ch transport.Channel, allowU2F bool) (fido.FidoProtocol, error) {
	supported, err := ch.SupportedProtocols(ctx)
	if err != nil {
		return 0, err
	}
	if !supported.U2F && !supported.FIDO2 {
		return 0, fido.NewTransportError(fido.NegotiationFailed, "channel speaks neither U2F nor FIDO2")
	}
	if !allowU2F && !supported.FIDO2 {
		return 0, fido.NewTransportError(fido.NegotiationFailed, "request is not downgradable and channel lacks FIDO2")
	}
	if supported.FIDO2 {
		return fido.ProtocolFIDO2, nil
	}
	if _, err := ctap1.Version(ctx, ch); err != nil {
		return 0, err
	}
	return fido.ProtocolU2F, nil
}

// MakeCredential implements the WebAuthn create() ceremony (spec.md §4.1,
// §2's request-flow diagram): negotiate, run UV if required, and either
// issue a native CTAP2 MakeCredential or downgrade to CTAP1 Register.
func MakeCredential(ctx context.Context, ch transport.Channel, req *fido.MakeCredentialRequest, provider pin.Provider) (*fido.MakeCredentialResponse, error) {
	protocol, err := negotiateProtocol(ctx, ch, IsMakeCredentialDowngradable(req))
	if err != nil {
		return nil, err
	}

	timeout := requestTimeout(req.Timeout)

	switch protocol {
	case fido.ProtocolFIDO2:
		return makeCredentialFIDO2(ctx, ch, req, provider, timeout)
	default:
		return makeCredentialU2F(ctx, ch, req, timeout)
	}
}

func makeCredentialFIDO2(ctx context.Context, ch transport.Channel, req *fido.MakeCredentialRequest, provider pin.Provider, timeout time.Duration) (*fido.MakeCredentialResponse, error) {
	params := &ctap2.MakeCredentialParams{
		ClientDataHash:   req.ClientDataHash[:],
		RP:               fido.RelyingParty{ID: req.RPID, Name: req.RPName},
		User:             req.User,
		PubKeyCredParams: req.PubKeyCredParams,
		ExcludeList:      req.ExcludeList,
		Options:          map[string]bool{"rk": req.RequireResidentKey},
	}

	if err := userVerification(ctx, ch, req.UserVerification, params, provider, timeout); err != nil {
		return nil, err
	}

	result, err := ctap2.MakeCredential(ctx, ch, params)
	if err != nil {
		return nil, err
	}

	credID, err := extractCredentialID(result.AuthData)
	if err != nil {
		return nil, err
	}

	return &fido.MakeCredentialResponse{
		Credential: fido.Credential{Type: "public-key", CredentialID: credID},
		AttestationObject: fido.AttestationObject{
			Fmt:      result.Fmt,
			AuthData: result.AuthData,
			AttStmt:  result.AttStmt,
		},
		ClientDataHash: req.ClientDataHash,
	}, nil
}

func makeCredentialU2F(ctx context.Context, ch transport.Channel, req *fido.MakeCredentialRequest, timeout time.Duration) (*fido.MakeCredentialResponse, error) {
	if !IsMakeCredentialDowngradable(req) {
		return nil, fido.NewProtocolError("MakeCredential request is not downgradable to U2F")
	}
	appIDHash := ctap1.AppIDHash(req.RPID)
	resp, err := ctap1.Register(ctx, ch, req.ClientDataHash, appIDHash)
	if err != nil {
		return nil, err
	}
	return UpgradeRegisterResponse(req, resp)
}

// GetAssertion implements the WebAuthn get() ceremony. On the FIDO2 path,
// GetNextAssertion is used to drain every credential beyond the first, per
// spec.md §4.1's CTAP2 path.
func GetAssertion(ctx context.Context, ch transport.Channel, req *fido.GetAssertionRequest, provider pin.Provider) (*fido.GetAssertionResponse, error) {
	if req.UserVerification.IsRequired() {
		supported, err := ch.SupportedProtocols(ctx)
		if err != nil {
			return nil, err
		}
		if supported.FIDO2 {
			info, err := ctap2.GetInfo(ctx, ch)
			if err != nil {
				return nil, err
			}
			if !info.ClientPin() && !info.UV() {
				return nil, fido.ErrPINNotSet
			}
		}
	}

	protocol, err := negotiateProtocol(ctx, ch, IsGetAssertionDowngradable(req))
	if err != nil {
		return nil, err
	}

	timeout := requestTimeout(req.Timeout)

	switch protocol {
	case fido.ProtocolFIDO2:
		return getAssertionFIDO2(ctx, ch, req, provider, timeout)
	default:
		return getAssertionU2F(ctx, ch, req, timeout)
	}
}

func getAssertionFIDO2(ctx context.Context, ch transport.Channel, req *fido.GetAssertionRequest, provider pin.Provider, timeout time.Duration) (*fido.GetAssertionResponse, error) {
	params := &ctap2.GetAssertionParams{
		RPID:           req.RPID,
		ClientDataHash: req.ClientDataHash[:],
		AllowList:      req.AllowList,
	}

	if err := userVerification(ctx, ch, req.UserVerification, params, provider, timeout); err != nil {
		return nil, err
	}

	result, err := ctap2.GetAssertion(ctx, ch, params)
	if err != nil {
		return nil, err
	}

	first := toGetAssertionResponse(result)
	count := result.NumberOfCredentials
	for i := 1; i < count; i++ {
		next, err := ctap2.GetNextAssertion(ctx, ch)
		if err != nil {
			return nil, err
		}
		first.OtherAssertions = append(first.OtherAssertions, *toGetAssertionResponse(next))
	}
	first.NumCredentials = count
	if first.NumCredentials == 0 {
		first.NumCredentials = 1
	}
	return first, nil
}

func toGetAssertionResponse(result *ctap2.GetAssertionResult) *fido.GetAssertionResponse {
	resp := &fido.GetAssertionResponse{
		AuthData:  result.AuthData,
		Signature: result.Signature,
	}
	if result.Credential != nil {
		resp.Credential = fido.Credential{Type: result.Credential.Type, CredentialID: result.Credential.CredentialID}
	}
	if result.User != nil {
		resp.UserHandle = result.User.ID
	}
	return resp
}

// getAssertionU2F implements spec.md §4.1's GetAssertion downgrade: try
// each allowList credential in turn via CTAP1 Authenticate, returning the
// first success; a wrong-data (NoCredentials) response tries the next
// candidate, any other error aborts the whole sequence.
func getAssertionU2F(ctx context.Context, ch transport.Channel, req *fido.GetAssertionRequest, timeout time.Duration) (*fido.GetAssertionResponse, error) {
	if !IsGetAssertionDowngradable(req) {
		return nil, fido.NewProtocolError("GetAssertion request is not downgradable to U2F")
	}
	appIDHash := ctap1.AppIDHash(req.RPID)

	for _, cred := range req.AllowList {
		resp, err := ctap1.Authenticate(ctx, ch, ctap1.EnforceUserPresence, req.ClientDataHash, appIDHash, cred.CredentialID)
		if err == fido.ErrNoCredentials {
			continue
		}
		if err != nil {
			return nil, err
		}
		return UpgradeAuthenticateResponse(req, cred.CredentialID, resp), nil
	}
	return nil, fido.ErrNoCredentials
}

func requestTimeout(ms int64) time.Duration {
	if ms <= 0 {
		return DefaultTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

// extractCredentialID pulls the credentialId back out of a raw authData
// byte string -- CTAP2's MakeCredential response carries it embedded rather
// than as a separate field.
func extractCredentialID(authData []byte) ([]byte, error) {
	const fixedLen = 32 + 1 + 4 + 16 + 2
	if len(authData) < fixedLen {
		return nil, fido.NewProtocolError("authData too short to contain attested credential data")
	}
	idLen := int(authData[32+1+4+16])<<8 | int(authData[32+1+4+16+1])
	if len(authData) < fixedLen+idLen {
		return nil, fido.NewProtocolError("authData credentialId truncated")
	}
	return authData[fixedLen : fixedLen+idLen], nil
}
