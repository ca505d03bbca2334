package webauthn

import (
	"ctap-authenticator/pkg/apdu"
	"ctap-authenticator/pkg/cbor"
	"ctap-authenticator/pkg/ctap1"
	"ctap-authenticator/pkg/fido"
)

// IsMakeCredentialDowngradable implements spec.md §4.1's downgrade rule: a
// WebAuthn MakeCredential can be served over CTAP1 Register iff the RP
// accepts ES256, does not require a resident key, and does not require UV.
// Grounded on original_source's Downgrade<RegisterRequest> for
// MakeCredentialRequest.
func IsMakeCredentialDowngradable(req *fido.MakeCredentialRequest) bool {
	hasES256 := false
	for _, p := range req.PubKeyCredParams {
		if p.Alg == fido.ES256 {
			hasES256 = true
			break
		}
	}
	return hasES256 && !req.RequireResidentKey && !req.UserVerification.IsRequired()
}

// IsGetAssertionDowngradable reports whether a GetAssertion can be served
// over CTAP1 Authenticate: U2F has no notion of a discoverable credential,
// so it needs an explicit allowList, and cannot enforce UV itself.
func IsGetAssertionDowngradable(req *fido.GetAssertionRequest) bool {
	return len(req.AllowList) > 0 && !req.UserVerification.IsRequired()
}

// UpgradeRegisterResponse reconstitutes a CTAP1 Register response into a
// WebAuthn attestation object: fmt "fido-u2f", an all-zero AAGUID, UP|AT
// flags set, and the device's raw X.509 attestation statement carried
// through unmodified (spec.md §4.1's up-grade rule).
//
// credentialId is synthesized as the raw, unmodified keyHandle (Open
// Question #1): U2F key handles are already the opaque identifier WebAuthn
// needs, so no re-derivation is performed.
func UpgradeRegisterResponse(req *fido.MakeCredentialRequest, resp *apdu.RegisterResponse) (*fido.MakeCredentialResponse, error) {
	rpIDHash := ctap1.AppIDHash(req.RPID)

	// The U2F user public key is an uncompressed P-256 point (0x04 | X | Y);
	// authData carries it as an EC2 COSE_Key.
	coseKey, err := cbor.Marshal(map[int]interface{}{
		coseKty: coseKtyEC2,
		coseAlg: int(fido.ES256),
		coseCrv: coseCrvP256,
		coseX:   resp.UserPublicKey[1:33],
		coseY:   resp.UserPublicKey[33:65],
	})
	if err != nil {
		return nil, fido.NewProtocolError("encoding credential public key: " + err.Error())
	}

	authData := &fido.AuthenticatorData{
		RPIDHash:  rpIDHash,
		Flags:     fido.FlagUserPresent | fido.FlagAttestedCredentialData,
		SignCount: 0,
		AttestedCredentialData: &fido.AttestedCredentialData{
			AAGUID:              fido.ZeroAAGUID,
			CredentialID:        resp.KeyHandle,
			CredentialPublicKey: coseKey,
		},
	}

	attStmt := map[string]interface{}{
		"sig": resp.Signature,
		"x5c": [][]byte{resp.AttestCert},
	}

	return &fido.MakeCredentialResponse{
		Credential: fido.Credential{Type: "public-key", CredentialID: resp.KeyHandle},
		AttestationObject: fido.AttestationObject{
			Fmt:      "fido-u2f",
			AuthData: authData.Marshal(),
			AttStmt:  attStmt,
		},
		ClientDataHash: req.ClientDataHash,
	}, nil
}

// UpgradeAuthenticateResponse reconstitutes a CTAP1 Authenticate response
// into a WebAuthn assertion.
func UpgradeAuthenticateResponse(req *fido.GetAssertionRequest, credentialID []byte, resp *apdu.AuthenticateResponse) *fido.GetAssertionResponse {
	rpIDHash := ctap1.AppIDHash(req.RPID)
	authData := &fido.AuthenticatorData{
		RPIDHash:  rpIDHash,
		Flags:     fido.FlagUserPresent,
		SignCount: resp.Counter,
	}
	return &fido.GetAssertionResponse{
		Credential:     fido.Credential{Type: "public-key", CredentialID: credentialID},
		AuthData:       authData.Marshal(),
		Signature:      resp.Signature,
		NumCredentials: 1,
	}
}
