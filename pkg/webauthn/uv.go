package webauthn

import (
	"context"
	"time"

	"ctap-authenticator/pkg/ctap2"
	"ctap-authenticator/pkg/fido"
	"ctap-authenticator/pkg/pin"
	"ctap-authenticator/pkg/transport"
)

// uvOperation is the authenticator-side mechanism the platform uses to
// obtain a pinUvAuthToken, selected from GetInfo (spec.md §4.2 step 5).
type uvOperation int

const (
	uvNone uvOperation = iota
	uvGetPinToken
	uvGetPinUvAuthTokenUsingPinWithPermissions
	uvGetPinUvAuthTokenUsingUvWithPermissions
)

func selectUVOperation(info *ctap2.GetInfoResponse) uvOperation {
	hasClientPin := info.ClientPin()
	hasUV := info.UV()
	if !hasClientPin && !hasUV {
		return uvNone
	}
	permissionsSupported := info.Options["pinUvAuthToken"]
	if hasUV && permissionsSupported {
		return uvGetPinUvAuthTokenUsingUvWithPermissions
	}
	if hasClientPin && permissionsSupported {
		return uvGetPinUvAuthTokenUsingPinWithPermissions
	}
	return uvGetPinToken
}

// userVerification is the UV state machine grounded on
// libwebauthn/src/webauthn.rs's user_verification(): it mutates req in
// place to carry pinUvAuthProtocol and pinUvAuthParam, or returns
// immediately if no verification is needed.
func userVerification(ctx context.Context, ch transport.Channel, uvReq fido.UserVerificationRequirement, req ctap2.UserVerifiableRequest, provider pin.Provider, timeout time.Duration) error {
	info, err := ctap2.GetInfo(ctx, ch)
	if err != nil {
		return err
	}

	devUVProtected := info.ClientPin() || info.UV()

	if !devUVProtected {
		if uvReq.IsRequired() {
			return fido.ErrPINNotSet
		}
		// Neither requested (discouraged) or preferred-but-unavailable:
		// proceed without UV either way.
		return nil
	}

	op := selectUVOperation(info)
	if op == uvNone {
		req.EnsureUVSet()
		return nil
	}

	// Fetch the PIN before establishing the shared secret: the secret
	// expires while the user is slow to type, the PIN prompt does not.
	var pinHash []byte
	if op == uvGetPinToken || op == uvGetPinUvAuthTokenUsingPinWithPermissions {
		pinHash, err = obtainPinHash(ctx, ch, provider, timeout)
		if err != nil {
			return err
		}
	}

	proto, session, err := obtainSharedSecret(ctx, ch, info, timeout)
	if err != nil {
		return err
	}
	defer session.Zeroize()

	params := &ctap2.ClientPINParams{
		PinUvAuthProtocol: proto.Version(),
		KeyAgreement:      platformKeyMap(session.PlatformPublicKey),
	}
	switch op {
	case uvGetPinToken:
		params.SubCommand = ctap2.PinSubGetPinToken
		encHash, err := proto.Encrypt(session.SharedSecret, pinHash)
		if err != nil {
			return fido.NewProtocolError(err.Error())
		}
		params.PinHashEnc = encHash
	case uvGetPinUvAuthTokenUsingPinWithPermissions:
		params.SubCommand = ctap2.PinSubGetPinUvAuthTokenUsingPinWithPermissions
		encHash, err := proto.Encrypt(session.SharedSecret, pinHash)
		if err != nil {
			return fido.NewProtocolError(err.Error())
		}
		params.PinHashEnc = encHash
		params.Permissions = req.Permissions()
		params.RPID = req.PermissionsRPID()
	case uvGetPinUvAuthTokenUsingUvWithPermissions:
		params.SubCommand = ctap2.PinSubGetPinUvAuthTokenUsingUvWithPermissions
		params.Permissions = req.Permissions()
		params.RPID = req.PermissionsRPID()
	}

	result, err := ctap2.ClientPIN(ctx, ch, params)
	if err != nil {
		return err
	}
	if len(result.PinUvAuthToken) == 0 {
		return fido.ErrOther
	}

	token, err := proto.Decrypt(session.SharedSecret, result.PinUvAuthToken)
	if err != nil {
		return fido.NewProtocolError(err.Error())
	}

	authParam := proto.Authenticate(token, req.GetClientDataHash())
	req.SetUVAuth(proto.Version(), authParam)
	return nil
}

func obtainPinHash(ctx context.Context, ch transport.Channel, provider pin.Provider, timeout time.Duration) ([]byte, error) {
	retries, err := ctap2.ClientPIN(ctx, ch, &ctap2.ClientPINParams{SubCommand: ctap2.PinSubGetRetries})
	if err != nil {
		return nil, err
	}
	_ = retries.PinRetries // not passed on: Provider.ProvidePin takes no retry count

	raw, err := provider.ProvidePin()
	if err != nil || raw == "" {
		return nil, fido.ErrPINRequired
	}
	return pin.Hash(raw), nil
}

func obtainSharedSecret(ctx context.Context, ch transport.Channel, info *ctap2.GetInfoResponse, timeout time.Duration) (pin.Protocol, *pin.Session, error) {
	proto, err := pin.SelectProtocol(info.PinUvAuthProtocols)
	if err != nil {
		return nil, nil, fido.ErrOther
	}

	resp, err := ctap2.ClientPIN(ctx, ch, &ctap2.ClientPINParams{
		PinUvAuthProtocol: proto.Version(),
		SubCommand:        ctap2.PinSubGetKeyAgreement,
	})
	if err != nil {
		return nil, nil, err
	}
	authenticatorKey, err := coseToPublicKey(resp.KeyAgreement)
	if err != nil {
		return nil, nil, fido.NewProtocolError(err.Error())
	}

	session, err := proto.Encapsulate(authenticatorKey)
	if err != nil {
		return nil, nil, fido.NewProtocolError(err.Error())
	}
	return proto, session, nil
}
